package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"sealrelay/internal/domain"
)

// GenerateEd25519 produces a signing key pair. The private value is the full
// 64-byte expanded key, matching what the stdlib signer consumes directly.
func GenerateEd25519() (domain.Ed25519Private, domain.Ed25519Public, error) {
	var priv domain.Ed25519Private
	var pub domain.Ed25519Public
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return priv, pub, err
	}
	copy(priv[:], sk)
	copy(pub[:], pk)
	return priv, pub, nil
}

// SignEd25519 produces a detached signature over msg.
func SignEd25519(priv domain.Ed25519Private, msg []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv.Slice()), msg)
}

// VerifyEd25519 checks a detached signature. Wrong-size signatures fail
// verification instead of reaching the curve math.
func VerifyEd25519(pub domain.Ed25519Public, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub.Slice()), msg, sig)
}
