package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/curve25519"

	"sealrelay/internal/domain"
)

// fingerprintBytes is how much of the SHA-256 digest a displayed
// fingerprint keeps: 10 bytes, 20 hex characters.
const fingerprintBytes = 10

// GenerateX25519 produces a Curve25519 key pair for agreement. The private
// scalar is clamped per RFC 7748 before the public point is derived, so a
// stored key is always in its canonical form.
func GenerateX25519() (domain.X25519Private, domain.X25519Public, error) {
	var priv domain.X25519Private
	var pub domain.X25519Public
	if _, err := rand.Read(priv[:]); err != nil {
		return priv, pub, err
	}
	clamp(&priv)

	point, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], point)
	return priv, pub, nil
}

// DH computes the X25519 shared secret. The underlying scalar mult rejects
// the all-zero output of low-order points, so a malicious public key
// surfaces as an error rather than a fixed secret.
func DH(priv domain.X25519Private, pub domain.X25519Public) ([32]byte, error) {
	var out [32]byte
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	return out, nil
}

// Fingerprint renders a public key as a short hex digest for display and
// out-of-band comparison.
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:fingerprintBytes])
}

// clamp applies the RFC 7748 bit mask in place.
func clamp(k *domain.X25519Private) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
