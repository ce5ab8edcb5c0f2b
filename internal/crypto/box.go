package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"sealrelay/internal/domain"
	"sealrelay/internal/util/memzero"
)

// Sealed box layout: ephemeral X25519 public (32) || nonce (12) || ciphertext.
const boxOverhead = 32 + chacha20poly1305.NonceSize + chacha20poly1305.Overhead

var errBoxShort = errors.New("sealed box too short")

// SealTo encrypts plaintext so that only the holder of the private half of
// pub can open it. A fresh ephemeral key pair is generated per call, so two
// seals of the same plaintext never match.
func SealTo(pub domain.X25519Public, plaintext []byte) ([]byte, error) {
	ePriv, ePub, err := GenerateX25519()
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(ePriv[:])

	shared, err := DH(ePriv, pub)
	if err != nil {
		return nil, err
	}
	key := boxKey(shared, ePub, pub)
	defer memzero.Zero(key)
	memzero.Zero(shared[:])

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, boxOverhead+len(plaintext))
	out = append(out, ePub[:]...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, ePub[:]), nil
}

// OpenSealed reverses SealTo with the recipient's private key.
func OpenSealed(priv domain.X25519Private, box []byte) ([]byte, error) {
	if len(box) < boxOverhead {
		return nil, errBoxShort
	}
	var ePub domain.X25519Public
	copy(ePub[:], box[:32])
	nonce := box[32 : 32+chacha20poly1305.NonceSize]
	ct := box[32+chacha20poly1305.NonceSize:]

	shared, err := DH(priv, ePub)
	if err != nil {
		return nil, err
	}
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	var selfPub domain.X25519Public
	copy(selfPub[:], pb)

	key := boxKey(shared, ePub, selfPub)
	defer memzero.Zero(key)
	memzero.Zero(shared[:])

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ct, ePub[:])
}

// boxKey binds the derived key to both public keys involved.
func boxKey(shared [32]byte, ePub, rPub domain.X25519Public) []byte {
	info := make([]byte, 0, 8+64)
	info = append(info, []byte("SealBox")...)
	info = append(info, ePub[:]...)
	info = append(info, rPub[:]...)
	r := hkdf.New(sha256.New, shared[:], nil, info)
	key := make([]byte, chacha20poly1305.KeySize)
	_, _ = io.ReadFull(r, key)
	return key
}
