package ratchet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of root, chain and message keys.
	KeySize = 32
	// IVSize is the AES-GCM nonce size carried in the envelope.
	IVSize = 12
)

// HKDF labels. These are wire-compatibility constants: both sides must
// derive identical chains from the same root.
var (
	infoInitChains = []byte("InitChains")
	infoRatchet    = []byte("Ratchet")
)

var (
	ErrBadKeySize = errors.New("ratchet: key must be 32 bytes")
	ErrAEADOpen   = errors.New("ratchet: aead open failed")
)

// NewRootSecret returns a fresh random 32-byte session root.
func NewRootSecret() ([]byte, error) {
	root := make([]byte, KeySize)
	if _, err := rand.Read(root); err != nil {
		return nil, err
	}
	return root, nil
}

// DeriveChains derives the two initial chain keys from a root secret, in the
// initiator's orientation: first half is the initiator's sending chain. The
// responder mirrors the halves (its receive chain is the first half).
func DeriveChains(root []byte) (first, second []byte, err error) {
	if len(root) != KeySize {
		return nil, nil, ErrBadKeySize
	}
	prk := hkdf.Extract(sha256.New, root, zeroSalt())
	out := make([]byte, 2*KeySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, infoInitChains), out); err != nil {
		return nil, nil, err
	}
	return out[:KeySize], out[KeySize:], nil
}

// Advance steps a chain key one position. It is a pure function: the same
// chain key always yields the same (message key, next chain key) pair. The
// first 32 bytes of the expand output are the message key, the second 32
// the next chain key.
func Advance(chainKey []byte) (messageKey, nextChainKey []byte, err error) {
	if len(chainKey) != KeySize {
		return nil, nil, ErrBadKeySize
	}
	prk := hkdf.Extract(sha256.New, chainKey, zeroSalt())
	out := make([]byte, 2*KeySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, infoRatchet), out); err != nil {
		return nil, nil, err
	}
	return out[:KeySize], out[KeySize:], nil
}

// Seal encrypts plaintext under messageKey with a fresh random IV.
func Seal(messageKey, plaintext []byte) (iv, ciphertext []byte, err error) {
	aead, err := newAEAD(messageKey)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	return iv, aead.Seal(nil, iv, plaintext, nil), nil
}

// Open decrypts ciphertext under messageKey. A failure means either
// corruption or a desynchronized chain; the caller must not advance state.
func Open(messageKey, iv, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(messageKey)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, ErrAEADOpen
	}
	pt, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrAEADOpen
	}
	return pt, nil
}

// Message keys are imported as AES-256-GCM keys.
func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func zeroSalt() []byte { return make([]byte, sha256.Size) }
