package crypto

import "golang.org/x/crypto/argon2"

const (
	KeyBytes  = 32
	SaltBytes = 16
)

// DeriveKEK derives a key-encryption key from a passphrase and salt using
// Argon2id. Parameters are fixed here; bump the keystore format version if
// they ever change.
func DeriveKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 1<<16, 4, KeyBytes)
}
