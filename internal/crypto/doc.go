// Package crypto exposes the primitives shared by the session engine, the
// key lifecycle services and the stores.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - A sealed box built from an ephemeral X25519 key, HKDF and
//     ChaCha20-Poly1305 (SealTo, OpenSealed), used for session bootstrap
//     headers and legacy hybrid key wrapping
//   - Passphrase key derivation for at-rest encryption (DeriveKEK)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// All functions use the fixed-size array types defined in internal/domain to
// avoid accidental reallocations of secret material.
package crypto
