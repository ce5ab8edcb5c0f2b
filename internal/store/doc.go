// Package store provides the client's local persistence.
//
// Layout
//
//   - a small KV abstraction (KV) with a bbolt-backed implementation for the
//     CLI and an in-memory one for tests
//   - SecretStore: the encrypted-at-rest key/session store (identity,
//     prekey pairs, ratchet sessions), sealed with a passphrase-derived KEK
//   - Messages: the durable message table, pending send queue and
//     append-only receipt log backing the delivery pipeline
//
// Records are CBOR-encoded before storage; secret records are additionally
// wrapped in a versioned ChaCha20-Poly1305 blob.
package store
