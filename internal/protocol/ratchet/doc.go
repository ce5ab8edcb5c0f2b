// Package ratchet implements a linear symmetric-key ratchet.
//
// A session holds a root key and two KDF chains (send and receive). Every
// message advances its chain one step, deriving exactly one message key per
// chain-key value, so compromise of current state never reveals past message
// keys. There is no DH step and no skipped-message-key buffer: messages must
// be processed in send order, and a lost message breaks the receiving chain.
//
// Concurrency: the functions here are pure; serialising chain advancement
// per peer is the caller's job (see internal/engine).
package ratchet
