package domain

// SessionState is the per-peer linear ratchet state. The root key is used
// only at bootstrap; the chain keys advance monotonically, one message key
// per value, and are overwritten immediately after derivation.
type SessionState struct {
	PeerID         string `json:"peer_id"`
	RootKey        []byte `json:"root_key"`        // 32 bytes
	ChainKeySend   []byte `json:"chain_key_send"`  // 32 bytes
	ChainKeyRecv   []byte `json:"chain_key_recv"`  // 32 bytes
	EstablishedUTC int64  `json:"established_utc"`
}
