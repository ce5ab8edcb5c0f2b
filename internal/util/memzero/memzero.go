// Package memzero scrubs key material once it leaves scope.
package memzero

// Zero overwrites b in place. Callers defer it on every derived key so
// secrets do not linger in reused buffers.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Key overwrites a fixed-size key array in place.
func Key(k *[32]byte) {
	Zero(k[:])
}
