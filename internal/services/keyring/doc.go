// Package keyring manages the device's prekey material against the server:
// initial registration, signed-prekey rotation on a fixed cadence, and
// replenishment of the one-time prekey pool.
package keyring
