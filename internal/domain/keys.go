package domain

import "fmt"

// ------------- X25519 -------------

type X25519Private [32]byte
type X25519Public [32]byte

func (k X25519Private) Slice() []byte { return k[:] }
func (k X25519Public) Slice() []byte  { return k[:] }

func MustX25519Public(b []byte) X25519Public {
	if len(b) != 32 {
		panic(fmt.Errorf("X25519 public: want 32 bytes, got %d", len(b)))
	}
	var out X25519Public
	copy(out[:], b)
	return out
}

// ------------- Ed25519 -------------

type Ed25519Private [64]byte
type Ed25519Public [32]byte

func (k Ed25519Private) Slice() []byte { return k[:] }
func (k Ed25519Public) Slice() []byte  { return k[:] }

// Identity carries the device's long-lived key material: an X25519 pair for
// sealing session bootstrap material and an Ed25519 pair for signing prekeys
// and requests. Created once at registration, immutable afterwards.
type Identity struct {
	UserID         string         `json:"user_id"`
	DeviceUUID     string         `json:"device_uuid"`
	DeviceID       int            `json:"device_id"`
	RegistrationID uint32         `json:"registration_id"`
	XPriv          X25519Private  `json:"x_priv"`
	XPub           X25519Public   `json:"x_pub"`
	EdPriv         Ed25519Private `json:"ed_priv"`
	EdPub          Ed25519Public  `json:"ed_pub"`
	CreatedUTC     int64          `json:"created_utc"`
}

// SignedPreKeyPair is the private half of a medium-lived prekey, self-signed
// by the identity's Ed25519 key. Exactly one is active per device at a time.
type SignedPreKeyPair struct {
	KeyID      uint32        `json:"key_id"`
	Priv       X25519Private `json:"priv"`
	Pub        X25519Public  `json:"pub"`
	Signature  []byte        `json:"signature"`
	CreatedUTC int64         `json:"created_utc"`
}

// OneTimePreKeyPair is the private half of a single-use prekey.
type OneTimePreKeyPair struct {
	KeyID uint32        `json:"key_id"`
	Priv  X25519Private `json:"priv"`
	Pub   X25519Public  `json:"pub"`
}
