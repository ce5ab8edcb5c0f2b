// Package model holds the relational schema of the key registry and the
// integrity guard.
package model

import (
	"time"

	"github.com/uptrace/bun"
)

// Device statuses. Revocation is terminal for a device UUID; a reinstall
// registers a fresh UUID.
const (
	DeviceActive  = "active"
	DeviceRevoked = "revoked"
)

type Device struct {
	bun.BaseModel `bun:"table:devices"`

	UserID     string `bun:",pk"`
	DeviceID   int    `bun:",pk"`
	DeviceUUID string `bun:",notnull"`
	Status     string `bun:",notnull,default:'active'"`

	KeyVersion uint32    `bun:",notnull,default:1"`
	RotatedAt  time.Time `bun:",nullzero"`
	CreatedAt  time.Time `bun:",notnull,default:current_timestamp"`
}

type IdentityKey struct {
	bun.BaseModel `bun:"table:identity_keys"`

	UserID   string `bun:",pk"`
	DeviceID int    `bun:",pk"`

	RegistrationID uint32 `bun:",notnull"`
	IdentityKey    []byte `bun:",notnull"` // X25519, 32 bytes
	SigningKey     []byte `bun:",notnull"` // Ed25519, 32 bytes

	RegisteredAt time.Time `bun:",notnull,default:current_timestamp"`
}

type SignedPreKey struct {
	bun.BaseModel `bun:"table:signed_pre_keys"`

	ID       int64  `bun:",pk,autoincrement"`
	UserID   string `bun:",notnull"`
	DeviceID int    `bun:",notnull"`

	KeyID     uint32 `bun:",notnull"` // client-chosen, monotonic
	PublicKey []byte `bun:",notnull"` // 32 bytes
	Signature []byte `bun:",notnull"` // 64 bytes, self-signed by the identity key
	Active    bool   `bun:",notnull,default:true"`

	UploadedAt time.Time `bun:",notnull,default:current_timestamp"`
}

type OneTimePreKey struct {
	bun.BaseModel `bun:"table:one_time_pre_keys"`

	UserID   string `bun:",pk"`
	DeviceID int    `bun:",pk"`
	KeyID    uint32 `bun:",pk"`

	PublicKey  []byte     `bun:",notnull"`
	Consumed   bool       `bun:",notnull,default:false"`
	ConsumedAt *time.Time `bun:",nullzero"`
}

// ReplayLogEntry's primary key is the replay-detection primitive: inserting a
// duplicate message id collides, and the collision is the replay signal.
type ReplayLogEntry struct {
	bun.BaseModel `bun:"table:replay_log"`

	MessageID  string    `bun:",pk"`
	SenderID   string    `bun:",notnull"`
	DeviceUUID string    `bun:",notnull"`
	SeenAt     time.Time `bun:",notnull,default:current_timestamp"`
}

type RotationLog struct {
	bun.BaseModel `bun:"table:rotation_log"`

	ID       int64  `bun:",pk,autoincrement"`
	UserID   string `bun:",notnull"`
	DeviceID int    `bun:",notnull"`

	KeyVersion uint32 `bun:",notnull"`
	Success    bool   `bun:",notnull"`
	Reason     string `bun:",nullzero"`

	CreatedAt time.Time `bun:",notnull,default:current_timestamp"`
}

// PreKeyAudit records every bundle fetch and every identity overwrite.
type PreKeyAudit struct {
	bun.BaseModel `bun:"table:pre_key_audit"`

	ID         int64  `bun:",pk,autoincrement"`
	ActorID    string `bun:",notnull"`
	TargetID   string `bun:",notnull"`
	DeviceID   int    `bun:",notnull"`
	Event      string `bun:",notnull"`
	ClaimedKey uint32 `bun:",nullzero"`

	CreatedAt time.Time `bun:",notnull,default:current_timestamp"`
}

// Audit event names.
const (
	AuditBundleFetch       = "bundle_fetch"
	AuditIdentityOverwrite = "identity_overwrite"
)

// BundleRow is everything a bundle fetch reads and claims in one
// transaction. Nil fields mark what the registry is missing; OneTime is nil
// once the pool is exhausted.
type BundleRow struct {
	Device       *Device
	Identity     *IdentityKey
	SignedPreKey *SignedPreKey
	OneTime      *OneTimePreKey
}

type ReceiptRow struct {
	bun.BaseModel `bun:"table:receipts"`

	Seq       int64  `bun:",pk,autoincrement"`
	MessageID string `bun:",notnull,unique:receipt_dedupe"`
	UserID    string `bun:",notnull,unique:receipt_dedupe"`
	Status    string `bun:",notnull,unique:receipt_dedupe"`
	Timestamp int64  `bun:",notnull"`
}

// RateLimitWindow is one sliding-window counter cell. Expired cells are
// swept probabilistically, not on every request.
type RateLimitWindow struct {
	bun.BaseModel `bun:"table:rate_limit_windows"`

	Key         string    `bun:",pk"`
	WindowStart time.Time `bun:",pk"`
	Count       int       `bun:",notnull,default:0"`
}
