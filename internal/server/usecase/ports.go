// Package usecase holds the server's business rules: key registry policy
// (ownership, immutability, rotation) and the message integrity guard
// (skew, signature, replay, compensated persist).
package usecase

import (
	"context"
	"time"

	"sealrelay/internal/domain"
	"sealrelay/internal/server/model"
)

// KeyRegistry is the relational persistence the key rules run against.
type KeyRegistry interface {
	GetDevice(ctx context.Context, userID string, deviceID int) (*model.Device, error)
	// UpsertDevice refreshes uuid and status; resetVersion additionally
	// rewinds key_version and clears rotated_at on an existing row.
	UpsertDevice(ctx context.Context, d *model.Device, resetVersion bool) error

	GetIdentity(ctx context.Context, userID string, deviceID int) (*model.IdentityKey, error)
	InsertIdentity(ctx context.Context, ik *model.IdentityKey) error
	ReplaceIdentity(ctx context.Context, ik *model.IdentityKey, audit *model.PreKeyAudit) error

	ReplaceSignedPreKey(ctx context.Context, spk *model.SignedPreKey) error
	CommitRotation(ctx context.Context, spk *model.SignedPreKey, newVersion uint32, rotatedAt time.Time) error

	InsertOneTimePreKeys(ctx context.Context, keys []model.OneTimePreKey) (int, error)
	CountOneTimePreKeys(ctx context.Context, userID string, deviceID int) (int, error)
	// FetchBundle performs the bundle reads, the one-time prekey claim and
	// the fetch audit insert as one atomic unit.
	FetchBundle(ctx context.Context, actorID, targetID string, deviceID int) (*model.BundleRow, error)

	InsertRotationLog(ctx context.Context, l *model.RotationLog) error
	RotationHistory(ctx context.Context, userID string, deviceID int) ([]model.RotationLog, error)
}

// MessageLog is the replay log plus the receipt table.
type MessageLog interface {
	GetDevice(ctx context.Context, userID string, deviceID int) (*model.Device, error)
	GetIdentity(ctx context.Context, userID string, deviceID int) (*model.IdentityKey, error)

	InsertReplay(ctx context.Context, e *model.ReplayLogEntry) error
	DeleteReplay(ctx context.Context, messageID string) error

	InsertReceipts(ctx context.Context, rows []model.ReceiptRow) error
	ReceiptsSince(ctx context.Context, forUser string, sinceSeq int64) ([]model.ReceiptRow, error)
}

// RemoteStore parks envelopes until recipients pull them.
type RemoteStore interface {
	Append(ctx context.Context, m domain.InboundMessage) (int64, error)
	List(ctx context.Context, chatID string, sinceSeq int64) ([]domain.InboundMessage, error)
}
