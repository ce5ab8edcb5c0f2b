// Package repository is the bun/Postgres persistence layer of the server.
// Concurrency correctness lives here: one-time prekeys are claimed with
// row-level SKIP LOCKED, and replay detection rides on the replay log's
// primary key.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"sealrelay/internal/server/model"
	"sealrelay/pkg/apperr"
)

type Repository struct {
	db *bun.DB
}

func New(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// CreateSchema creates all tables if missing. Called once at startup.
func (r *Repository) CreateSchema(ctx context.Context) error {
	models := []any{
		(*model.Device)(nil),
		(*model.IdentityKey)(nil),
		(*model.SignedPreKey)(nil),
		(*model.OneTimePreKey)(nil),
		(*model.ReplayLogEntry)(nil),
		(*model.RotationLog)(nil),
		(*model.PreKeyAudit)(nil),
		(*model.ReceiptRow)(nil),
		(*model.RateLimitWindow)(nil),
	}
	for _, m := range models {
		if _, err := r.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrap(err, "create schema")
		}
	}
	return nil
}

// ---------- devices ----------

func (r *Repository) GetDevice(ctx context.Context, userID string, deviceID int) (*model.Device, error) {
	d := new(model.Device)
	err := r.db.NewSelect().Model(d).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get device")
	}
	return d, nil
}

// UpsertDevice inserts or refreshes a device row. resetVersion additionally
// rewinds key_version to the uploaded value and clears rotated_at; the
// usecase sets it when the identity key was installed or replaced, so a
// reinstalled client restarts rotation from its own version instead of
// wedging on the old row's counter.
func (r *Repository) UpsertDevice(ctx context.Context, d *model.Device, resetVersion bool) error {
	q := r.db.NewInsert().Model(d).
		On("CONFLICT (user_id, device_id) DO UPDATE").
		Set("device_uuid = EXCLUDED.device_uuid").
		Set("status = EXCLUDED.status")
	if resetVersion {
		q = q.Set("key_version = EXCLUDED.key_version").
			Set("rotated_at = NULL")
	}
	_, err := q.Exec(ctx)
	return errors.Wrap(err, "upsert device")
}

func (r *Repository) RevokeDevice(ctx context.Context, userID string, deviceID int) error {
	_, err := r.db.NewUpdate().Model((*model.Device)(nil)).
		Set("status = ?", model.DeviceRevoked).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Exec(ctx)
	return errors.Wrap(err, "revoke device")
}

// ---------- identity keys ----------

func (r *Repository) GetIdentity(ctx context.Context, userID string, deviceID int) (*model.IdentityKey, error) {
	ik := new(model.IdentityKey)
	err := r.db.NewSelect().Model(ik).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get identity key")
	}
	return ik, nil
}

func (r *Repository) InsertIdentity(ctx context.Context, ik *model.IdentityKey) error {
	_, err := r.db.NewInsert().Model(ik).Exec(ctx)
	return errors.Wrap(err, "insert identity key")
}

// ReplaceIdentity overwrites the stored key and writes the audit row in the
// same transaction. Only the reinstall path may call this.
func (r *Repository) ReplaceIdentity(ctx context.Context, ik *model.IdentityKey, audit *model.PreKeyAudit) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().Model(ik).
			Set("registration_id = ?", ik.RegistrationID).
			Set("identity_key = ?", ik.IdentityKey).
			Set("signing_key = ?", ik.SigningKey).
			Set("registered_at = ?", time.Now()).
			Where("user_id = ? AND device_id = ?", ik.UserID, ik.DeviceID).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "replace identity key")
		}
		_, err = tx.NewInsert().Model(audit).Exec(ctx)
		return errors.Wrap(err, "audit identity overwrite")
	})
}

// ---------- signed prekeys ----------

// ReplaceSignedPreKey deactivates all prior signed prekeys for the device
// and inserts the new one as the sole active one, atomically.
func (r *Repository) ReplaceSignedPreKey(ctx context.Context, spk *model.SignedPreKey) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return replaceSignedPreKeyTx(ctx, tx, spk)
	})
}

func replaceSignedPreKeyTx(ctx context.Context, tx bun.Tx, spk *model.SignedPreKey) error {
	_, err := tx.NewUpdate().Model((*model.SignedPreKey)(nil)).
		Set("active = false").
		Where("user_id = ? AND device_id = ? AND active", spk.UserID, spk.DeviceID).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "deactivate signed prekeys")
	}
	spk.Active = true
	_, err = tx.NewInsert().Model(spk).Exec(ctx)
	return errors.Wrap(err, "insert signed prekey")
}

// CommitRotation applies the version bump, the rotation timestamp and the
// signed-prekey replacement in one transaction.
func (r *Repository) CommitRotation(ctx context.Context, spk *model.SignedPreKey, newVersion uint32, rotatedAt time.Time) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := replaceSignedPreKeyTx(ctx, tx, spk); err != nil {
			return err
		}
		_, err := tx.NewUpdate().Model((*model.Device)(nil)).
			Set("key_version = ?", newVersion).
			Set("rotated_at = ?", rotatedAt).
			Where("user_id = ? AND device_id = ?", spk.UserID, spk.DeviceID).
			Exec(ctx)
		return errors.Wrap(err, "bump key version")
	})
}

// ---------- one-time prekeys ----------

// InsertOneTimePreKeys is an idempotent batch insert: a duplicate keyId is a
// no-op, not an error. Returns the number of rows actually added.
func (r *Repository) InsertOneTimePreKeys(ctx context.Context, keys []model.OneTimePreKey) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res, err := r.db.NewInsert().Model(&keys).
		On("CONFLICT (user_id, device_id, key_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "insert one-time prekeys")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// claimOneTimePreKeyTx marks one unconsumed prekey consumed and returns it.
// SKIP LOCKED keeps concurrent fetchers off the same row, so no key is ever
// handed out twice. Returns nil when the pool is exhausted.
func claimOneTimePreKeyTx(ctx context.Context, tx bun.Tx, userID string, deviceID int) (*model.OneTimePreKey, error) {
	key := new(model.OneTimePreKey)
	err := tx.NewSelect().Model(key).
		Where("user_id = ? AND device_id = ? AND NOT consumed", userID, deviceID).
		Order("key_id ASC").
		Limit(1).
		For("UPDATE SKIP LOCKED").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select claimable prekey")
	}
	now := time.Now()
	key.Consumed = true
	key.ConsumedAt = &now
	_, err = tx.NewUpdate().Model(key).
		Set("consumed = true").
		Set("consumed_at = ?", now).
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "mark prekey consumed")
	}
	return key, nil
}

// FetchBundle reads the device, identity and active signed prekey, claims a
// one-time prekey and writes the fetch audit row, all inside one transaction.
// A rollback (audit insert failing, say) releases the claimed key instead of
// burning it. Missing pieces come back as nil fields; no audit row is
// written unless a bundle is actually served.
func (r *Repository) FetchBundle(ctx context.Context, actorID, targetID string, deviceID int) (*model.BundleRow, error) {
	row := new(model.BundleRow)
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		device := new(model.Device)
		err := tx.NewSelect().Model(device).
			Where("user_id = ? AND device_id = ?", targetID, deviceID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "get device")
		}
		row.Device = device
		if device.Status == model.DeviceRevoked {
			return nil
		}

		identity := new(model.IdentityKey)
		err = tx.NewSelect().Model(identity).
			Where("user_id = ? AND device_id = ?", targetID, deviceID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "get identity key")
		}
		row.Identity = identity

		spk := new(model.SignedPreKey)
		err = tx.NewSelect().Model(spk).
			Where("user_id = ? AND device_id = ? AND active", targetID, deviceID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "get active signed prekey")
		}
		row.SignedPreKey = spk

		claimed, err := claimOneTimePreKeyTx(ctx, tx, targetID, deviceID)
		if err != nil {
			return err
		}
		row.OneTime = claimed

		audit := &model.PreKeyAudit{
			ActorID:  actorID,
			TargetID: targetID,
			DeviceID: deviceID,
			Event:    model.AuditBundleFetch,
		}
		if claimed != nil {
			audit.ClaimedKey = claimed.KeyID
		}
		_, err = tx.NewInsert().Model(audit).Exec(ctx)
		return errors.Wrap(err, "audit bundle fetch")
	})
	if err != nil {
		return nil, errors.Wrap(err, "fetch bundle")
	}
	return row, nil
}

func (r *Repository) CountOneTimePreKeys(ctx context.Context, userID string, deviceID int) (int, error) {
	count, err := r.db.NewSelect().Model((*model.OneTimePreKey)(nil)).
		Where("user_id = ? AND device_id = ? AND NOT consumed", userID, deviceID).
		Count(ctx)
	return count, errors.Wrap(err, "count one-time prekeys")
}

// ---------- rotation log ----------

func (r *Repository) InsertRotationLog(ctx context.Context, l *model.RotationLog) error {
	_, err := r.db.NewInsert().Model(l).Exec(ctx)
	return errors.Wrap(err, "insert rotation log")
}

func (r *Repository) RotationHistory(ctx context.Context, userID string, deviceID int) ([]model.RotationLog, error) {
	var out []model.RotationLog
	err := r.db.NewSelect().Model(&out).
		Where("user_id = ? AND device_id = ? AND success", userID, deviceID).
		Order("created_at DESC").
		Scan(ctx)
	return out, errors.Wrap(err, "rotation history")
}

// ---------- replay log ----------

// InsertReplay is the replay-detection primitive: a primary-key collision on
// the message id is reported as a conflict and processing stops.
func (r *Repository) InsertReplay(ctx context.Context, e *model.ReplayLogEntry) error {
	_, err := r.db.NewInsert().Model(e).Exec(ctx)
	if err != nil {
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
			return apperr.Conflict("message already processed")
		}
		return errors.Wrap(err, "insert replay row")
	}
	return nil
}

// DeleteReplay compensates a failed message persist so the client's retry is
// not permanently blocked behind its own replay row.
func (r *Repository) DeleteReplay(ctx context.Context, messageID string) error {
	_, err := r.db.NewDelete().Model((*model.ReplayLogEntry)(nil)).
		Where("message_id = ?", messageID).
		Exec(ctx)
	return errors.Wrap(err, "delete replay row")
}

// ---------- receipts ----------

// InsertReceipts appends receipts, dropping duplicates per
// (message, user, status).
func (r *Repository) InsertReceipts(ctx context.Context, rows []model.ReceiptRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := r.db.NewInsert().Model(&rows).
		On("CONFLICT (message_id, user_id, status) DO NOTHING").
		Exec(ctx)
	return errors.Wrap(err, "insert receipts")
}

func (r *Repository) ReceiptsSince(ctx context.Context, forUser string, sinceSeq int64) ([]model.ReceiptRow, error) {
	var out []model.ReceiptRow
	err := r.db.NewSelect().Model(&out).
		Where("seq > ? AND user_id != ?", sinceSeq, forUser).
		Order("seq ASC").
		Limit(500).
		Scan(ctx)
	return out, errors.Wrap(err, "receipts since")
}

// ---------- rate limiting ----------

// IncrWindow bumps the counter cell for (key, windowStart) and returns the
// new count.
func (r *Repository) IncrWindow(ctx context.Context, key string, windowStart time.Time) (int, error) {
	w := &model.RateLimitWindow{Key: key, WindowStart: windowStart, Count: 1}
	_, err := r.db.NewInsert().Model(w).
		On("CONFLICT (key, window_start) DO UPDATE").
		Set("count = rate_limit_windows.count + 1").
		Returning("count").
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "increment rate window")
	}
	return w.Count, nil
}

// SweepWindows deletes counter cells older than cutoff.
func (r *Repository) SweepWindows(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.NewDelete().Model((*model.RateLimitWindow)(nil)).
		Where("window_start < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "sweep rate windows")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
