package usecase

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"sealrelay/internal/crypto"
	"sealrelay/internal/domain"
	"sealrelay/internal/server/model"
	"sealrelay/pkg/apperr"
	"sealrelay/pkg/logger"
)

var keysLog = logger.New("keys")

// RotationCooldown matches the client cadence. Rotations inside the window
// are rejected regardless of version correctness.
const RotationCooldown = 7 * 24 * time.Hour

// Keys enforces the key registry rules.
type Keys struct {
	repo KeyRegistry
	now  func() time.Time
}

func NewKeys(repo KeyRegistry) *Keys {
	return &Keys{repo: repo, now: time.Now}
}

// Upload registers or refreshes a device's key bundle.
//
// Identity immutability: the first write for a (user, device) wins. A later
// write with a different public key is rejected unless the registration id
// also changed, which is read as a reinstall and allowed with an audit row.
// The same registration id with a different key is always rejected.
func (k *Keys) Upload(ctx context.Context, userID string, req domain.UploadKeysRequest) (domain.UploadKeysResponse, error) {
	if req.DeviceID <= 0 {
		return domain.UploadKeysResponse{}, apperr.Validation("missing device id")
	}

	device, err := k.repo.GetDevice(ctx, userID, req.DeviceID)
	if err != nil {
		return domain.UploadKeysResponse{}, err
	}
	if device != nil && device.Status == model.DeviceRevoked {
		return domain.UploadKeysResponse{}, apperr.Access("device is revoked")
	}

	// Replenishment-only upload: no identity material, just more one-time
	// prekeys for an already registered device.
	if len(req.IdentityKey) == 0 && len(req.SignedPreKey.PublicKey) == 0 {
		if device == nil {
			return domain.UploadKeysResponse{}, apperr.Access("device not registered")
		}
		return k.insertOneTime(ctx, userID, req)
	}

	if len(req.IdentityKey) != 32 || len(req.SigningKey) != 32 {
		return domain.UploadKeysResponse{}, apperr.Validation("malformed identity key material")
	}
	if !verifySignedPreKey(req.SigningKey, req.SignedPreKey) {
		return domain.UploadKeysResponse{}, apperr.Validation("signed prekey signature does not verify")
	}

	stored, err := k.repo.GetIdentity(ctx, userID, req.DeviceID)
	if err != nil {
		return domain.UploadKeysResponse{}, err
	}
	// Set when the identity key is installed or replaced. The device row's
	// rotation counter follows the identity: a reinstalled client starts
	// over at its own version, an idempotent re-register keeps the server's.
	identityChanged := false
	switch {
	case stored == nil:
		identityChanged = true
		if err := k.repo.InsertIdentity(ctx, &model.IdentityKey{
			UserID:         userID,
			DeviceID:       req.DeviceID,
			RegistrationID: req.RegistrationID,
			IdentityKey:    req.IdentityKey,
			SigningKey:     req.SigningKey,
		}); err != nil {
			return domain.UploadKeysResponse{}, err
		}
	case bytes.Equal(stored.IdentityKey, req.IdentityKey):
		// Idempotent re-register with the same key.
	case stored.RegistrationID == req.RegistrationID:
		keysLog.Warningf("identity substitution attempt for %s/%d", userID, req.DeviceID)
		return domain.UploadKeysResponse{}, apperr.Access("identity key change rejected")
	default:
		// Reinstall heuristic: new key and new registration id. Allowed,
		// but never silent.
		identityChanged = true
		keysLog.Noticef("identity overwrite (reinstall) for %s/%d", userID, req.DeviceID)
		if err := k.repo.ReplaceIdentity(ctx, &model.IdentityKey{
			UserID:         userID,
			DeviceID:       req.DeviceID,
			RegistrationID: req.RegistrationID,
			IdentityKey:    req.IdentityKey,
			SigningKey:     req.SigningKey,
		}, &model.PreKeyAudit{
			ActorID:  userID,
			TargetID: userID,
			DeviceID: req.DeviceID,
			Event:    model.AuditIdentityOverwrite,
		}); err != nil {
			return domain.UploadKeysResponse{}, err
		}
	}

	version := req.KeyVersion
	if version == 0 {
		version = 1
	}
	uuidStr := uuid.NewString()
	if device != nil && stored != nil && bytes.Equal(stored.IdentityKey, req.IdentityKey) {
		uuidStr = device.DeviceUUID
	}
	if err := k.repo.UpsertDevice(ctx, &model.Device{
		UserID:     userID,
		DeviceID:   req.DeviceID,
		DeviceUUID: uuidStr,
		Status:     model.DeviceActive,
		KeyVersion: version,
	}, identityChanged); err != nil {
		return domain.UploadKeysResponse{}, err
	}

	if err := k.repo.ReplaceSignedPreKey(ctx, &model.SignedPreKey{
		UserID:    userID,
		DeviceID:  req.DeviceID,
		KeyID:     req.SignedPreKey.KeyID,
		PublicKey: req.SignedPreKey.PublicKey,
		Signature: req.SignedPreKey.Signature,
	}); err != nil {
		return domain.UploadKeysResponse{}, err
	}

	return k.insertOneTime(ctx, userID, req)
}

func (k *Keys) insertOneTime(ctx context.Context, userID string, req domain.UploadKeysRequest) (domain.UploadKeysResponse, error) {
	rows := make([]model.OneTimePreKey, 0, len(req.OneTimePreKeys))
	for _, opk := range req.OneTimePreKeys {
		if len(opk.PublicKey) != 32 {
			return domain.UploadKeysResponse{}, apperr.Validation("malformed one-time prekey")
		}
		rows = append(rows, model.OneTimePreKey{
			UserID:    userID,
			DeviceID:  req.DeviceID,
			KeyID:     opk.KeyID,
			PublicKey: opk.PublicKey,
		})
	}
	added, err := k.repo.InsertOneTimePreKeys(ctx, rows)
	if err != nil {
		return domain.UploadKeysResponse{}, err
	}
	return domain.UploadKeysResponse{CountAdded: added}, nil
}

// Bundle assembles a prekey bundle for establishing a session with the
// target device. The reads, the one-time prekey claim and the fetch audit
// row share a single transaction: a claimed key is either handed out or
// released, never burned. Once the pool is exhausted the bundle is served
// without one.
func (k *Keys) Bundle(ctx context.Context, actorID, targetID string, deviceID int) (domain.PreKeyBundle, error) {
	row, err := k.repo.FetchBundle(ctx, actorID, targetID, deviceID)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	switch {
	case row.Device == nil:
		return domain.PreKeyBundle{}, apperr.NotFound("unknown device")
	case row.Device.Status == model.DeviceRevoked:
		return domain.PreKeyBundle{}, apperr.Access("device is revoked")
	case row.Identity == nil:
		return domain.PreKeyBundle{}, apperr.NotFound("no identity key registered")
	case row.SignedPreKey == nil:
		return domain.PreKeyBundle{}, apperr.NotFound("no active signed prekey")
	}

	bundle := domain.PreKeyBundle{
		UserID:         targetID,
		DeviceID:       deviceID,
		RegistrationID: row.Identity.RegistrationID,
		IdentityKey:    row.Identity.IdentityKey,
		SigningKey:     row.Identity.SigningKey,
		SignedPreKey: domain.SignedPreKey{
			KeyID:     row.SignedPreKey.KeyID,
			PublicKey: row.SignedPreKey.PublicKey,
			Signature: row.SignedPreKey.Signature,
		},
	}
	if row.OneTime != nil {
		bundle.PreKey = &domain.OneTimePreKey{KeyID: row.OneTime.KeyID, PublicKey: row.OneTime.PublicKey}
	}
	return bundle, nil
}

// Count reports the unconsumed one-time pool size for the caller's device.
func (k *Keys) Count(ctx context.Context, userID string, deviceID int) (int, error) {
	return k.repo.CountOneTimePreKeys(ctx, userID, deviceID)
}

// Rotate applies a signed-prekey rotation. Rejections log a rotation-log row
// with the reason, successes commit version, timestamp and key in one
// transaction.
func (k *Keys) Rotate(ctx context.Context, userID string, rawBody, signature []byte, req domain.RotateRequest) (domain.RotateResponse, error) {
	device, err := k.repo.GetDevice(ctx, userID, req.DeviceID)
	if err != nil {
		return domain.RotateResponse{}, err
	}
	if device == nil || device.Status == model.DeviceRevoked {
		return domain.RotateResponse{}, apperr.Access("device revoked or unknown")
	}
	identity, err := k.repo.GetIdentity(ctx, userID, req.DeviceID)
	if err != nil {
		return domain.RotateResponse{}, err
	}
	if identity == nil {
		return domain.RotateResponse{}, apperr.Access("no identity key registered")
	}

	reject := func(e error, reason string) (domain.RotateResponse, error) {
		if lerr := k.repo.InsertRotationLog(ctx, &model.RotationLog{
			UserID:     userID,
			DeviceID:   req.DeviceID,
			KeyVersion: req.KeyVersion,
			Success:    false,
			Reason:     reason,
		}); lerr != nil {
			keysLog.Errorf("rotation log: %v", lerr)
		}
		keysLog.Warningf("rotation rejected for %s/%d: %s", userID, req.DeviceID, reason)
		return domain.RotateResponse{}, e
	}

	// The signature covers the exact raw body bytes, not a re-serialized
	// structure.
	if !verifyRaw(identity.SigningKey, rawBody, signature) {
		return reject(apperr.Auth("request signature does not verify"), "bad_request_signature")
	}
	if !device.RotatedAt.IsZero() && k.now().Sub(device.RotatedAt) < RotationCooldown {
		return reject(apperr.Validation("rotation cooldown in effect"), "cooldown")
	}
	if req.KeyVersion != device.KeyVersion+1 {
		return reject(apperr.Validation("key version must increment by one"), "version_mismatch")
	}
	if !verifySignedPreKey(identity.SigningKey, req.SignedPreKey) {
		return reject(apperr.Validation("signed prekey signature does not verify"), "bad_prekey_signature")
	}

	rotatedAt := k.now()
	if err := k.repo.CommitRotation(ctx, &model.SignedPreKey{
		UserID:    userID,
		DeviceID:  req.DeviceID,
		KeyID:     req.SignedPreKey.KeyID,
		PublicKey: req.SignedPreKey.PublicKey,
		Signature: req.SignedPreKey.Signature,
	}, req.KeyVersion, rotatedAt); err != nil {
		return domain.RotateResponse{}, err
	}
	if err := k.repo.InsertRotationLog(ctx, &model.RotationLog{
		UserID:     userID,
		DeviceID:   req.DeviceID,
		KeyVersion: req.KeyVersion,
		Success:    true,
	}); err != nil {
		keysLog.Errorf("rotation log: %v", err)
	}
	keysLog.Infof("rotated %s/%d to version %d", userID, req.DeviceID, req.KeyVersion)
	return domain.RotateResponse{KeyVersion: req.KeyVersion, RotatedAt: rotatedAt.UnixMilli()}, nil
}

// History lists the device's successful rotations, newest first.
func (k *Keys) History(ctx context.Context, userID string, deviceID int) ([]domain.RotationEvent, error) {
	rows, err := k.repo.RotationHistory(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RotationEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.RotationEvent{KeyVersion: r.KeyVersion, RotatedAt: r.CreatedAt.UnixMilli()})
	}
	return out, nil
}

func verifySignedPreKey(signingKey []byte, spk domain.SignedPreKey) bool {
	return verifyRaw(signingKey, spk.PublicKey, spk.Signature)
}

func verifyRaw(signingKey, msg, sig []byte) bool {
	if len(signingKey) != 32 {
		return false
	}
	var pub domain.Ed25519Public
	copy(pub[:], signingKey)
	return crypto.VerifyEd25519(pub, msg, sig)
}
