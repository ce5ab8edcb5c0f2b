package keyring

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"sealrelay/internal/crypto"
	"sealrelay/internal/domain"
	"sealrelay/pkg/logger"
)

var log = logger.New("keyring")

const (
	// RotationInterval is the signed-prekey cadence. The server enforces the
	// same value as a cooldown, so rotating early is rejected anyway.
	RotationInterval = 7 * 24 * time.Hour

	// DefaultOneTimeCount is the pool size uploaded at registration.
	DefaultOneTimeCount = 20
)

// Service drives the client side of the key lifecycle.
type Service struct {
	identity domain.Identity
	pre      domain.PreKeyStore
	relay    domain.RelayClient
}

func New(identity domain.Identity, pre domain.PreKeyStore, relay domain.RelayClient) *Service {
	return &Service{identity: identity, pre: pre, relay: relay}
}

// Register uploads the full key bundle: identity keys, a fresh signed
// prekey, and a pool of one-time prekeys. Local key version and rotation
// timestamp are committed only after the server accepts the upload.
func (s *Service) Register(ctx context.Context, oneTimeCount int) error {
	if oneTimeCount <= 0 {
		oneTimeCount = DefaultOneTimeCount
	}

	spk, err := s.newSignedPreKey()
	if err != nil {
		return err
	}
	pairs, wire, err := s.newOneTimePairs(oneTimeCount)
	if err != nil {
		return err
	}

	version, err := s.pre.KeyVersion()
	if err != nil {
		return err
	}
	if version == 0 {
		version = 1
	}

	resp, err := s.relay.UploadKeys(ctx, domain.UploadKeysRequest{
		DeviceID:       s.identity.DeviceID,
		RegistrationID: s.identity.RegistrationID,
		KeyVersion:     version,
		IdentityKey:    s.identity.XPub.Slice(),
		SigningKey:     s.identity.EdPub.Slice(),
		SignedPreKey: domain.SignedPreKey{
			KeyID:     spk.KeyID,
			PublicKey: spk.Pub.Slice(),
			Signature: spk.Signature,
		},
		OneTimePreKeys: wire,
	})
	if err != nil {
		return errors.Wrap(err, "upload keys")
	}

	if err := s.pre.SaveSignedPreKeyPair(spk); err != nil {
		return err
	}
	if err := s.pre.SaveOneTimePairs(pairs); err != nil {
		return err
	}
	if err := s.pre.SetKeyVersion(version); err != nil {
		return err
	}
	if err := s.pre.SetLastRotation(time.Now().UnixMilli()); err != nil {
		return err
	}
	log.Infof("registered device %d, %d one-time prekeys accepted", s.identity.DeviceID, resp.CountAdded)
	return nil
}

// RotateIfDue rotates when the local cadence has elapsed. Returns true when
// a rotation happened.
func (s *Service) RotateIfDue(ctx context.Context) (bool, error) {
	last, ok, err := s.pre.LastRotation()
	if err != nil {
		return false, err
	}
	if ok && time.Since(time.UnixMilli(last)) < RotationInterval {
		return false, nil
	}
	return true, s.Rotate(ctx)
}

// Rotate generates a new signed prekey, bumps the version by exactly one and
// uploads the signed request. Local version and rotation timestamp move only
// after the server confirms; local state must never race ahead.
func (s *Service) Rotate(ctx context.Context) error {
	spk, err := s.newSignedPreKey()
	if err != nil {
		return err
	}
	version, err := s.pre.KeyVersion()
	if err != nil {
		return err
	}
	newVersion := version + 1

	resp, err := s.relay.RotateSignedPreKey(ctx, domain.RotateRequest{
		DeviceID:   s.identity.DeviceID,
		KeyVersion: newVersion,
		SignedPreKey: domain.SignedPreKey{
			KeyID:     spk.KeyID,
			PublicKey: spk.Pub.Slice(),
			Signature: spk.Signature,
		},
	})
	if err != nil {
		return errors.Wrap(err, "rotate signed prekey")
	}

	if err := s.pre.SaveSignedPreKeyPair(spk); err != nil {
		return err
	}
	if err := s.pre.SetKeyVersion(resp.KeyVersion); err != nil {
		return err
	}
	if err := s.pre.SetLastRotation(resp.RotatedAt); err != nil {
		return err
	}
	log.Infof("rotated signed prekey to version %d", resp.KeyVersion)
	return nil
}

// EnsureOneTimePool tops the server-side pool back up to want when it has
// drained below min. Uploads are idempotent per keyId.
func (s *Service) EnsureOneTimePool(ctx context.Context, min, want int) error {
	count, err := s.relay.PreKeyCount(ctx, s.identity.DeviceID)
	if err != nil {
		return err
	}
	if count >= min {
		return nil
	}
	pairs, wire, err := s.newOneTimePairs(want - count)
	if err != nil {
		return err
	}
	if _, err := s.relay.UploadKeys(ctx, domain.UploadKeysRequest{
		DeviceID:       s.identity.DeviceID,
		RegistrationID: s.identity.RegistrationID,
		OneTimePreKeys: wire,
	}); err != nil {
		return errors.Wrap(err, "replenish one-time prekeys")
	}
	if err := s.pre.SaveOneTimePairs(pairs); err != nil {
		return err
	}
	log.Infof("replenished one-time pool: %d -> %d", count, want)
	return nil
}

// RotationHistory returns the server's record of this device's rotations.
func (s *Service) RotationHistory(ctx context.Context) ([]domain.RotationEvent, error) {
	return s.relay.RotationHistory(ctx, s.identity.DeviceID)
}

func (s *Service) newSignedPreKey() (domain.SignedPreKeyPair, error) {
	keyID, err := s.pre.NextSignedPreKeyID()
	if err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	return domain.SignedPreKeyPair{
		KeyID:      keyID,
		Priv:       priv,
		Pub:        pub,
		Signature:  crypto.SignEd25519(s.identity.EdPriv, pub.Slice()),
		CreatedUTC: time.Now().UnixMilli(),
	}, nil
}

func (s *Service) newOneTimePairs(n int) ([]domain.OneTimePreKeyPair, []domain.OneTimePreKey, error) {
	if n <= 0 {
		return nil, nil, nil
	}
	ids, err := s.pre.NextOneTimeKeyIDs(n)
	if err != nil {
		return nil, nil, err
	}
	pairs := make([]domain.OneTimePreKeyPair, 0, n)
	wire := make([]domain.OneTimePreKey, 0, n)
	for _, id := range ids {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, nil, err
		}
		pairs = append(pairs, domain.OneTimePreKeyPair{KeyID: id, Priv: priv, Pub: pub})
		wire = append(wire, domain.OneTimePreKey{KeyID: id, PublicKey: pub.Slice()})
	}
	return pairs, wire, nil
}
