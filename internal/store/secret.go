package store

import (
	"crypto/rand"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"sealrelay/internal/crypto"
	"sealrelay/internal/domain"
	"sealrelay/internal/util/memzero"
)

const (
	// Current version byte of the sealed blob format.
	secretFormatVersion = 1

	saltKey = "keystore_salt"

	keyIdentity     = "identity"
	prefixSession   = "session/"
	prefixSignedPre = "spk/"
	prefixOneTime   = "opk/"
	keyKeyVersion   = "key_version"
	keyLastRotation = "last_rotation"
	keyNextSPKID    = "next_spk_id"
	keyNextOPKID    = "next_opk_id"
)

// ErrWrongPassphrase is returned when a sealed record fails to open: either
// the passphrase is wrong or the store has been modified.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key store")

// SecretStore is the encrypted-at-rest key/session store. The KEK is derived
// once from the passphrase and a store-scoped salt; every record is sealed
// individually so a partial write cannot corrupt neighbours.
type SecretStore struct {
	kv  KV
	kek []byte
}

// NewSecretStore derives the KEK, creating the salt on first open.
func NewSecretStore(kv KV, passphrase string) (*SecretStore, error) {
	salt, ok, err := kv.Get(BucketMeta, saltKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		salt = make([]byte, crypto.SaltBytes)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		if err := kv.Put(BucketMeta, saltKey, salt); err != nil {
			return nil, err
		}
	}
	return &SecretStore{kv: kv, kek: crypto.DeriveKEK(passphrase, salt)}, nil
}

// NewMemorySessionStore returns an in-memory SessionStore for tests.
func NewMemorySessionStore() domain.SessionStore {
	s, err := NewSecretStore(NewMemoryKV(), "")
	if err != nil {
		panic(err)
	}
	return s
}

func (s *SecretStore) seal(v any) ([]byte, error) {
	raw, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(raw)

	aead, err := chacha20poly1305.New(s.kek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(nonce)+len(raw)+chacha20poly1305.Overhead)
	out = append(out, secretFormatVersion)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, raw, nil), nil
}

func (s *SecretStore) open(blob []byte, v any) error {
	if len(blob) < 1+chacha20poly1305.NonceSize {
		return ErrWrongPassphrase
	}
	if blob[0] > secretFormatVersion {
		return fmt.Errorf("unsupported key store version %d", blob[0])
	}
	aead, err := chacha20poly1305.New(s.kek)
	if err != nil {
		return err
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSize]
	raw, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSize:], nil)
	if err != nil {
		return ErrWrongPassphrase
	}
	defer memzero.Zero(raw)
	return cbor.Unmarshal(raw, v)
}

func (s *SecretStore) putSealed(key string, v any) error {
	blob, err := s.seal(v)
	if err != nil {
		return err
	}
	return s.kv.Put(BucketSecrets, key, blob)
}

func (s *SecretStore) getSealed(key string, v any) (bool, error) {
	blob, ok, err := s.kv.Get(BucketSecrets, key)
	if err != nil || !ok {
		return false, err
	}
	if err := s.open(blob, v); err != nil {
		return false, err
	}
	return true, nil
}

// ---------- IdentityStore ----------

// SaveIdentity refuses to overwrite: identity creation is one-time.
func (s *SecretStore) SaveIdentity(id domain.Identity) error {
	if _, ok, err := s.kv.Get(BucketSecrets, keyIdentity); err != nil {
		return err
	} else if ok {
		return errors.New("identity already exists")
	}
	return s.putSealed(keyIdentity, id)
}

func (s *SecretStore) LoadIdentity() (domain.Identity, bool, error) {
	var id domain.Identity
	ok, err := s.getSealed(keyIdentity, &id)
	return id, ok, err
}

// ---------- SessionStore ----------

func (s *SecretStore) LoadSession(peerID string) (domain.SessionState, bool, error) {
	var st domain.SessionState
	ok, err := s.getSealed(prefixSession+peerID, &st)
	return st, ok, err
}

func (s *SecretStore) SaveSession(st domain.SessionState) error {
	return s.putSealed(prefixSession+st.PeerID, st)
}

func (s *SecretStore) DeleteSession(peerID string) error {
	return s.kv.Delete(BucketSecrets, prefixSession+peerID)
}

// ---------- PreKeyStore ----------

func (s *SecretStore) SaveSignedPreKeyPair(p domain.SignedPreKeyPair) error {
	return s.putSealed(fmt.Sprintf("%s%d", prefixSignedPre, p.KeyID), p)
}

func (s *SecretStore) LoadSignedPreKeyPair(keyID uint32) (domain.SignedPreKeyPair, bool, error) {
	var p domain.SignedPreKeyPair
	ok, err := s.getSealed(fmt.Sprintf("%s%d", prefixSignedPre, keyID), &p)
	return p, ok, err
}

func (s *SecretStore) SaveOneTimePairs(pairs []domain.OneTimePreKeyPair) error {
	for _, p := range pairs {
		if err := s.putSealed(fmt.Sprintf("%s%d", prefixOneTime, p.KeyID), p); err != nil {
			return err
		}
	}
	return nil
}

// ConsumeOneTimePair deletes the pair as it is handed out: single use.
func (s *SecretStore) ConsumeOneTimePair(keyID uint32) (domain.OneTimePreKeyPair, bool, error) {
	var p domain.OneTimePreKeyPair
	key := fmt.Sprintf("%s%d", prefixOneTime, keyID)
	ok, err := s.getSealed(key, &p)
	if err != nil || !ok {
		return p, false, err
	}
	if err := s.kv.Delete(BucketSecrets, key); err != nil {
		return p, false, err
	}
	return p, true, nil
}

func (s *SecretStore) KeyVersion() (uint32, error) {
	var v uint32
	if _, err := s.getSealed(keyKeyVersion, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *SecretStore) SetKeyVersion(v uint32) error {
	return s.putSealed(keyKeyVersion, v)
}

func (s *SecretStore) LastRotation() (int64, bool, error) {
	var ts int64
	ok, err := s.getSealed(keyLastRotation, &ts)
	return ts, ok, err
}

func (s *SecretStore) SetLastRotation(unixMillis int64) error {
	return s.putSealed(keyLastRotation, unixMillis)
}

func (s *SecretStore) NextSignedPreKeyID() (uint32, error) {
	return s.nextCounter(keyNextSPKID, 1)
}

func (s *SecretStore) NextOneTimeKeyIDs(n int) ([]uint32, error) {
	first, err := s.nextCounter(keyNextOPKID, uint32(n))
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = first + uint32(i)
	}
	return ids, nil
}

// nextCounter allocates [cur+1, cur+n] and persists the new high-water mark.
func (s *SecretStore) nextCounter(key string, n uint32) (uint32, error) {
	var cur uint32
	if _, err := s.getSealed(key, &cur); err != nil {
		return 0, err
	}
	if err := s.putSealed(key, cur+n); err != nil {
		return 0, err
	}
	return cur + 1, nil
}

var (
	_ domain.IdentityStore = (*SecretStore)(nil)
	_ domain.SessionStore  = (*SecretStore)(nil)
	_ domain.PreKeyStore   = (*SecretStore)(nil)
)
