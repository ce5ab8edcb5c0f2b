package identity

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"sealrelay/internal/crypto"
	"sealrelay/internal/domain"
)

// ErrNoIdentity indicates the device has not been initialised yet.
var ErrNoIdentity = errors.New("no identity; run init first")

// Service manages the one-time identity lifecycle.
type Service struct {
	ids domain.IdentityStore
}

func New(ids domain.IdentityStore) *Service {
	return &Service{ids: ids}
}

// Generate creates the device identity. Fails if one already exists; there
// is no silent overwrite from the client side.
func (s *Service) Generate(userID string, deviceID int) (domain.Identity, error) {
	if _, ok, err := s.ids.LoadIdentity(); err != nil {
		return domain.Identity{}, err
	} else if ok {
		return domain.Identity{}, errors.New("identity already exists")
	}

	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Identity{}, err
	}
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.Identity{}, err
	}

	id := domain.Identity{
		UserID:         userID,
		DeviceUUID:     uuid.NewString(),
		DeviceID:       deviceID,
		RegistrationID: newRegistrationID(),
		XPriv:          xPriv,
		XPub:           xPub,
		EdPriv:         edPriv,
		EdPub:          edPub,
		CreatedUTC:     time.Now().UnixMilli(),
	}
	if err := s.ids.SaveIdentity(id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// Load returns the stored identity or ErrNoIdentity.
func (s *Service) Load() (domain.Identity, error) {
	id, ok, err := s.ids.LoadIdentity()
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, ErrNoIdentity
	}
	return id, nil
}

// Fingerprint renders the identity public key for out-of-band comparison.
func (s *Service) Fingerprint(id domain.Identity) string {
	return crypto.Fingerprint(id.XPub.Slice())
}

// newRegistrationID draws a random 14-bit id, never zero. The server uses it
// to distinguish a reinstall from a key-substitution attempt.
func newRegistrationID() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint32(b[:])%16380 + 1
}

// Signer signs raw request bodies with the identity's Ed25519 key.
type Signer struct {
	priv domain.Ed25519Private
}

func NewSigner(id domain.Identity) *Signer {
	return &Signer{priv: id.EdPriv}
}

func (s *Signer) Sign(body []byte) []byte {
	return crypto.SignEd25519(s.priv, body)
}

var _ domain.RequestSigner = (*Signer)(nil)
