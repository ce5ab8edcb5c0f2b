package app

import (
	"path/filepath"

	"github.com/pkg/errors"

	"sealrelay/internal/delivery"
	"sealrelay/internal/domain"
	"sealrelay/internal/engine"
	"sealrelay/internal/relay"
	identitysvc "sealrelay/internal/services/identity"
	keyringsvc "sealrelay/internal/services/keyring"
	messagesvc "sealrelay/internal/services/message"
	"sealrelay/internal/store"
)

// App is the local half of the graph: stores plus the identity service.
// Everything that needs a loaded identity lives on Session.
type App struct {
	kv       *store.BoltKV
	Secrets  *store.SecretStore
	Messages domain.MessageStore
	IDs      *identitysvc.Service

	cfg Config
}

// New opens the local database and derives the store key. The identity may
// not exist yet; init creates it.
func New(cfg Config) (*App, error) {
	kv, err := store.OpenBolt(filepath.Join(cfg.Home, "sealrelay.db"))
	if err != nil {
		return nil, err
	}
	secrets, err := store.NewSecretStore(kv, cfg.Passphrase)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	return &App{
		kv:       kv,
		Secrets:  secrets,
		Messages: store.NewMessages(kv),
		IDs:      identitysvc.New(secrets),
		cfg:      cfg,
	}, nil
}

func (a *App) Close() error { return a.kv.Close() }

// Session is the graph available once an identity exists: crypto engine,
// relay client, key lifecycle and the delivery pipeline.
type Session struct {
	Identity  domain.Identity
	Engine    *engine.Engine
	Relay     domain.RelayClient
	Keyring   *keyringsvc.Service
	Messages  *messagesvc.Service
	Scheduler *delivery.Scheduler
	Poller    *delivery.Poller
}

// Connect loads the identity and builds the connected graph.
func (a *App) Connect() (*Session, error) {
	id, err := a.IDs.Load()
	if err != nil {
		return nil, err
	}
	if a.cfg.RelayURL == "" {
		return nil, errors.New("no relay configured, use --relay")
	}

	rc := relay.New(a.cfg.RelayURL, id.UserID, id.DeviceID, identitysvc.NewSigner(id))
	eng := engine.New(id, a.Secrets)
	sched := delivery.NewScheduler(a.Messages, rc)
	poller := delivery.NewPoller(a.Messages, rc)

	return &Session{
		Identity:  id,
		Engine:    eng,
		Relay:     rc,
		Keyring:   keyringsvc.New(id, a.Secrets, rc),
		Messages:  messagesvc.New(id, eng, a.Messages, rc, sched.Wake),
		Scheduler: sched,
		Poller:    poller,
	}, nil
}
