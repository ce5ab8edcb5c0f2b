// Package engine is the session cryptography engine. It bootstraps and
// advances per-peer ratchet sessions and turns plaintext into wire envelopes
// and back. All chain-key persistence goes through the injected SessionStore
// so tests can substitute an in-memory store.
package engine

import (
	"encoding/base64"
	"sync"
	"time"

	"sealrelay/internal/crypto"
	"sealrelay/internal/domain"
	"sealrelay/internal/protocol/ratchet"
	"sealrelay/internal/util/memzero"
	"sealrelay/pkg/apperr"
	"sealrelay/pkg/logger"

	logging "gopkg.in/op/go-logging.v1"
)

// Engine serializes all ratchet operations per peer: concurrent chain
// advancement against the same session would corrupt it.
type Engine struct {
	identity domain.Identity
	sessions domain.SessionStore

	mu    sync.Mutex
	peers map[string]*sync.Mutex

	log *logging.Logger
}

func New(identity domain.Identity, sessions domain.SessionStore) *Engine {
	return &Engine{
		identity: identity,
		sessions: sessions,
		peers:    make(map[string]*sync.Mutex),
		log:      logger.New("engine"),
	}
}

func (e *Engine) peerLock(peerID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.peers[peerID]
	if !ok {
		l = &sync.Mutex{}
		e.peers[peerID] = l
	}
	return l
}

// HasSession reports whether a ratchet session exists for peerID.
func (e *Engine) HasSession(peerID string) (bool, error) {
	_, ok, err := e.sessions.LoadSession(peerID)
	return ok, err
}

// Encrypt ratchets the send chain forward and seals plaintext for peerID.
//
// If no session exists, one is bootstrapped: a random root secret is drawn,
// chains are derived, and the root is sealed to peerKey as the envelope's
// bootstrap header. Nothing is persisted until the AEAD seal succeeds, so a
// failed first send leaves no half-established session behind.
func (e *Engine) Encrypt(peerID string, peerKey domain.X25519Public, plaintext []byte) (domain.Envelope, error) {
	l := e.peerLock(peerID)
	l.Lock()
	defer l.Unlock()

	st, ok, err := e.sessions.LoadSession(peerID)
	if err != nil {
		return domain.Envelope{}, apperr.Wrap(apperr.CodeInternal, "engine: load session", err)
	}

	var bootstrap []byte
	if !ok {
		root, err := ratchet.NewRootSecret()
		if err != nil {
			return domain.Envelope{}, apperr.Wrap(apperr.CodeCrypto, "engine: root secret", err)
		}
		send, recv, err := ratchet.DeriveChains(root)
		if err != nil {
			return domain.Envelope{}, apperr.Wrap(apperr.CodeCrypto, "engine: derive chains", err)
		}
		bootstrap, err = crypto.SealTo(peerKey, root)
		if err != nil {
			return domain.Envelope{}, apperr.Wrap(apperr.CodeCrypto, "engine: seal bootstrap header", err)
		}
		st = domain.SessionState{
			PeerID:         peerID,
			RootKey:        root,
			ChainKeySend:   send,
			ChainKeyRecv:   recv,
			EstablishedUTC: time.Now().Unix(),
		}
		e.log.Infof("bootstrapped session with %s", peerID)
	}

	messageKey, nextSend, err := ratchet.Advance(st.ChainKeySend)
	if err != nil {
		return domain.Envelope{}, apperr.Wrap(apperr.CodeCrypto, "engine: advance send chain", err)
	}
	iv, ct, err := ratchet.Seal(messageKey, plaintext)
	memzero.Zero(messageKey)
	if err != nil {
		return domain.Envelope{}, apperr.Wrap(apperr.CodeCrypto, "engine: seal", err)
	}

	// Commit only after successful encryption.
	st.ChainKeySend = nextSend
	if err := e.sessions.SaveSession(st); err != nil {
		return domain.Envelope{}, apperr.Wrap(apperr.CodeInternal, "engine: save session", err)
	}

	env := domain.Envelope{
		Data:    base64.StdEncoding.EncodeToString(ct),
		IV:      base64.StdEncoding.EncodeToString(iv),
		Version: domain.EnvelopeVersionRatchet,
	}
	if bootstrap != nil {
		env.Bootstrap = base64.StdEncoding.EncodeToString(bootstrap)
	}
	return env, nil
}

// Decrypt opens an envelope from peerID.
//
// Envelopes carrying a bootstrap header replace any existing session: the
// root secret is recovered with our private key and the chain halves are
// mirrored relative to the sender. The advanced receive chain key is
// committed only after the AEAD verifies; a failed decrypt must never
// consume a chain key, or every later message becomes undecryptable.
func (e *Engine) Decrypt(peerID string, env domain.Envelope) ([]byte, error) {
	parsed, err := env.Parse()
	if err != nil {
		return nil, err
	}

	if parsed.Kind == domain.EnvelopeLegacy {
		return e.decryptLegacy(parsed)
	}

	l := e.peerLock(peerID)
	l.Lock()
	defer l.Unlock()

	var st domain.SessionState
	if parsed.Bootstrap != nil {
		root, err := crypto.OpenSealed(e.identity.XPriv, parsed.Bootstrap)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeCrypto, "engine: open bootstrap header", err)
		}
		// Mirror the sender's orientation: their send chain is our receive.
		recv, send, err := ratchet.DeriveChains(root)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeCrypto, "engine: derive chains", err)
		}
		st = domain.SessionState{
			PeerID:         peerID,
			RootKey:        root,
			ChainKeySend:   send,
			ChainKeyRecv:   recv,
			EstablishedUTC: time.Now().Unix(),
		}
		e.log.Infof("accepted session bootstrap from %s", peerID)
	} else {
		var ok bool
		st, ok, err = e.sessions.LoadSession(peerID)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "engine: load session", err)
		}
		if !ok {
			return nil, apperr.Crypto("engine: no session with peer and no bootstrap header")
		}
	}

	messageKey, nextRecv, err := ratchet.Advance(st.ChainKeyRecv)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCrypto, "engine: advance receive chain", err)
	}
	pt, err := ratchet.Open(messageKey, parsed.IV, parsed.Ciphertext)
	memzero.Zero(messageKey)
	if err != nil {
		// State untouched: a retry with the right envelope can still succeed.
		return nil, apperr.Wrap(apperr.CodeCrypto, "engine: decrypt failed, keys may be desynchronized", err)
	}

	st.ChainKeyRecv = nextRecv
	if err := e.sessions.SaveSession(st); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "engine: save session", err)
	}
	return pt, nil
}

// decryptLegacy handles pre-ratchet one-shot hybrid packages: the symmetric
// key is sealed to our identity key and used exactly once.
func (e *Engine) decryptLegacy(parsed domain.ParsedEnvelope) ([]byte, error) {
	key, err := crypto.OpenSealed(e.identity.XPriv, parsed.WrappedKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCrypto, "engine: unwrap legacy key", err)
	}
	defer memzero.Zero(key)
	pt, err := ratchet.Open(key, parsed.IV, parsed.Ciphertext)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCrypto, "engine: legacy decrypt failed", err)
	}
	return pt, nil
}

// EncryptLegacy produces a one-shot hybrid package for a pre-ratchet peer.
func (e *Engine) EncryptLegacy(peerKey domain.X25519Public, plaintext []byte) (domain.Envelope, error) {
	key, err := ratchet.NewRootSecret()
	if err != nil {
		return domain.Envelope{}, apperr.Wrap(apperr.CodeCrypto, "engine: session key", err)
	}
	defer memzero.Zero(key)

	iv, ct, err := ratchet.Seal(key, plaintext)
	if err != nil {
		return domain.Envelope{}, apperr.Wrap(apperr.CodeCrypto, "engine: seal", err)
	}
	wrapped, err := crypto.SealTo(peerKey, key)
	if err != nil {
		return domain.Envelope{}, apperr.Wrap(apperr.CodeCrypto, "engine: wrap key", err)
	}
	return domain.Envelope{
		Data:       base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
		WrappedKey: base64.StdEncoding.EncodeToString(wrapped),
	}, nil
}

// ResetSession drops the ratchet state for peerID. The next send bootstraps
// a fresh session; this is the remediation for a desynchronized chain.
func (e *Engine) ResetSession(peerID string) error {
	l := e.peerLock(peerID)
	l.Lock()
	defer l.Unlock()
	return e.sessions.DeleteSession(peerID)
}
