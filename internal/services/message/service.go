package message

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"sealrelay/internal/crypto"
	"sealrelay/internal/domain"
	"sealrelay/internal/engine"
	"sealrelay/pkg/apperr"
	"sealrelay/pkg/logger"
)

var log = logger.New("message")

// Incoming is a received message together with its decrypted payload.
// Plaintext is nil when the envelope could not be decrypted.
type Incoming struct {
	Message   domain.Message
	Plaintext []byte
}

// Service encrypts outbound messages into the local queue and reconciles
// inbound messages from the relay.
type Service struct {
	identity domain.Identity
	engine   *engine.Engine
	msgs     domain.MessageStore
	relay    domain.RelayClient

	// wake pokes the retry scheduler after an enqueue. Optional.
	wake func()
}

func New(identity domain.Identity, eng *engine.Engine, msgs domain.MessageStore, relay domain.RelayClient, wake func()) *Service {
	return &Service{identity: identity, engine: eng, msgs: msgs, relay: relay, wake: wake}
}

// ChatID is the canonical chat identifier for a user pair: the two ids in
// lexical order joined by a colon. Both sides compute the same value.
func ChatID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Send encrypts plaintext for peer and enqueues the result with
// status=pending. The envelope is written once; only the delivery pipeline
// touches the record afterwards.
func (s *Service) Send(ctx context.Context, peerID, msgType string, plaintext []byte) (domain.Message, error) {
	peerKey, err := s.peerKey(ctx, peerID)
	if err != nil {
		return domain.Message{}, err
	}

	env, err := s.engine.Encrypt(peerID, peerKey, plaintext)
	if err != nil {
		return domain.Message{}, err
	}

	now := time.Now().UnixMilli()
	m := domain.Message{
		ID:              uuid.NewString(),
		ChatID:          ChatID(s.identity.UserID, peerID),
		SenderID:        s.identity.UserID,
		PeerID:          peerID,
		Type:            msgType,
		Envelope:        env,
		ClientTimestamp: now,
		Status:          domain.StatusPending,
	}
	e := domain.PendingQueueEntry{MessageID: m.ID, NextRetryAt: now, CreatedAt: now}
	if err := s.msgs.Enqueue(m, e); err != nil {
		return domain.Message{}, err
	}
	if s.wake != nil {
		s.wake()
	}
	return m, nil
}

// peerKey returns the peer's identity key for session bootstrap. With an
// established session the engine never touches it, so the bundle fetch is
// skipped entirely.
func (s *Service) peerKey(ctx context.Context, peerID string) (domain.X25519Public, error) {
	has, err := s.engine.HasSession(peerID)
	if err != nil || has {
		return domain.X25519Public{}, err
	}

	bundle, err := s.relay.FetchBundle(ctx, peerID, 1)
	if err != nil {
		return domain.X25519Public{}, errors.Wrapf(err, "fetch bundle for %s", peerID)
	}
	if len(bundle.IdentityKey) != 32 {
		return domain.X25519Public{}, apperr.Crypto("bundle carries malformed identity key")
	}
	// The signed prekey's self-signature proves the bundle was assembled by
	// the holder of the signing key, not substituted by the server.
	if len(bundle.SigningKey) != 32 {
		return domain.X25519Public{}, apperr.Crypto("bundle carries malformed signing key")
	}
	var edPub domain.Ed25519Public
	copy(edPub[:], bundle.SigningKey)
	if !crypto.VerifyEd25519(edPub, bundle.SignedPreKey.PublicKey, bundle.SignedPreKey.Signature) {
		return domain.X25519Public{}, apperr.Crypto("signed prekey signature does not verify")
	}
	return domain.MustX25519Public(bundle.IdentityKey), nil
}

// Receive pulls messages for the chat with peer past the local cursor,
// upserts them by client id, decrypts what it can, and pushes delivered
// receipts for everything newly stored.
func (s *Service) Receive(ctx context.Context, peerID string) ([]Incoming, error) {
	chatID := ChatID(s.identity.UserID, peerID)
	since, err := s.msgs.InboundCursor(chatID)
	if err != nil {
		return nil, err
	}

	inbound, err := s.relay.FetchMessages(ctx, chatID, since)
	if err != nil {
		return nil, err
	}

	var (
		out      []Incoming
		receipts []domain.Receipt
		lastSeq  = since
	)
	for _, in := range inbound {
		if in.Seq > lastSeq {
			lastSeq = in.Seq
		}
		if in.SenderID == s.identity.UserID {
			continue
		}

		ts := in.ServerTimestamp
		m := domain.Message{
			ID:              in.ID,
			ChatID:          in.ChatID,
			SenderID:        in.SenderID,
			PeerID:          in.SenderID,
			Type:            in.Type,
			Envelope:        in.Envelope,
			ClientTimestamp: in.ServerTimestamp,
			ServerTimestamp: &ts,
			Status:          domain.StatusDelivered,
		}
		inserted, err := s.msgs.UpsertMessage(m)
		if err != nil {
			return nil, err
		}
		if !inserted {
			// Duplicate delivery of the same id is a no-op.
			continue
		}

		inc := Incoming{Message: m}
		plaintext, err := s.engine.Decrypt(in.SenderID, in.Envelope)
		if err != nil {
			// Retrying cannot fix desynchronized keys. Keep the record,
			// flag it, move on.
			log.Errorf("message %s undecryptable: %v", in.ID, err)
			if merr := s.msgs.MarkUndecryptable(in.ID); merr != nil {
				return nil, merr
			}
			inc.Message.Undecryptable = true
		} else {
			inc.Plaintext = plaintext
		}
		out = append(out, inc)

		receipts = append(receipts, domain.Receipt{
			MessageID: in.ID,
			UserID:    s.identity.UserID,
			Status:    domain.StatusDelivered,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	if len(receipts) > 0 {
		if err := s.relay.PushReceipts(ctx, receipts); err != nil {
			// Receipts are re-derivable; the sender's poller will catch up
			// on a later push. Do not fail the receive.
			log.Warningf("push delivered receipts: %v", err)
		}
	}
	if lastSeq > since {
		if err := s.msgs.SetInboundCursor(chatID, lastSeq); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarkRead pushes read receipts for the given messages and folds the status
// into the local records.
func (s *Service) MarkRead(ctx context.Context, messageIDs []string) error {
	now := time.Now().UnixMilli()
	receipts := make([]domain.Receipt, 0, len(messageIDs))
	for _, id := range messageIDs {
		receipts = append(receipts, domain.Receipt{
			MessageID: id,
			UserID:    s.identity.UserID,
			Status:    domain.StatusRead,
			Timestamp: now,
		})
	}
	if err := s.relay.PushReceipts(ctx, receipts); err != nil {
		return err
	}
	for _, r := range receipts {
		if _, _, err := s.msgs.ApplyReceipt(domain.ReceiptRecord{
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Status:    r.Status,
			Timestamp: r.Timestamp,
		}); err != nil {
			return err
		}
	}
	return nil
}
