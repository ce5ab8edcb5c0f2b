package message_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sealrelay/internal/crypto"
	"sealrelay/internal/domain"
	"sealrelay/internal/engine"
	"sealrelay/internal/services/message"
	"sealrelay/internal/store"
)

type fakeRelay struct {
	bundles  map[string]domain.PreKeyBundle
	inbound  []domain.InboundMessage
	receipts []domain.Receipt
	fetches  int
}

func (f *fakeRelay) FetchBundle(_ context.Context, userID string, _ int) (domain.PreKeyBundle, error) {
	f.fetches++
	b, ok := f.bundles[userID]
	if !ok {
		return domain.PreKeyBundle{}, context.DeadlineExceeded
	}
	return b, nil
}

func (f *fakeRelay) FetchMessages(context.Context, string, int64) ([]domain.InboundMessage, error) {
	return f.inbound, nil
}

func (f *fakeRelay) PushReceipts(_ context.Context, rs []domain.Receipt) error {
	f.receipts = append(f.receipts, rs...)
	return nil
}

func (f *fakeRelay) UploadKeys(context.Context, domain.UploadKeysRequest) (domain.UploadKeysResponse, error) {
	panic("not used")
}
func (f *fakeRelay) PreKeyCount(context.Context, int) (int, error) { panic("not used") }
func (f *fakeRelay) RotateSignedPreKey(context.Context, domain.RotateRequest) (domain.RotateResponse, error) {
	panic("not used")
}
func (f *fakeRelay) RotationHistory(context.Context, int) ([]domain.RotationEvent, error) {
	panic("not used")
}
func (f *fakeRelay) SendMessage(context.Context, domain.SendMessageRequest) (domain.SendMessageResponse, error) {
	panic("not used")
}
func (f *fakeRelay) FetchReceipts(context.Context, int64) ([]domain.Receipt, int64, error) {
	panic("not used")
}

func newIdentity(t *testing.T, userID string) domain.Identity {
	t.Helper()
	xPriv, xPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	edPriv, edPub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	return domain.Identity{
		UserID: userID, DeviceID: 1, RegistrationID: 7,
		XPriv: xPriv, XPub: xPub, EdPriv: edPriv, EdPub: edPub,
	}
}

func bundleFor(id domain.Identity) domain.PreKeyBundle {
	_, spkPub, _ := crypto.GenerateX25519()
	return domain.PreKeyBundle{
		UserID:         id.UserID,
		DeviceID:       id.DeviceID,
		RegistrationID: id.RegistrationID,
		IdentityKey:    id.XPub.Slice(),
		SigningKey:     id.EdPub.Slice(),
		SignedPreKey: domain.SignedPreKey{
			KeyID:     1,
			PublicKey: spkPub.Slice(),
			Signature: crypto.SignEd25519(id.EdPriv, spkPub.Slice()),
		},
	}
}

func TestSend_EncryptsAndEnqueues(t *testing.T) {
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")

	relay := &fakeRelay{bundles: map[string]domain.PreKeyBundle{"bob": bundleFor(bob)}}
	msgs := store.NewMessages(store.NewMemoryKV())
	eng := engine.New(alice, store.NewMemorySessionStore())

	woken := 0
	svc := message.New(alice, eng, msgs, relay, func() { woken++ })

	m, err := svc.Send(context.Background(), "bob", "text", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "alice:bob", m.ChatID)
	require.Equal(t, domain.StatusPending, m.Status)
	require.NotEmpty(t, m.Envelope.Bootstrap, "first message must carry the bootstrap header")
	require.Equal(t, 1, woken)

	pending, err := msgs.AllPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, m.ID, pending[0].MessageID)

	// Second send reuses the session: no bundle fetch, no header.
	m2, err := svc.Send(context.Background(), "bob", "text", []byte("again"))
	require.NoError(t, err)
	require.Empty(t, m2.Envelope.Bootstrap)
	require.Equal(t, 1, relay.fetches)
}

func TestSend_RejectsTamperedBundle(t *testing.T) {
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")

	bundle := bundleFor(bob)
	bundle.SignedPreKey.Signature[0] ^= 1
	relay := &fakeRelay{bundles: map[string]domain.PreKeyBundle{"bob": bundle}}

	svc := message.New(alice, engine.New(alice, store.NewMemorySessionStore()),
		store.NewMessages(store.NewMemoryKV()), relay, nil)

	_, err := svc.Send(context.Background(), "bob", "text", []byte("hello"))
	require.Error(t, err)
}

func TestReceive_DecryptsAndAcks(t *testing.T) {
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")

	aliceRelay := &fakeRelay{bundles: map[string]domain.PreKeyBundle{"bob": bundleFor(bob)}}
	aliceSvc := message.New(alice, engine.New(alice, store.NewMemorySessionStore()),
		store.NewMessages(store.NewMemoryKV()), aliceRelay, nil)

	sent, err := aliceSvc.Send(context.Background(), "bob", "text", []byte("hi bob"))
	require.NoError(t, err)

	bobRelay := &fakeRelay{inbound: []domain.InboundMessage{{
		Seq:             1,
		ID:              sent.ID,
		ChatID:          sent.ChatID,
		SenderID:        "alice",
		Type:            "text",
		Envelope:        sent.Envelope,
		ServerTimestamp: 1000,
	}}}
	bobMsgs := store.NewMessages(store.NewMemoryKV())
	bobSvc := message.New(bob, engine.New(bob, store.NewMemorySessionStore()),
		bobMsgs, bobRelay, nil)

	got, err := bobSvc.Receive(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []byte("hi bob"), got[0].Plaintext)
	require.Equal(t, domain.StatusDelivered, got[0].Message.Status)

	require.Len(t, bobRelay.receipts, 1)
	require.Equal(t, sent.ID, bobRelay.receipts[0].MessageID)
	require.Equal(t, domain.StatusDelivered, bobRelay.receipts[0].Status)

	// Same page served again: cursor plus id-dedupe make it a no-op.
	got, err = bobSvc.Receive(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, got)
	require.Len(t, bobRelay.receipts, 1)
}

func TestReceive_MarksUndecryptable(t *testing.T) {
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")

	aliceRelay := &fakeRelay{bundles: map[string]domain.PreKeyBundle{"bob": bundleFor(bob)}}
	aliceSvc := message.New(alice, engine.New(alice, store.NewMemorySessionStore()),
		store.NewMessages(store.NewMemoryKV()), aliceRelay, nil)

	sent, err := aliceSvc.Send(context.Background(), "bob", "text", []byte("hi"))
	require.NoError(t, err)

	tampered := sent.Envelope
	b := []byte(tampered.Data)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	tampered.Data = string(b)

	bobRelay := &fakeRelay{inbound: []domain.InboundMessage{{
		Seq: 1, ID: sent.ID, ChatID: sent.ChatID, SenderID: "alice",
		Type: "text", Envelope: tampered, ServerTimestamp: 1000,
	}}}
	bobMsgs := store.NewMessages(store.NewMemoryKV())
	bobSvc := message.New(bob, engine.New(bob, store.NewMemorySessionStore()),
		bobMsgs, bobRelay, nil)

	got, err := bobSvc.Receive(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Nil(t, got[0].Plaintext)
	require.True(t, got[0].Message.Undecryptable)

	m, ok, err := bobMsgs.GetMessage(sent.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, m.Undecryptable)
}
