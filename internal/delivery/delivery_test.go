package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sealrelay/internal/delivery"
	"sealrelay/internal/domain"
	"sealrelay/internal/store"
	"sealrelay/pkg/apperr"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeRelay struct {
	send     func(domain.SendMessageRequest) (domain.SendMessageResponse, error)
	receipts []domain.Receipt
	lastSeq  int64
	sent     []string
}

func (f *fakeRelay) SendMessage(_ context.Context, req domain.SendMessageRequest) (domain.SendMessageResponse, error) {
	resp, err := f.send(req)
	if err == nil {
		f.sent = append(f.sent, req.ID)
	}
	return resp, err
}

func (f *fakeRelay) FetchReceipts(context.Context, int64) ([]domain.Receipt, int64, error) {
	return f.receipts, f.lastSeq, nil
}

func (f *fakeRelay) UploadKeys(context.Context, domain.UploadKeysRequest) (domain.UploadKeysResponse, error) {
	panic("not used")
}
func (f *fakeRelay) FetchBundle(context.Context, string, int) (domain.PreKeyBundle, error) {
	panic("not used")
}
func (f *fakeRelay) PreKeyCount(context.Context, int) (int, error) { panic("not used") }
func (f *fakeRelay) RotateSignedPreKey(context.Context, domain.RotateRequest) (domain.RotateResponse, error) {
	panic("not used")
}
func (f *fakeRelay) RotationHistory(context.Context, int) ([]domain.RotationEvent, error) {
	panic("not used")
}
func (f *fakeRelay) FetchMessages(context.Context, string, int64) ([]domain.InboundMessage, error) {
	panic("not used")
}
func (f *fakeRelay) PushReceipts(context.Context, []domain.Receipt) error { panic("not used") }

func enqueue(t *testing.T, msgs domain.MessageStore, id string, at int64) {
	t.Helper()
	m := domain.Message{ID: id, ChatID: "c", SenderID: "alice", PeerID: "bob", Type: "text", Status: domain.StatusPending}
	require.NoError(t, msgs.Enqueue(m, domain.PendingQueueEntry{MessageID: id, NextRetryAt: at}))
}

func TestTick_SendsDueEntry(t *testing.T) {
	msgs := store.NewMessages(store.NewMemoryKV())
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	relay := &fakeRelay{send: func(domain.SendMessageRequest) (domain.SendMessageResponse, error) {
		return domain.SendMessageResponse{ServerID: "srv-1", ServerTimestamp: 42}, nil
	}}

	var events []string
	sched := delivery.NewScheduler(msgs, relay,
		delivery.WithClock(clock),
		delivery.WithOnStatus(func(id string, st domain.Status) {
			events = append(events, id+":"+string(st))
		}))

	enqueue(t, msgs, "m1", clock.Now().UnixMilli())

	n, err := sched.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"m1"}, relay.sent)

	m, ok, err := msgs.GetMessage("m1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.StatusSent, m.Status)
	require.Equal(t, "srv-1", m.ServerID)

	pending, err := msgs.AllPending()
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Equal(t, []string{"m1:sent"}, events)
}

func TestTick_TransientError_BacksOff(t *testing.T) {
	msgs := store.NewMessages(store.NewMemoryKV())
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	relay := &fakeRelay{send: func(domain.SendMessageRequest) (domain.SendMessageResponse, error) {
		return domain.SendMessageResponse{}, apperr.Transient("connection refused")
	}}
	sched := delivery.NewScheduler(msgs, relay, delivery.WithClock(clock))

	enqueue(t, msgs, "m1", clock.Now().UnixMilli())

	wantBackoff := []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute}
	for i, backoff := range wantBackoff {
		n, err := sched.Tick(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, n)

		all, err := msgs.AllPending()
		require.NoError(t, err)
		require.Len(t, all, 1)
		e := all[0]
		require.Equal(t, i+1, e.RetryCount)
		require.False(t, e.Failed)
		require.Equal(t, clock.Now().Add(backoff).UnixMilli(), e.NextRetryAt)
		require.Contains(t, e.LastError, "connection refused")

		// Not due again until the backoff has elapsed.
		n, err = sched.Tick(context.Background())
		require.NoError(t, err)
		require.Zero(t, n)

		clock.advance(backoff)
	}
}

func TestTick_ExhaustedRetries_Terminal(t *testing.T) {
	msgs := store.NewMessages(store.NewMemoryKV())
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	relay := &fakeRelay{send: func(domain.SendMessageRequest) (domain.SendMessageResponse, error) {
		return domain.SendMessageResponse{}, apperr.Transient("still down")
	}}
	sched := delivery.NewScheduler(msgs, relay, delivery.WithClock(clock))

	enqueue(t, msgs, "m1", clock.Now().UnixMilli())
	for i := 0; i < delivery.MaxRetries; i++ {
		if _, err := sched.Tick(context.Background()); err != nil {
			t.Fatalf("tick: %v", err)
		}
		clock.advance(2 * time.Hour)
	}

	all, err := msgs.AllPending()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].Failed)

	n, err := sched.Tick(context.Background())
	require.NoError(t, err)
	require.Zero(t, n, "failed entries must never be retried")
}

func TestTick_NonRetryableError_Terminal(t *testing.T) {
	msgs := store.NewMessages(store.NewMemoryKV())
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	relay := &fakeRelay{send: func(domain.SendMessageRequest) (domain.SendMessageResponse, error) {
		return domain.SendMessageResponse{}, apperr.Validation("clock skew too large")
	}}
	sched := delivery.NewScheduler(msgs, relay, delivery.WithClock(clock))

	enqueue(t, msgs, "m1", clock.Now().UnixMilli())
	_, err := sched.Tick(context.Background())
	require.NoError(t, err)

	all, err := msgs.AllPending()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].Failed, "validation errors must not be retried")
}

func TestTick_Conflict_TreatedAsSent(t *testing.T) {
	msgs := store.NewMessages(store.NewMemoryKV())
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	relay := &fakeRelay{send: func(domain.SendMessageRequest) (domain.SendMessageResponse, error) {
		return domain.SendMessageResponse{}, apperr.Conflict("replay detected")
	}}
	sched := delivery.NewScheduler(msgs, relay, delivery.WithClock(clock))

	enqueue(t, msgs, "m1", clock.Now().UnixMilli())
	_, err := sched.Tick(context.Background())
	require.NoError(t, err)

	m, _, err := msgs.GetMessage("m1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusSent, m.Status)
	// The conflicted attempt never saw the server's timestamp; it must not
	// be substituted with a local one.
	require.Nil(t, m.ServerTimestamp)

	pending, err := msgs.AllPending()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestFlush_IgnoresBackoffTimers(t *testing.T) {
	msgs := store.NewMessages(store.NewMemoryKV())
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	relay := &fakeRelay{send: func(domain.SendMessageRequest) (domain.SendMessageResponse, error) {
		return domain.SendMessageResponse{ServerID: "srv", ServerTimestamp: 1}, nil
	}}
	sched := delivery.NewScheduler(msgs, relay, delivery.WithClock(clock))

	// Future-dated entry: a normal tick would skip it.
	enqueue(t, msgs, "m1", clock.Now().Add(time.Hour).UnixMilli())
	n, err := sched.Tick(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	sent, err := sched.Flush(context.Background(), time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	pending, err := msgs.AllPending()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestFlush_SkipsTerminalEntries(t *testing.T) {
	msgs := store.NewMessages(store.NewMemoryKV())
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	relay := &fakeRelay{send: func(domain.SendMessageRequest) (domain.SendMessageResponse, error) {
		return domain.SendMessageResponse{ServerID: "srv", ServerTimestamp: 1}, nil
	}}
	sched := delivery.NewScheduler(msgs, relay, delivery.WithClock(clock))

	m := domain.Message{ID: "dead", ChatID: "c", SenderID: "alice", Status: domain.StatusPending}
	require.NoError(t, msgs.Enqueue(m, domain.PendingQueueEntry{MessageID: "dead", Failed: true}))

	sent, err := sched.Flush(context.Background(), time.Minute)
	require.NoError(t, err)
	require.Zero(t, sent)
	require.Empty(t, relay.sent)
}

func TestPoll_AppliesReceiptsAndAdvancesCursor(t *testing.T) {
	msgs := store.NewMessages(store.NewMemoryKV())
	_, err := msgs.UpsertMessage(domain.Message{ID: "m1", Status: domain.StatusSent})
	require.NoError(t, err)

	relay := &fakeRelay{
		receipts: []domain.Receipt{
			{MessageID: "m1", UserID: "bob", Status: domain.StatusDelivered, Timestamp: 10},
			{MessageID: "m1", UserID: "bob", Status: domain.StatusRead, Timestamp: 20},
		},
		lastSeq: 2,
	}

	var events []string
	poller := delivery.NewPoller(msgs, relay,
		delivery.PollerOnStatus(func(id string, st domain.Status) {
			events = append(events, id+":"+string(st))
		}))

	n, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	m, _, err := msgs.GetMessage("m1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusRead, m.Status)
	require.Equal(t, []string{"m1:delivered", "m1:read"}, events)

	cursor, err := msgs.ReceiptCursor()
	require.NoError(t, err)
	require.EqualValues(t, 2, cursor)

	// Re-delivery of the same receipts must not regress status or fire
	// events again.
	events = nil
	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	m, _, _ = msgs.GetMessage("m1")
	require.Equal(t, domain.StatusRead, m.Status)
	require.Empty(t, events)
}
