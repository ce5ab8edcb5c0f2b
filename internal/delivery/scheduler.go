package delivery

import (
	"context"
	"time"

	"sealrelay/internal/domain"
	"sealrelay/pkg/apperr"
	"sealrelay/pkg/logger"
)

var log = logger.New("delivery")

// backoffSchedule indexes by min(retryCount-1, len-1) after a failed attempt.
var backoffSchedule = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	time.Hour,
}

const (
	// MaxRetries is the attempt budget before an entry goes terminal.
	MaxRetries = 5

	defaultBaseInterval = 5 * time.Second
	defaultMaxInterval  = 2 * time.Minute
	intervalGrowth      = 1.5
)

// StatusFunc is invoked after a message's local status moves.
type StatusFunc func(messageID string, status domain.Status)

// Scheduler drains the pending queue. It is single-flight: the loop never
// overlaps its own ticks, and its poll interval grows while idle and snaps
// back to base when woken.
type Scheduler struct {
	msgs  domain.MessageStore
	relay domain.RelayClient
	clock Clock

	baseInterval time.Duration
	maxInterval  time.Duration
	maxRetries   int
	onStatus     StatusFunc

	wake chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithBaseInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.baseInterval = d }
}

func WithMaxInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.maxInterval = d }
}

func WithOnStatus(fn StatusFunc) Option {
	return func(s *Scheduler) { s.onStatus = fn }
}

func NewScheduler(msgs domain.MessageStore, relay domain.RelayClient, opts ...Option) *Scheduler {
	s := &Scheduler{
		msgs:         msgs,
		relay:        relay,
		clock:        SystemClock,
		baseInterval: defaultBaseInterval,
		maxInterval:  defaultMaxInterval,
		maxRetries:   MaxRetries,
		wake:         make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Wake resets the poll interval to base and triggers an immediate tick. Call
// on new enqueues and on returning to foreground.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the retry loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.baseInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			interval = s.baseInterval
		case <-s.clock.After(interval):
		}

		n, err := s.Tick(ctx)
		if err != nil {
			log.Errorf("retry tick: %v", err)
		}
		if n == 0 {
			interval = time.Duration(float64(interval) * intervalGrowth)
			if interval > s.maxInterval {
				interval = s.maxInterval
			}
		} else {
			interval = s.baseInterval
		}
	}
}

// Tick attempts every queue entry whose retry time has passed. Returns the
// number of entries it worked on.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.clock.Now().UnixMilli()
	due, err := s.msgs.DuePending(now, s.maxRetries)
	if err != nil {
		return 0, err
	}
	for _, e := range due {
		s.attempt(ctx, e)
	}
	return len(due), nil
}

// Flush attempts every live entry once, ignoring per-entry backoff, bounded
// by a hard wall-clock timeout. Used when the app is backgrounded.
func (s *Scheduler) Flush(ctx context.Context, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	all, err := s.msgs.AllPending()
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, e := range all {
		if e.Failed || e.RetryCount >= s.maxRetries {
			continue
		}
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if s.attempt(ctx, e) {
			sent++
		}
	}
	return sent, nil
}

// attempt submits one entry and settles its fate: delete on success or
// conflict, backoff on transient error, terminal failure otherwise. Returns
// true when the message reached the server.
func (s *Scheduler) attempt(ctx context.Context, e domain.PendingQueueEntry) bool {
	m, ok, err := s.msgs.GetMessage(e.MessageID)
	if err != nil {
		log.Errorf("load message %s: %v", e.MessageID, err)
		return false
	}
	if !ok {
		// Orphaned entry, drop it.
		_ = s.msgs.DeletePending(e.MessageID)
		return false
	}

	resp, err := s.relay.SendMessage(ctx, domain.SendMessageRequest{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Type:      m.Type,
		Envelope:  m.Envelope,
		Timestamp: m.ClientTimestamp,
	})
	if err == nil {
		return s.confirm(m.ID, resp.ServerID, resp.ServerTimestamp)
	}

	if apperr.CodeOf(err) == apperr.CodeConflict {
		// The server already holds this id: a previous attempt landed but
		// the ack was lost. Treat as sent. The server timestamp is unknown
		// here and stays unset rather than being faked from the local clock.
		log.Noticef("message %s already accepted by server", m.ID)
		return s.confirm(m.ID, m.ServerID, 0)
	}

	e.LastError = err.Error()
	if !apperr.Retryable(err) || e.RetryCount+1 >= s.maxRetries {
		e.Failed = true
		log.Errorf("message %s failed permanently: %v", m.ID, err)
	} else {
		e.RetryCount++
		idx := e.RetryCount - 1
		if idx >= len(backoffSchedule) {
			idx = len(backoffSchedule) - 1
		}
		e.NextRetryAt = s.clock.Now().Add(backoffSchedule[idx]).UnixMilli()
	}
	if uerr := s.msgs.UpdatePending(e); uerr != nil {
		log.Errorf("update queue entry %s: %v", e.MessageID, uerr)
	}
	return false
}

func (s *Scheduler) confirm(id, serverID string, serverTimestamp int64) bool {
	if err := s.msgs.SetMessageSent(id, serverID, serverTimestamp); err != nil {
		log.Errorf("mark sent %s: %v", id, err)
		return false
	}
	if err := s.msgs.DeletePending(id); err != nil {
		log.Errorf("dequeue %s: %v", id, err)
	}
	if s.onStatus != nil {
		s.onStatus(id, domain.StatusSent)
	}
	return true
}
