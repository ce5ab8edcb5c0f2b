package delivery

import (
	"context"
	"time"

	"sealrelay/internal/domain"
)

// Poller pulls receipts from the server and folds them into local status.
// Same adaptive shape as the Scheduler: single-flight, interval grows while
// idle, resets on activity.
type Poller struct {
	msgs  domain.MessageStore
	relay domain.RelayClient
	clock Clock

	baseInterval time.Duration
	maxInterval  time.Duration
	onStatus     StatusFunc
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

func PollerClock(c Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

func PollerInterval(base, max time.Duration) PollerOption {
	return func(p *Poller) { p.baseInterval, p.maxInterval = base, max }
}

func PollerOnStatus(fn StatusFunc) PollerOption {
	return func(p *Poller) { p.onStatus = fn }
}

func NewPoller(msgs domain.MessageStore, relay domain.RelayClient, opts ...PollerOption) *Poller {
	p := &Poller{
		msgs:         msgs,
		relay:        relay,
		clock:        SystemClock,
		baseInterval: defaultBaseInterval,
		maxInterval:  defaultMaxInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run drives the poll loop until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	interval := p.baseInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(interval):
		}

		n, err := p.Poll(ctx)
		if err != nil {
			log.Errorf("receipt poll: %v", err)
		}
		if n == 0 {
			interval = time.Duration(float64(interval) * intervalGrowth)
			if interval > p.maxInterval {
				interval = p.maxInterval
			}
		} else {
			interval = p.baseInterval
		}
	}
}

// Poll fetches receipts past the local cursor and applies each under the
// max-merge rule. Duplicate receipts are no-ops by construction.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	cursor, err := p.msgs.ReceiptCursor()
	if err != nil {
		return 0, err
	}
	receipts, lastSeq, err := p.relay.FetchReceipts(ctx, cursor)
	if err != nil {
		return 0, err
	}
	for _, r := range receipts {
		st, changed, err := p.msgs.ApplyReceipt(domain.ReceiptRecord{
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Status:    r.Status,
			Timestamp: r.Timestamp,
		})
		if err != nil {
			return 0, err
		}
		if changed && p.onStatus != nil {
			p.onStatus(r.MessageID, st)
		}
	}
	if len(receipts) > 0 && lastSeq > cursor {
		if err := p.msgs.SetReceiptCursor(lastSeq); err != nil {
			return 0, err
		}
	}
	return len(receipts), nil
}
