package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"sealrelay/internal/domain"
)

const (
	keyReceiptCursor    = "receipt_cursor"
	prefixInboundCursor = "inbound_cursor/"
)

// Messages is the durable local message, queue and receipt store.
type Messages struct {
	kv KV
}

func NewMessages(kv KV) *Messages {
	return &Messages{kv: kv}
}

// UpsertMessage inserts by client id. Returns false when the id is already
// present; the stored record is left untouched.
func (s *Messages) UpsertMessage(m domain.Message) (bool, error) {
	inserted := false
	err := s.kv.Update(func(b Batch) error {
		if _, ok, err := b.Get(BucketMessages, m.ID); err != nil {
			return err
		} else if ok {
			return nil
		}
		inserted = true
		return putCBOR(b, BucketMessages, m.ID, m)
	})
	return inserted, err
}

func (s *Messages) GetMessage(id string) (domain.Message, bool, error) {
	var m domain.Message
	ok, err := getCBOR(s.kv, BucketMessages, id, &m)
	return m, ok, err
}

// SetMessageSent records the server's identity for the message and advances
// its status to sent under the max-merge rule. Zero values leave the stored
// server fields alone: the server's word is the only source for them, and a
// conflict-resolved send has neither.
func (s *Messages) SetMessageSent(id, serverID string, serverTimestamp int64) error {
	return s.kv.Update(func(b Batch) error {
		var m domain.Message
		ok, err := getCBOR(b, BucketMessages, id, &m)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Errorf("store: message %s not found", id)
		}
		if serverID != "" {
			m.ServerID = serverID
		}
		if serverTimestamp != 0 {
			ts := serverTimestamp
			m.ServerTimestamp = &ts
		}
		m.Status = domain.MergeStatus(m.Status, domain.StatusSent)
		return putCBOR(b, BucketMessages, id, m)
	})
}

// ApplyReceipt records the receipt (idempotent per message, user and status)
// and max-merges the status into the message. Returns the resulting status
// and whether it moved.
func (s *Messages) ApplyReceipt(r domain.ReceiptRecord) (domain.Status, bool, error) {
	var out domain.Status
	changed := false
	err := s.kv.Update(func(b Batch) error {
		rk := receiptKey(r)
		if _, ok, err := b.Get(BucketReceipts, rk); err != nil {
			return err
		} else if !ok {
			if err := putCBOR(b, BucketReceipts, rk, r); err != nil {
				return err
			}
		}

		var m domain.Message
		ok, err := getCBOR(b, BucketMessages, r.MessageID, &m)
		if err != nil || !ok {
			return err
		}
		merged := domain.MergeStatus(m.Status, r.Status)
		out = merged
		if merged == m.Status {
			return nil
		}
		changed = true
		m.Status = merged
		return putCBOR(b, BucketMessages, m.ID, m)
	})
	return out, changed, err
}

func (s *Messages) MarkUndecryptable(id string) error {
	return s.kv.Update(func(b Batch) error {
		var m domain.Message
		ok, err := getCBOR(b, BucketMessages, id, &m)
		if err != nil || !ok {
			return err
		}
		m.Undecryptable = true
		return putCBOR(b, BucketMessages, id, m)
	})
}

// Enqueue writes the message and its queue entry in one transaction so a
// crash can never leave a queued id without a message body.
func (s *Messages) Enqueue(m domain.Message, e domain.PendingQueueEntry) error {
	return s.kv.Update(func(b Batch) error {
		if _, ok, err := b.Get(BucketMessages, m.ID); err != nil {
			return err
		} else if !ok {
			if err := putCBOR(b, BucketMessages, m.ID, m); err != nil {
				return err
			}
		}
		return putCBOR(b, BucketQueue, e.MessageID, e)
	})
}

// DuePending returns non-failed entries whose retry time has passed and
// whose retry budget is not exhausted.
func (s *Messages) DuePending(nowMillis int64, maxRetries int) ([]domain.PendingQueueEntry, error) {
	var due []domain.PendingQueueEntry
	err := s.kv.ForEach(BucketQueue, func(_ string, v []byte) error {
		var e domain.PendingQueueEntry
		if err := cbor.Unmarshal(v, &e); err != nil {
			return err
		}
		if e.Failed || e.RetryCount >= maxRetries || e.NextRetryAt > nowMillis {
			return nil
		}
		due = append(due, e)
		return nil
	})
	return due, err
}

func (s *Messages) AllPending() ([]domain.PendingQueueEntry, error) {
	var all []domain.PendingQueueEntry
	err := s.kv.ForEach(BucketQueue, func(_ string, v []byte) error {
		var e domain.PendingQueueEntry
		if err := cbor.Unmarshal(v, &e); err != nil {
			return err
		}
		all = append(all, e)
		return nil
	})
	return all, err
}

func (s *Messages) UpdatePending(e domain.PendingQueueEntry) error {
	return s.kv.Put(BucketQueue, e.MessageID, mustCBOR(e))
}

func (s *Messages) DeletePending(messageID string) error {
	return s.kv.Delete(BucketQueue, messageID)
}

func (s *Messages) ReceiptCursor() (int64, error) {
	return s.cursor(keyReceiptCursor)
}

func (s *Messages) SetReceiptCursor(seq int64) error {
	return s.kv.Put(BucketMeta, keyReceiptCursor, mustCBOR(seq))
}

func (s *Messages) InboundCursor(chatID string) (int64, error) {
	return s.cursor(prefixInboundCursor + chatID)
}

func (s *Messages) SetInboundCursor(chatID string, seq int64) error {
	return s.kv.Put(BucketMeta, prefixInboundCursor+chatID, mustCBOR(seq))
}

func (s *Messages) cursor(key string) (int64, error) {
	v, ok, err := s.kv.Get(BucketMeta, key)
	if err != nil || !ok {
		return 0, err
	}
	var seq int64
	if err := cbor.Unmarshal(v, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func receiptKey(r domain.ReceiptRecord) string {
	return fmt.Sprintf("%s|%s|%s", r.MessageID, r.UserID, r.Status)
}

func putCBOR(b Batch, bucket, key string, v any) error {
	raw, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(bucket, key, raw)
}

func getCBOR(b Batch, bucket, key string, v any) (bool, error) {
	raw, ok, err := b.Get(bucket, key)
	if err != nil || !ok {
		return false, err
	}
	return true, cbor.Unmarshal(raw, v)
}

func mustCBOR(v any) []byte {
	raw, err := cbor.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

var _ domain.MessageStore = (*Messages)(nil)
