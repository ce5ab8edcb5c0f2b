// Package msgstore is the remote message store: encrypted envelopes parked
// per chat until recipients pull them. Backed by Redis lists; a message's
// sequence number is its 1-based position in the chat's list, which makes
// cursor-based pulls a single LRANGE.
package msgstore

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"sealrelay/internal/domain"
)

const chatKeyPrefix = "chat:"

type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Append parks the message at the tail of its chat and returns its sequence
// number.
func (s *Store) Append(ctx context.Context, m domain.InboundMessage) (int64, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}
	seq, err := s.rdb.RPush(ctx, chatKeyPrefix+m.ChatID, raw).Result()
	if err != nil {
		return 0, errors.Wrap(err, "append message")
	}
	return seq, nil
}

// List returns every message in the chat with sequence greater than
// sinceSeq, in order.
func (s *Store) List(ctx context.Context, chatID string, sinceSeq int64) ([]domain.InboundMessage, error) {
	if sinceSeq < 0 {
		sinceSeq = 0
	}
	raws, err := s.rdb.LRange(ctx, chatKeyPrefix+chatID, sinceSeq, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	out := make([]domain.InboundMessage, 0, len(raws))
	for i, raw := range raws {
		var m domain.InboundMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, errors.Wrap(err, "decode stored message")
		}
		m.Seq = sinceSeq + int64(i) + 1
		out = append(out, m)
	}
	return out, nil
}

// Ping verifies the connection at startup.
func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.rdb.Ping(ctx).Err(), "redis ping")
}
