package store

import (
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// BoltKV is the bbolt-backed KV used by the CLI.
type BoltKV struct {
	db *bolt.DB
}

var buckets = []string{BucketMessages, BucketQueue, BucketReceipts, BucketSecrets, BucketMeta}

// OpenBolt opens (or creates) the local database at path and ensures all
// buckets exist.
func OpenBolt(path string) (*BoltKV, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "store: open bolt")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "store: create buckets")
	}
	return &BoltKV{db: db}, nil
}

func (s *BoltKV) Close() error { return s.db.Close() }

func (s *BoltKV) Get(bucket, key string) (val []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if v != nil {
			val = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return val, ok, err
}

func (s *BoltKV) Put(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), value)
	})
}

func (s *BoltKV) Delete(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(key))
	})
}

func (s *BoltKV) ForEach(bucket string, fn func(key string, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			return fn(string(k), append([]byte(nil), v...))
		})
	})
}

func (s *BoltKV) Update(fn func(b Batch) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(boltBatch{tx: tx})
	})
}

type boltBatch struct {
	tx *bolt.Tx
}

func (b boltBatch) Get(bucket, key string) ([]byte, bool, error) {
	v := b.tx.Bucket([]byte(bucket)).Get([]byte(key))
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b boltBatch) Put(bucket, key string, value []byte) error {
	return b.tx.Bucket([]byte(bucket)).Put([]byte(key), value)
}

func (b boltBatch) Delete(bucket, key string) error {
	return b.tx.Bucket([]byte(bucket)).Delete([]byte(key))
}

func (b boltBatch) ForEach(bucket string, fn func(key string, value []byte) error) error {
	return b.tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
		return fn(string(k), append([]byte(nil), v...))
	})
}

var _ KV = (*BoltKV)(nil)
