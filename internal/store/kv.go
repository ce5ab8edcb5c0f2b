package store

// Bucket names used across the local store.
const (
	BucketMessages = "messages"
	BucketQueue    = "queue"
	BucketReceipts = "receipts"
	BucketSecrets  = "secrets"
	BucketMeta     = "meta"
)

// Batch is the operation set available inside a transaction.
type Batch interface {
	Get(bucket, key string) ([]byte, bool, error)
	Put(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	ForEach(bucket string, fn func(key string, value []byte) error) error
}

// KV is the explicit persistence interface injected into the stores.
// Update runs fn atomically: either every write in the batch lands or none.
type KV interface {
	Batch
	Update(fn func(b Batch) error) error
	Close() error
}
