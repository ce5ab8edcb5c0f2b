package store

import (
	"sort"
	"sync"
)

// MemoryKV is an in-memory KV for tests.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	m := &MemoryKV{data: make(map[string]map[string][]byte)}
	for _, b := range buckets {
		m.data[b] = make(map[string][]byte)
	}
	return m
}

func (m *MemoryKV) Close() error { return nil }

func (m *MemoryKV) Get(bucket, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(bucket, key)
}

func (m *MemoryKV) Put(bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(bucket, key, value)
}

func (m *MemoryKV) Delete(bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delete(bucket, key)
}

func (m *MemoryKV) ForEach(bucket string, fn func(key string, value []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forEach(bucket, fn)
}

// Update is atomic only in the sense that fn runs under the store lock;
// partial failure rollback is not simulated. Good enough for tests.
func (m *MemoryKV) Update(fn func(b Batch) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memBatch{m: m})
}

func (m *MemoryKV) get(bucket, key string) ([]byte, bool, error) {
	v, ok := m.data[bucket][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) put(bucket, key string, value []byte) error {
	m.data[bucket][key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) delete(bucket, key string) error {
	delete(m.data[bucket], key)
	return nil
}

func (m *MemoryKV) forEach(bucket string, fn func(key string, value []byte) error) error {
	keys := make([]string, 0, len(m.data[bucket]))
	for k := range m.data[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, append([]byte(nil), m.data[bucket][k]...)); err != nil {
			return err
		}
	}
	return nil
}

type memBatch struct{ m *MemoryKV }

func (b memBatch) Get(bucket, key string) ([]byte, bool, error) { return b.m.get(bucket, key) }
func (b memBatch) Put(bucket, key string, value []byte) error   { return b.m.put(bucket, key, value) }
func (b memBatch) Delete(bucket, key string) error              { return b.m.delete(bucket, key) }
func (b memBatch) ForEach(bucket string, fn func(key string, value []byte) error) error {
	return b.m.forEach(bucket, fn)
}

var _ KV = (*MemoryKV)(nil)
