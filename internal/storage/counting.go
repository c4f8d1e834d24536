package storage

import "sync/atomic"

// OperationStats counts calls made through a CountingStore.
type OperationStats struct {
	Gets    uint64 // Get calls, hits and misses alike
	Misses  uint64 // Get calls that found nothing
	Puts    uint64
	Deletes uint64
}

// CountingStore wraps a Store and counts the operations made through it.
// The field cache reports these at the end of a run.
type CountingStore struct {
	Store
	gets, misses, puts, deletes atomic.Uint64
}

// NewCountingStore wraps s.
func NewCountingStore(s Store) *CountingStore {
	return &CountingStore{Store: s}
}

func (c *CountingStore) Get(key string) ([]byte, error) {
	c.gets.Add(1)
	v, err := c.Store.Get(key)
	if err != nil {
		c.misses.Add(1)
	}
	return v, err
}

func (c *CountingStore) Put(key string, value []byte) error {
	c.puts.Add(1)
	return c.Store.Put(key, value)
}

func (c *CountingStore) Delete(key string) error {
	c.deletes.Add(1)
	return c.Store.Delete(key)
}

// Ops returns a snapshot of the counters.
func (c *CountingStore) Ops() OperationStats {
	return OperationStats{
		Gets:    c.gets.Load(),
		Misses:  c.misses.Load(),
		Puts:    c.puts.Load(),
		Deletes: c.deletes.Load(),
	}
}
