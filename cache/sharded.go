package cache

import (
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Default configuration constants.
const (
	// DefaultShardCount is the number of shards for reduced lock contention.
	// Must be a power of 2 for fast modulo via bitwise AND.
	DefaultShardCount = 16

	// shardMask is used for fast shard selection (DefaultShardCount - 1).
	shardMask = DefaultShardCount - 1
)

// ErrCreatePanicked is observed by callers waiting on an entry whose create
// function panicked.
var ErrCreatePanicked = errors.New("cache: create function panicked")

// Hasher is a function that computes a hash for a key.
// Used by ShardedCache for shard selection.
type Hasher[K any] func(K) uint64

// StringHasher computes FNV-1a hash of a string key.
func StringHasher(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s)) // fnv.Write never returns an error
	return h.Sum64()
}

// Uint64Hasher returns the key itself as the hash (identity hash).
func Uint64Hasher(u uint64) uint64 {
	return u
}

// ShardedCache is a thread-safe get-or-create cache split into 16 shards.
//
// Each key is created at most once while its entry lives: the first caller
// installs a pending cell and runs the create function outside the shard
// lock, and concurrent callers for the same key wait on that cell. Unrelated
// keys never wait on each other. A failed create is not retained; the
// waiters observe the error and the next caller tries again.
//
// An unbounded cache (capacity <= 0) serves hits under a shard read lock
// only. A bounded cache keeps an LRU list per shard and evicts the least
// recently used ready entry once a shard exceeds its capacity.
type ShardedCache[K comparable, V any] struct {
	shards   [DefaultShardCount]*shard[K, V]
	hasher   Hasher[K]
	capacity int // Per-shard capacity, 0 for unbounded
	onEvict  func(K, V)

	// Statistics (atomic for zero-allocation reads)
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[K, V]
	lru     *lruList[K]
}

// entry is a single-flight cell. value and err are written once before
// ready is closed.
type entry[K comparable, V any] struct {
	ready chan struct{}
	done  bool // guarded by the shard lock
	value V
	err   error
	node  *lruNode[K]
}

// Option configures a ShardedCache.
type Option[K comparable, V any] func(*ShardedCache[K, V])

// WithEvictCallback registers fn to run after an entry is evicted to
// honor the capacity bound. fn runs without any shard lock held.
func WithEvictCallback[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *ShardedCache[K, V]) {
		c.onEvict = fn
	}
}

// NewSharded creates a sharded cache. capacity bounds each shard; a
// capacity <= 0 leaves the cache unbounded.
//
// The hasher function is used to compute hash values for shard selection.
// Use StringHasher or Uint64Hasher for common key types.
func NewSharded[K comparable, V any](capacity int, hasher Hasher[K], opts ...Option[K, V]) *ShardedCache[K, V] {
	if capacity < 0 {
		capacity = 0
	}

	c := &ShardedCache[K, V]{
		hasher:   hasher,
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(c)
	}

	for i := range c.shards {
		c.shards[i] = &shard[K, V]{
			entries: make(map[K]*entry[K, V]),
			lru:     newLRUList[K](),
		}
	}

	return c
}

// getShard returns the shard for a given key.
// Uses bitwise AND for fast modulo (only works with power-of-2 shard count).
func (c *ShardedCache[K, V]) getShard(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

func (c *ShardedCache[K, V]) bounded() bool { return c.capacity > 0 }

// Get returns the value for key if its entry is ready. It never waits on
// a pending create.
func (c *ShardedCache[K, V]) Get(key K) (V, bool) {
	s := c.getShard(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	ready := ok && e.done && e.err == nil
	s.mu.RUnlock()

	if !ready {
		var zero V
		return zero, false
	}
	if c.bounded() {
		c.touch(s, key, e)
	}
	return e.value, true
}

// GetOrCreate returns the value for key, calling create on a miss.
//
// create runs without any shard lock held. Callers arriving while it runs
// wait for it and share its result, including its error.
func (c *ShardedCache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	s := c.getShard(key)

	// Fast path: read lock to find an existing cell
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return c.wait(s, key, e)
	}

	// Slow path: install a pending cell
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		s.mu.Unlock()
		return c.wait(s, key, e)
	}
	e = &entry[K, V]{ready: make(chan struct{})}
	s.entries[key] = e
	s.mu.Unlock()

	c.misses.Add(1)

	finished := false
	defer func() {
		if !finished {
			var zero V
			c.finish(s, key, e, zero, ErrCreatePanicked)
		}
	}()
	v, err := create()
	finished = true
	c.finish(s, key, e, v, err)
	return v, err
}

// wait blocks until e is ready and returns its result.
func (c *ShardedCache[K, V]) wait(s *shard[K, V], key K, e *entry[K, V]) (V, error) {
	<-e.ready
	if e.err != nil {
		var zero V
		return zero, e.err
	}
	c.hits.Add(1)
	if c.bounded() {
		c.touch(s, key, e)
	}
	return e.value, nil
}

// touch marks a ready entry as recently used.
func (c *ShardedCache[K, V]) touch(s *shard[K, V], key K, e *entry[K, V]) {
	s.mu.Lock()
	if cur, ok := s.entries[key]; ok && cur == e && e.node != nil {
		s.lru.MoveToFront(e.node)
	}
	s.mu.Unlock()
}

// finish publishes the result of a create. Failed cells are removed so a
// later caller retries.
func (c *ShardedCache[K, V]) finish(s *shard[K, V], key K, e *entry[K, V], v V, err error) {
	var evicted []*entry[K, V]
	var evictedKeys []K

	s.mu.Lock()
	e.value, e.err = v, err
	e.done = true
	if err != nil {
		delete(s.entries, key)
	} else if c.bounded() {
		e.node = s.lru.PushFront(key)
		for s.lru.Len() > c.capacity {
			oldest, ok := s.lru.RemoveOldest()
			if !ok {
				break
			}
			evicted = append(evicted, s.entries[oldest])
			evictedKeys = append(evictedKeys, oldest)
			delete(s.entries, oldest)
		}
	}
	close(e.ready)
	s.mu.Unlock()

	for i, old := range evicted {
		c.evictions.Add(1)
		if c.onEvict != nil {
			c.onEvict(evictedKeys[i], old.value)
		}
	}
}

// Delete removes a ready entry and returns its value. Pending entries are
// left to their creator.
func (c *ShardedCache[K, V]) Delete(key K) (V, bool) {
	s := c.getShard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.done {
		var zero V
		return zero, false
	}
	c.remove(s, key, e)
	return e.value, true
}

// DeleteFunc removes every ready entry for which pred returns true and
// returns the removed values. pred is called with a shard lock held and
// must not use the cache.
func (c *ShardedCache[K, V]) DeleteFunc(pred func(K, V) bool) []V {
	var removed []V
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if e.done && pred(key, e.value) {
				c.remove(s, key, e)
				removed = append(removed, e.value)
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// remove unlinks a ready entry. Caller must hold s.mu.
func (c *ShardedCache[K, V]) remove(s *shard[K, V], key K, e *entry[K, V]) {
	if e.node != nil {
		s.lru.Remove(e.node)
		e.node = nil
	}
	delete(s.entries, key)
}

// Range calls fn for a snapshot of the ready entries until fn returns
// false. fn runs without any shard lock held.
func (c *ShardedCache[K, V]) Range(fn func(K, V) bool) {
	type kv struct {
		key   K
		value V
	}
	for _, s := range c.shards {
		s.mu.RLock()
		snapshot := make([]kv, 0, len(s.entries))
		for key, e := range s.entries {
			if e.done {
				snapshot = append(snapshot, kv{key, e.value})
			}
		}
		s.mu.RUnlock()

		for _, p := range snapshot {
			if !fn(p.key, p.value) {
				return
			}
		}
	}
}

// Clear removes all ready entries and returns their values.
func (c *ShardedCache[K, V]) Clear() []V {
	return c.DeleteFunc(func(K, V) bool { return true })
}

// Len returns the number of ready entries across all shards.
func (c *ShardedCache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if e.done {
				total++
			}
		}
		s.mu.RUnlock()
	}
	return total
}

// Capacity returns the per-shard capacity, 0 when unbounded.
func (c *ShardedCache[K, V]) Capacity() int {
	return c.capacity
}

// ShardLen returns the number of ready entries in each shard.
// Useful for debugging load distribution.
func (c *ShardedCache[K, V]) ShardLen() [DefaultShardCount]int {
	var lens [DefaultShardCount]int
	for i, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if e.done {
				lens[i]++
			}
		}
		s.mu.RUnlock()
	}
	return lens
}

// Stats returns current cache statistics.
func (c *ShardedCache[K, V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Len:           c.Len(),
		Capacity:      c.capacity,
		TotalCapacity: c.capacity * DefaultShardCount,
		Hits:          hits,
		Misses:        misses,
		HitRate:       hitRate,
		Evictions:     c.evictions.Load(),
	}
}

// ResetStats resets all statistics counters to zero.
func (c *ShardedCache[K, V]) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of ready entries.
	Len int
	// Capacity is the per-shard capacity, 0 when unbounded.
	Capacity int
	// TotalCapacity is the capacity across all shards.
	TotalCapacity int
	// Hits counts lookups served by an existing entry.
	Hits uint64
	// Misses counts create calls.
	Misses uint64
	// HitRate is Hits / (Hits + Misses).
	HitRate float64
	// Evictions counts entries removed to honor the capacity.
	Evictions uint64
}
