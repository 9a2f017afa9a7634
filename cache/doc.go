// Package cache provides the sharded get-or-create cache behind the shader
// and pipeline caches.
//
// # ShardedCache[K, V]
//
// Uses 16 shards to reduce lock contention. Each key is created at most
// once while its entry lives; concurrent callers for a key wait on a
// single-flight cell while the create function runs outside the lock.
//
//	c := cache.NewSharded[string, int](0, cache.StringHasher)
//	v, err := c.GetOrCreate("key", func() (int, error) { return 42, nil })
//
// A positive capacity bounds each shard with LRU eviction:
//
//	c := cache.NewSharded[uint64, *Program](64, cache.Uint64Hasher,
//		cache.WithEvictCallback(func(k uint64, p *Program) { p.Release() }))
//
// # Thread Safety
//
// ShardedCache is safe for concurrent use. It should not be copied after
// creation (it contains mutexes).
package cache
