package cache

import (
	"strconv"
	"testing"
)

func BenchmarkShardedCacheGet(b *testing.B) {
	c := NewSharded[string, int](0, StringHasher)
	for i := 0; i < 100; i++ {
		_, _ = c.GetOrCreate(strconv.Itoa(i), func() (int, error) { return i, nil })
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get("50")
	}
}

func BenchmarkShardedCacheGetOrCreate(b *testing.B) {
	c := NewSharded[string, int](100, StringHasher)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.GetOrCreate(strconv.Itoa(i%100), func() (int, error) {
			return i, nil
		})
	}
}

func BenchmarkShardedCacheParallel(b *testing.B) {
	c := NewSharded[uint64, int](0, Uint64Hasher)
	for i := 0; i < 1000; i++ {
		_, _ = c.GetOrCreate(uint64(i), func() (int, error) { return i, nil })
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = c.GetOrCreate(uint64(i%1000), func() (int, error) { return i, nil })
			i++
		}
	})
}

func BenchmarkShardedCacheParallelBounded(b *testing.B) {
	c := NewSharded[uint64, int](32, Uint64Hasher)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = c.GetOrCreate(uint64(i%1000), func() (int, error) { return i, nil })
			i++
		}
	})
}

func BenchmarkStringHasher(b *testing.B) {
	s := "test_string_key"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		StringHasher(s)
	}
}
