// Package cache provides the bounded key/value store shared by the image
// and tile caches.
//
// # LRU[K, V]
//
// A capacity-bounded map with least-recently-used eviction. Every Get or
// Touch refreshes an entry; Set past capacity drops the oldest entries and
// reports them through the optional eviction callback.
//
//	c := cache.NewLRU[string, int](64)
//	c.OnEvict(func(k string, v int) { ... })
//	c.Set("key", 42)
//	value, ok := c.Get("key")
//
// # Thread Safety
//
// LRU is safe for concurrent use. The eviction callback runs with the
// cache lock held and must not call back into the same cache.
// LRU must not be copied after creation (it contains a mutex).
package cache
