// Package cmap provides a sharded, string-keyed concurrent map.
//
// Keys are spread over a power-of-two number of shards by their murmur3
// hash; each shard is guarded by its own RWMutex. It backs the per-client
// state kept by request stages (rate limiters, ACL verdicts), where many
// connections read and insert at once.
//
// Usage:
//
//	m := cmap.New[*rate.Limiter]()
//	lim := m.GetOrCompute(ip, func() *rate.Limiter { return rate.NewLimiter(10, 20) })
//
// Get and Has take a read lock; every mutating call takes the write lock of
// a single shard. Range and Count visit shards one at a time, so they do not
// observe a consistent snapshot.
package cmap
