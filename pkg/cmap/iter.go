package cmap

// GetOrCompute returns the value for key, creating it with create if absent.
// create runs at most once per missing key, under the shard's write lock.
func (m *Map[V]) GetOrCompute(key string, create func() V) V {
	shard := m.getShard(key)
	shard.mu.RLock()
	val, ok := shard.items[key]
	shard.mu.RUnlock()
	if ok {
		return val
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if val, ok := shard.items[key]; ok {
		return val
	}
	val = create()
	shard.items[key] = val
	return val
}

// Range iterates over all key-value pairs.
//
// The callback returns false to stop iteration. Locks are taken shard by
// shard, so the view may not be consistent.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for _, shard := range m.shards {
		shard.mu.RLock()
		for k, v := range shard.items {
			if !fn(k, v) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}

// DeleteIf removes every entry for which fn returns true and reports how
// many were removed.
func (m *Map[V]) DeleteIf(fn func(key string, value V) bool) int {
	removed := 0
	for _, shard := range m.shards {
		shard.mu.Lock()
		for k, v := range shard.items {
			if fn(k, v) {
				delete(shard.items, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// ShardStats describes one shard.
type ShardStats struct {
	Index int
	Count int
}

// Stats returns statistics about all shards.
func (m *Map[V]) Stats() []ShardStats {
	stats := make([]ShardStats, len(m.shards))
	for i, shard := range m.shards {
		shard.mu.RLock()
		stats[i] = ShardStats{Index: i, Count: len(shard.items)}
		shard.mu.RUnlock()
	}
	return stats
}
