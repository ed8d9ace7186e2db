// Package sharded provides lock-striped concurrent collections keyed by
// strings. Keys are distributed across independently locked shards, so
// goroutines touching disjoint paths rarely contend on the same lock.
package sharded

import (
	"hash/fnv"
	"sync"
)

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
}

// Map is a concurrent map from string keys to values of type V.
type Map[V any] struct {
	shards []*shard[V]
	mask   uint32
}

// NewMap creates a Map with the given shard count, which must be a power of
// two so the key hash can be masked instead of divided.
func NewMap[V any](shardCount int) *Map[V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		panic("sharded: shard count must be a power of two")
	}
	m := &Map[V]{
		shards: make([]*shard[V], shardCount),
		mask:   uint32(shardCount - 1),
	}
	for i := range m.shards {
		m.shards[i] = &shard[V]{entries: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()&m.mask]
}

// Store sets the value for a key.
func (m *Map[V]) Store(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.entries[key] = value
	s.mu.Unlock()
}

// Load returns the value for a key and whether the key was present.
func (m *Map[V]) Load(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	value, ok := s.entries[key]
	s.mu.RUnlock()
	return value, ok
}

// Has reports whether the key is present.
func (m *Map[V]) Has(key string) bool {
	s := m.shardFor(key)
	s.mu.RLock()
	_, ok := s.entries[key]
	s.mu.RUnlock()
	return ok
}

// LoadOrStore stores value under key unless the key is already present. It
// returns the value now in the map and whether the key was already there.
func (m *Map[V]) LoadOrStore(key string, value V) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok {
		return existing, true
	}
	s.entries[key] = value
	return value, false
}

// Delete removes a key. Deleting an absent key is a no-op.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Count returns the total number of entries across all shards.
func (m *Map[V]) Count() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Range calls f for each entry until f returns false. Shards are locked one
// at a time; f must not modify the map.
func (m *Map[V]) Range(f func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.entries {
			if !f(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Clear removes all entries.
func (m *Map[V]) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.entries = make(map[string]V)
		s.mu.Unlock()
	}
}
