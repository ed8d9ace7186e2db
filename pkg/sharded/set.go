package sharded

// Set is a concurrent string set backed by a Map.
type Set struct {
	m *Map[struct{}]
}

// NewSet creates a Set with the given shard count, which must be a power of
// two.
func NewSet(shardCount int) *Set {
	return &Set{m: NewMap[struct{}](shardCount)}
}

// Store adds a key to the set.
func (s *Set) Store(key string) { s.m.Store(key, struct{}{}) }

// Has reports whether the key is present.
func (s *Set) Has(key string) bool { return s.m.Has(key) }

// LoadOrStore adds the key and reports whether it was already present.
func (s *Set) LoadOrStore(key string) bool {
	_, loaded := s.m.LoadOrStore(key, struct{}{})
	return loaded
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *Set) Delete(key string) { s.m.Delete(key) }

// Count returns the number of keys in the set.
func (s *Set) Count() int { return s.m.Count() }

// Range calls f for each key until f returns false.
func (s *Set) Range(f func(key string) bool) {
	s.m.Range(func(k string, _ struct{}) bool { return f(k) })
}

// Clear removes all keys.
func (s *Set) Clear() { s.m.Clear() }
