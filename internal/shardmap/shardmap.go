// Package shardmap provides a string-keyed map split into independently locked
// shards. Keys hashing to different shards never contend; read-modify-write of
// a single key is atomic because it runs under that key's shard lock.
package shardmap

import (
	"hash/maphash"
	"sync"
)

// DefaultShards is used when a non-positive shard count is requested.
const DefaultShards = 64

// Map is a sharded map of small value structs. The zero value is not usable; use New.
type Map[V any] struct {
	seed   maphash.Seed
	shards []shard[V]
}

type shard[V any] struct {
	mu sync.Mutex
	m  map[string]*V
}

// New creates a map with n shards.
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultShards
	}
	m := &Map[V]{seed: maphash.MakeSeed(), shards: make([]shard[V], n)}
	for i := range m.shards {
		m.shards[i].m = make(map[string]*V)
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return &m.shards[maphash.String(m.seed, key)%uint64(len(m.shards))]
}

// Update runs fn on the value for key, creating a zero value first if absent.
// fn must not call back into the map.
func (m *Map[V]) Update(key string, fn func(v *V)) {
	s := m.shardFor(key)
	s.mu.Lock()
	v, ok := s.m[key]
	if !ok {
		v = new(V)
		s.m[key] = v
	}
	fn(v)
	s.mu.Unlock()
}

// View runs fn on the value for key if present and reports whether it was.
// fn may mutate the value; returning false from fn deletes the key.
func (m *Map[V]) View(key string, fn func(v *V) (keep bool)) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return false
	}
	if !fn(v) {
		delete(s.m, key)
	}
	return true
}

// Load returns a copy of the value for key.
func (m *Map[V]) Load(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		var zero V
		return zero, false
	}
	return *v, true
}

// Store replaces the value for key.
func (m *Map[V]) Store(key string, val V) {
	s := m.shardFor(key)
	s.mu.Lock()
	v := val
	s.m[key] = &v
	s.mu.Unlock()
}

// Delete removes key.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// Range calls fn with a copy of every entry, one shard locked at a time.
// Iteration stops when fn returns false.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			if !fn(k, *v) {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
	}
}

// DeleteIf removes every entry matching pred and returns how many were removed.
func (m *Map[V]) DeleteIf(pred func(key string, v *V) bool) int {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			if pred(k, v) {
				delete(s.m, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of entries. It is a moment-in-time count.
func (m *Map[V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}
