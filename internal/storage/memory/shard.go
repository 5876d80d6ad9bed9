// Package memory implements the in-process storage backend from spec
// §4.3: concurrent hash maps and adjacency lists, sharded by key so
// that readers stay wait-free and writers only ever take a per-key
// lock (spec §9, "no coarse global lock").
package memory

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

// shardedMap is a concurrent map[string]V split across shardCount
// independent buckets, each with its own RWMutex. Two keys that hash to
// different shards never contend with each other.
type shardedMap[V any] struct {
	shards [shardCount]shard[V]
}

type shard[V any] struct {
	mu   sync.RWMutex
	data map[string]V
}

func newShardedMap[V any]() *shardedMap[V] {
	m := &shardedMap[V]{}
	for i := range m.shards {
		m.shards[i].data = make(map[string]V)
	}
	return m
}

func (m *shardedMap[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}

func (m *shardedMap[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (m *shardedMap[V]) Set(key string, v V) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = v
}

// Update atomically loads the current value for key (the zero value of V
// if absent) and stores fn's result, all under the shard's single lock —
// the "per-key synchronization" the baseline and span tables need for
// read-modify-write updates (spec §5, §9).
func (m *shardedMap[V]) Update(key string, fn func(cur V, existed bool) V) V {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, existed := s.data[key]
	next := fn(cur, existed)
	s.data[key] = next
	return next
}

func (m *shardedMap[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

func (m *shardedMap[V]) Len() int {
	n := 0
	for i := range m.shards {
		m.shards[i].mu.RLock()
		n += len(m.shards[i].data)
		m.shards[i].mu.RUnlock()
	}
	return n
}

// Range calls fn for every entry across all shards. fn must not call
// back into the shardedMap, since each shard is held read-locked for
// the duration of its own iteration.
func (m *shardedMap[V]) Range(fn func(key string, v V)) {
	for i := range m.shards {
		m.shards[i].mu.RLock()
		for k, v := range m.shards[i].data {
			fn(k, v)
		}
		m.shards[i].mu.RUnlock()
	}
}

// DeleteWhere removes every entry for which pred returns true, and
// reports how many entries were removed.
func (m *shardedMap[V]) DeleteWhere(pred func(key string, v V) bool) int {
	removed := 0
	for i := range m.shards {
		m.shards[i].mu.Lock()
		for k, v := range m.shards[i].data {
			if pred(k, v) {
				delete(m.shards[i].data, k)
				removed++
			}
		}
		m.shards[i].mu.Unlock()
	}
	return removed
}
