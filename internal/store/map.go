package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ErrKeyNotFound is returned when a key doesn't exist in the map.
//
// Callers should check for this specific error (via errors.Is) to
// distinguish a missing key from an internal failure.
var ErrKeyNotFound = errors.New("store: key not found")

// DefaultShardCount is the shard count used when none is configured.
const DefaultShardCount = 256

// shard is one independent partition of the key space: a plain Go map
// guarded by a reader-writer lock. Many concurrent reads, exclusive
// writes; writes hold the lock for the minimum duration needed to
// replace or erase a single entry.
type shard struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newShard() *shard {
	return &shard{data: make(map[string][]byte)}
}

func (s *shard) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	// Return a copy: the store does not expose interior references, since
	// the stored slice may be rebound by a concurrent writer.
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *shard) set(key string, value []byte) {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.mu.Lock()
	s.data[key] = stored
	s.mu.Unlock()
}

func (s *shard) remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, existed := s.data[key]; !existed {
		return ErrKeyNotFound
	}
	delete(s.data, key)
	return nil
}

func (s *shard) stat() ShardStat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bytes := 0
	for _, v := range s.data {
		bytes += len(v)
	}
	return ShardStat{Keys: len(s.data), Bytes: bytes}
}

// ShardStat is a point-in-time snapshot of one shard's size, used for
// monitoring and capacity reporting. It may be stale immediately under
// concurrent writes.
type ShardStat struct {
	Keys  int
	Bytes int
}

// Map is the sharded, concurrent in-memory key-value store. It is the
// single source of truth for the process's data between AOL-recovery at
// startup and the next write that reaches the log.
type Map struct {
	shards []*shard
	mask   uint64
}

// NewMap creates an empty Map with shardCount shards. shardCount must be a
// power of two so shard selection can mask instead of mod; NewMap panics
// otherwise, since a non-power-of-two shard count is a startup
// misconfiguration, not a runtime condition callers should handle.
func NewMap(shardCount int) *Map {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		panic(fmt.Sprintf("store: shard count must be a power of two, got %d", shardCount))
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = newShard()
	}
	return &Map{shards: shards, mask: uint64(shardCount - 1)}
}

// shardFor returns the shard that owns key. Shard assignment is a pure
// function of the key bytes and is stable for the lifetime of the Map.
func (m *Map) shardFor(key []byte) *shard {
	h := xxhash.Sum64(key)
	return m.shards[h&m.mask]
}

// Get returns the current value bound to key, or ErrKeyNotFound if key is
// not present.
func (m *Map) Get(key []byte) ([]byte, error) {
	return m.shardFor(key).get(string(key))
}

// Set inserts or overwrites the binding for key.
func (m *Map) Set(key []byte, value []byte) {
	m.shardFor(key).set(string(key), value)
}

// Remove deletes the binding for key, returning ErrKeyNotFound if none
// existed.
func (m *Map) Remove(key []byte) error {
	return m.shardFor(key).remove(string(key))
}

// Len returns the approximate total number of keys across all shards.
// Weakly consistent under concurrent writes: it sums each shard's size
// without a global lock, so it may reflect a state that never existed
// at any single instant.
func (m *Map) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.data)
		s.mu.RUnlock()
	}
	return total
}

// ShardCount returns the number of shards the map was created with.
func (m *Map) ShardCount() int {
	return len(m.shards)
}

// ShardStats returns a per-shard snapshot of key count and byte size, for
// monitoring and capacity reporting.
func (m *Map) ShardStats() []ShardStat {
	stats := make([]ShardStat, len(m.shards))
	for i, s := range m.shards {
		stats[i] = s.stat()
	}
	return stats
}
