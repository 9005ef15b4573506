// Package store implements the sharded, concurrent in-memory key-value map
// that backs kvstored. See the architecture notes below for how shards are
// sized and selected.
//
// # Overview
//
// The map is a flat key space physically partitioned into a fixed number of
// shards to reduce lock contention: each shard is an independent
// RWMutex-guarded Go map, and a key belongs to exactly one shard for the
// life of the process.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│                Map                   │
//	├─────────────────────────────────────┤
//	│  shards[0]  shards[1] ... shards[N-1]│
//	│  RWMutex    RWMutex         RWMutex  │
//	│  map[string][]byte (per shard)       │
//	└─────────────────────────────────────┘
//	        key ──▶ xxhash64(key) & (N-1) ──▶ shard index
//
// Shard assignment is a pure function of the key bytes (xxhash64, truncated
// to the shard bit width) and never changes for the lifetime of the process.
// Shard count must be a power of two so the mask `count-1` is equivalent to
// a modulo.
package store
