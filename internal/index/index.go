// Package index implements the concurrent key→Location mapping
// described in spec.md §4.3. It is the idiomatic Go analogue of the
// original implementation's DashMap: a sharded map so that most
// single-key operations only ever take one shard's lock, keeping
// critical sections short and reads from other shards unaffected.
package index

import (
	"hash/maphash"
	"sync"
)

const shardCount = 16

// Location identifies exactly where a value's bytes live on disk.
type Location struct {
	SegmentID   uint64
	ValueOffset int64
	ValueLength int64
}

type shard struct {
	mu sync.RWMutex
	m  map[string]Location
}

// Index is a sharded concurrent map from key to Location.
type Index struct {
	seed   maphash.Seed
	shards [shardCount]*shard
}

// New creates an empty Index.
func New() *Index {
	idx := &Index{seed: maphash.MakeSeed()}
	for i := range idx.shards {
		idx.shards[i] = &shard{m: make(map[string]Location)}
	}
	return idx
}

func (idx *Index) shardFor(key string) *shard {
	var h maphash.Hash
	h.SetSeed(idx.seed)
	h.WriteString(key)
	return idx.shards[h.Sum64()%uint64(shardCount)]
}

// Get returns the Location for key, if present.
func (idx *Index) Get(key string) (Location, bool) {
	sh := idx.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	loc, ok := sh.m[key]
	return loc, ok
}

// Insert sets key's Location, returning the previous Location (if any).
func (idx *Index) Insert(key string, loc Location) (Location, bool) {
	sh := idx.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	prev, had := sh.m[key]
	sh.m[key] = loc
	return prev, had
}

// Remove deletes key, returning its previous Location (if any).
func (idx *Index) Remove(key string) (Location, bool) {
	sh := idx.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	prev, had := sh.m[key]
	delete(sh.m, key)
	return prev, had
}

// ReplaceIfEqual atomically replaces key's Location with newLoc, but
// only if its current Location equals expected. It returns false
// (without modifying anything) if the key is now absent or points
// elsewhere — the compactor uses this to detect a concurrent
// foreground write that must win, per spec.md §4.5.
func (idx *Index) ReplaceIfEqual(key string, expected, newLoc Location) bool {
	sh := idx.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.m[key]
	if !ok || cur != expected {
		return false
	}
	sh.m[key] = newLoc
	return true
}

// Len returns the number of keys currently indexed.
func (idx *Index) Len() int {
	total := 0
	for _, sh := range idx.shards {
		sh.mu.RLock()
		total += len(sh.m)
		sh.mu.RUnlock()
	}
	return total
}

// Entry is one (key, Location) pair yielded by Snapshot.
type Entry struct {
	Key string
	Loc Location
}

// Snapshot returns a weakly consistent point-in-time-ish copy of all
// entries, sufficient for compaction planning per spec.md §4.3: each
// shard is locked only while it is copied, so Snapshot never observes
// a torn shard but may miss or double-count mutations that straddle
// shards while the iteration is in progress.
func (idx *Index) Snapshot() []Entry {
	entries := make([]Entry, 0, idx.Len())
	for _, sh := range idx.shards {
		sh.mu.RLock()
		for k, v := range sh.m {
			entries = append(entries, Entry{Key: k, Loc: v})
		}
		sh.mu.RUnlock()
	}
	return entries
}
