// Package shardlock coordinates locking across several
// internal/attrindex.AttrIndex shards for operations that must observe (or
// mutate) more than one attribute under one consistent snapshot.
//
// Grounded on services.ChannelService's per-ID sync.Map of *sync.Mutex
// (lock(id) func()): that pattern serializes operations keyed by identity;
// this package generalizes it to "serialize operations keyed by a SET of
// attribute names", acquiring locks in sorted-name order exactly as spec
// §4.9 requires ("in a deterministic order (by attribute name) to avoid
// deadlock").
package shardlock

import "sort"

// Locker matches the subset of sync.RWMutex's API that AttrIndex exposes.
type Locker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// AcquireRead locks every shard in shards for reading, in ascending key
// order, and returns a release func. Pass the same shards map and it will
// always acquire in the same order regardless of call-site iteration order.
func AcquireRead(shards map[string]Locker) (release func()) {
	keys := sortedKeys(shards)
	for _, k := range keys {
		shards[k].RLock()
	}
	return func() {
		// Release in reverse order; irrelevant for correctness with
		// RWMutex but keeps acquire/release symmetric for anyone reading
		// a lock trace.
		for i := len(keys) - 1; i >= 0; i-- {
			shards[keys[i]].RUnlock()
		}
	}
}

// AcquireWrite locks every shard in shards exclusively, in ascending key
// order, and returns a release func.
func AcquireWrite(shards map[string]Locker) (release func()) {
	keys := sortedKeys(shards)
	for _, k := range keys {
		shards[k].Lock()
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			shards[keys[i]].Unlock()
		}
	}
}

func sortedKeys(shards map[string]Locker) []string {
	keys := make([]string, 0, len(shards))
	for k := range shards {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
