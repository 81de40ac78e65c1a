// Package attrindex implements the per-(index, attribute) lookup structure
// described in spec §4.2: an equality map for Eq/In, plus an ordered
// structure for range scans.
//
// Layout is grounded on internal/repo/store.StringStore's ordered-list +
// id map shape, generalized from "id -> record" to "value -> set of ids".
// The ordered side is backed by a real B-tree (github.com/google/btree)
// instead of a hand-rolled skip list or sorted slice, giving O(log n + k)
// range scans as required by §4.2.
package attrindex

import (
	"sync"

	"github.com/google/btree"

	"github.com/tylerrobbins5678/thermite/internal/errs"
	"github.com/tylerrobbins5678/thermite/internal/registry"
	"github.com/tylerrobbins5678/thermite/value"
)

// OidSet is a set of object ids. Readers receive a defensive copy; see Eq,
// Range, In.
type OidSet map[registry.ObjectId]struct{}

func newOidSet(ids ...registry.ObjectId) OidSet {
	s := make(OidSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s OidSet) clone() OidSet {
	out := make(OidSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Union returns the union of a and b without mutating either.
func Union(a, b OidSet) OidSet {
	out := make(OidSet, len(a)+len(b))
	for id := range a {
		out[id] = struct{}{}
	}
	for id := range b {
		out[id] = struct{}{}
	}
	return out
}

// Intersect returns a ∩ b without mutating either.
func Intersect(a, b OidSet) OidSet {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(OidSet, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

type bucket struct {
	v    value.Value
	oids OidSet
}

type orderedEntry struct {
	v    value.Value
	oids OidSet
}

func lessEntry(a, b orderedEntry) bool {
	if cmp, ok := a.v.Compare(b.v); ok {
		return cmp < 0
	}
	// Values outside a common ordered family never co-occur in a range
	// query (cross-kind comparisons fail the predicate, §3), so this
	// fallback only needs to keep the tree's internal invariants
	// consistent — it never affects which buckets a Range call returns.
	if a.v.Kind() != b.v.Kind() {
		return a.v.Kind() < b.v.Kind()
	}
	return a.v.String() < b.v.String()
}

// AttrIndex is the lookup structure for a single attribute on a single base
// index. It owns its own lock (spec §4.9: "Each attribute index has its own
// lock, shard by attribute name"); Lock/Unlock/RLock/RUnlock are exported so
// internal/shardlock can hold several AttrIndex locks at once, in a
// deterministic cross-attribute order, for operations that must observe a
// consistent snapshot across attributes.
type AttrIndex struct {
	mu sync.RWMutex

	equality map[any]*bucket
	ordered  *btree.BTreeG[orderedEntry]
}

// New constructs an empty AttrIndex.
func New() *AttrIndex {
	return &AttrIndex{
		equality: make(map[any]*bucket),
		ordered:  btree.NewG(32, lessEntry),
	}
}

func (a *AttrIndex) Lock()    { a.mu.Lock() }
func (a *AttrIndex) Unlock()  { a.mu.Unlock() }
func (a *AttrIndex) RLock()   { a.mu.RLock() }
func (a *AttrIndex) RUnlock() { a.mu.RUnlock() }

// Insert adds oid under key v. Returns errs.ErrUnhashable if v cannot be
// used as an equality-map key; the caller (registry/index layer) is
// expected to reject only this attribute for this object, not the whole
// AddObject call (spec §7 category 1).
func (a *AttrIndex) Insert(oid registry.ObjectId, v value.Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.InsertLocked(oid, v)
}

// InsertLocked is Insert's core, for callers that already hold a.Lock()
// (e.g. internal/shardlock multi-attribute critical sections).
func (a *AttrIndex) InsertLocked(oid registry.ObjectId, v value.Value) error {
	if !v.Hashable() {
		return errs.ErrUnhashable
	}
	key := v.HashKey()
	b, ok := a.equality[key]
	if !ok {
		b = &bucket{v: v, oids: make(OidSet)}
		a.equality[key] = b
	}
	b.oids[oid] = struct{}{}

	if v.IsOrdered() {
		entry, found := a.ordered.Get(orderedEntry{v: v})
		if !found {
			entry = orderedEntry{v: v, oids: make(OidSet)}
		}
		entry.oids[oid] = struct{}{}
		a.ordered.ReplaceOrInsert(entry)
	}
	return nil
}

// Remove undoes Insert(oid, v); empty buckets are pruned (spec invariant
// I2: "no empty bucket is retained").
func (a *AttrIndex) Remove(oid registry.ObjectId, v value.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RemoveLocked(oid, v)
}

// RemoveLocked is Remove's core, for callers already holding a.Lock().
func (a *AttrIndex) RemoveLocked(oid registry.ObjectId, v value.Value) {
	if !v.Hashable() {
		return
	}
	key := v.HashKey()
	if b, ok := a.equality[key]; ok {
		delete(b.oids, oid)
		if len(b.oids) == 0 {
			delete(a.equality, key)
		}
	}

	if v.IsOrdered() {
		if entry, found := a.ordered.Get(orderedEntry{v: v}); found {
			delete(entry.oids, oid)
			if len(entry.oids) == 0 {
				a.ordered.Delete(entry)
			} else {
				a.ordered.ReplaceOrInsert(entry)
			}
		}
	}
}

// Eq returns a defensive copy of the bucket for v (empty set if none).
func (a *AttrIndex) Eq(v value.Value) OidSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.EqLocked(v)
}

// EqLocked is Eq's core, for callers already holding a.RLock()/a.Lock().
func (a *AttrIndex) EqLocked(v value.Value) OidSet {
	if !v.Hashable() {
		return make(OidSet)
	}
	b, ok := a.equality[v.HashKey()]
	if !ok {
		return make(OidSet)
	}
	return b.oids.clone()
}

// EqCount returns the bucket size for v without copying it — the planner's
// selectivity estimate (spec §4.6).
func (a *AttrIndex) EqCount(v value.Value) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !v.Hashable() {
		return 0
	}
	b, ok := a.equality[v.HashKey()]
	if !ok {
		return 0
	}
	return len(b.oids)
}

// In returns the union of the buckets for every v in vs.
func (a *AttrIndex) In(vs []value.Value) OidSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.InLocked(vs)
}

// InLocked is In's core, for callers already holding a read/write lock.
func (a *AttrIndex) InLocked(vs []value.Value) OidSet {
	out := make(OidSet)
	for _, v := range vs {
		if !v.Hashable() {
			continue
		}
		if b, ok := a.equality[v.HashKey()]; ok {
			for id := range b.oids {
				out[id] = struct{}{}
			}
		}
	}
	return out
}

// InCount estimates selectivity for In(vs): sum of bucket sizes.
func (a *AttrIndex) InCount(vs []value.Value) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := 0
	for _, v := range vs {
		if !v.Hashable() {
			continue
		}
		if b, ok := a.equality[v.HashKey()]; ok {
			total += len(b.oids)
		}
	}
	return total
}

// Range returns the union of buckets for values in [lo, hi] (or open
// depending on loIncl/hiIncl). lo and hi must belong to the same ordered
// family; a cross-kind bound yields an empty result (spec §4.2).
func (a *AttrIndex) Range(lo, hi value.Value, loIncl, hiIncl bool) OidSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.RangeLocked(lo, hi, loIncl, hiIncl)
}

// RangeLocked is Range's core, for callers already holding a read/write lock.
func (a *AttrIndex) RangeLocked(lo, hi value.Value, loIncl, hiIncl bool) OidSet {
	out := make(OidSet)
	if !lo.IsOrdered() || !hi.IsOrdered() {
		return out
	}
	a.ordered.AscendRange(
		orderedEntry{v: lo},
		orderedEntry{v: hi},
		func(e orderedEntry) bool {
			for id := range e.oids {
				out[id] = struct{}{}
			}
			return true
		},
	)
	// btree.AscendRange is [greaterOrEqual, lessThan): fold in the
	// endpoints explicitly to honor loIncl/hiIncl (closed by default for
	// lo, exclusive-by-default treatment corrected below).
	if !loIncl {
		if entry, found := a.ordered.Get(orderedEntry{v: lo}); found {
			for id := range entry.oids {
				delete(out, id)
			}
		}
	}
	if hiIncl {
		if entry, found := a.ordered.Get(orderedEntry{v: hi}); found {
			for id := range entry.oids {
				out[id] = struct{}{}
			}
		}
	}
	return out
}

// RangeCount estimates selectivity for Range: sum of bucket counts that
// Range would return, computed without allocating the union set.
func (a *AttrIndex) RangeCount(lo, hi value.Value, loIncl, hiIncl bool) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !lo.IsOrdered() || !hi.IsOrdered() {
		return 0
	}
	total := 0
	a.ordered.AscendRange(orderedEntry{v: lo}, orderedEntry{v: hi}, func(e orderedEntry) bool {
		total += len(e.oids)
		return true
	})
	if !loIncl {
		if entry, found := a.ordered.Get(orderedEntry{v: lo}); found {
			total -= len(entry.oids)
		}
	}
	if hiIncl {
		if entry, found := a.ordered.Get(orderedEntry{v: hi}); found {
			total += len(entry.oids)
		}
	}
	return total
}

// RangeFrom returns the union of buckets for values >= lo (or > lo when
// loIncl is false). Used for Gt/Ge query predicates, which have no upper
// bound to pair with lo in a closed Range call.
func (a *AttrIndex) RangeFrom(lo value.Value, loIncl bool) OidSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.RangeFromLocked(lo, loIncl)
}

// RangeFromLocked is RangeFrom's core, for callers already holding a lock.
func (a *AttrIndex) RangeFromLocked(lo value.Value, loIncl bool) OidSet {
	out := make(OidSet)
	if !lo.IsOrdered() {
		return out
	}
	a.ordered.AscendGreaterOrEqual(orderedEntry{v: lo}, func(e orderedEntry) bool {
		for id := range e.oids {
			out[id] = struct{}{}
		}
		return true
	})
	if !loIncl {
		if entry, found := a.ordered.Get(orderedEntry{v: lo}); found {
			for id := range entry.oids {
				delete(out, id)
			}
		}
	}
	return out
}

// RangeTo returns the union of buckets for values < hi (or <= hi when
// hiIncl is true). Used for Lt/Le query predicates.
func (a *AttrIndex) RangeTo(hi value.Value, hiIncl bool) OidSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.RangeToLocked(hi, hiIncl)
}

// RangeToLocked is RangeTo's core, for callers already holding a lock.
func (a *AttrIndex) RangeToLocked(hi value.Value, hiIncl bool) OidSet {
	out := make(OidSet)
	if !hi.IsOrdered() {
		return out
	}
	a.ordered.AscendLessThan(orderedEntry{v: hi}, func(e orderedEntry) bool {
		for id := range e.oids {
			out[id] = struct{}{}
		}
		return true
	})
	if hiIncl {
		if entry, found := a.ordered.Get(orderedEntry{v: hi}); found {
			for id := range entry.oids {
				out[id] = struct{}{}
			}
		}
	}
	return out
}

// RangeFromCount and RangeToCount estimate selectivity for RangeFrom/RangeTo
// without allocating the union set.
func (a *AttrIndex) RangeFromCount(lo value.Value, loIncl bool) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !lo.IsOrdered() {
		return 0
	}
	total := 0
	a.ordered.AscendGreaterOrEqual(orderedEntry{v: lo}, func(e orderedEntry) bool {
		total += len(e.oids)
		return true
	})
	if !loIncl {
		if entry, found := a.ordered.Get(orderedEntry{v: lo}); found {
			total -= len(entry.oids)
		}
	}
	return total
}

func (a *AttrIndex) RangeToCount(hi value.Value, hiIncl bool) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !hi.IsOrdered() {
		return 0
	}
	total := 0
	a.ordered.AscendLessThan(orderedEntry{v: hi}, func(e orderedEntry) bool {
		total += len(e.oids)
		return true
	})
	if hiIncl {
		if entry, found := a.ordered.Get(orderedEntry{v: hi}); found {
			total += len(entry.oids)
		}
	}
	return total
}

// Keys returns every distinct value currently filed under this attribute,
// for GroupBy (spec §4.7: partition by an attribute's current values).
func (a *AttrIndex) Keys() []value.Value {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]value.Value, 0, len(a.equality))
	for _, b := range a.equality {
		out = append(out, b.v)
	}
	return out
}

// Len reports the number of distinct equality keys currently held.
func (a *AttrIndex) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.equality)
}
