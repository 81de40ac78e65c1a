// Package registry assigns stable object ids and tracks each object's
// last-indexed attribute snapshot (spec §3, "Object Record" / §4.3).
//
// Layout is grounded on objectstore.ObjectStore: an ordered id slice plus an
// id->record map, mutated under a RWMutex, so Collect-style iteration stays
// deterministic (ascending oid) the way ObjectStore.GetList is.
package registry

import (
	"sort"
	"sync"
	"weak"

	"go.uber.org/zap"

	"github.com/tylerrobbins5678/thermite/observable"
	"github.com/tylerrobbins5678/thermite/value"
)

// ObjectId is an opaque, stable, never-reused-while-live identifier.
type ObjectId = uint64

// Record is the per-object bookkeeping entry: a weak resolver back to the
// tracked object, plus the last-indexed snapshot of its attribute values.
// The snapshot is the ground truth for "what key is this object currently
// filed under" — attribute indices are updated by diffing against it.
type Record struct {
	Oid ObjectId

	resolve func() observable.Indexable // weak; nil return means collected

	mu       sync.Mutex // guards snapshot, per spec: "snapshot mutation takes per-object locks"
	snapshot map[string]value.Value
}

// Resolve returns the live object, or (nil, false) if it has been garbage
// collected. Callers must not retain the returned Indexable beyond the
// current operation — doing so would defeat the weak-reference contract.
func (r *Record) Resolve() (observable.Indexable, bool) {
	obj := r.resolve()
	return obj, obj != nil
}

// Snapshot returns the last-indexed value for attr, or value.Missing if
// never indexed.
func (r *Record) Snapshot(attr string) value.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.snapshot[attr]; ok {
		return v
	}
	return value.Missing
}

// SetSnapshot records attr's newly-indexed value.
func (r *Record) SetSnapshot(attr string, v value.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil {
		r.snapshot = make(map[string]value.Value)
	}
	r.snapshot[attr] = v
}

// Registry maps object ids to Records and allocates fresh ids.
type Registry struct {
	log *zap.Logger

	idMu  sync.Mutex // writer-preferring: serializes id allocation, grounded
	// on the teacher's single-mutex-wrapped Redis INCR id generator
	// (store.StringStore.Create / datastore.DataStore's sequence key).
	nextID ObjectId

	mu   sync.RWMutex
	byID map[ObjectId]*Record
	ids  []ObjectId // ascending, for deterministic iteration
	pos  map[ObjectId]int
}

// New constructs an empty Registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:  log.Named("registry"),
		byID: make(map[ObjectId]*Record),
		pos:  make(map[ObjectId]int),
	}
}

// allocID hands out the next monotonic, never-reused id.
func (r *Registry) allocID() ObjectId {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	r.nextID++
	return r.nextID
}

// Track registers obj (a pointer to any concrete type satisfying
// observable.Indexable) and returns a fresh Record. The registry holds only
// a weak reference to obj via weak.Make, so tracking never extends its
// lifetime (spec §5): once the caller's last strong reference drops, obj
// becomes collectible and Resolve starts returning false.
//
// Track is a package-level generic function, not a method, because Go
// cannot express "a method whose receiver is generic over the caller's
// concrete type" — the same reason json.Unmarshal-style APIs take a typed
// pointer rather than exposing a generic method on a fixed type.
func Track[T any](r *Registry, obj *T) (*Record, bool) {
	if _, ok := any(obj).(observable.Indexable); !ok {
		return nil, false
	}

	wp := weak.Make(obj)
	resolve := func() observable.Indexable {
		p := wp.Value()
		if p == nil {
			return nil
		}
		v, ok := any(p).(observable.Indexable)
		if !ok {
			return nil
		}
		return v
	}

	rec := &Record{
		Oid:      r.allocID(),
		resolve:  resolve,
		snapshot: make(map[string]value.Value),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(rec)
	return rec, true
}

func (r *Registry) insertLocked(rec *Record) {
	r.byID[rec.Oid] = rec
	idx := sort.Search(len(r.ids), func(i int) bool { return r.ids[i] >= rec.Oid })
	r.ids = append(r.ids, 0)
	copy(r.ids[idx+1:], r.ids[idx:])
	r.ids[idx] = rec.Oid
	for i := idx; i < len(r.ids); i++ {
		r.pos[r.ids[i]] = i
	}
}

// Get returns the Record for oid, lazily sweeping it if its object has
// already been collected (spec §7 category 5: "Dead weak reference ...
// lazily dropped on encounter").
func (r *Registry) Get(oid ObjectId) (*Record, bool) {
	r.mu.RLock()
	rec, ok := r.byID[oid]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if _, alive := rec.Resolve(); !alive {
		r.Remove(oid)
		return nil, false
	}
	return rec, true
}

// Remove evicts oid's record, if present. Idempotent.
func (r *Registry) Remove(oid ObjectId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(oid)
}

func (r *Registry) removeLocked(oid ObjectId) {
	idx, ok := r.pos[oid]
	if !ok {
		return
	}
	delete(r.byID, oid)
	delete(r.pos, oid)
	copy(r.ids[idx:], r.ids[idx+1:])
	r.ids = r.ids[:len(r.ids)-1]
	for i := idx; i < len(r.ids); i++ {
		r.pos[r.ids[i]] = i
	}
}

// Sweep drops every record whose weak handle has gone dead; this is the
// "scheduled sweep" side of spec §5's eviction policy (Get provides the
// lazy side). Returns the number of records removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	dead := make([]ObjectId, 0)
	for _, oid := range r.ids {
		rec := r.byID[oid]
		if _, alive := rec.Resolve(); !alive {
			dead = append(dead, oid)
		}
	}
	for _, oid := range dead {
		r.removeLocked(oid)
	}
	r.mu.Unlock()
	return len(dead)
}

// Ids returns a snapshot of tracked object ids in ascending order.
func (r *Registry) Ids() []ObjectId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ObjectId, len(r.ids))
	copy(out, r.ids)
	return out
}

// Len returns the number of tracked records, including any not-yet-swept
// dead ones.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
