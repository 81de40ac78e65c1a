// Package index implements thermite's top-level façade (spec §4.7, C7):
// Index wires together the object registry, the per-attribute shards, and
// the path resolver behind an AddObject/RemoveObject/GetByAttribute surface,
// the same way internal/service/channel.go's ChannelService wraps a
// datastore, an object store and a process manager behind
// Create/GetOne/GetList/GetMany/Update/Delete.
package index

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tylerrobbins5678/thermite/internal/attrindex"
	"github.com/tylerrobbins5678/thermite/internal/errs"
	"github.com/tylerrobbins5678/thermite/internal/pathresolver"
	"github.com/tylerrobbins5678/thermite/internal/registry"
	"github.com/tylerrobbins5678/thermite/internal/shardlock"
	"github.com/tylerrobbins5678/thermite/observable"
	"github.com/tylerrobbins5678/thermite/query"
	"github.com/tylerrobbins5678/thermite/value"
)

// Index is the entry point applications construct. It is safe for
// concurrent use by multiple goroutines.
type Index struct {
	log       *zap.Logger
	reg       *registry.Registry
	resolver  *pathresolver.Resolver
	evaluator *query.Evaluator

	shardsMu sync.RWMutex
	shards   map[string]*attrindex.AttrIndex

	objMu sync.RWMutex
	byObj map[observable.Indexable]*registry.Record
}

// New constructs an empty Index. A nil log installs a no-op logger, matching
// registry.New and pathresolver.New's convention.
func New(log *zap.Logger) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("index")
	return &Index{
		log:       log,
		reg:       registry.New(log),
		resolver:  pathresolver.New(log),
		evaluator: query.NewEvaluator(),
		shards:    make(map[string]*attrindex.AttrIndex),
		byObj:     make(map[observable.Indexable]*registry.Record),
	}
}

// Option configures a single AddObject call.
type Option func(*addConfig)

type addConfig struct {
	defaults map[string]value.Value
}

// WithDefault files attr under def when obj does not expose that attribute
// (GetRaw returns nil), instead of value.Missing. Supplements the original
// py_index attr_default parameter, dropped from spec.md's distillation but
// reinstated here as an AddObject option rather than a map[string]any
// parameter, matching Go's preference for functional options over a
// variadic config struct (pkg/remuxcmd.Builder's WithX chain).
func WithDefault(attr string, def value.Value) Option {
	return func(c *addConfig) {
		if c.defaults == nil {
			c.defaults = make(map[string]value.Value)
		}
		c.defaults[attr] = def
	}
}

// shard returns the plain (non-dotted) attribute shard for name, creating
// it on first reference.
func (ix *Index) shard(name string) *attrindex.AttrIndex {
	ix.shardsMu.RLock()
	s, ok := ix.shards[name]
	ix.shardsMu.RUnlock()
	if ok {
		return s
	}
	ix.shardsMu.Lock()
	defer ix.shardsMu.Unlock()
	if s, ok = ix.shards[name]; ok {
		return s
	}
	s = attrindex.New()
	ix.shards[name] = s
	return s
}

// Attr implements query.Source: a dotted name routes to the path resolver
// (which lazily walks every tracked root the first time a given path is
// referenced, spec §4.5); anything else is a plain shard.
func (ix *Index) Attr(name string) (*attrindex.AttrIndex, bool) {
	if hasDot(name) {
		return ix.resolver.EnsurePath(name), true
	}
	ix.shardsMu.RLock()
	defer ix.shardsMu.RUnlock()
	s, ok := ix.shards[name]
	return s, ok
}

func hasDot(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return true
		}
	}
	return false
}

func classifyPlain(raw any) value.Value {
	if raw == nil {
		return value.Missing
	}
	// A link or a list of links is reachable only through a dotted path;
	// plain single-level equality-by-identity on a link attribute is out
	// of scope (spec §1 Non-goals), so it files as Missing here rather
	// than silently picking up value.FromAny's "unrepresentable" path.
	if pathresolver.IsLink(raw) {
		return value.Missing
	}
	v, ok := value.FromAny(raw)
	if !ok {
		return value.Missing
	}
	return v
}

// AddObject tracks obj, files every attribute observable.Indexable reports
// into its shard (or into a registered path's index, for link-valued
// attributes reached via a dotted path), and subscribes the Index to future
// mutations. AddObject is a package-level generic function, not a method,
// for the same reason registry.Track is: Go cannot express a method generic
// over the receiver's own concrete type.
//
// An attribute whose value is unhashable is skipped while the others are
// filed; AddObject then returns the object's id together with an error
// wrapping errs.ErrUnhashable (the object stays tracked).
func AddObject[T any](ix *Index, obj *T, opts ...Option) (registry.ObjectId, error) {
	indexable, ok := any(obj).(observable.Indexable)
	if !ok {
		return 0, errs.ErrNotIndexable
	}

	ix.objMu.RLock()
	existing, tracked := ix.byObj[indexable]
	ix.objMu.RUnlock()
	if tracked {
		return existing.Oid, nil
	}

	var cfg addConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	rec, ok := registry.Track(ix.reg, obj)
	if !ok {
		return 0, errs.ErrNotIndexable
	}

	ix.objMu.Lock()
	if existing, tracked := ix.byObj[indexable]; tracked {
		ix.objMu.Unlock()
		ix.reg.Remove(rec.Oid)
		return existing.Oid, nil
	}
	ix.byObj[indexable] = rec
	ix.objMu.Unlock()

	values := make(map[string]value.Value)
	indexable.Attributes(func(name string) bool {
		raw := indexable.GetRaw(name)
		v := classifyPlain(raw)
		if raw == nil {
			if def, ok := cfg.defaults[name]; ok {
				v = def
			}
		}
		values[name] = v
		return true
	})
	for name, def := range cfg.defaults {
		if _, seen := values[name]; !seen {
			values[name] = def
		}
	}

	shards := make(map[string]shardlock.Locker, len(values))
	for name := range values {
		shards[name] = ix.shard(name)
	}
	var rejected error
	release := shardlock.AcquireWrite(shards)
	for name, v := range values {
		s := shards[name].(*attrindex.AttrIndex)
		if err := s.InsertLocked(rec.Oid, v); err != nil {
			ix.log.Warn("attribute rejected", zap.Uint64("oid", rec.Oid), zap.String("attr", name), zap.Error(err))
			if rejected == nil {
				rejected = fmt.Errorf("thermite: attribute %q: %w", name, err)
			}
			continue
		}
		rec.SetSnapshot(name, v)
	}
	release()

	ix.resolver.AddRoot(rec.Oid, indexable)
	indexable.Subscribe(ix)

	return rec.Oid, rejected
}

// AddObjectMany tracks every object in objs concurrently, at most 16 at a
// time via errgroup (spec §4.9 NEW wiring: the original "add_object_many
// scales with thread count" behavior). The returned ids align with objs by
// index. A failure does not stop the other objects from being added: every
// object is still attempted, and then the first error is returned with a
// nil id slice.
func AddObjectMany[T any](ix *Index, objs []*T, opts ...Option) ([]registry.ObjectId, error) {
	ids := make([]registry.ObjectId, len(objs))
	var g errgroup.Group
	g.SetLimit(16)
	for i, obj := range objs {
		i, obj := i, obj
		g.Go(func() error {
			id, err := AddObject(ix, obj, opts...)
			if err != nil {
				return err
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// OnChange implements observable.Subscriber, re-filing a plain attribute's
// shard entry after a mutation. Dotted-path traversal reacts to the same
// Change independently via pathresolver.Resolver, which is also subscribed
// to every object reachable through a registered path.
func (ix *Index) OnChange(c observable.Change) {
	ix.objMu.RLock()
	rec, ok := ix.byObj[c.Object]
	ix.objMu.RUnlock()
	if !ok {
		return
	}

	newV := classifyPlain(c.NewRaw)
	oldV := rec.Snapshot(c.Attr)
	if oldV.Equal(newV) {
		return
	}

	s := ix.shard(c.Attr)
	s.Lock()
	s.RemoveLocked(rec.Oid, oldV)
	if err := s.InsertLocked(rec.Oid, newV); err != nil {
		ix.log.Warn("attribute rejected after mutation", zap.Uint64("oid", rec.Oid), zap.String("attr", c.Attr), zap.Error(err))
		s.Unlock()
		return
	}
	s.Unlock()
	rec.SetSnapshot(c.Attr, newV)
}

// RemoveObject stops tracking oid: it is unsubscribed, torn out of the path
// resolver, and removed from every plain attribute shard it was filed
// under, then evicted from the registry. Idempotent-ish: ErrNotTracked for
// an oid the registry no longer holds (already removed, or collected).
func (ix *Index) RemoveObject(oid registry.ObjectId) error {
	rec, ok := ix.reg.Get(oid)
	if !ok {
		return errs.ErrNotTracked
	}

	if obj, alive := rec.Resolve(); alive {
		obj.Unsubscribe(ix)
		ix.objMu.Lock()
		delete(ix.byObj, obj)
		ix.objMu.Unlock()
	}

	ix.resolver.RemoveRoot(oid)

	ix.shardsMu.RLock()
	names := make([]string, 0, len(ix.shards))
	byName := make(map[string]*attrindex.AttrIndex, len(ix.shards))
	for name, s := range ix.shards {
		names = append(names, name)
		byName[name] = s
	}
	ix.shardsMu.RUnlock()

	locks := make(map[string]shardlock.Locker, len(byName))
	for name, s := range byName {
		locks[name] = s
	}
	release := shardlock.AcquireWrite(locks)
	for _, name := range names {
		byName[name].RemoveLocked(oid, rec.Snapshot(name))
	}
	release()

	ix.reg.Remove(oid)
	return nil
}

// GetByAttribute returns the ids matching every given predicate, ANDed
// together and intersected in ascending selectivity order by the same
// planner And uses (spec's get_by_attribute(**eqs)). Build each predicate
// with query.Eq for a single value or query.In for a list of acceptable
// values; either may name a dotted path. Calling it with no predicates
// returns an empty set rather than the universe.
func (ix *Index) GetByAttribute(eqs ...query.Expr) attrindex.OidSet {
	if len(eqs) == 0 {
		return attrindex.OidSet{}
	}
	return ix.evaluator.Eval(combineEqs(eqs), ix, ix.Universe())
}

// combineEqs ANDs multiple predicates into one Expr, skipping the redundant
// wrapping And node when there is only one.
func combineEqs(eqs []query.Expr) query.Expr {
	if len(eqs) == 1 {
		return eqs[0]
	}
	return query.And(eqs...)
}

// Universe returns every currently tracked object id.
func (ix *Index) Universe() attrindex.OidSet {
	ids := ix.reg.Ids()
	out := make(attrindex.OidSet, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// Reduced returns a live view narrowed to every given predicate, ANDed
// together (spec §4.8). Build each predicate with query.Eq or query.In, the
// same as GetByAttribute.
func (ix *Index) Reduced(eqs ...query.Expr) *FilteredIndex {
	return &FilteredIndex{base: ix, expr: combineEqs(eqs)}
}

// ReducedQuery returns a live view narrowed by an arbitrary query.Expr.
func (ix *Index) ReducedQuery(expr query.Expr) *FilteredIndex {
	return &FilteredIndex{base: ix, expr: expr}
}

// resolveObjects turns an OidSet into the still-live objects it names,
// silently dropping any that have since been collected or removed —
// Collect's contract is "what matches right now", not "what matched at
// query time".
func (ix *Index) resolveObjects(ids attrindex.OidSet) []observable.Indexable {
	out := make([]observable.Indexable, 0, len(ids))
	for id := range ids {
		rec, ok := ix.reg.Get(id)
		if !ok {
			continue
		}
		obj, alive := rec.Resolve()
		if !alive {
			continue
		}
		out = append(out, obj)
	}
	return out
}
