// Package pathresolver implements the attribute-path traversal graph
// described in spec §4.5: walking a dotted attribute chain such as "x.num"
// from every tracked root object, filing the terminal value it reaches into
// a per-path attribute index, and keeping that filing correct as the
// objects along the chain mutate.
//
// The bookkeeping is grounded on processmgr.slotPool's refcounted-ownership
// discipline (acquire registers an explicit owner, release requires a prior
// acquire) generalized from "one owner per slot" to "one subscription per
// (observed object, attribute, path, root) edge": installing a subscription
// is an acquire, and a structural change that no longer reaches that edge is
// a release. Unlike slotPool, releasing an edge that was never installed is
// a silent no-op.
package pathresolver

import (
	"reflect"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tylerrobbins5678/thermite/internal/attrindex"
	"github.com/tylerrobbins5678/thermite/internal/registry"
	"github.com/tylerrobbins5678/thermite/observable"
	"github.com/tylerrobbins5678/thermite/value"
)

var indexableType = reflect.TypeOf((*observable.Indexable)(nil)).Elem()

// subKey identifies one (observed object, attribute) edge. Concrete types
// backing observable.Indexable must be comparable (in practice: always a
// pointer) for this to be usable as a map key — the same constraint Go
// itself imposes on any type used as a map key.
type subKey struct {
	obj  observable.Indexable
	attr string
}

// subscription is one edge of one path's traversal, rooted at a single base
// object. suffix is the remainder of the path steps still to walk past attr.
type subscription struct {
	path   string
	root   registry.ObjectId
	suffix []string
}

// pathState is the per-registered-path bookkeeping: the live attribute
// index queries consult, and the last filed terminal set per root so
// mutations can be applied as a diff rather than a full rebuild of the
// index (spec §4.2 invariant: "no empty bucket is retained").
type pathState struct {
	path      string
	steps     []string
	idx       *attrindex.AttrIndex
	terminals map[registry.ObjectId][]value.Value
}

// Resolver owns every registered path for one base index and acts as the
// single observable.Subscriber for every object reachable through them.
type Resolver struct {
	log *zap.Logger

	mu    sync.RWMutex
	roots map[registry.ObjectId]observable.Indexable
	paths map[string]*pathState

	subs    map[subKey][]*subscription
	objRefs map[observable.Indexable]int // Subscribe/Unsubscribe refcount per object

	shadowIDs  map[observable.Indexable]uint64
	nextShadow uint64
}

// New constructs an empty Resolver.
func New(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		log:       log.Named("pathresolver"),
		roots:     make(map[registry.ObjectId]observable.Indexable),
		paths:     make(map[string]*pathState),
		subs:      make(map[subKey][]*subscription),
		objRefs:   make(map[observable.Indexable]int),
		shadowIDs: make(map[observable.Indexable]uint64),
	}
}

// Path returns the attribute index backing an already-registered path.
func (r *Resolver) Path(path string) (*attrindex.AttrIndex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.paths[path]
	if !ok {
		return nil, false
	}
	return ps.idx, true
}

// EnsurePath returns the live attribute index backing path, a dotted
// attribute chain ("x.num"). The first caller to reference a given path
// pays for walking every currently tracked root through it; later callers
// (and future AddRoot calls) reuse the same index, kept live by mutation
// notifications.
func (r *Resolver) EnsurePath(path string) *attrindex.AttrIndex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.paths[path]; ok {
		return ps.idx
	}
	ps := &pathState{
		path:      path,
		steps:     strings.Split(path, "."),
		idx:       attrindex.New(),
		terminals: make(map[registry.ObjectId][]value.Value),
	}
	r.paths[path] = ps
	for root, obj := range r.roots {
		r.fileTerminals(ps, root, r.registerRoot(ps, root, obj))
	}
	return ps.idx
}

// AddRoot walks obj through every already-registered path and files its
// terminals. Call once per object admitted to the base index (spec §4.3:
// attribute discovery routes observable-valued attributes to path
// registration).
func (r *Resolver) AddRoot(root registry.ObjectId, obj observable.Indexable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roots[root] = obj
	for _, ps := range r.paths {
		r.fileTerminals(ps, root, r.registerRoot(ps, root, obj))
	}
}

// RemoveRoot tears down every subscription and filed terminal belonging to
// root, across every registered path.
func (r *Resolver) RemoveRoot(root registry.ObjectId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.roots[root]
	if !ok {
		return
	}
	for _, ps := range r.paths {
		r.unregisterRoot(ps, root, obj)
		for _, v := range ps.terminals[root] {
			ps.idx.Remove(root, v)
		}
		delete(ps.terminals, root)
	}
	delete(r.roots, root)
}

// OnChange implements observable.Subscriber. It reconciles every
// subscription installed on the (object, attribute) edge that just changed.
func (r *Resolver) OnChange(c observable.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := subKey{c.Object, c.Attr}
	affected := append([]*subscription(nil), r.subs[key]...)
	for _, s := range affected {
		r.reconcileSub(s, c)
	}
}

// reconcileSub re-derives the filed terminal set for s.root after a change
// on the edge s subscribes to. It tears down subscriptions reachable
// through the old value, installs subscriptions reachable through the new
// value, then re-walks the whole path from the root object to recompute the
// aggregate terminal set — cheap relative to a mutation's own cost for the
// short attribute chains paths are expected to have, and simple enough to
// get right without relying on per-edge refcounted terminal bookkeeping.
func (r *Resolver) reconcileSub(s *subscription, c observable.Change) {
	ps, ok := r.paths[s.path]
	if !ok {
		return
	}
	rootObj, ok := r.roots[s.root]
	if !ok {
		return
	}

	r.resolve(ps, c.OldRaw, s.suffix, s.root, map[observable.Indexable]bool{c.Object: true}, false)
	r.resolve(ps, c.NewRaw, s.suffix, s.root, map[observable.Indexable]bool{c.Object: true}, true)

	r.fileTerminals(ps, s.root, r.registerRoot(ps, s.root, rootObj))
}

// registerRoot walks obj through ps's steps, installing every subscription
// along the way, and returns the terminal values reached.
func (r *Resolver) registerRoot(ps *pathState, root registry.ObjectId, obj observable.Indexable) []value.Value {
	visited := map[observable.Indexable]bool{obj: true}
	return r.step(ps, obj, ps.steps, root, visited, true)
}

// unregisterRoot mirrors registerRoot, removing every subscription it would
// have installed.
func (r *Resolver) unregisterRoot(ps *pathState, root registry.ObjectId, obj observable.Indexable) {
	visited := map[observable.Indexable]bool{obj: true}
	r.step(ps, obj, ps.steps, root, visited, false)
}

// step reads obj.GetRaw(steps[0]), installs or removes the subscription for
// that edge, and resolves the rest of the path from whatever it finds.
func (r *Resolver) step(ps *pathState, obj observable.Indexable, steps []string, root registry.ObjectId, visited map[observable.Indexable]bool, subscribe bool) []value.Value {
	attr := steps[0]
	suffix := steps[1:]

	if subscribe {
		r.addSub(obj, attr, ps.path, root, suffix)
	} else {
		r.removeSub(obj, attr, ps.path, root)
	}

	raw := obj.GetRaw(attr)
	return r.resolve(ps, raw, suffix, root, visited, subscribe)
}

// resolve classifies raw (the value just read at one hop) and either
// reports it as a terminal (scalar, or a link with no suffix left to walk)
// or recurses into it (a link, or a list of links, with suffix remaining).
func (r *Resolver) resolve(ps *pathState, raw any, suffix []string, root registry.ObjectId, visited map[observable.Indexable]bool, subscribe bool) []value.Value {
	if raw == nil {
		return []value.Value{value.Missing}
	}
	if elems, ok := asIndexableSlice(raw); ok {
		var out []value.Value
		for _, e := range elems {
			out = append(out, r.resolveElem(ps, e, suffix, root, visited, subscribe)...)
		}
		if len(out) == 0 {
			return []value.Value{value.Missing}
		}
		return out
	}
	if child, ok := raw.(observable.Indexable); ok {
		return r.resolveElem(ps, child, suffix, root, visited, subscribe)
	}
	if len(suffix) > 0 {
		// The path expected a link here but found a scalar: unreachable.
		return []value.Value{value.Missing}
	}
	v, ok := value.FromAny(raw)
	if !ok {
		return []value.Value{value.Missing}
	}
	return []value.Value{v}
}

// resolveElem handles one observable child reached along the path: either
// it is the terminal itself (suffix exhausted, reported by identity), or
// traversal continues through it — unless child has already been visited
// in this walk, in which case the same mechanism that breaks cycles also
// collapses a DAG's shared node into a single Missing branch on the second
// arrival (documented limitation: true shared-node fan-out under-counts).
func (r *Resolver) resolveElem(ps *pathState, child observable.Indexable, suffix []string, root registry.ObjectId, visited map[observable.Indexable]bool, subscribe bool) []value.Value {
	if len(suffix) == 0 {
		return []value.Value{value.ObjRef(r.identityFor(child))}
	}
	if visited[child] {
		return []value.Value{value.Missing}
	}
	visited[child] = true
	return r.step(ps, child, suffix, root, visited, subscribe)
}

func (r *Resolver) addSub(obj observable.Indexable, attr, path string, root registry.ObjectId, suffix []string) *subscription {
	key := subKey{obj, attr}
	for _, s := range r.subs[key] {
		if s.path == path && s.root == root {
			return s
		}
	}
	s := &subscription{path: path, root: root, suffix: append([]string(nil), suffix...)}
	r.subs[key] = append(r.subs[key], s)
	r.retainObj(obj)
	return s
}

func (r *Resolver) removeSub(obj observable.Indexable, attr, path string, root registry.ObjectId) {
	key := subKey{obj, attr}
	list := r.subs[key]
	for i, s := range list {
		if s.path == path && s.root == root {
			r.subs[key] = append(list[:i:i], list[i+1:]...)
			if len(r.subs[key]) == 0 {
				delete(r.subs, key)
			}
			r.releaseObj(obj)
			return
		}
	}
}

func (r *Resolver) retainObj(obj observable.Indexable) {
	if r.objRefs[obj] == 0 {
		obj.Subscribe(r)
	}
	r.objRefs[obj]++
}

func (r *Resolver) releaseObj(obj observable.Indexable) {
	r.objRefs[obj]--
	if r.objRefs[obj] <= 0 {
		delete(r.objRefs, obj)
		obj.Unsubscribe(r)
	}
}

// identityFor returns a stable synthetic id for obj, used only to build an
// ObjRef Value for a path terminal that is itself a link — these objects
// may never have been admitted to the base index's own registry, so they
// have no registry.ObjectId of their own.
func (r *Resolver) identityFor(obj observable.Indexable) uint64 {
	if id, ok := r.shadowIDs[obj]; ok {
		return id
	}
	r.nextShadow++
	r.shadowIDs[obj] = r.nextShadow
	return r.nextShadow
}

// fileTerminals diffs newTerm against the previously filed set for root and
// applies the difference to ps.idx.
func (r *Resolver) fileTerminals(ps *pathState, root registry.ObjectId, newTerm []value.Value) {
	oldSet := toHashSet(ps.terminals[root])
	newSet := toHashSet(newTerm)
	for k, v := range oldSet {
		if _, keep := newSet[k]; !keep {
			ps.idx.Remove(root, v)
		}
	}
	for k, v := range newSet {
		if _, existed := oldSet[k]; !existed {
			ps.idx.Insert(root, v)
		}
	}
	ps.terminals[root] = newTerm
}

func toHashSet(vs []value.Value) map[any]value.Value {
	out := make(map[any]value.Value, len(vs))
	for _, v := range vs {
		if v.Hashable() {
			out[v.HashKey()] = v
		}
	}
	return out
}

// IsLink reports whether raw is an observable.Indexable, or a slice of
// them — the same classification used while walking a path, exported so
// the plain (non-dotted) per-attribute indexer (internal/attrindex via
// index.Index) can route link-valued attributes away from value.FromAny
// without duplicating the reflection logic.
func IsLink(raw any) bool {
	if raw == nil {
		return false
	}
	if _, ok := raw.(observable.Indexable); ok {
		return true
	}
	_, ok := asIndexableSlice(raw)
	return ok
}

// asIndexableSlice reports whether raw is a slice whose elements are all
// observable.Indexable, returning them as a uniform []observable.Indexable
// for fan-out. A slice whose element type implements observable.Indexable
// (an interface such as []observable.Indexable, or a concrete type such as
// []*T) is recognized without inspecting elements; a slice of any other
// interface element type (e.g. []any) is checked element-by-element.
func asIndexableSlice(raw any) ([]observable.Indexable, bool) {
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	elemType := rv.Type().Elem()
	if elemType.Implements(indexableType) {
		out := make([]observable.Indexable, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface().(observable.Indexable)
		}
		return out, true
	}
	if elemType.Kind() != reflect.Interface {
		return nil, false
	}
	out := make([]observable.Indexable, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, ok := rv.Index(i).Interface().(observable.Indexable)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
