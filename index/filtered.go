package index

import (
	"github.com/tylerrobbins5678/thermite/internal/attrindex"
	"github.com/tylerrobbins5678/thermite/observable"
	"github.com/tylerrobbins5678/thermite/query"
	"github.com/tylerrobbins5678/thermite/value"
)

// FilteredIndex is a live derived view over an Index (spec §4.8, C8):
// membership is not eagerly maintained as objects mutate, it is
// recomputed against the base Index's current attribute state every time
// Ids/Collect/GroupBy is called. Grounded on
// internal/service/channel_summary.go's SummaryService, which likewise
// recomputes its derived view from the live store rather than carrying a
// second independently-updated copy — the tradeoff this module makes in
// the same spot: building a fully incremental membership set would mean a
// second subsystem with pathresolver's complexity, for a view whose whole
// purpose is "what matches right now".
type FilteredIndex struct {
	base *Index
	expr query.Expr
}

// Ids evaluates the view's expression against the base Index's current
// state and returns the matching object ids.
func (fx *FilteredIndex) Ids() attrindex.OidSet {
	return fx.base.evaluator.Eval(fx.expr, fx.base, fx.base.Universe())
}

// Collect evaluates the view and returns the still-live matching objects, a
// defensive snapshot the same way SummaryService.Get returns a cloned
// slice rather than a handle into live state.
func (fx *FilteredIndex) Collect() []observable.Indexable {
	return fx.base.resolveObjects(fx.Ids())
}

// Reduced narrows this view further by every given predicate, composing
// expressions with And rather than re-evaluating the parent first.
func (fx *FilteredIndex) Reduced(eqs ...query.Expr) *FilteredIndex {
	return &FilteredIndex{base: fx.base, expr: fx.expr.And(combineEqs(eqs))}
}

// ReducedQuery narrows this view further by an arbitrary query.Expr.
func (fx *FilteredIndex) ReducedQuery(expr query.Expr) *FilteredIndex {
	return &FilteredIndex{base: fx.base, expr: fx.expr.And(expr)}
}

// Group is one partition produced by GroupBy: the shared attribute value
// and a live view already narrowed to it.
type Group struct {
	Key  value.Value
	View *FilteredIndex
}

// GroupBy partitions the base Index's tracked objects by the current
// distinct values of attr, one Group per value actually present.
func (ix *Index) GroupBy(attr string) []Group {
	idx, ok := ix.Attr(attr)
	if !ok {
		return nil
	}
	keys := idx.Keys()
	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, Group{Key: k, View: ix.Reduced(query.Eq(attr, k))})
	}
	return groups
}

// GroupBy partitions this view's current matches by the distinct values of
// attr, scoped to objects already inside the view.
func (fx *FilteredIndex) GroupBy(attr string) []Group {
	idx, ok := fx.base.Attr(attr)
	if !ok {
		return nil
	}
	keys := idx.Keys()
	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, Group{Key: k, View: fx.Reduced(query.Eq(attr, k))})
	}
	return groups
}
