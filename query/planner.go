// Planner logic for query.Expr: turning an And's children into attribute
// index lookups ordered from most to least selective, short-circuiting as
// soon as an intersection empties out, and deciding whether a Ne predicate
// is worth evaluating as a full universe complement or as a residual
// membership filter over an already-narrowed result (spec §4.6).
package query

import (
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/tylerrobbins5678/thermite/internal/attrindex"
)

// Eval evaluates e against src. universe is the full set of ids currently
// known to the base index — only consulted by Ne (as the set to subtract
// from) and by an And whose every child is a Ne (nothing else to narrow
// against first).
func Eval(e Expr, src Source, universe attrindex.OidSet) attrindex.OidSet {
	switch e.op {
	case opEq:
		return evalAttr(e, src, func(idx *attrindex.AttrIndex) attrindex.OidSet { return idx.Eq(e.v) })
	case opLt:
		return evalAttr(e, src, func(idx *attrindex.AttrIndex) attrindex.OidSet { return idx.RangeTo(e.v, false) })
	case opLe:
		return evalAttr(e, src, func(idx *attrindex.AttrIndex) attrindex.OidSet { return idx.RangeTo(e.v, true) })
	case opGt:
		return evalAttr(e, src, func(idx *attrindex.AttrIndex) attrindex.OidSet { return idx.RangeFrom(e.v, false) })
	case opGe:
		return evalAttr(e, src, func(idx *attrindex.AttrIndex) attrindex.OidSet { return idx.RangeFrom(e.v, true) })
	case opBetween:
		return evalAttr(e, src, func(idx *attrindex.AttrIndex) attrindex.OidSet {
			return idx.Range(e.lo, e.hi, e.loIncl, e.hiIncl)
		})
	case opIn:
		return evalAttr(e, src, func(idx *attrindex.AttrIndex) attrindex.OidSet { return idx.In(e.vs) })
	case opNe:
		idx, ok := src.Attr(e.attr)
		if !ok {
			return cloneSet(universe)
		}
		return complement(universe, idx.Eq(e.v))
	case opAnd:
		return evalAnd(e, src, universe)
	case opOr:
		return evalOr(e, src, universe)
	default:
		return attrindex.OidSet{}
	}
}

func evalAttr(e Expr, src Source, fn func(*attrindex.AttrIndex) attrindex.OidSet) attrindex.OidSet {
	idx, ok := src.Attr(e.attr)
	if !ok {
		return attrindex.OidSet{}
	}
	return fn(idx)
}

// evalAnd evaluates every non-Ne child through the index in ascending
// selectivity order, intersecting progressively and stopping the moment
// the running intersection is empty, then applies any Ne children as a
// residual filter against that narrowed result rather than computing their
// full complement against universe — cheaper whenever the And has at least
// one selective sibling to narrow against first.
func evalAnd(e Expr, src Source, universe attrindex.OidSet) attrindex.OidSet {
	var indexable, residualNe []Expr
	for _, c := range e.children {
		if c.op == opNe {
			residualNe = append(residualNe, c)
			continue
		}
		indexable = append(indexable, c)
	}

	var result attrindex.OidSet
	if len(indexable) == 0 {
		// Nothing to narrow against first: every Ne must fall back to its
		// full complement.
		for i, c := range residualNe {
			part := Eval(c, src, universe)
			if i == 0 {
				result = part
			} else {
				result = attrindex.Intersect(result, part)
			}
			if len(result) == 0 {
				return result
			}
		}
		return result
	}

	sortBySelectivity(indexable, src)
	for i, c := range indexable {
		part := Eval(c, src, universe)
		if i == 0 {
			result = part
		} else {
			result = attrindex.Intersect(result, part)
		}
		if len(result) == 0 {
			return result
		}
	}

	for _, c := range residualNe {
		idx, ok := src.Attr(c.attr)
		if !ok {
			continue
		}
		eq := idx.Eq(c.v)
		for id := range result {
			if _, excluded := eq[id]; excluded {
				delete(result, id)
			}
		}
		if len(result) == 0 {
			return result
		}
	}
	return result
}

func evalOr(e Expr, src Source, universe attrindex.OidSet) attrindex.OidSet {
	out := make(attrindex.OidSet)
	for _, c := range e.children {
		for id := range Eval(c, src, universe) {
			out[id] = struct{}{}
		}
	}
	return out
}

// sortBySelectivity reorders exprs ascending by estimated result size, so
// evalAnd intersects the narrowest bucket first.
func sortBySelectivity(exprs []Expr, src Source) {
	sort.SliceStable(exprs, func(i, j int) bool {
		return estimate(exprs[i], src) < estimate(exprs[j], src)
	})
}

// estimate returns a cheap, non-allocating selectivity estimate for e —
// the bucket/range size a predicate would return, without computing it.
func estimate(e Expr, src Source) int {
	switch e.op {
	case opEq:
		idx, ok := src.Attr(e.attr)
		if !ok {
			return 0
		}
		return idx.EqCount(e.v)
	case opLt:
		idx, ok := src.Attr(e.attr)
		if !ok {
			return 0
		}
		return idx.RangeToCount(e.v, false)
	case opLe:
		idx, ok := src.Attr(e.attr)
		if !ok {
			return 0
		}
		return idx.RangeToCount(e.v, true)
	case opGt:
		idx, ok := src.Attr(e.attr)
		if !ok {
			return 0
		}
		return idx.RangeFromCount(e.v, false)
	case opGe:
		idx, ok := src.Attr(e.attr)
		if !ok {
			return 0
		}
		return idx.RangeFromCount(e.v, true)
	case opBetween:
		idx, ok := src.Attr(e.attr)
		if !ok {
			return 0
		}
		return idx.RangeCount(e.lo, e.hi, e.loIncl, e.hiIncl)
	case opIn:
		idx, ok := src.Attr(e.attr)
		if !ok {
			return 0
		}
		return idx.InCount(e.vs)
	case opAnd, opOr:
		best := -1
		for _, c := range e.children {
			n := estimate(c, src)
			if best == -1 || n < best {
				best = n
			}
		}
		if best == -1 {
			return 0
		}
		return best
	default:
		return 0
	}
}

func complement(universe, exclude attrindex.OidSet) attrindex.OidSet {
	out := make(attrindex.OidSet, len(universe))
	for id := range universe {
		if _, excluded := exclude[id]; !excluded {
			out[id] = struct{}{}
		}
	}
	return out
}

func cloneSet(s attrindex.OidSet) attrindex.OidSet {
	out := make(attrindex.OidSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Evaluator coalesces concurrent evaluations of the same canonical
// expression via singleflight: several goroutines issuing the identical
// query against the same index at the same moment share one walk of the
// attribute indices rather than repeating it. Like singleflight itself,
// this is a best-effort dedup, not a cache — a query issued a moment later
// against a since-mutated index always re-evaluates.
type Evaluator struct {
	sf singleflight.Group
}

// NewEvaluator returns a ready-to-use Evaluator.
func NewEvaluator() *Evaluator { return &Evaluator{} }

// Eval evaluates expr against src, coalescing with any identical in-flight
// evaluation.
func (ev *Evaluator) Eval(expr Expr, src Source, universe attrindex.OidSet) attrindex.OidSet {
	result, _, _ := ev.sf.Do(expr.String(), func() (any, error) {
		return Eval(expr, src, universe), nil
	})
	return result.(attrindex.OidSet)
}
