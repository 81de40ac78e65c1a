// Package query implements the filter expression AST and evaluator used by
// Index.ReducedQuery and FilteredIndex (spec §4.6).
//
// Expr follows the same closed tagged-union shape as value.Value (C1): one
// struct, one Kind-like discriminant, exhaustive switches, rather than an
// Expr interface with ten concrete implementations — the AST is small and
// fixed, so a union costs less than the boilerplate of ten single-field
// structs plus an unexported marker method.
package query

import (
	"fmt"
	"strings"

	"github.com/tylerrobbins5678/thermite/internal/attrindex"
	"github.com/tylerrobbins5678/thermite/value"
)

type opKind int

const (
	opEq opKind = iota
	opNe
	opLt
	opLe
	opGt
	opGe
	opBetween
	opIn
	opAnd
	opOr
)

// Expr is one node of a filter expression tree. The zero Expr is not valid;
// construct one with Eq/Ne/Lt/Le/Gt/Ge/Between/In/And/Or.
type Expr struct {
	op   opKind
	attr string

	v              value.Value
	lo, hi         value.Value
	loIncl, hiIncl bool
	vs             []value.Value

	children []Expr
}

func Eq(attr string, v value.Value) Expr { return Expr{op: opEq, attr: attr, v: v} }
func Ne(attr string, v value.Value) Expr { return Expr{op: opNe, attr: attr, v: v} }
func Lt(attr string, v value.Value) Expr { return Expr{op: opLt, attr: attr, v: v} }
func Le(attr string, v value.Value) Expr { return Expr{op: opLe, attr: attr, v: v} }
func Gt(attr string, v value.Value) Expr { return Expr{op: opGt, attr: attr, v: v} }
func Ge(attr string, v value.Value) Expr { return Expr{op: opGe, attr: attr, v: v} }

// Between matches attr in [lo, hi], with inclusivity controlled by loIncl/hiIncl.
func Between(attr string, lo, hi value.Value, loIncl, hiIncl bool) Expr {
	return Expr{op: opBetween, attr: attr, lo: lo, hi: hi, loIncl: loIncl, hiIncl: hiIncl}
}

// In matches attr against any of vs.
func In(attr string, vs ...value.Value) Expr {
	return Expr{op: opIn, attr: attr, vs: append([]value.Value(nil), vs...)}
}

// And conjoins exprs. A single-expression And is legal and just re-wraps.
func And(exprs ...Expr) Expr { return Expr{op: opAnd, children: append([]Expr(nil), exprs...)} }

// Or disjoins exprs.
func Or(exprs ...Expr) Expr { return Expr{op: opOr, children: append([]Expr(nil), exprs...)} }

// And fluently conjoins e with other, flattening a chain of And calls into
// one node rather than nesting — FromChannel-style builders in the teacher
// repo append to one underlying slice for the same reason: it keeps Build
// output (here, the planner's view of the conjunct list) flat and cheap to
// reorder.
func (e Expr) And(other Expr) Expr {
	if e.op == opAnd {
		return Expr{op: opAnd, children: append(append([]Expr(nil), e.children...), other)}
	}
	return Expr{op: opAnd, children: []Expr{e, other}}
}

// Or fluently disjoins e with other.
func (e Expr) Or(other Expr) Expr {
	if e.op == opOr {
		return Expr{op: opOr, children: append(append([]Expr(nil), e.children...), other)}
	}
	return Expr{op: opOr, children: []Expr{e, other}}
}

// Source is the attribute-index lookup an evaluator needs. index.Index
// implements this directly; plain and dotted (path-resolved) attribute
// names are indistinguishable at this layer — routing dotted names to
// internal/pathresolver is the Source implementation's job.
type Source interface {
	Attr(name string) (*attrindex.AttrIndex, bool)
}

// String renders a canonical, deterministic textual form of e, used as the
// coalescing key in Evaluator and for debug logging.
func (e Expr) String() string {
	var b strings.Builder
	e.write(&b)
	return b.String()
}

func (e Expr) write(b *strings.Builder) {
	switch e.op {
	case opEq:
		fmt.Fprintf(b, "eq(%s,%s)", e.attr, e.v.String())
	case opNe:
		fmt.Fprintf(b, "ne(%s,%s)", e.attr, e.v.String())
	case opLt:
		fmt.Fprintf(b, "lt(%s,%s)", e.attr, e.v.String())
	case opLe:
		fmt.Fprintf(b, "le(%s,%s)", e.attr, e.v.String())
	case opGt:
		fmt.Fprintf(b, "gt(%s,%s)", e.attr, e.v.String())
	case opGe:
		fmt.Fprintf(b, "ge(%s,%s)", e.attr, e.v.String())
	case opBetween:
		fmt.Fprintf(b, "bt(%s,%s,%s,%t,%t)", e.attr, e.lo.String(), e.hi.String(), e.loIncl, e.hiIncl)
	case opIn:
		parts := make([]string, len(e.vs))
		for i, v := range e.vs {
			parts[i] = v.String()
		}
		fmt.Fprintf(b, "in(%s,[%s])", e.attr, strings.Join(parts, ","))
	case opAnd, opOr:
		name := "and"
		if e.op == opOr {
			name = "or"
		}
		parts := make([]string, len(e.children))
		for i, c := range e.children {
			parts[i] = c.String()
		}
		fmt.Fprintf(b, "%s(%s)", name, strings.Join(parts, ","))
	}
}
