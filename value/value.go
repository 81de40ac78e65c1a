// Package value defines the tagged union of indexable scalar values used as
// index keys throughout thermite, along with their equality and ordering
// rules.
//
// Value is a closed union, not an interface: every attribute thermite ever
// indexes resolves to exactly one Value, and every Value exhaustively
// switches over Kind rather than relying on type assertions.
package value

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind tags the payload carried by a Value.
type Kind uint8

const (
	KindMissing Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindObjRef
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "Missing"
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "Str"
	case KindObjRef:
		return "ObjRef"
	case KindList:
		return "List"
	default:
		return "Unknown"
	}
}

// Value is the tagged scalar/list union used as an index key.
//
// Missing is the sentinel for unresolved or absent attributes; it is a
// Value like any other so it can be filed as a bucket key (§I3 of the
// invariants: dangling paths file objects under Missing).
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	oid  uint64
	list []Value
}

// Missing is the sentinel value for unresolved or absent attributes.
var Missing = Value{kind: KindMissing}

// Null represents an explicit null/None attribute value.
var Null = Value{kind: KindNull}

func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Int(i int64) Value           { return Value{kind: KindInt, i: i} }
func Float(f float64) Value       { return Value{kind: KindFloat, f: f} }
func Str(s string) Value          { return Value{kind: KindString, s: s} }
func ObjRef(oid uint64) Value     { return Value{kind: KindObjRef, oid: oid} }
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsMissing() bool { return v.kind == KindMissing }
func (v Value) IsNull() bool    { return v.kind == KindNull }

// AsBool, AsInt, AsFloat, AsString, AsObjRef, AsList return the payload and
// whether v actually carries that kind. Callers that already branched on
// Kind() may ignore the boolean.
func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)       { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)   { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsObjRef() (uint64, bool)   { return v.oid, v.kind == KindObjRef }
func (v Value) AsList() ([]Value, bool)    { return v.list, v.kind == KindList }

// IsNumeric reports whether v is Int or Float (and, for Float, not NaN).
func (v Value) IsNumeric() bool {
	switch v.kind {
	case KindInt:
		return true
	case KindFloat:
		return !math.IsNaN(v.f)
	default:
		return false
	}
}

// IsOrdered reports whether v belongs to a family with a total order:
// numerics (excluding NaN) and strings. Booleans are also ordered
// (False < True) per §4.1 but are not inserted into range structures since
// range queries over booleans have no practical use; Eq/In still apply.
func (v Value) IsOrdered() bool {
	switch v.kind {
	case KindInt, KindString:
		return true
	case KindFloat:
		return !math.IsNaN(v.f)
	default:
		return false
	}
}

// Hashable reports whether v can be used as an equality-map key. Lists are
// hashable iff every element is hashable; NaN floats are never hashable
// since they are never equal to themselves.
func (v Value) Hashable() bool {
	switch v.kind {
	case KindFloat:
		return !math.IsNaN(v.f)
	case KindList:
		for _, e := range v.list {
			if !e.Hashable() {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Equal implements structural equality. NaN is never equal to anything,
// including another NaN, matching IEEE 754 and the spec's float-hashing
// rule.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		// Int/Float cross-kind equality is permitted by §3 ("Equality is
		// structural"); ordering crosses kinds for numerics, and thermite
		// treats numeric equality symmetrically with numeric ordering.
		if v.IsNumeric() && o.IsNumeric() {
			return numericEqual(v, o)
		}
		return false
	}
	switch v.kind {
	case KindMissing, KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		if math.IsNaN(v.f) || math.IsNaN(o.f) {
			return false
		}
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindObjRef:
		return v.oid == o.oid
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func numericEqual(a, b Value) bool {
	af, aok := numericFloat(a)
	bf, bok := numericFloat(b)
	if !aok || !bok {
		return false
	}
	return af == bf
}

func numericFloat(v Value) (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		if math.IsNaN(v.f) {
			return 0, false
		}
		return v.f, true
	default:
		return 0, false
	}
}

// Less implements the total order within a numeric/string family required
// for range queries. Cross-kind comparisons outside the numeric family
// return ok=false; callers must treat that as "predicate fails", never as
// an error (§4.2: cross-kind comparisons return empty).
func (v Value) Less(o Value) (less bool, ok bool) {
	if v.IsNumeric() && o.IsNumeric() {
		af, _ := numericFloat(v)
		bf, _ := numericFloat(o)
		return af < bf, true
	}
	if v.kind != o.kind {
		return false, false
	}
	switch v.kind {
	case KindString:
		return v.s < o.s, true
	case KindBool:
		// False < True.
		return !v.b && o.b, true
	default:
		return false, false
	}
}

// Compare returns -1/0/1 the way sort.Interface-style comparators want it,
// plus ok to mirror Less. Only used by the ordered index's btree key.
func (v Value) Compare(o Value) (cmp int, ok bool) {
	if v.Equal(o) && (v.IsOrdered() || o.IsOrdered()) {
		return 0, true
	}
	less, ok := v.Less(o)
	if !ok {
		return 0, false
	}
	if less {
		return -1, true
	}
	return 1, true
}

// String renders a debug-friendly representation; never used for equality
// or hashing.
func (v Value) String() string {
	switch v.kind {
	case KindMissing:
		return "<missing>"
	case KindNull:
		return "<null>"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindObjRef:
		return fmt.Sprintf("ObjRef(%d)", v.oid)
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<unknown>"
	}
}

// hashKey is the map key thermite's equality index actually stores Values
// under. Go map keys must be comparable; Value itself (with a []Value
// field) is not, so equality-index storage normalizes through hashKey.
type hashKey struct {
	kind Kind
	b    bool
	i    int64
	fbits uint64
	s    string
	oid  uint64
	list string // joined element hash keys, for list values
}

// HashKey returns a comparable Go value suitable as a map key for v.
// Floats hash by bit pattern (so -0.0 and +0.0 remain distinct per IEEE bit
// layout, matching the spec's "Floats hash by bit-pattern for equality").
// Panics if v is not Hashable(); callers must check Hashable() first, since
// unhashable values are the one category of input error the engine
// surfaces to the caller (§7, category 1).
func (v Value) HashKey() any {
	if !v.Hashable() {
		panic("value: HashKey called on unhashable Value")
	}
	switch v.kind {
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = fmt.Sprintf("%v", e.HashKey())
		}
		return hashKey{kind: KindList, list: strings.Join(parts, "\x1f")}
	default:
		return hashKey{
			kind:  v.kind,
			b:     v.b,
			i:     v.i,
			fbits: math.Float64bits(v.f),
			s:     v.s,
			oid:   v.oid,
		}
	}
}

// FromAny converts a plain Go scalar (or a slice of them) into a Value.
// It is the landing spot for reflection-derived attribute values; it never
// looks inside types implementing observable.Indexable — the caller
// (internal/reflectindex, internal/pathresolver) is responsible for routing
// those to path registration instead of calling FromAny on them.
//
// ok is false for types FromAny does not know how to represent (e.g. maps,
// funcs, structs that are not themselves a Value); callers should treat
// that the same as an absent attribute.
func FromAny(raw any) (v Value, ok bool) {
	switch t := raw.(type) {
	case nil:
		return Missing, true
	case Value:
		return t, true
	case bool:
		return Bool(t), true
	case int:
		return Int(int64(t)), true
	case int8:
		return Int(int64(t)), true
	case int16:
		return Int(int64(t)), true
	case int32:
		return Int(int64(t)), true
	case int64:
		return Int(t), true
	case uint:
		return Int(int64(t)), true
	case uint32:
		return Int(int64(t)), true
	case uint64:
		return Int(int64(t)), true
	case float32:
		return Float(float64(t)), true
	case float64:
		return Float(t), true
	case string:
		return Str(t), true
	case []Value:
		return List(t...), true
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = Str(s)
		}
		return List(items...), true
	case []int:
		items := make([]Value, len(t))
		for i, n := range t {
			items[i] = Int(int64(n))
		}
		return List(items...), true
	case []int64:
		items := make([]Value, len(t))
		for i, n := range t {
			items[i] = Int(n)
		}
		return List(items...), true
	case []float64:
		items := make([]Value, len(t))
		for i, f := range t {
			items[i] = Float(f)
		}
		return List(items...), true
	default:
		return Missing, false
	}
}

// SortValues orders a slice of Values using Less where possible, falling
// back to Kind order for cross-kind slices. Not called by the query path.
func SortValues(vs []Value) {
	sort.SliceStable(vs, func(i, j int) bool {
		less, ok := vs[i].Less(vs[j])
		if ok {
			return less
		}
		return vs[i].kind < vs[j].kind
	})
}
