package index

import (
	"testing"

	"github.com/tylerrobbins5678/thermite/internal/reflectindex"
	"github.com/tylerrobbins5678/thermite/observable"
	"github.com/tylerrobbins5678/thermite/query"
	"github.com/tylerrobbins5678/thermite/value"
)

// These mirror spec.md's literal end-to-end scenarios S1-S6, one test per
// scenario, using the same object shapes the scenario descriptions name.

func TestScenarioS1EqualityOnTwoObjects(t *testing.T) {
	ix := New(nil)
	type rec struct {
		Key string `thermite:"key"`
	}
	o1id, err := AddObject(ix, reflectindex.Wrap(&rec{Key: "val1"}))
	if err != nil {
		t.Fatalf("AddObject o1: %v", err)
	}
	if _, err := AddObject(ix, reflectindex.Wrap(&rec{Key: "val2"})); err != nil {
		t.Fatalf("AddObject o2: %v", err)
	}

	got := ix.GetByAttribute(query.Eq("key", value.Str("val1")))
	if len(got) != 1 {
		t.Fatalf("expected exactly {o1}, got %v", got)
	}
	if _, ok := got[o1id]; !ok {
		t.Fatalf("expected o1 in result, got %v", got)
	}
}

func TestScenarioS2RangeOverTwelveRecords(t *testing.T) {
	ix := New(nil)
	type rec struct {
		Num int64 `thermite:"num"`
	}
	for i := 0; i < 12; i++ {
		if _, err := AddObject(ix, reflectindex.Wrap(&rec{Num: int64(i)})); err != nil {
			t.Fatalf("AddObject %d: %v", i, err)
		}
	}
	got := ix.ReducedQuery(query.Between("num", value.Int(3), value.Int(7), true, true)).Collect()
	if len(got) != 5 {
		t.Fatalf("expected 5 matches for num in [3,7], got %d", len(got))
	}
}

type s3Inner struct {
	observable.Subject
	num int
}

func (i *s3Inner) Attributes(yield func(string) bool) { yield("num") }
func (i *s3Inner) GetRaw(name string) any {
	if name == "num" {
		return i.num
	}
	return nil
}
func (i *s3Inner) SetNum(v int) {
	old := i.num
	i.num = v
	i.Notify(observable.Change{Object: i, Attr: "num", OldRaw: old, NewRaw: v})
}

type s34Outer struct {
	observable.Subject
	x any // either *s3Inner or a plain int, to exercise S4's scalar replacement
}

func (o *s34Outer) Attributes(yield func(string) bool) { yield("x") }
func (o *s34Outer) GetRaw(name string) any {
	if name != "x" {
		return nil
	}
	return o.x
}
func (o *s34Outer) SetX(v any) {
	old := o.x
	o.x = v
	o.Notify(observable.Change{Object: o, Attr: "x", OldRaw: old, NewRaw: v})
}

func TestScenarioS3NestedPathMutation(t *testing.T) {
	ix := New(nil)
	inner := &s3Inner{num: 10}
	outer := &s34Outer{x: inner}
	oid, err := AddObject(ix, outer)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	if got := ix.GetByAttribute(query.Eq("x.num", value.Int(10))); len(got) != 1 {
		t.Fatalf("expected {outer} for x.num=10, got %v", got)
	}

	inner.SetNum(20)

	if got := ix.GetByAttribute(query.Eq("x.num", value.Int(10))); len(got) != 0 {
		t.Fatalf("expected empty for x.num=10 after mutation, got %v", got)
	}
	got := ix.GetByAttribute(query.Eq("x.num", value.Int(20)))
	if _, ok := got[oid]; !ok {
		t.Fatalf("expected {outer} for x.num=20, got %v", got)
	}
}

func TestScenarioS4NestedReplacementWithScalar(t *testing.T) {
	ix := New(nil)
	outer := &s34Outer{x: &s3Inner{num: 20}}
	oid, err := AddObject(ix, outer)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	outer.SetX(7)

	got := ix.GetByAttribute(query.Eq("x", value.Int(7)))
	if _, ok := got[oid]; !ok {
		t.Fatalf("expected {outer} for x=7, got %v", got)
	}
	if got := ix.GetByAttribute(query.Eq("x.num", value.Int(20))); len(got) != 0 {
		t.Fatalf("expected x.num=20 to be unreachable after scalar replacement, got %v", got)
	}
}

type s5Child struct {
	observable.Subject
	num int
}

func (c *s5Child) Attributes(yield func(string) bool) { yield("num") }
func (c *s5Child) GetRaw(name string) any {
	if name == "num" {
		return c.num
	}
	return nil
}
func (c *s5Child) SetNum(v int) {
	old := c.num
	c.num = v
	c.Notify(observable.Change{Object: c, Attr: "num", OldRaw: old, NewRaw: v})
}

type s5Parent struct {
	observable.Subject
	nested []*s5Child
}

func (p *s5Parent) Attributes(yield func(string) bool) { yield("nested") }
func (p *s5Parent) GetRaw(name string) any {
	if name != "nested" {
		return nil
	}
	return p.nested
}
func (p *s5Parent) SetNested(v []*s5Child) {
	old := p.nested
	p.nested = v
	p.Notify(observable.Change{Object: p, Attr: "nested", OldRaw: old, NewRaw: v})
}

func TestScenarioS5GroupByRepartitionsOnListReassignment(t *testing.T) {
	ix := New(nil)
	parents := make([]*s5Parent, 5)
	for i := range parents {
		parents[i] = &s5Parent{nested: []*s5Child{{num: 0}, {num: 1}, {num: 2}}}
		if _, err := AddObject(ix, parents[i]); err != nil {
			t.Fatalf("AddObject parent %d: %v", i, err)
		}
	}

	for _, want := range []int64{0, 1, 2} {
		if got := ix.GetByAttribute(query.Eq("nested.num", value.Int(want))); len(got) != 5 {
			t.Fatalf("expected 5 parents under nested.num=%d, got %d", want, len(got))
		}
	}

	for _, p := range parents {
		p.SetNested(nil)
	}
	for _, want := range []int64{0, 1, 2} {
		if got := ix.GetByAttribute(query.Eq("nested.num", value.Int(want))); len(got) != 0 {
			t.Fatalf("expected nested.num=%d empty after clearing, got %v", want, got)
		}
	}

	for _, p := range parents {
		p.SetNested([]*s5Child{{num: 100}, {num: 101}, {num: 102}})
	}
	if got := ix.GetByAttribute(query.Eq("nested.num", value.Int(100))); len(got) != 5 {
		t.Fatalf("expected 5 parents under nested.num=100, got %d", len(got))
	}

	for _, p := range parents {
		p.nested[0].SetNum(999)
	}
	if got := ix.GetByAttribute(query.Eq("nested.num", value.Int(999))); len(got) != 5 {
		t.Fatalf("expected 5 parents under nested.num=999, got %d", len(got))
	}
	if got := ix.GetByAttribute(query.Eq("nested.num", value.Int(100))); len(got) != 0 {
		t.Fatalf("expected nested.num=100 empty after every parent's [0] moved to 999, got %v", got)
	}
}

func TestScenarioS6CompoundOrOfAnds(t *testing.T) {
	ix := New(nil)
	type rec struct {
		A int64 `thermite:"a"`
		B int64 `thermite:"b"`
		C int64 `thermite:"c"`
		D int64 `thermite:"d"`
		E int64 `thermite:"e"`
	}
	// Exactly one record satisfies a=1 and (b=1 or c=1) and d=1 and e=1.
	want := &rec{A: 1, B: 1, C: 0, D: 1, E: 1}
	decoys := []*rec{
		{A: 0, B: 1, C: 1, D: 1, E: 1}, // fails a=1
		{A: 1, B: 0, C: 0, D: 1, E: 1}, // fails b-or-c
		{A: 1, B: 1, C: 0, D: 0, E: 1}, // fails d=1
		{A: 1, B: 1, C: 0, D: 1, E: 0}, // fails e=1
	}

	wantID, err := AddObject(ix, reflectindex.Wrap(want))
	if err != nil {
		t.Fatalf("AddObject want: %v", err)
	}
	for _, d := range decoys {
		if _, err := AddObject(ix, reflectindex.Wrap(d)); err != nil {
			t.Fatalf("AddObject decoy: %v", err)
		}
	}

	expr := query.And(
		query.Eq("a", value.Int(1)),
		query.Or(query.Eq("b", value.Int(1)), query.Eq("c", value.Int(1))),
		query.Eq("d", value.Int(1)),
		query.Eq("e", value.Int(1)),
	)
	got := ix.ReducedQuery(expr).Ids()
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 match, got %d: %v", len(got), got)
	}
	if _, ok := got[wantID]; !ok {
		t.Fatalf("expected the matching record in result, got %v", got)
	}
}
