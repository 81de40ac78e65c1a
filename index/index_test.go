package index

import (
	"sync"
	"testing"

	"github.com/tylerrobbins5678/thermite/internal/reflectindex"
	"github.com/tylerrobbins5678/thermite/observable"
	"github.com/tylerrobbins5678/thermite/query"
	"github.com/tylerrobbins5678/thermite/value"
)

type widget struct {
	Name  string `thermite:"name"`
	Price int64  `thermite:"price"`
}

func wrap(t *testing.T, w *widget) (*reflectindex.Object, func(attr string, v any)) {
	t.Helper()
	o := reflectindex.Wrap(w)
	return o, o.Set
}

func TestAddObjectFilesEveryAttribute(t *testing.T) {
	ix := New(nil)
	o, _ := wrap(t, &widget{Name: "bolt", Price: 10})
	oid, err := AddObject(ix, o)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	ids := ix.GetByAttribute(query.Eq("name", value.Str("bolt")))
	if _, ok := ids[oid]; !ok {
		t.Fatalf("expected oid in name=bolt bucket, got %v", ids)
	}
	ids = ix.GetByAttribute(query.Eq("price", value.Int(10)))
	if _, ok := ids[oid]; !ok {
		t.Fatalf("expected oid in price=10 bucket, got %v", ids)
	}
}

func TestAddObjectIsIdempotent(t *testing.T) {
	ix := New(nil)
	o, _ := wrap(t, &widget{Name: "bolt", Price: 10})

	id1, err := AddObject(ix, o)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	id2, err := AddObject(ix, o)
	if err != nil {
		t.Fatalf("AddObject (second call): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected the same oid on a repeat AddObject, got %d and %d", id1, id2)
	}

	ids := ix.GetByAttribute(query.Eq("name", value.Str("bolt")))
	if len(ids) != 1 {
		t.Fatalf("expected exactly one oid under name=bolt after double-add, got %v", ids)
	}
	if got := len(ix.Universe()); got != 1 {
		t.Fatalf("expected exactly one tracked object after double-add, got %d", got)
	}
}

func TestAddObjectRejectsNonIndexable(t *testing.T) {
	ix := New(nil)
	type plain struct{ X int }
	if _, err := AddObject(ix, &plain{}); err == nil {
		t.Fatalf("expected ErrNotIndexable")
	}
}

func TestOnChangeRefilesAttribute(t *testing.T) {
	ix := New(nil)
	w := &widget{Name: "bolt", Price: 10}
	o := reflectindex.Wrap(w)
	oid, err := AddObject(ix, o)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	o.Set("price", int64(20))

	if ids := ix.GetByAttribute(query.Eq("price", value.Int(10))); len(ids) != 0 {
		t.Fatalf("expected price=10 bucket empty after mutation, got %v", ids)
	}
	ids := ix.GetByAttribute(query.Eq("price", value.Int(20)))
	if _, ok := ids[oid]; !ok {
		t.Fatalf("expected oid under price=20, got %v", ids)
	}
}

func TestRemoveObjectClearsEveryShard(t *testing.T) {
	ix := New(nil)
	o := reflectindex.Wrap(&widget{Name: "bolt", Price: 10})
	oid, err := AddObject(ix, o)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	if err := ix.RemoveObject(oid); err != nil {
		t.Fatalf("RemoveObject: %v", err)
	}
	if ids := ix.GetByAttribute(query.Eq("name", value.Str("bolt"))); len(ids) != 0 {
		t.Fatalf("expected empty bucket after removal, got %v", ids)
	}
	if err := ix.RemoveObject(oid); err == nil {
		t.Fatalf("expected ErrNotTracked on double removal")
	}
}

func TestWithDefaultFilesAbsentAttribute(t *testing.T) {
	ix := New(nil)
	type bareWidget struct {
		Name string `thermite:"name"`
	}
	o := reflectindex.Wrap(&bareWidget{Name: "bolt"})
	oid, err := AddObject(ix, o, WithDefault("price", value.Int(0)))
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	ids := ix.GetByAttribute(query.Eq("price", value.Int(0)))
	if _, ok := ids[oid]; !ok {
		t.Fatalf("expected oid filed under default price=0, got %v", ids)
	}
}

func TestGetByAttributeAndsMultiplePredicates(t *testing.T) {
	ix := New(nil)
	boltTen := reflectindex.Wrap(&widget{Name: "bolt", Price: 10})
	AddObject(ix, boltTen)
	AddObject(ix, reflectindex.Wrap(&widget{Name: "bolt", Price: 20}))
	AddObject(ix, reflectindex.Wrap(&widget{Name: "nut", Price: 10}))

	got := ix.GetByAttribute(query.Eq("name", value.Str("bolt")), query.Eq("price", value.Int(10)))
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 match for name=bolt AND price=10, got %d: %v", len(got), got)
	}

	view := ix.Reduced(query.Eq("name", value.Str("bolt")), query.Eq("price", value.Int(10)))
	if len(view.Collect()) != 1 {
		t.Fatalf("expected Reduced with multiple predicates to narrow the same way")
	}
}

func TestGetByAttributeWithInListMeansOr(t *testing.T) {
	ix := New(nil)
	AddObject(ix, reflectindex.Wrap(&widget{Name: "bolt", Price: 10}))
	AddObject(ix, reflectindex.Wrap(&widget{Name: "nut", Price: 20}))
	AddObject(ix, reflectindex.Wrap(&widget{Name: "washer", Price: 30}))

	got := ix.GetByAttribute(query.In("price", value.Int(10), value.Int(20)))
	if len(got) != 2 {
		t.Fatalf("expected 2 matches for price in {10,20}, got %d: %v", len(got), got)
	}
}

func TestReducedQueryNarrowsLiveView(t *testing.T) {
	ix := New(nil)
	AddObject(ix, reflectindex.Wrap(&widget{Name: "bolt", Price: 10}))
	AddObject(ix, reflectindex.Wrap(&widget{Name: "nut", Price: 10}))
	AddObject(ix, reflectindex.Wrap(&widget{Name: "bolt", Price: 20}))

	view := ix.ReducedQuery(query.And(
		query.Eq("name", value.Str("bolt")),
		query.Eq("price", value.Int(10)),
	))
	got := view.Collect()
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 match, got %d", len(got))
	}
}

func TestReducedViewStaysLiveAcrossMutation(t *testing.T) {
	ix := New(nil)
	w := &widget{Name: "bolt", Price: 10}
	o := reflectindex.Wrap(w)
	AddObject(ix, o)

	view := ix.Reduced(query.Eq("price", value.Int(10)))
	if len(view.Collect()) != 1 {
		t.Fatalf("expected 1 match before mutation")
	}

	o.Set("price", int64(99))
	if len(view.Collect()) != 0 {
		t.Fatalf("expected live view to reflect mutation, got non-empty")
	}
}

func TestGroupByPartitionsCurrentValues(t *testing.T) {
	ix := New(nil)
	AddObject(ix, reflectindex.Wrap(&widget{Name: "bolt", Price: 10}))
	AddObject(ix, reflectindex.Wrap(&widget{Name: "nut", Price: 10}))
	AddObject(ix, reflectindex.Wrap(&widget{Name: "washer", Price: 20}))

	groups := ix.GroupBy("price")
	total := 0
	for _, g := range groups {
		total += len(g.View.Collect())
	}
	if total != 3 {
		t.Fatalf("expected groups to partition all 3 objects, got %d", total)
	}
}

func TestAddObjectManyTracksEveryObject(t *testing.T) {
	ix := New(nil)
	widgets := make([]*reflectindex.Object, 0, 50)
	for i := 0; i < 50; i++ {
		widgets = append(widgets, reflectindex.Wrap(&widget{Name: "w", Price: int64(i)}))
	}
	ids, err := AddObjectMany(ix, widgets)
	if err != nil {
		t.Fatalf("AddObjectMany: %v", err)
	}
	if len(ids) != 50 {
		t.Fatalf("expected 50 ids, got %d", len(ids))
	}
	if got := len(ix.Universe()); got != 50 {
		t.Fatalf("expected 50 tracked objects, got %d", got)
	}
}

// TestConcurrentAddAndQuery mirrors the original source's
// multithreaded_performance_test: concurrent AddObject calls racing
// against concurrent queries must leave the index in a consistent state,
// verifiable under go test -race.
func TestConcurrentAddAndQuery(t *testing.T) {
	ix := New(nil)
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			AddObject(ix, reflectindex.Wrap(&widget{Name: "w", Price: int64(i % 5)}))
		}()
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				ix.GetByAttribute(query.Eq("price", value.Int(0)))
			}
		}
	}()

	wg.Wait()
	close(done)

	if got := len(ix.Universe()); got != n {
		t.Fatalf("expected %d tracked objects, got %d", n, got)
	}
	total := 0
	for v := int64(0); v < 5; v++ {
		total += len(ix.GetByAttribute(query.Eq("price", value.Int(v))))
	}
	if total != n {
		t.Fatalf("expected buckets to partition all %d objects, got %d", n, total)
	}
}

var _ observable.Subscriber = (*Index)(nil)

type linkInner struct {
	observable.Subject
	num int
}

func (t *linkInner) Attributes(yield func(string) bool) { yield("num") }

func (t *linkInner) GetRaw(name string) any {
	if name == "num" {
		return t.num
	}
	return nil
}

type linkOuter struct {
	observable.Subject
	x *linkInner
}

func (t *linkOuter) Attributes(yield func(string) bool) { yield("x") }

func (t *linkOuter) GetRaw(name string) any {
	if name != "x" || t.x == nil {
		return nil
	}
	return t.x
}

func (t *linkOuter) SetX(v *linkInner) {
	old := t.GetRaw("x")
	t.x = v
	t.Notify(observable.Change{Object: t, Attr: "x", OldRaw: old, NewRaw: v})
}

func TestDottedPathQueryFollowsLinkAndMutation(t *testing.T) {
	ix := New(nil)
	outer := &linkOuter{x: &linkInner{num: 5}}
	oid, err := AddObject(ix, outer)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	ids := ix.GetByAttribute(query.Eq("x.num", value.Int(5)))
	if _, ok := ids[oid]; !ok {
		t.Fatalf("expected oid filed under x.num=5, got %v", ids)
	}

	outer.SetX(&linkInner{num: 9})
	if ids := ix.GetByAttribute(query.Eq("x.num", value.Int(5))); len(ids) != 0 {
		t.Fatalf("expected x.num=5 bucket empty after link replaced, got %v", ids)
	}
	ids = ix.GetByAttribute(query.Eq("x.num", value.Int(9)))
	if _, ok := ids[oid]; !ok {
		t.Fatalf("expected oid filed under x.num=9 after replace, got %v", ids)
	}
}
