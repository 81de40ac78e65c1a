package reflectindex

import (
	"testing"

	"github.com/tylerrobbins5678/thermite/observable"
	"github.com/tylerrobbins5678/thermite/value"
)

type record struct {
	Key     string
	Num     int
	hidden  string // unexported: must never be indexable
	Nested  *record
	Skipped string `thermite:"-"`
}

func TestAttributesSkipsUnexportedAndDashTagged(t *testing.T) {
	r := &record{Key: "val1", Num: 5, hidden: "x", Skipped: "y"}
	o := Wrap(r)

	var names []string
	o.Attributes(func(name string) bool {
		names = append(names, name)
		return true
	})

	want := map[string]bool{"key": true, "num": true, "nested": true}
	if len(names) != len(want) {
		t.Fatalf("got attrs %v, want exactly %v", names, want)
	}
	for _, n := range names {
		if !want[n] {
			t.Fatalf("unexpected attribute %q surfaced", n)
		}
	}
}

func TestGetRawScalarAndNested(t *testing.T) {
	inner := &record{Key: "inner"}
	outer := &record{Key: "val1", Nested: inner}
	o := Wrap(outer)

	raw := o.GetRaw("key")
	v, ok := value.FromAny(raw)
	if !ok || !v.Equal(value.Str("val1")) {
		t.Fatalf("expected key=val1, got %v", raw)
	}

	nestedRaw := o.GetRaw("nested")
	if nestedRaw != inner {
		t.Fatalf("expected nested raw to be the inner pointer, got %v", nestedRaw)
	}
}

func TestGetRawMissingNilPointer(t *testing.T) {
	outer := &record{Key: "val1"}
	o := Wrap(outer)
	if raw := o.GetRaw("nested"); raw != nil {
		t.Fatalf("expected nil raw for unset nested pointer, got %v", raw)
	}
}

func TestSetFiresNotifyAfterMutation(t *testing.T) {
	r := &record{Key: "old"}
	o := Wrap(r)

	var changes []observable.Change
	o.Subscribe(observable.SubscriberFunc(func(c observable.Change) {
		// The struct must already reflect the new value when Notify fires.
		if r.Key != "new" {
			t.Fatalf("Notify fired before storage was updated: r.Key=%q", r.Key)
		}
		changes = append(changes, c)
	}))

	o.Set("key", "new")

	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	c := changes[0]
	if !c.OldValue.Equal(value.Str("old")) || !c.NewValue.Equal(value.Str("new")) {
		t.Fatalf("unexpected change payload: %+v", c)
	}
}
