// Package reflectindex adapts plain Go structs into observable.Indexable
// without requiring callers to hand-implement attribute enumeration.
//
// Wrapping is deliberately the exception, not the rule: most of the
// teacher's domain types (channel.ZmuxChannel, channelmodel.ZmuxChannel)
// are plain structs with exported fields and a `json` tag driving wire
// shape. Object reuses that convention for an attribute-name tag
// (`thermite:"name"`), falling back to the lower-cased Go field name, and
// treats unexported fields as the Go analogue of the source contract's
// "skip underscore-prefixed names" rule (spec §9).
package reflectindex

import (
	"reflect"
	"strings"

	"github.com/tylerrobbins5678/thermite/observable"
	"github.com/tylerrobbins5678/thermite/value"
)

// Object wraps a pointer to a struct value, exposing its exported fields as
// thermite attributes and providing the Set method mutations go through so
// that observable.Subject.Notify fires after the field has actually changed,
// per the write-side-effect contract in spec §4.4.
type Object struct {
	observable.Subject

	ptr    any
	rv     reflect.Value // addressable struct value
	rt     reflect.Type
	fields map[string]int // attr name -> struct field index
	order  []string       // deterministic enumeration order
}

// Wrap returns an Object adapting ptr (which must be a non-nil pointer to a
// struct) to observable.Indexable. Attribute-name collisions are resolved
// first-field-wins (in struct declaration order), matching a defensive,
// explicit policy over silent overwriting.
func Wrap(ptr any) *Object {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		panic("reflectindex: Wrap requires a pointer to a struct")
	}
	rv = rv.Elem()
	rt := rv.Type()

	o := &Object{
		ptr:    ptr,
		rv:     rv,
		rt:     rt,
		fields: make(map[string]int, rt.NumField()),
	}

	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.PkgPath != "" {
			// Unexported field: not indexable, mirrors "skip
			// underscore-prefixed" for the Go field-visibility model.
			continue
		}
		name := fieldAttrName(f)
		if name == "-" {
			continue
		}
		if _, exists := o.fields[name]; exists {
			continue // first tag wins
		}
		o.fields[name] = i
		o.order = append(o.order, name)
	}

	return o
}

func fieldAttrName(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("thermite"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

// Attributes implements observable.Indexable.
func (o *Object) Attributes(yield func(name string) bool) {
	for _, name := range o.order {
		if !yield(name) {
			return
		}
	}
}

// GetRaw implements observable.Indexable. It returns the field's current
// Go value, unconverted: a nested struct pointer, a slice, or a plain
// scalar, for the caller to classify.
func (o *Object) GetRaw(name string) any {
	idx, ok := o.fields[name]
	if !ok {
		return nil
	}
	fv := o.rv.Field(idx)
	if !fv.IsValid() {
		return nil
	}
	if (fv.Kind() == reflect.Ptr || fv.Kind() == reflect.Interface) && fv.IsNil() {
		return nil
	}
	return fv.Interface()
}

// Set assigns the named field to newVal and fires a Notify with the prior
// value, after the struct field has been updated — mirroring the spec's
// "attribute write side-effect ... after the underlying storage has been
// updated" ordering.
func (o *Object) Set(name string, newVal any) {
	idx, ok := o.fields[name]
	if !ok {
		return
	}
	fv := o.rv.Field(idx)

	oldRaw := o.GetRaw(name)
	fv.Set(reflect.ValueOf(newVal).Convert(fv.Type()))

	newRaw := o.GetRaw(name)
	o.Notify(observable.Change{
		Object:   o,
		Attr:     name,
		OldValue: classifyScalar(oldRaw),
		NewValue: classifyScalar(newRaw),
		OldRaw:   oldRaw,
		NewRaw:   newRaw,
	})
}

// classifyScalar best-effort converts raw into a value.Value for the
// notification payload; nested observables carry no meaningful scalar
// value.Value and are reported as Missing here — the path resolver walks
// Change.OldRaw/NewRaw and re-reads GetRaw in that case, not this field.
func classifyScalar(raw any) value.Value {
	if raw == nil {
		return value.Missing
	}
	if _, isIndexable := raw.(observable.Indexable); isIndexable {
		return value.Missing
	}
	v, ok := value.FromAny(raw)
	if !ok {
		return value.Missing
	}
	return v
}

// Ptr returns the wrapped pointer, typed as any, for callers that need to
// hand it back to application code (e.g. after AddObject).
func (o *Object) Ptr() any { return o.ptr }
