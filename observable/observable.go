// Package observable defines the contract by which mutable user objects
// announce attribute changes to subscribed indices (spec §4.4), and a
// small embeddable Subject that implements the synchronous notify-on-write
// side of that contract.
//
// The pattern is grounded on the hook-callback discipline the teacher uses
// for side-effecting state transitions (deleteChannelHook / enableChannelHook
// / disableChannelHook in the channel service): callbacks are registered up
// front and invoked synchronously, in the writer's goroutine, around the
// state change they announce.
package observable

import (
	"reflect"

	"github.com/tylerrobbins5678/thermite/value"
)

// Change describes a single attribute mutation.
//
// OldValue/NewValue carry the scalar classification for consumers that only
// ever care about leaf values (the plain per-attribute index, C2/C3).
// OldRaw/NewRaw carry the un-classified Go value straight from GetRaw: the
// path resolver (C5) needs these to walk a link attribute's old and new
// target, which classifyScalar deliberately collapses to Missing.
type Change struct {
	Object   Indexable
	Attr     string
	OldValue value.Value // value.Missing if this is the first write
	NewValue value.Value // value.Missing if the attribute was deleted
	OldRaw   any
	NewRaw   any
}

// Subscriber receives change notifications. OnChange must not block for
// long: the writer's mutating call does not return until every subscriber's
// OnChange returns (spec: "the notify call returns only after all
// subscribers have applied the change").
type Subscriber interface {
	OnChange(c Change)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(c Change)

func (f SubscriberFunc) OnChange(c Change) { f(c) }

// Indexable is the contract user-defined objects must implement to be
// tracked by an Index: attribute enumeration/read by name, plus
// subscribe/unsubscribe for the indices that want to hear about mutations.
//
// GetRaw deliberately returns the un-classified Go value rather than a
// value.Value: an attribute may resolve to a scalar, to another Indexable
// (a link the path resolver must walk, §4.5), or to a slice of either
// (one-to-many fan-out). Classification is the engine's job (spec §4.3),
// not the object's — see value.FromAny.
type Indexable interface {
	// Attributes yields every publicly indexable attribute name. Names
	// beginning with an underscore, or unexported Go struct fields in the
	// default reflective implementation, are never yielded.
	Attributes(yield func(name string) bool)

	// GetRaw returns the current raw value of the named attribute, or nil
	// if the object does not expose it.
	GetRaw(name string) any

	Subscribe(sub Subscriber)
	Unsubscribe(sub Subscriber)
}

// Subject is an embeddable helper that implements the subscribe/unsubscribe
// and synchronous-notify half of Indexable. User types embed Subject and
// call Notify from their attribute setters after the new value has been
// stored, exactly as the spec requires ("attribute write side-effect ...
// emit ... after the underlying storage has been updated").
//
// Subject is intentionally not safe for concurrent Subscribe/Notify from
// multiple writer goroutines mutating the SAME object without external
// synchronization — ownership of one object's mutation is expected to rest
// with one goroutine at a time, matching the teacher's per-ID mutex
// convention (services.ChannelService.lock) which callers are expected to
// hold around a single object's write path.
type Subject struct {
	subs []Subscriber
}

// Subscribe registers sub to receive future Notify calls. Re-subscribing an
// already-subscribed sub is a no-op (see sameSubscriber for how subscribers
// are matched).
func (s *Subject) Subscribe(sub Subscriber) {
	for _, existing := range s.subs {
		if sameSubscriber(existing, sub) {
			return
		}
	}
	s.subs = append(s.subs, sub)
}

// sameSubscriber compares with == wherever the dynamic type allows it. Func
// subscribers (SubscriberFunc) are not comparable with ==, so they are matched
// by code pointer: two closures made from the same function literal count as
// one subscriber.
func sameSubscriber(a, b Subscriber) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || ta.Comparable() {
		return a == b
	}
	return ta.Kind() == reflect.Func && reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// Unsubscribe removes sub; no-op if not subscribed.
func (s *Subject) Unsubscribe(sub Subscriber) {
	for i, existing := range s.subs {
		if sameSubscriber(existing, sub) {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Notify delivers c to every subscriber in registration order, synchronously.
// Notifications from a single writer to a single subscriber are delivered
// in program order because Notify is called once per mutation, in order, by
// the writer itself.
func (s *Subject) Notify(c Change) {
	for _, sub := range s.subs {
		sub.OnChange(c)
	}
}
