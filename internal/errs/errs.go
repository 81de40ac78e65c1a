// Package errs collects thermite's error taxonomy. Only category 1 of the
// spec's error design (unhashable attribute values) surfaces to callers;
// everything else is a local recovery with documented observable behavior
// (Missing sentinels, truncated traversals) rather than a returned error.
package errs

import "errors"

var (
	// ErrUnhashable is returned when an attribute value cannot be used as
	// an equality-map key (e.g. a float NaN, or a list containing one).
	// The object is rejected from that attribute only; other attributes on
	// the same object still index successfully.
	ErrUnhashable = errors.New("thermite: unhashable attribute value")

	// ErrNotTracked is returned by Index.RemoveObject for an object id the
	// registry no longer holds.
	ErrNotTracked = errors.New("thermite: object is not tracked by this index")

	// ErrClosed reports an operation on a dropped index. No operation in
	// this module returns it: FilteredIndex methods do not return errors.
	ErrClosed = errors.New("thermite: index is closed")

	// ErrNotIndexable is returned by AddObject when *T does not implement
	// observable.Indexable.
	ErrNotIndexable = errors.New("thermite: type does not implement observable.Indexable")
)
