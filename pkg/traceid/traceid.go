// Package traceid generates short correlation identifiers for structured
// logs, adapted from internal/http/middleware.RequestID's accept-or-generate
// policy (accept a caller-supplied id if it looks plausible, otherwise mint
// a fresh one) with the HTTP/gin framing stripped out: thermitebench has no
// request to carry an id on, only a run.
package traceid

import "github.com/google/uuid"

// New returns a fresh identifier.
func New() string {
	return uuid.New().String()
}

// OrNew returns provided if its length is within a plausible id's bounds,
// otherwise a fresh one — the same length-sanity check RequestID applied to
// an inbound X-Request-ID header before trusting it.
func OrNew(provided string) string {
	if l := len(provided); l >= 1 && l <= 64 {
		return provided
	}
	return New()
}
