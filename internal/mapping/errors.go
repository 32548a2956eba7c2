// Package mapping – sentinel errors for mapping-store access.
//
// These are configuration-gap conditions, not transient ones: callers must
// never retry them automatically. Transport-level problems surface as
// *backend.Failure instead.
package mapping

import "errors"

var (
	// ErrNotFound indicates no active mapping row matched the composite key.
	ErrNotFound = errors.New("mapping not found")

	// ErrAmbiguous indicates more than one active row matched a key that is
	// supposed to be unique. This is mapping-store drift requiring operator
	// attention; resolution must fail rather than guess.
	ErrAmbiguous = errors.New("ambiguous mapping")

	// ErrStaleReference indicates a mapping points at an entity id that no
	// longer exists (typically after a reseed deleted the referenced row).
	ErrStaleReference = errors.New("stale mapping reference")

	// ErrInvalidKey indicates a lookup or upsert used an unsupported entity
	// type.
	ErrInvalidKey = errors.New("invalid mapping key")
)
