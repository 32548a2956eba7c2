// Package resolver – typed resolution errors.
//
// Resolution-time errors represent configuration gaps, not transient
// conditions: they are never retried automatically and carry enough
// context (system, entity type, code, correlation id) to diagnose without
// re-running. Only transient backend failures may be retried, and only by
// scheduling a whole new sync cycle outside this subsystem.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kamdental/dental-sync/internal/domain"
)

// Kind discriminates the resolution error taxonomy.
type Kind string

const (
	// KindUndetectedEntity: the auto-detector returned confidence "none".
	// Surfaced with the raw title so an operator can extend the registry.
	KindUndetectedEntity Kind = "undetected_entity"
	// KindAmbiguousMapping: more than one active mapping row matched a
	// unique key. Fatal for the resolution; never guessed around.
	KindAmbiguousMapping Kind = "ambiguous_mapping"
	// KindUnresolvedIdentifier: no mapping and no legacy fallback for at
	// least one required key. The bundle fails atomically.
	KindUnresolvedIdentifier Kind = "unresolved_identifier"
	// KindTransientBackendFailure: the retry budget was exhausted on
	// 429/5xx/transport errors. Distinct from unresolved: the mapping may
	// well exist.
	KindTransientBackendFailure Kind = "transient_backend_failure"
	// KindStaleMappingReference: a mapping pointed at an entity id that no
	// longer exists. Equivalent to unresolved for the caller, logged at
	// higher severity because it indicates mapping-store drift.
	KindStaleMappingReference Kind = "stale_mapping_reference"
)

// ErrUnknownSystem is returned when resolution is requested for a system
// with no declared shape. This is caller misconfiguration, outside the
// resolution taxonomy.
var ErrUnknownSystem = errors.New("unknown system: no declared shape")

// ErrNoBackendConfig is returned when no backend URL/key is available to
// complete a bundle.
var ErrNoBackendConfig = errors.New("backend connection not configured")

// KeyRef identifies one required sub-resolution that failed.
type KeyRef struct {
	EntityType domain.EntityType `json:"entityType"`
	Code       string            `json:"code"`
	// Stale marks keys whose mapping existed but referenced a deleted
	// entity.
	Stale bool `json:"stale,omitempty"`
}

// ResolutionError is the typed failure returned by Resolve. Callers must
// treat the bundle as absent; partial bundles are never produced.
type ResolutionError struct {
	Kind          Kind
	System        string
	RawTitle      string   // set for undetected-entity failures
	Unresolved    []KeyRef // set for unresolved/stale failures
	CorrelationID string
	Err           error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "resolution failed (%s) for system %q", e.Kind, e.System)
	if len(e.Unresolved) > 0 {
		parts := make([]string, len(e.Unresolved))
		for i, k := range e.Unresolved {
			parts[i] = fmt.Sprintf("%s=%q", k.EntityType, k.Code)
		}
		fmt.Fprintf(&b, ": unresolved %s", strings.Join(parts, ", "))
	}
	if e.RawTitle != "" {
		fmt.Fprintf(&b, ": title %q", e.RawTitle)
	}
	if e.CorrelationID != "" {
		fmt.Fprintf(&b, " [correlation %s]", e.CorrelationID)
	}
	return b.String()
}

// Unwrap exposes the underlying cause, if any.
func (e *ResolutionError) Unwrap() error { return e.Err }

// KindOf extracts the resolution error kind from err, if it is (or wraps)
// a ResolutionError.
func KindOf(err error) (Kind, bool) {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}
