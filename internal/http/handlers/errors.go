// Package handlers – HTTP-layer error codes.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. Generic codes mirror HTTP status semantics; the
// resolution codes mirror the resolver's failure taxonomy so that an API
// client sees the same categories the diagnostics records carry.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Resolution failure taxonomy (see internal/resolver).
	ErrCodeUndetectedEntity = "undetected_entity"
	ErrCodeAmbiguousMapping = "ambiguous_mapping"
	ErrCodeUnresolved       = "unresolved_identifier"
	ErrCodeTransientBackend = "transient_backend_failure"
	ErrCodeStaleMapping     = "stale_mapping_reference"
	ErrCodeReconcileFailed  = "reconcile_failed"
)
