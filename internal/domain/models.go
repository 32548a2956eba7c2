// Package domain defines the core types shared across the resolution
// subsystem: external identifier mappings, resolved credential bundles,
// detection results, and correlation records. Wire types are plain JSON
// structs; locally persisted types are mapped with GORM (see local.go).
package domain

import (
	"fmt"
	"time"
)

// EntityType classifies what kind of business entity a mapping refers to.
type EntityType string

// Supported entity types. A sync-agent family declares which of these it
// requires; clinic is always required.
const (
	EntityClinic   EntityType = "clinic"
	EntityProvider EntityType = "provider"
	EntityLocation EntityType = "location"
)

// Valid reports whether t is one of the supported entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityClinic, EntityProvider, EntityLocation:
		return true
	}
	return false
}

// Source records where a resolved bundle ultimately came from.
type Source string

const (
	// SourceCache means every sub-result was served from the local cache.
	SourceCache Source = "cache"
	// SourceMappingStore means at least one sub-result required a store lookup.
	SourceMappingStore Source = "mapping-store"
	// SourceLegacyFallback means at least one sub-result fell back to the
	// locally persisted legacy configuration and none came from the store.
	SourceLegacyFallback Source = "legacy-fallback"
)

// MappingKey is the composite key identifying one external-id mapping.
// It is unique among active rows in the mapping store.
type MappingKey struct {
	System     string     `json:"system"`
	ExternalID string     `json:"externalIdentifier"`
	EntityType EntityType `json:"entityType"`
}

// String renders the key in its canonical "system|externalId|entityType"
// form, used as the cache key and in diagnostics metadata.
func (k MappingKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.System, k.ExternalID, k.EntityType)
}

// ExternalIdMapping binds a stable external name to the current internal
// primary key. Rows are never deleted in the store, only deactivated, so
// the audit trail across database reseeds is preserved.
type ExternalIdMapping struct {
	System     string     `json:"system"`
	ExternalID string     `json:"externalIdentifier"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	IsActive   bool       `json:"isActive"`
	Notes      string     `json:"notes,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt,omitempty"`
}

// Key returns the composite mapping key for this row.
func (m ExternalIdMapping) Key() MappingKey {
	return MappingKey{System: m.System, ExternalID: m.ExternalID, EntityType: m.EntityType}
}

// ResolvedCredentialBundle is the resolver's output for one agent
// invocation. A bundle is either fully resolved against the system's
// declared shape or resolution fails with a typed error; partial bundles
// are never returned. Bundles are immutable after construction.
//
// BackendKey is an opaque secret: it must never appear in logs or
// diagnostics metadata (only presence and length class may be recorded).
type ResolvedCredentialBundle struct {
	ClinicID   string `json:"clinicId"`
	ProviderID string `json:"providerId,omitempty"`
	LocationID string `json:"locationId,omitempty"`

	BackendURL string `json:"backendUrl"`
	BackendKey string `json:"-"`

	ResolvedAt time.Time `json:"resolvedAt"`
	Source     Source    `json:"source"`
}

// IDFor returns the resolved internal id for the given entity type.
func (b ResolvedCredentialBundle) IDFor(t EntityType) string {
	switch t {
	case EntityClinic:
		return b.ClinicID
	case EntityProvider:
		return b.ProviderID
	case EntityLocation:
		return b.LocationID
	}
	return ""
}

// Confidence grades how certain the auto-detector is about a match.
type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// DetectionResult is the auto-detector's answer for one raw title.
// ConfidenceNone is equivalent to "no detection": callers must not proceed
// to resolution with it.
type DetectionResult struct {
	EntityCode     string     `json:"entityCode"`
	DisplayName    string     `json:"displayName"`
	Confidence     Confidence `json:"confidence"`
	MatchedPattern string     `json:"matchedPattern"`

	// Codes carries the external identifier for every entity type the
	// matched registry entry knows about (its own code plus associated
	// clinic/location codes), keyed by entity type.
	Codes map[EntityType]string `json:"codes,omitempty"`
}

// Detected reports whether the result represents an actual match.
func (d DetectionResult) Detected() bool { return d.Confidence != ConfidenceNone }

// CorrelationRecord is one closed diagnostics entry. Records are created at
// the start of every resolution/HTTP operation, closed exactly once, and
// immutable after close. Metadata values are scalars only.
type CorrelationRecord struct {
	CorrelationID string         `json:"correlation_id"`
	Operation     string         `json:"operation"`
	StartedAt     time.Time      `json:"started_at"`
	DurationMs    int64          `json:"duration_ms"`
	Outcome       string         `json:"outcome"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
