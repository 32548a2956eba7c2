// Package mapping provides typed access to the backend's external-id
// mapping table: the rows binding (system, externalIdentifier, entityType)
// to the current internal primary key. It is the only component that talks
// to the backend for identity lookups; all calls go through the resilient
// backend client.
package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/kamdental/dental-sync/internal/backend"
	"github.com/kamdental/dental-sync/internal/domain"
)

// Client reads and upserts external-id mappings.
type Client struct {
	backend *backend.Client
}

// NewClient wraps the given backend client.
func NewClient(b *backend.Client) *Client {
	return &Client{backend: b}
}

// entityPaths maps an entity type to its REST collection, used by the
// defensive existence check.
var entityPaths = map[domain.EntityType]string{
	domain.EntityClinic:   "/clinics",
	domain.EntityProvider: "/providers",
	domain.EntityLocation: "/locations",
}

// Lookup resolves one composite key to the current internal entity id.
//
// Zero active rows yield ErrNotFound. More than one active row is a
// data-integrity fault in the store and yields ErrAmbiguous — the first row
// is never silently picked. Transport failures propagate as
// *backend.Failure.
func (c *Client) Lookup(ctx context.Context, key domain.MappingKey) (string, error) {
	if !key.EntityType.Valid() {
		return "", fmt.Errorf("%w: entity type %q", ErrInvalidKey, key.EntityType)
	}

	var rows []domain.ExternalIdMapping
	err := c.backend.Get(ctx, "/mappings", map[string]string{
		"system":             key.System,
		"externalIdentifier": key.ExternalID,
		"entityType":         string(key.EntityType),
		"isActive":           "true",
	}, &rows)
	if err != nil {
		return "", err
	}

	switch len(rows) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	case 1:
		return rows[0].EntityID, nil
	default:
		return "", fmt.Errorf("%w: %s matched %d active rows", ErrAmbiguous, key, len(rows))
	}
}

// Upsert registers or refreshes a mapping, identified by its composite
// unique key. Concurrent registration of the same mapping is idempotent
// (last writer wins; mappings are operator-driven, not contended).
func (c *Client) Upsert(ctx context.Context, m domain.ExternalIdMapping) error {
	if !m.EntityType.Valid() {
		return fmt.Errorf("%w: entity type %q", ErrInvalidKey, m.EntityType)
	}
	return c.backend.Post(ctx, "/mappings", m, nil)
}

// VerifyEntity checks that the referenced entity still exists, guarding
// against mappings left pointing at rows deleted by a reseed. A 404 yields
// ErrStaleReference; other failures propagate as *backend.Failure.
func (c *Client) VerifyEntity(ctx context.Context, entityType domain.EntityType, entityID string) error {
	path, ok := entityPaths[entityType]
	if !ok {
		return fmt.Errorf("%w: entity type %q", ErrInvalidKey, entityType)
	}
	err := c.backend.Get(ctx, path+"/"+entityID, nil, nil)
	if err == nil {
		return nil
	}
	var f *backend.Failure
	if errors.As(err, &f) && f.Status == 404 {
		return fmt.Errorf("%w: %s %s", ErrStaleReference, entityType, entityID)
	}
	return err
}
