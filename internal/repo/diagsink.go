// Package repo – durable diagnostics sink.
//
// Closed correlation records are appended here for the external analysis
// tool. The table is not on the authoritative data path: writes are
// best-effort and the in-memory ring in the diag package remains the
// primary query surface.
package repo

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/kamdental/dental-sync/internal/domain"
)

// DiagSink adapts the local database to the diag.Sink interface.
type DiagSink struct {
	DB *gorm.DB
}

// Write appends one closed record. Metadata is stored JSON-encoded.
func (s *DiagSink) Write(rec domain.CorrelationRecord) error {
	md, err := json.Marshal(rec.Metadata)
	if err != nil {
		md = []byte("{}")
	}
	entry := &domain.DiagnosticEntry{
		CorrelationID: rec.CorrelationID,
		Operation:     rec.Operation,
		Outcome:       rec.Outcome,
		StartedAt:     rec.StartedAt,
		DurationMs:    rec.DurationMs,
		Metadata:      string(md),
	}
	return s.DB.Create(entry).Error
}

// ListDiagnostics returns persisted entries for one correlation id, oldest
// first, capped at limit (0 means no cap).
func ListDiagnostics(ctx context.Context, db *gorm.DB, correlationID string, limit int) ([]domain.DiagnosticEntry, error) {
	q := db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("started_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.DiagnosticEntry
	err := q.Find(&out).Error
	return out, err
}
