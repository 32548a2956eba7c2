// Package repo – agent properties and backups.
//
// AgentProperties is the legacy-fallback baseline the resolver consults
// when the mapping store has no row. The reconciliation job rewrites it
// after every run, always taking a timestamped backup first; backups are
// never deleted.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kamdental/dental-sync/internal/domain"
)

// GetProperties returns the persisted baseline for a system, or nil when
// none exists yet.
func GetProperties(ctx context.Context, db *gorm.DB, system string) (*domain.AgentProperties, error) {
	var p domain.AgentProperties
	err := db.WithContext(ctx).Where("system = ?", system).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProperties upserts the baseline for p.System. Concurrent writers are
// resolved last-writer-wins on the system unique key.
func SaveProperties(ctx context.Context, db *gorm.DB, p *domain.AgentProperties) error {
	p.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "system"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"clinic_id", "provider_id", "location_id",
				"backend_url", "backend_key_ref", "updated_at",
			}),
		}).
		Create(p).Error
}

// AddBackup records a point-in-time copy of the given baseline. TakenAt
// namespaces the backup; rows are append-only.
func AddBackup(ctx context.Context, db *gorm.DB, from *domain.AgentProperties, takenAt time.Time) error {
	b := &domain.PropertyBackup{
		System:        from.System,
		TakenAt:       takenAt.UTC(),
		ClinicID:      from.ClinicID,
		ProviderID:    from.ProviderID,
		LocationID:    from.LocationID,
		BackendURL:    from.BackendURL,
		BackendKeyRef: from.BackendKeyRef,
	}
	return db.WithContext(ctx).Create(b).Error
}

// ListBackups returns backups for a system, newest first, capped at limit
// (0 means no cap).
func ListBackups(ctx context.Context, db *gorm.DB, system string, limit int) ([]domain.PropertyBackup, error) {
	q := db.WithContext(ctx).
		Where("system = ?", system).
		Order("taken_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.PropertyBackup
	err := q.Find(&out).Error
	return out, err
}
