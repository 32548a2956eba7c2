// Package reconcile implements the property reconciliation job: the
// scheduled pass that re-resolves every configured system with the cache
// bypassed and rewrites the locally persisted legacy-fallback baseline, so
// direct lookups keep working between database reseeds. The previous
// baseline is always backed up (timestamped, never overwritten) before the
// fresh ids are persisted.
package reconcile

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/kamdental/dental-sync/internal/diag"
	"github.com/kamdental/dental-sync/internal/domain"
	"github.com/kamdental/dental-sync/internal/resolver"
)

var reconcileSystems = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reconcile_systems_total",
		Help: "Total per-system reconciliation outcomes.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(reconcileSystems)
}

// CredentialResolver is the slice of the resolver the job needs.
type CredentialResolver interface {
	Resolve(ctx context.Context, req resolver.Request) (domain.ResolvedCredentialBundle, error)
}

// PropertiesStore persists baselines and their backups.
type PropertiesStore interface {
	Properties(ctx context.Context, system string) (*domain.AgentProperties, error)
	Save(ctx context.Context, p *domain.AgentProperties) error
	Backup(ctx context.Context, from *domain.AgentProperties, takenAt time.Time) error
}

// SystemTarget names one system to reconcile and how its identity is
// established.
type SystemTarget struct {
	System     string `json:"system"`
	EntityCode string `json:"entityCode,omitempty"`
	RawTitle   string `json:"rawTitle,omitempty"`
}

// Summary reports a reconciliation batch. Failure for one system never
// blocks the others; Errors carries the per-system failures.
type Summary struct {
	UpdatedCount int              `json:"updated_count"`
	Errors       map[string]error `json:"-"`
}

// Job wires the resolver to the properties store.
type Job struct {
	Resolver CredentialResolver
	Store    PropertiesStore
	Diag     *diag.Recorder

	// now is a test seam for backup timestamps.
	now func() time.Time
}

// NewJob constructs a reconciliation job.
func NewJob(r CredentialResolver, store PropertiesStore, rec *diag.Recorder) *Job {
	return &Job{Resolver: r, Store: store, Diag: rec, now: time.Now}
}

// ReconcileAll re-resolves each target with the cache bypassed and persists
// the fresh ids as the new legacy-fallback baseline.
func (j *Job) ReconcileAll(ctx context.Context, targets []SystemTarget) Summary {
	sum := Summary{Errors: make(map[string]error)}
	for _, t := range targets {
		if err := j.reconcileOne(ctx, t); err != nil {
			sum.Errors[t.System] = err
			reconcileSystems.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Str("system", t.System).Msg("reconciliation failed for system")
			continue
		}
		sum.UpdatedCount++
		reconcileSystems.WithLabelValues("updated").Inc()
	}
	return sum
}

func (j *Job) reconcileOne(ctx context.Context, t SystemTarget) error {
	ctx, op := j.Diag.Begin(ctx, "reconcile", diag.Metadata{"system": t.System})

	bundle, err := j.Resolver.Resolve(ctx, resolver.Request{
		System:     t.System,
		EntityCode: t.EntityCode,
		RawTitle:   t.RawTitle,
		SkipCache:  true,
	})
	if err != nil {
		op.Complete("resolve_failed")
		return err
	}

	existing, err := j.Store.Properties(ctx, t.System)
	if err != nil {
		op.Complete("store_read_failed")
		return err
	}
	if existing != nil {
		if err := j.Store.Backup(ctx, existing, j.now()); err != nil {
			op.Complete("backup_failed")
			return err
		}
	}

	fresh := &domain.AgentProperties{
		System:     t.System,
		ClinicID:   bundle.ClinicID,
		ProviderID: bundle.ProviderID,
		LocationID: bundle.LocationID,
		BackendURL: bundle.BackendURL,
	}
	if existing != nil {
		// The key reference is operator-managed, not resolver output.
		fresh.BackendKeyRef = existing.BackendKeyRef
	}
	if err := j.Store.Save(ctx, fresh); err != nil {
		op.Complete("store_write_failed")
		return err
	}

	op.Meta("source", string(bundle.Source))
	op.Complete("success")
	return nil
}

// Start runs one reconciliation immediately, then repeats every interval
// until ctx is cancelled. It blocks; run it on its own goroutine.
func (j *Job) Start(ctx context.Context, interval time.Duration, targets []SystemTarget) {
	run := func() {
		sum := j.ReconcileAll(ctx, targets)
		log.Info().
			Int("updated", sum.UpdatedCount).
			Int("failed", len(sum.Errors)).
			Msg("reconciliation pass complete")
	}
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
