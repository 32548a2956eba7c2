// Package diag implements the correlation and diagnostics layer. Every
// top-level resolution or sync invocation begins an operation, which
// assigns (or inherits) a correlation id; nested operations started from
// the same context share that id, so one failure can be traced end-to-end
// from a single token.
//
// Records are append-only and best-effort: they are a debugging aid, not a
// source of truth for resolution correctness. The in-memory ring buffer is
// the primary query surface; an optional Sink receives closed records for
// durable export and its failures are logged and dropped.
package diag

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kamdental/dental-sync/internal/domain"
)

// Metadata carries scalar-valued context attached to an operation.
// Values must be scalars (strings, numbers, booleans); secrets must never
// be included (see sysutil.LengthClass for the permitted representation).
type Metadata map[string]any

// Sink receives closed correlation records for durable export.
// Implementations must tolerate bursts; errors are logged and dropped.
type Sink interface {
	Write(rec domain.CorrelationRecord) error
}

type ctxKey struct{}

// WithCorrelation returns a context carrying the given correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// CorrelationID extracts the correlation id from ctx, or "" if absent.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// Recorder collects correlation records in a fixed-size ring buffer.
// It is safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	ring []domain.CorrelationRecord
	next int
	full bool
	sink Sink
}

// NewRecorder returns a Recorder holding at most capacity closed records.
// When the ring is full the oldest records are overwritten (lossy by
// contract).
func NewRecorder(capacity int) *Recorder {
	if capacity < 1 {
		capacity = 1
	}
	return &Recorder{ring: make([]domain.CorrelationRecord, capacity)}
}

// SetSink attaches a durable export sink. Pass nil to detach.
func (r *Recorder) SetSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = s
}

// Operation is one open correlation record. It must be closed exactly once
// via Complete; additional Complete calls are no-ops.
type Operation struct {
	recorder *Recorder
	start    time.Time
	once     sync.Once

	mu  sync.Mutex
	rec domain.CorrelationRecord
}

// Begin opens an operation. If ctx already carries a correlation id the
// operation joins it; otherwise a fresh id is generated and placed on the
// returned context so nested operations share it.
func (r *Recorder) Begin(ctx context.Context, operation string, md Metadata) (context.Context, *Operation) {
	id := CorrelationID(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = WithCorrelation(ctx, id)
	}
	meta := make(map[string]any, len(md))
	for k, v := range md {
		meta[k] = v
	}
	op := &Operation{
		recorder: r,
		start:    time.Now(),
		rec: domain.CorrelationRecord{
			CorrelationID: id,
			Operation:     operation,
			StartedAt:     time.Now().UTC(),
			Metadata:      meta,
		},
	}
	return ctx, op
}

// CorrelationID returns the id this operation is recorded under.
func (op *Operation) CorrelationID() string { return op.rec.CorrelationID }

// Meta attaches one scalar metadata value. Calls after Complete are ignored.
func (op *Operation) Meta(key string, value any) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.rec.Outcome != "" {
		return
	}
	op.rec.Metadata[key] = value
}

// Complete closes the operation with the given outcome, records the elapsed
// duration, and appends the record to the ring (and sink, best-effort).
// Only the first call has any effect.
func (op *Operation) Complete(outcome string) {
	op.once.Do(func() {
		op.mu.Lock()
		op.rec.Outcome = outcome
		op.rec.DurationMs = time.Since(op.start).Milliseconds()
		rec := op.rec
		op.mu.Unlock()

		op.recorder.append(rec)

		log.Debug().
			Str("correlation_id", rec.CorrelationID).
			Str("operation", rec.Operation).
			Str("outcome", rec.Outcome).
			Int64("duration_ms", rec.DurationMs).
			Msg("operation complete")
	})
}

func (r *Recorder) append(rec domain.CorrelationRecord) {
	r.mu.Lock()
	r.ring[r.next] = rec
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.full = true
	}
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		if err := sink.Write(rec); err != nil {
			log.Warn().Err(err).
				Str("correlation_id", rec.CorrelationID).
				Msg("diagnostics sink write failed; record dropped from export")
		}
	}
}

// Filter selects records returned by Query. Zero-valued fields match
// everything.
type Filter struct {
	CorrelationID string
	Operation     string
	Outcome       string
	Since         time.Time
	Limit         int
}

// Query returns matching closed records, newest first. The result is a
// snapshot; mutating it does not affect the ring.
func (r *Recorder) Query(f Filter) []domain.CorrelationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.ring)
	}
	out := make([]domain.CorrelationRecord, 0, n)

	// Walk newest to oldest.
	for i := 0; i < n; i++ {
		idx := r.next - 1 - i
		if idx < 0 {
			idx += len(r.ring)
		}
		rec := r.ring[idx]
		if rec.Outcome == "" {
			continue
		}
		if f.CorrelationID != "" && rec.CorrelationID != f.CorrelationID {
			continue
		}
		if f.Operation != "" && rec.Operation != f.Operation {
			continue
		}
		if f.Outcome != "" && rec.Outcome != f.Outcome {
			continue
		}
		if !f.Since.IsZero() && rec.StartedAt.Before(f.Since) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Len reports how many closed records are currently retained.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.ring)
	}
	return r.next
}
