// Admin HTTP handlers.
//
// This file exposes the operational endpoints of the sync layer:
//   - POST /resolve      (resolve a system to its credential bundle)
//   - GET  /diagnostics  (query the correlation record ring)
//   - GET  /cache/stats  (resolution cache counters)
//   - POST /reconcile    (trigger a reconciliation pass now)
//
// Handlers are transport-thin: they validate input, call into the resolver,
// recorder, cache, or job, and translate results into HTTP responses. The
// resolved backend key never appears in a response body; only its presence
// is reported.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kamdental/dental-sync/internal/diag"
	"github.com/kamdental/dental-sync/internal/domain"
	"github.com/kamdental/dental-sync/internal/reconcile"
	"github.com/kamdental/dental-sync/internal/resolver"
	"github.com/kamdental/dental-sync/internal/sysutil"
)

//
// Service contracts (context-aware)
//

// CredentialResolver resolves a system's identity into a credential bundle.
// Implementations must be safe for concurrent use and honor the context.
type CredentialResolver interface {
	Resolve(ctx context.Context, req resolver.Request) (domain.ResolvedCredentialBundle, error)
}

// DiagQuerier serves filtered views of recent correlation records.
type DiagQuerier interface {
	Query(f diag.Filter) []domain.CorrelationRecord
}

// CacheInspector exposes resolution cache counters.
type CacheInspector interface {
	Stats() CacheStats
}

// CacheStats mirrors the cache package counters without importing it here;
// the router adapts the concrete cache via a one-method shim.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// Reconciler runs one reconciliation pass over the given targets.
type Reconciler interface {
	ReconcileAll(ctx context.Context, targets []reconcile.SystemTarget) reconcile.Summary
}

//
// Handler wiring
//

// Handlers groups the admin endpoints. DefaultTargets is the configured
// system list used when a reconcile request names none.
type Handlers struct {
	resolver       CredentialResolver
	diags          DiagQuerier
	cache          CacheInspector
	job            Reconciler
	defaultTargets []reconcile.SystemTarget
}

// New constructs a Handlers instance bound to the given collaborators.
func New(res CredentialResolver, dq DiagQuerier, ci CacheInspector, job Reconciler, targets []reconcile.SystemTarget) *Handlers {
	return &Handlers{resolver: res, diags: dq, cache: ci, job: job, defaultTargets: targets}
}

//
// DTOs
//

// ResolveRequest is the JSON payload for a resolution request. Exactly one
// of EntityCode or RawTitle establishes identity; explicit Codes override
// detection entirely.
type ResolveRequest struct {
	System     string            `json:"system" binding:"required"`
	EntityCode string            `json:"entityCode,omitempty"`
	RawTitle   string            `json:"rawTitle,omitempty"`
	Codes      map[string]string `json:"codes,omitempty"`
	SkipCache  bool              `json:"skipCache,omitempty"`
}

// ResolveResponse is the credential bundle as exposed over HTTP. The key
// itself stays server-side; HasBackendKey plus the length class lets an
// operator verify configuration without seeing the secret.
type ResolveResponse struct {
	domain.ResolvedCredentialBundle
	HasBackendKey   bool   `json:"hasBackendKey"`
	BackendKeyClass string `json:"backendKeyClass"`
}

// ReconcileRequest optionally narrows a manual reconciliation pass to the
// named targets. An empty body reconciles every configured system.
type ReconcileRequest struct {
	Targets []reconcile.SystemTarget `json:"targets,omitempty"`
}

// ReconcileResponse reports a pass, with per-system failure messages.
type ReconcileResponse struct {
	UpdatedCount int               `json:"updated_count"`
	Errors       map[string]string `json:"errors,omitempty"`
}

//
// Endpoints
//

// Resolve handles POST /resolve. Resolution failures map onto the stable
// error taxonomy: identity and mapping failures are 422, transient backend
// trouble is 502 (retryable by the caller), everything else 500.
func (h *Handlers) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid resolve payload: "+err.Error())
		return
	}

	var codes map[domain.EntityType]string
	if len(req.Codes) > 0 {
		codes = make(map[domain.EntityType]string, len(req.Codes))
		for t, code := range req.Codes {
			et := domain.EntityType(t)
			if !et.Valid() {
				fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown entity type "+strconv.Quote(t))
				return
			}
			codes[et] = code
		}
	}

	bundle, err := h.resolver.Resolve(c.Request.Context(), resolver.Request{
		System:     req.System,
		EntityCode: req.EntityCode,
		RawTitle:   req.RawTitle,
		Codes:      codes,
		SkipCache:  req.SkipCache,
	})
	if err != nil {
		failResolution(c, err)
		return
	}

	ok(c, http.StatusOK, ResolveResponse{
		ResolvedCredentialBundle: bundle,
		HasBackendKey:            bundle.BackendKey != "",
		BackendKeyClass:          sysutil.LengthClass(bundle.BackendKey),
	})
}

// failResolution translates a resolver error into the HTTP error envelope.
func failResolution(c *gin.Context, err error) {
	var re *resolver.ResolutionError
	if !errors.As(err, &re) {
		if errors.Is(err, resolver.ErrUnknownSystem) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	unresolved := make([]UnresolvedRef, 0, len(re.Unresolved))
	for _, k := range re.Unresolved {
		unresolved = append(unresolved, UnresolvedRef{
			EntityType: string(k.EntityType),
			Code:       k.Code,
			Stale:      k.Stale,
		})
	}

	status := http.StatusUnprocessableEntity
	code := ErrCodeUnresolved
	switch re.Kind {
	case resolver.KindUndetectedEntity:
		code = ErrCodeUndetectedEntity
	case resolver.KindAmbiguousMapping:
		code = ErrCodeAmbiguousMapping
	case resolver.KindStaleMappingReference:
		code = ErrCodeStaleMapping
	case resolver.KindTransientBackendFailure:
		status = http.StatusBadGateway
		code = ErrCodeTransientBackend
	}
	fail(c, status, code, re.Error(), unresolved...)
}

// Diagnostics handles GET /diagnostics. Supported query parameters:
// correlationId, operation, outcome, since (RFC 3339), limit.
func (h *Handlers) Diagnostics(c *gin.Context) {
	f := diag.Filter{
		CorrelationID: c.Query("correlationId"),
		Operation:     c.Query("operation"),
		Outcome:       c.Query("outcome"),
	}
	if s := c.Query("since"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "since must be RFC 3339")
			return
		}
		f.Since = ts
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	records := h.diags.Query(f)
	ok(c, http.StatusOK, gin.H{"count": len(records), "records": records})
}

// CacheStatsHandler handles GET /cache/stats.
func (h *Handlers) CacheStatsHandler(c *gin.Context) {
	ok(c, http.StatusOK, h.cache.Stats())
}

// Reconcile handles POST /reconcile: a manual, synchronous reconciliation
// pass. Partial failure is still a 200; per-system errors ride along in the
// body, matching the job's isolation semantics.
func (h *Handlers) Reconcile(c *gin.Context) {
	var req ReconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid reconcile payload: "+err.Error())
			return
		}
	}
	targets := req.Targets
	if len(targets) == 0 {
		targets = h.defaultTargets
	}
	if len(targets) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no reconciliation targets configured or supplied")
		return
	}

	sum := h.job.ReconcileAll(c.Request.Context(), targets)
	resp := ReconcileResponse{UpdatedCount: sum.UpdatedCount}
	if len(sum.Errors) > 0 {
		resp.Errors = make(map[string]string, len(sum.Errors))
		for system, err := range sum.Errors {
			resp.Errors[system] = err.Error()
		}
	}
	ok(c, http.StatusOK, resp)
}
