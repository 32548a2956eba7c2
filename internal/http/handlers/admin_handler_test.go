package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kamdental/dental-sync/internal/diag"
	"github.com/kamdental/dental-sync/internal/domain"
	"github.com/kamdental/dental-sync/internal/reconcile"
	"github.com/kamdental/dental-sync/internal/resolver"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ----- Fakes -----

type fakeResolver struct {
	bundle domain.ResolvedCredentialBundle
	err    error
	last   resolver.Request
}

func (f *fakeResolver) Resolve(ctx context.Context, req resolver.Request) (domain.ResolvedCredentialBundle, error) {
	f.last = req
	return f.bundle, f.err
}

type fakeDiags struct {
	records []domain.CorrelationRecord
	last    diag.Filter
}

func (f *fakeDiags) Query(filter diag.Filter) []domain.CorrelationRecord {
	f.last = filter
	return f.records
}

type fakeCache struct{ stats CacheStats }

func (f *fakeCache) Stats() CacheStats { return f.stats }

type fakeJob struct {
	sum  reconcile.Summary
	last []reconcile.SystemTarget
}

func (f *fakeJob) ReconcileAll(ctx context.Context, targets []reconcile.SystemTarget) reconcile.Summary {
	f.last = targets
	return f.sum
}

func newTestRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.POST("/resolve", h.Resolve)
	r.GET("/diagnostics", h.Diagnostics)
	r.GET("/cache/stats", h.CacheStatsHandler)
	r.POST("/reconcile", h.Reconcile)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ----- Resolve -----

func TestResolve_SuccessHidesBackendKey(t *testing.T) {
	res := &fakeResolver{bundle: domain.ResolvedCredentialBundle{
		ClinicID:   "clinic-77",
		ProviderID: "prov-42",
		BackendURL: "https://backend.test",
		BackendKey: "sk-very-secret-value-42",
		Source:     domain.SourceMappingStore,
	}}
	r := newTestRouter(New(res, &fakeDiags{}, &fakeCache{}, &fakeJob{}, nil))

	w := doJSON(t, r, http.MethodPost, "/resolve", ResolveRequest{System: "hygienist_sync", EntityCode: "adriane_fontenot"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte("sk-very-secret")) {
		t.Fatal("response body leaks backend key")
	}

	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["clinicId"] != "clinic-77" || got["hasBackendKey"] != true {
		t.Fatalf("body = %v", got)
	}
	if got["backendKeyClass"] != "medium" {
		t.Fatalf("backendKeyClass = %v", got["backendKeyClass"])
	}
	if res.last.System != "hygienist_sync" || res.last.EntityCode != "adriane_fontenot" {
		t.Fatalf("resolver request = %+v", res.last)
	}
}

func TestResolve_MissingSystemIsBadRequest(t *testing.T) {
	r := newTestRouter(New(&fakeResolver{}, &fakeDiags{}, &fakeCache{}, &fakeJob{}, nil))
	w := doJSON(t, r, http.MethodPost, "/resolve", ResolveRequest{EntityCode: "adriane_fontenot"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", w.Code)
	}
}

func TestResolve_UnknownEntityTypeInCodes(t *testing.T) {
	r := newTestRouter(New(&fakeResolver{}, &fakeDiags{}, &fakeCache{}, &fakeJob{}, nil))
	w := doJSON(t, r, http.MethodPost, "/resolve", map[string]any{
		"system": "s",
		"codes":  map[string]string{"spaceship": "x"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", w.Code)
	}
}

func TestResolve_TaxonomyMapping(t *testing.T) {
	cases := []struct {
		kind       resolver.Kind
		wantStatus int
		wantCode   string
	}{
		{resolver.KindUndetectedEntity, http.StatusUnprocessableEntity, ErrCodeUndetectedEntity},
		{resolver.KindAmbiguousMapping, http.StatusUnprocessableEntity, ErrCodeAmbiguousMapping},
		{resolver.KindUnresolvedIdentifier, http.StatusUnprocessableEntity, ErrCodeUnresolved},
		{resolver.KindStaleMappingReference, http.StatusUnprocessableEntity, ErrCodeStaleMapping},
		{resolver.KindTransientBackendFailure, http.StatusBadGateway, ErrCodeTransientBackend},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			res := &fakeResolver{err: &resolver.ResolutionError{
				Kind:   tc.kind,
				System: "s",
				Unresolved: []resolver.KeyRef{
					{EntityType: domain.EntityProvider, Code: "adriane_fontenot", Stale: tc.kind == resolver.KindStaleMappingReference},
				},
			}}
			r := newTestRouter(New(res, &fakeDiags{}, &fakeCache{}, &fakeJob{}, nil))

			w := doJSON(t, r, http.MethodPost, "/resolve", ResolveRequest{System: "s", EntityCode: "x"})
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d; want %d", w.Code, tc.wantStatus)
			}
			var body ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Code != tc.wantCode {
				t.Fatalf("code = %q; want %q", body.Code, tc.wantCode)
			}
			if len(body.Unresolved) != 1 || body.Unresolved[0].Code != "adriane_fontenot" {
				t.Fatalf("unresolved = %+v", body.Unresolved)
			}
		})
	}
}

func TestResolve_UnknownSystemIs404(t *testing.T) {
	res := &fakeResolver{err: resolver.ErrUnknownSystem}
	r := newTestRouter(New(res, &fakeDiags{}, &fakeCache{}, &fakeJob{}, nil))
	w := doJSON(t, r, http.MethodPost, "/resolve", ResolveRequest{System: "ghost"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", w.Code)
	}
}

// ----- Diagnostics -----

func TestDiagnostics_FilterPlumbing(t *testing.T) {
	dq := &fakeDiags{records: []domain.CorrelationRecord{{CorrelationID: "corr-1", Operation: "resolve"}}}
	r := newTestRouter(New(&fakeResolver{}, dq, &fakeCache{}, &fakeJob{}, nil))

	w := doJSON(t, r, http.MethodGet,
		"/diagnostics?correlationId=corr-1&operation=resolve&outcome=success&since=2026-01-02T15:04:05Z&limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}

	want := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	f := dq.last
	if f.CorrelationID != "corr-1" || f.Operation != "resolve" || f.Outcome != "success" || !f.Since.Equal(want) || f.Limit != 10 {
		t.Fatalf("filter = %+v", f)
	}
}

func TestDiagnostics_BadSinceRejected(t *testing.T) {
	r := newTestRouter(New(&fakeResolver{}, &fakeDiags{}, &fakeCache{}, &fakeJob{}, nil))
	w := doJSON(t, r, http.MethodGet, "/diagnostics?since=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", w.Code)
	}
}

// ----- Cache stats -----

func TestCacheStats(t *testing.T) {
	r := newTestRouter(New(&fakeResolver{}, &fakeDiags{}, &fakeCache{stats: CacheStats{Hits: 7, Misses: 3, Size: 2}}, &fakeJob{}, nil))
	w := doJSON(t, r, http.MethodGet, "/cache/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got CacheStats
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Hits != 7 || got.Misses != 3 || got.Size != 2 {
		t.Fatalf("stats = %+v", got)
	}
}

// ----- Reconcile -----

func TestReconcile_DefaultsToConfiguredTargets(t *testing.T) {
	job := &fakeJob{sum: reconcile.Summary{UpdatedCount: 2}}
	defaults := []reconcile.SystemTarget{{System: "a"}, {System: "b"}}
	r := newTestRouter(New(&fakeResolver{}, &fakeDiags{}, &fakeCache{}, job, defaults))

	w := doJSON(t, r, http.MethodPost, "/reconcile", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if len(job.last) != 2 || job.last[0].System != "a" {
		t.Fatalf("targets = %+v; want configured defaults", job.last)
	}
}

func TestReconcile_ExplicitTargetsAndPartialFailure(t *testing.T) {
	job := &fakeJob{sum: reconcile.Summary{
		UpdatedCount: 1,
		Errors:       map[string]error{"broken_sync": &resolver.ResolutionError{Kind: resolver.KindUnresolvedIdentifier, System: "broken_sync"}},
	}}
	r := newTestRouter(New(&fakeResolver{}, &fakeDiags{}, &fakeCache{}, job, nil))

	w := doJSON(t, r, http.MethodPost, "/reconcile", ReconcileRequest{
		Targets: []reconcile.SystemTarget{{System: "broken_sync"}, {System: "ok_sync"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; partial failure must still be 200", w.Code)
	}
	var got ReconcileResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.UpdatedCount != 1 || got.Errors["broken_sync"] == "" {
		t.Fatalf("response = %+v", got)
	}
}

func TestReconcile_NoTargetsAnywhere(t *testing.T) {
	r := newTestRouter(New(&fakeResolver{}, &fakeDiags{}, &fakeCache{}, &fakeJob{}, nil))
	w := doJSON(t, r, http.MethodPost, "/reconcile", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", w.Code)
	}
}
