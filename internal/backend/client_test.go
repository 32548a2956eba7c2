package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kamdental/dental-sync/internal/config"
	"github.com/kamdental/dental-sync/internal/diag"
)

func testCfg(baseURL string) config.BackendConfig {
	return config.BackendConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key-0123456789",
		MaxAttempts: 3,
		BaseWait:    5 * time.Millisecond,
		MaxWait:     20 * time.Millisecond,
		CallBudget:  2 * time.Second,
		RateRPS:     0, // limiter off in tests
		RateBurst:   1,
	}
}

func TestGet_DecodesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key-0123456789" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("system"); got != "hygienist_sync" {
			t.Errorf("system query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"clinic-77"}`))
	}))
	defer srv.Close()

	c := New(testCfg(srv.URL), diag.NewRecorder(16))
	var out struct {
		ID string `json:"id"`
	}
	err := c.Get(context.Background(), "/clinics", map[string]string{"system": "hygienist_sync"}, &out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.ID != "clinic-77" {
		t.Fatalf("decoded id = %q; want clinic-77", out.ID)
	}
}

func TestRateLimited_RetriesThenTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rec := diag.NewRecorder(16)
	c := New(testCfg(srv.URL), rec)

	start := time.Now()
	err := c.Get(context.Background(), "/mappings", nil, nil)
	elapsed := time.Since(start)

	if !IsTransient(err) {
		t.Fatalf("err = %v; want transient failure", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("server saw %d attempts; want exactly MaxAttempts=3", got)
	}
	// Bounded above by the sum of configured backoff steps plus slack.
	if elapsed > time.Second {
		t.Fatalf("elapsed %v; want bounded retry time", elapsed)
	}

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatal("error is not *Failure")
	}
	if f.Status != 429 || f.Attempts != 3 {
		t.Fatalf("failure = %+v; want status 429, attempts 3", f)
	}

	// Every attempt was recorded against the correlation record.
	recs := rec.Query(diag.Filter{Operation: "http.GET"})
	if len(recs) != 1 {
		t.Fatalf("got %d http records; want 1", len(recs))
	}
	if recs[0].Metadata["attempts"] != 3 {
		t.Fatalf("recorded attempts = %v; want 3", recs[0].Metadata["attempts"])
	}
}

func TestNotFound_NoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(testCfg(srv.URL), diag.NewRecorder(16))
	err := c.Get(context.Background(), "/clinics/clinic-77", nil, nil)

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v; want *Failure", err)
	}
	if f.Kind != FailureClient || f.Status != 404 {
		t.Fatalf("failure = %+v; want non-retryable 404", f)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("server saw %d attempts; want 1 (4xx must not retry)", got)
	}
}

func TestServerError_RecoversWithinBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(testCfg(srv.URL), diag.NewRecorder(16))
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.Get(context.Background(), "/mappings", nil, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !out.OK {
		t.Fatal("expected decoded body from the recovered attempt")
	}
}

func TestPost_SendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(testCfg(srv.URL), diag.NewRecorder(16))
	err := c.Post(context.Background(), "/mappings", map[string]string{"system": "s"}, nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
}
