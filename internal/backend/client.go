// Package backend wraps all outbound calls to the multi-tenant backend REST
// API with bounded retry, client-side rate limiting, structured failure
// classification, and per-attempt diagnostics.
//
// Retry policy: only HTTP 429, 5xx, and transport errors are retried, with
// exponential backoff and jitter (resty's default backoff) between attempts.
// Attempt count and per-step wait are capped, and every logical call runs
// under a wall-clock budget so a stalled resolution cannot outlive the
// agent's execution window. Everything else — including 4xx other than
// 429 — propagates immediately.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/kamdental/dental-sync/internal/config"
	"github.com/kamdental/dental-sync/internal/diag"
)

var (
	// outboundReqs counts completed logical calls by method and final status.
	// Network failures are labeled status="0".
	outboundReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_requests_total",
			Help: "Total outbound backend requests, by method and final status.",
		},
		[]string{"method", "status"},
	)

	// outboundRetries counts individual retry attempts (not first attempts).
	outboundRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backend_request_retries_total",
			Help: "Total outbound request retries after 429/5xx/transport errors.",
		},
	)

	// outboundLat records logical-call duration including all retries.
	outboundLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Duration of outbound backend calls in seconds, retries included.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(outboundReqs, outboundRetries, outboundLat)
}

// FailureKind classifies a failed call.
type FailureKind string

const (
	// FailureTransient covers 429/5xx after the retry budget is exhausted
	// and transport-level errors. Callers may retry the whole sync cycle
	// later; this package will not retry further.
	FailureTransient FailureKind = "transient"
	// FailureClient covers non-retryable 4xx responses.
	FailureClient FailureKind = "client"
)

// Failure is the typed error returned for any non-2xx outcome.
type Failure struct {
	Kind     FailureKind
	Status   int // 0 when the transport failed before a response arrived
	Attempts int
	Method   string
	Path     string
	Err      error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Status > 0 {
		return fmt.Sprintf("backend %s %s: status %d after %d attempt(s)", f.Method, f.Path, f.Status, f.Attempts)
	}
	return fmt.Sprintf("backend %s %s: %v after %d attempt(s)", f.Method, f.Path, f.Err, f.Attempts)
}

// Unwrap exposes the underlying transport error, if any.
func (f *Failure) Unwrap() error { return f.Err }

// Transient reports whether the failure may succeed on a later sync cycle.
func (f *Failure) Transient() bool { return f.Kind == FailureTransient }

// IsTransient reports whether err is (or wraps) a transient backend failure.
func IsTransient(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Transient()
}

// opCtxKey carries the active diagnostics operation into resty retry hooks.
type opCtxKey struct{}

// Client is the resilient HTTP client shared by the mapping store client
// and any other backend-facing component. It is safe for concurrent use.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	rec     *diag.Recorder
	budget  time.Duration
}

// New builds a Client from backend configuration. rec receives one record
// per logical call, with per-attempt metadata on retries.
func New(cfg config.BackendConfig, rec *diag.Recorder) *Client {
	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetRetryCount(cfg.MaxAttempts - 1).
		SetRetryWaitTime(cfg.BaseWait).
		SetRetryMaxWaitTime(cfg.MaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == 429 || r.StatusCode() >= 500
		}).
		AddRetryHook(func(r *resty.Response, err error) {
			outboundRetries.Inc()
			if r == nil {
				return
			}
			op, _ := r.Request.Context().Value(opCtxKey{}).(*diag.Operation)
			if op == nil {
				return
			}
			key := "attempt_" + strconv.Itoa(r.Request.Attempt)
			if err != nil {
				op.Meta(key, "transport_error")
				return
			}
			op.Meta(key, r.StatusCode())
		})
	if cfg.APIKey != "" {
		hc.SetAuthToken(cfg.APIKey)
	}

	var lim *rate.Limiter
	if cfg.RateRPS > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst)
	}

	return &Client{http: hc, limiter: lim, rec: rec, budget: cfg.CallBudget}
}

// Get issues a GET with optional query parameters, decoding a 2xx JSON body
// into out (when non-nil).
func (c *Client) Get(ctx context.Context, path string, query map[string]string, out any) error {
	return c.do(ctx, resty.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body, decoding a 2xx JSON body into out
// (when non-nil).
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, resty.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	ctx, op := c.rec.Begin(ctx, "http."+method, diag.Metadata{"path": path})
	start := time.Now()

	// Wall-clock budget for the whole call, retries included.
	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			op.Complete("transient_backend_failure")
			return &Failure{Kind: FailureTransient, Attempts: 0, Method: method, Path: path, Err: err}
		}
	}

	req := c.http.R().SetContext(context.WithValue(ctx, opCtxKey{}, op))
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	outboundLat.WithLabelValues(method).Observe(time.Since(start).Seconds())

	attempts := 1
	status := 0
	if resp != nil {
		attempts = resp.Request.Attempt
		status = resp.StatusCode()
	}
	op.Meta("attempts", attempts)
	op.Meta("status", status)
	outboundReqs.WithLabelValues(method, strconv.Itoa(status)).Inc()

	if err != nil {
		op.Complete("transient_backend_failure")
		return &Failure{Kind: FailureTransient, Status: status, Attempts: attempts, Method: method, Path: path, Err: err}
	}
	if status == 429 || status >= 500 {
		op.Complete("transient_backend_failure")
		return &Failure{Kind: FailureTransient, Status: status, Attempts: attempts, Method: method, Path: path}
	}
	if resp.IsError() {
		op.Complete("client_error")
		return &Failure{Kind: FailureClient, Status: status, Attempts: attempts, Method: method, Path: path}
	}

	op.Complete("success")
	return nil
}
