package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kamdental/dental-sync/internal/diag"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	return r
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	r := newRouter(RequestID())

	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = diag.CorrelationID(c.Request.Context())
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	rid := w.Header().Get("X-Request-ID")
	if rid == "" {
		t.Fatal("X-Request-ID header not set")
	}
	if seen != rid {
		t.Fatalf("correlation id on context = %q; want %q", seen, rid)
	}
}

func TestRequestID_PropagatesIncoming(t *testing.T) {
	r := newRouter(RequestID())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "corr-incoming")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "corr-incoming" {
		t.Fatalf("X-Request-ID = %q; want incoming id reused", got)
	}
}

func TestLogger_StoresRequestScopedLogger(t *testing.T) {
	r := newRouter(RequestID(), Logger())

	var hadLogger bool
	r.GET("/ping", func(c *gin.Context) {
		hadLogger = LoggerFrom(c) != nil
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if !hadLogger {
		t.Fatal("request-scoped logger not available to handler")
	}
}

func TestRecovery_PanicBecomesJSON500(t *testing.T) {
	r := newRouter(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("body = %q; want standardized error envelope", w.Body.String())
	}
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := newRouter(SecurityHeaders(SecurityOptions{NoStore: true}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q; want %q", header, got, want)
		}
	}
	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Fatalf("HSTS = %q; want none when disabled", hsts)
	}
}

func TestSecurityHeaders_HSTSOnForwardedHTTPS(t *testing.T) {
	r := newRouter(SecurityHeaders(SecurityOptions{EnableHSTS: true}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Strict-Transport-Security"); !strings.Contains(got, "max-age=") {
		t.Fatalf("HSTS = %q; want max-age directive for forwarded HTTPS", got)
	}
}

func TestMetrics_DoesNotInterfereWithResponse(t *testing.T) {
	r := newRouter(Metrics())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK || w.Body.String() != "pong" {
		t.Fatalf("response = %d %q", w.Code, w.Body.String())
	}
}

func TestScrubQuery_MasksSecretsAndPII(t *testing.T) {
	got := ScrubQuery("system=hygienist_sync&apiKey=super-secret-value-123456&email=pat%40example.com")

	if strings.Contains(got, "super-secret-value") {
		t.Fatalf("scrubbed query still carries secret: %q", got)
	}
	if !strings.Contains(got, "system=hygienist_sync") {
		t.Fatalf("scrubbed query lost benign parameter: %q", got)
	}
	if strings.Contains(got, "example.com") {
		t.Fatalf("scrubbed query still carries email: %q", got)
	}
	if !strings.Contains(got, "%5Blen%3A") {
		t.Fatalf("secret value not replaced with length class: %q", got)
	}
}

func TestScrubHeaders_MasksSensitiveAndExtra(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer tok")
	h.Set("X-Api-Key", "k")
	h.Set("X-Custom-Secret", "v")
	h.Set("Accept", "application/json")

	got := ScrubHeaders(h, []string{"X-Custom-Secret"})

	for _, k := range []string{"Authorization", "X-Api-Key", "X-Custom-Secret"} {
		if got[k] != "[masked]" {
			t.Errorf("%s = %q; want masked", k, got[k])
		}
	}
	if got["Accept"] != "application/json" {
		t.Fatalf("Accept = %q; benign header must survive", got["Accept"])
	}
}
