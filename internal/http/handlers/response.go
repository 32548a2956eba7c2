// Package handlers provides the HTTP handler implementations for the admin
// API: resolution, diagnostics export, cache statistics, and the manual
// reconciliation trigger.
//
// This file defines the standard response utilities shared by all endpoints.
// Conventions:
//   - All error responses return an ErrorResponse with a stable `code`.
//   - fail() centralizes error logging and formatting; 5xx responses are
//     logged with request context.
//   - ok() keeps success responses uniform across handlers.
//
// Example error response:
//
//	HTTP/1.1 422 Unprocessable Entity
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "ambiguous_mapping",
//	  "message": "multiple active mappings matched"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kamdental/dental-sync/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
// RequestID echoes the X-Request-ID header so a client-side failure can be
// matched to the diagnostics records sharing the same correlation id.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`

	// Unresolved lists the identifier references that failed resolution,
	// present only for resolution failures.
	Unresolved []UnresolvedRef `json:"unresolved,omitempty"`
}

// UnresolvedRef names one identifier the resolver could not resolve.
type UnresolvedRef struct {
	EntityType string `json:"entityType"`
	Code       string `json:"code"`
	Stale      bool   `json:"stale,omitempty"`
}

// fail aborts the request with a structured error. Server errors (>= 500)
// are logged using the request-scoped logger from middleware.
func fail(c *gin.Context, status int, code, msg string, unresolved ...UnresolvedRef) {
	resp := ErrorResponse{
		RequestID:  c.Writer.Header().Get("X-Request-ID"),
		Code:       code,
		Message:    msg,
		Unresolved: unresolved,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), used by router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
