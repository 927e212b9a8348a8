// Package middleware provides the HTTP middleware chain for the license
// service: request identity, structured request logging, panic recovery,
// token-bucket rate limiting and the admin credential gate.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/phattra-dev/vidttool/internal/errors"
	"github.com/phattra-dev/vidttool/internal/infrastructure"
)

// RequestIDHeader is the canonical header for request correlation.
const RequestIDHeader = "X-Request-ID"

// AdminKeyHeader carries the admin credential.
const AdminKeyHeader = "X-Admin-Key"

// RequestID assigns a UUID to each request, honoring an inbound header when
// present, and threads it through the context as the trace id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := infrastructure.WithTraceID(r.Context(), requestID)
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// StructuredLogger logs one line per request with method, path, status,
// duration and the trace id.
func StructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"trace_id", infrastructure.TraceIDFromContext(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// Recoverer converts panics into 500 responses and logs the stack.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "panic recovered",
						"panic", rec,
						"path", r.URL.Path,
						"trace_id", infrastructure.TraceIDFromContext(r.Context()),
					)
					render.Render(w, r, errors.ErrInternalServer)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter applies a process-wide token bucket to the wrapped routes. The
// public validation surface shares one bucket; admin routes are not limited.
func RateLimiter(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				render.Render(w, r, errors.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminAuth gates the admin surface on the X-Admin-Key header. The comparison
// is constant time. An empty configured key locks the surface entirely rather
// than leaving it open. Rejections render as RFC 7807 problem details, like
// the rest of the admin surface.
func AdminAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(AdminKeyHeader)
			if adminKey == "" || provided == "" ||
				subtle.ConstantTimeCompare([]byte(provided), []byte(adminKey)) != 1 {
				errors.RenderProblem(w, errors.Problem(errors.ErrUnauthorized, r.URL.Path))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
