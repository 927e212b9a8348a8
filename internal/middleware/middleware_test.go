package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phattra-dev/vidttool/internal/infrastructure"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	var traceID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = infrastructure.TraceIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, traceID)
	assert.Equal(t, traceID, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDHonorsInbound(t *testing.T) {
	handler := RequestID(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-from-caller")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "trace-from-caller", rec.Header().Get(RequestIDHeader))
}

func TestRecovererConvertsPanicTo500(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	handler := RateLimiter(1, 2)(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/validate", nil))
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		provided   string
		wantStatus int
	}{
		{"valid key", "secret-admin-key", "secret-admin-key", http.StatusOK},
		{"wrong key", "secret-admin-key", "guess", http.StatusUnauthorized},
		{"missing header", "secret-admin-key", "", http.StatusUnauthorized},
		{"unconfigured key locks surface", "", "anything", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AdminAuth(tt.configured)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
			if tt.provided != "" {
				req.Header.Set(AdminKeyHeader, tt.provided)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

				var problem map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
				assert.Equal(t, "UNAUTHORIZED", problem["error_code"])
				assert.Equal(t, "/admin/stats", problem["instance"])
			}
		})
	}
}
