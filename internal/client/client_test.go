package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/phattra-dev/vidttool/pkg/contracts/api/v1"
	"github.com/phattra-dev/vidttool/pkg/contracts/domain"
)

func TestClientValidate(t *testing.T) {
	var gotReq v1.ValidateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/validate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(v1.ValidateResponse{
			Status:      domain.DecisionValid,
			LicenseType: "premium",
		})
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithUserAgent("vidttool/test"))
	resp, err := c.Validate(context.Background(), v1.ValidateRequest{
		LicenseKey:         "VT-AAAA-BBBB-CCCC-DDDD",
		MachineFingerprint: "fp-machine-one",
		DeviceID:           "device-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionValid, resp.Status)
	assert.Equal(t, "premium", resp.LicenseType)
	assert.Equal(t, "VT-AAAA-BBBB-CCCC-DDDD", gotReq.LicenseKey)
}

func TestClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status/device-1", r.URL.Path)
		json.NewEncoder(w).Encode(v1.StatusResponse{
			DeviceID: "device-1",
			Status:   domain.StatusBanned,
		})
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	resp, err := c.Status(context.Background(), "device-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBanned, resp.Status)
}

func TestClientSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	_, err := c.Status(context.Background(), "device-1")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "rate limit")
}

func TestClientTrimsTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status/device-1", r.URL.Path)
		json.NewEncoder(w).Encode(v1.StatusResponse{DeviceID: "device-1", Status: domain.StatusVisitor})
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL + "/"))
	_, err := c.Status(context.Background(), "device-1")
	require.NoError(t, err)
}
