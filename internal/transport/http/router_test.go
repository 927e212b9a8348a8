package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/phattra-dev/vidttool/internal/config"
	"github.com/phattra-dev/vidttool/internal/license"
	"github.com/phattra-dev/vidttool/internal/store"
	v1 "github.com/phattra-dev/vidttool/pkg/contracts/api/v1"
	"github.com/phattra-dev/vidttool/pkg/contracts/domain"
)

const testAdminKey = "test-admin-key"

type RouterTestSuite struct {
	suite.Suite
	store  store.Store
	server *httptest.Server
}

func (s *RouterTestSuite) SetupTest() {
	s.store = store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := license.NewService(s.store, config.PolicyConfig{
		SuspiciousThreshold: 3,
		HackingThreshold:    10,
		BulkGenerateCap:     100,
	}, license.WithLogger(logger))

	cfg := &config.Config{}
	cfg.Security.AdminKey = testAdminKey

	s.server = httptest.NewServer(NewRouter(cfg, svc, nil, logger))
}

func (s *RouterTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *RouterTestSuite) seedLicense(key string, maxMachines int) {
	err := s.store.CreateLicense(context.Background(), &domain.License{
		Key:         key,
		LicenseType: "standard",
		MaxMachines: maxMachines,
		Active:      true,
		CreatedAt:   time.Now(),
	})
	s.Require().NoError(err)
}

func (s *RouterTestSuite) do(method, path string, body interface{}, admin bool) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Key", testAdminKey)
	}
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *RouterTestSuite) decode(resp *http.Response, out interface{}) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
}

func (s *RouterTestSuite) TestValidateHappyPath() {
	s.seedLicense("VT-AAAA-BBBB-CCCC-DDDD", 1)

	resp := s.do(http.MethodPost, "/api/validate", v1.ValidateRequest{
		LicenseKey:         "VT-AAAA-BBBB-CCCC-DDDD",
		MachineFingerprint: "fp-machine-one",
		DeviceID:           "device-1",
		AppVersion:         "3.1.0",
	}, false)
	s.Equal(http.StatusOK, resp.StatusCode)

	var body v1.ValidateResponse
	s.decode(resp, &body)
	s.Equal(domain.DecisionValid, body.Status)
	s.Equal("standard", body.LicenseType)
	s.Equal(1, body.MaxMachines)
}

func (s *RouterTestSuite) TestValidateUnknownKeyIs200() {
	resp := s.do(http.MethodPost, "/api/validate", v1.ValidateRequest{
		LicenseKey:         "VT-0000-0000-0000-0000",
		MachineFingerprint: "fp-machine-one",
		DeviceID:           "device-1",
	}, false)
	s.Equal(http.StatusOK, resp.StatusCode)

	var body v1.ValidateResponse
	s.decode(resp, &body)
	s.Equal(domain.DecisionNotFound, body.Status)
}

func (s *RouterTestSuite) TestValidateRejectsMalformedBody() {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/validate",
		bytes.NewBufferString("{not json"))
	s.Require().NoError(err)
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *RouterTestSuite) TestValidateRejectsMissingFields() {
	resp := s.do(http.MethodPost, "/api/validate", v1.ValidateRequest{
		LicenseKey: "VT-AAAA-BBBB-CCCC-DDDD",
	}, false)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *RouterTestSuite) TestStatusUnknownDeviceIsVisitor() {
	resp := s.do(http.MethodGet, "/api/status/device-unknown", nil, false)
	s.Equal(http.StatusOK, resp.StatusCode)

	var body v1.StatusResponse
	s.decode(resp, &body)
	s.Equal(domain.StatusVisitor, body.Status)
	s.Equal("device-unknown", body.DeviceID)
}

func (s *RouterTestSuite) TestAdminRequiresKey() {
	resp := s.do(http.MethodGet, "/admin/stats", nil, false)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal("application/problem+json", resp.Header.Get("Content-Type"))

	var problem map[string]interface{}
	s.decode(resp, &problem)
	s.Equal("UNAUTHORIZED", problem["error_code"])
	s.Equal("/admin/stats", problem["instance"])
}

func (s *RouterTestSuite) TestAdminCreateAndGetLicense() {
	resp := s.do(http.MethodPost, "/admin/licenses", v1.CreateLicenseRequest{
		Email:        "buyer@example.com",
		LicenseType:  "premium",
		MaxMachines:  3,
		DurationDays: 365,
	}, true)
	s.Equal(http.StatusCreated, resp.StatusCode)

	var created domain.License
	s.decode(resp, &created)
	s.Regexp(`^VT(-[0-9A-F]{4}){4}$`, created.Key)
	s.Equal("premium", created.LicenseType)
	s.Equal(3, created.MaxMachines)
	s.NotNil(created.ExpiresAt)

	resp = s.do(http.MethodGet, "/admin/licenses/"+created.Key, nil, true)
	s.Equal(http.StatusOK, resp.StatusCode)
	var fetched domain.License
	s.decode(resp, &fetched)
	s.Equal(created.Key, fetched.Key)
}

func (s *RouterTestSuite) TestAdminGetMissingLicenseIs404() {
	resp := s.do(http.MethodGet, "/admin/licenses/VT-0000-0000-0000-0000", nil, true)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("application/problem+json", resp.Header.Get("Content-Type"))

	var problem map[string]interface{}
	s.decode(resp, &problem)
	s.Equal("LICENSE_NOT_FOUND", problem["error_code"])
}

func (s *RouterTestSuite) TestAdminDeleteLicenseRemovesActivations() {
	s.seedLicense("VT-AAAA-BBBB-CCCC-DDDD", 2)
	resp := s.do(http.MethodPost, "/api/validate", v1.ValidateRequest{
		LicenseKey:         "VT-AAAA-BBBB-CCCC-DDDD",
		MachineFingerprint: "fp-machine-one",
		DeviceID:           "device-1",
	}, false)
	resp.Body.Close()

	resp = s.do(http.MethodDelete, "/admin/licenses/VT-AAAA-BBBB-CCCC-DDDD", nil, true)
	resp.Body.Close()
	s.Equal(http.StatusNoContent, resp.StatusCode)

	resp = s.do(http.MethodGet, "/admin/licenses/VT-AAAA-BBBB-CCCC-DDDD", nil, true)
	resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)

	// No orphan activations survive the license.
	resp = s.do(http.MethodGet, "/admin/activations", nil, true)
	s.Equal(http.StatusOK, resp.StatusCode)
	var activations v1.ListActivationsResponse
	s.decode(resp, &activations)
	s.Zero(activations.Total)
}

func (s *RouterTestSuite) TestAdminToggleRevokesRunningClient() {
	s.seedLicense("VT-AAAA-BBBB-CCCC-DDDD", 1)

	resp := s.do(http.MethodPost, "/admin/licenses/VT-AAAA-BBBB-CCCC-DDDD/toggle", nil, true)
	s.Equal(http.StatusOK, resp.StatusCode)
	var toggled v1.ToggleResponse
	s.decode(resp, &toggled)
	s.False(toggled.Active)

	resp = s.do(http.MethodPost, "/api/validate", v1.ValidateRequest{
		LicenseKey:         "VT-AAAA-BBBB-CCCC-DDDD",
		MachineFingerprint: "fp-machine-one",
		DeviceID:           "device-1",
	}, false)
	var body v1.ValidateResponse
	s.decode(resp, &body)
	s.Equal(domain.DecisionDisabled, body.Status)
}

func (s *RouterTestSuite) TestAdminBanBlocksValidation() {
	s.seedLicense("VT-AAAA-BBBB-CCCC-DDDD", 1)

	resp := s.do(http.MethodPost, "/admin/devices/device-1/ban",
		v1.BanRequest{Reason: "chargeback"}, true)
	s.Equal(http.StatusOK, resp.StatusCode)
	var dev domain.Device
	s.decode(resp, &dev)
	s.Equal(domain.StatusBanned, dev.Status)

	resp = s.do(http.MethodPost, "/api/validate", v1.ValidateRequest{
		LicenseKey:         "VT-AAAA-BBBB-CCCC-DDDD",
		MachineFingerprint: "fp-machine-one",
		DeviceID:           "device-1",
	}, false)
	var body v1.ValidateResponse
	s.decode(resp, &body)
	s.Equal(domain.DecisionBanned, body.Status)
	s.Equal("chargeback", body.BanReason)
}

func (s *RouterTestSuite) TestAdminBulkGenerateRejectsOverCap() {
	resp := s.do(http.MethodPost, "/admin/bulk/generate",
		v1.BulkGenerateRequest{Count: 150}, true)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *RouterTestSuite) TestAdminBulkGenerate() {
	resp := s.do(http.MethodPost, "/admin/bulk/generate",
		v1.BulkGenerateRequest{Count: 10, BatchName: "launch"}, true)
	s.Equal(http.StatusCreated, resp.StatusCode)

	var body v1.BulkGenerateResponse
	s.decode(resp, &body)
	s.Len(body.Keys, 10)
}

func (s *RouterTestSuite) TestAdminSetDeviceStatusRejectsUnknownValue() {
	resp := s.do(http.MethodPut, "/admin/devices/device-1/status",
		map[string]string{"status": "frozen"}, true)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *RouterTestSuite) TestAdminLogsRejectsBadLimit() {
	resp := s.do(http.MethodGet, "/admin/logs?limit=-3", nil, true)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *RouterTestSuite) TestAdminStats() {
	s.seedLicense("VT-AAAA-BBBB-CCCC-DDDD", 1)

	resp := s.do(http.MethodGet, "/admin/stats", nil, true)
	s.Equal(http.StatusOK, resp.StatusCode)

	var body v1.StatsResponse
	s.decode(resp, &body)
	s.Equal(int64(1), body.TotalLicenses)
	s.Equal(int64(1), body.ActiveLicenses)
}

func (s *RouterTestSuite) TestHealthz() {
	resp := s.do(http.MethodGet, "/healthz", nil, false)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func TestStatusCheckedAtUsesServiceClock(t *testing.T) {
	fixed := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := license.NewService(store.NewMemoryStore(), config.PolicyConfig{BulkGenerateCap: 100},
		license.WithLogger(logger),
		license.WithClock(func() time.Time { return fixed }))

	srv := httptest.NewServer(NewRouter(&config.Config{}, svc, nil, logger))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/status/device-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body v1.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, fixed, body.CheckedAt)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"direct", "203.0.113.9:51234", "", "203.0.113.9"},
		{"forwarded single", "10.0.0.1:80", "198.51.100.7", "198.51.100.7"},
		{"forwarded chain", "10.0.0.1:80", "198.51.100.7, 10.0.0.2", "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			require.NotNil(t, req)
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
