// Package v1 defines the HTTP request and response contracts for the license
// API. These are the wire types shared by the server handlers, the client SDK
// and the admin CLI.
package v1

import (
	"time"

	"github.com/phattra-dev/vidttool/pkg/contracts/domain"
)

// ValidateRequest is the body of POST /api/validate.
type ValidateRequest struct {
	LicenseKey         string `json:"license_key" validate:"required,min=8"`
	MachineFingerprint string `json:"machine_fingerprint" validate:"required,min=8"`
	DeviceID           string `json:"device_id" validate:"required"`
	AppVersion         string `json:"app_version,omitempty"`
}

// ValidateResponse carries the decision for a validation call. The HTTP status
// is 200 for every resolved decision; callers branch on Status.
type ValidateResponse struct {
	Status      domain.Decision `json:"status"`
	Message     string          `json:"message,omitempty"`
	BanReason   string          `json:"ban_reason,omitempty"`
	LicenseType string          `json:"license_type,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	MaxMachines int             `json:"max_machines,omitempty"`
	CheckedAt   time.Time       `json:"checked_at"`
}

// DeactivateRequest is the body of POST /api/deactivate.
type DeactivateRequest struct {
	LicenseKey         string `json:"license_key" validate:"required,min=8"`
	MachineFingerprint string `json:"machine_fingerprint" validate:"required,min=8"`
}

// DeactivateResponse acknowledges a deactivation.
type DeactivateResponse struct {
	Released bool `json:"released"`
}

// StatusResponse is the body of GET /api/status/{deviceID}, consumed by the
// client poller. An unknown device reports the implicit "visitor" status.
type StatusResponse struct {
	DeviceID  string              `json:"device_id"`
	Status    domain.DeviceStatus `json:"status"`
	BanReason string              `json:"ban_reason,omitempty"`
	CheckedAt time.Time           `json:"checked_at"`
}

// CreateLicenseRequest is the body of POST /admin/licenses.
type CreateLicenseRequest struct {
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	Name          string `json:"name,omitempty"`
	LicenseType   string `json:"license_type,omitempty"`
	MaxMachines   int    `json:"max_machines,omitempty" validate:"omitempty,min=1"`
	DurationDays  int    `json:"duration_days,omitempty" validate:"omitempty,min=1"`
	Notes         string `json:"notes,omitempty"`
	CustomMessage string `json:"custom_message,omitempty"`
}

// UpdateLicenseRequest is the body of PUT /admin/licenses/{key}. Nil fields
// are left untouched.
type UpdateLicenseRequest struct {
	Email         *string    `json:"email,omitempty"`
	Name          *string    `json:"name,omitempty"`
	LicenseType   *string    `json:"license_type,omitempty"`
	MaxMachines   *int       `json:"max_machines,omitempty" validate:"omitempty,min=1"`
	Active        *bool      `json:"active,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	CustomMessage *string    `json:"custom_message,omitempty"`
}

// BulkGenerateRequest is the body of POST /admin/bulk/generate. Count is
// capped server side.
type BulkGenerateRequest struct {
	Count        int    `json:"count" validate:"required,min=1,max=100"`
	BatchName    string `json:"batch_name,omitempty"`
	LicenseType  string `json:"license_type,omitempty"`
	MaxMachines  int    `json:"max_machines,omitempty" validate:"omitempty,min=1"`
	DurationDays int    `json:"duration_days,omitempty" validate:"omitempty,min=1"`
}

// BulkGenerateResponse returns the generated keys.
type BulkGenerateResponse struct {
	Keys []string `json:"keys"`
}

// BanRequest is the body of POST /admin/devices/{deviceID}/ban.
type BanRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ToggleResponse returns the new active flag after a toggle.
type ToggleResponse struct {
	Key    string `json:"key"`
	Active bool   `json:"active"`
}

// CountResponse reports how many rows a bulk operation affected.
type CountResponse struct {
	Affected int64 `json:"affected"`
}

// StatsResponse is the body of GET /admin/stats.
type StatsResponse struct {
	TotalLicenses    int64            `json:"total_licenses"`
	ActiveLicenses   int64            `json:"active_licenses"`
	ExpiredLicenses  int64            `json:"expired_licenses"`
	TotalActivations int64            `json:"total_activations"`
	BannedDevices    int64            `json:"banned_devices"`
	LicenseTypes     map[string]int64 `json:"license_types"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// ListLicensesResponse is the body of GET /admin/licenses.
type ListLicensesResponse struct {
	Licenses []domain.License `json:"licenses"`
	Total    int              `json:"total"`
}

// ListDevicesResponse is the body of GET /admin/devices.
type ListDevicesResponse struct {
	Devices []domain.Device `json:"devices"`
	Total   int             `json:"total"`
}

// ListActivationsResponse is the body of GET /admin/activations.
type ListActivationsResponse struct {
	Activations []domain.Activation `json:"activations"`
	Total       int                 `json:"total"`
}

// ListLogsResponse is the body of GET /admin/logs.
type ListLogsResponse struct {
	Logs  []domain.ActivityEntry `json:"logs"`
	Total int                    `json:"total"`
}
