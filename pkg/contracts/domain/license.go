// Package domain contains the core domain models for the VidTTool license
// service. These types serve as the Single Source of Truth (SSOT) for the
// server, the client SDK and the admin tooling.
package domain

import (
	"time"
)

// Decision is the outcome of a validation call. Every validation resolves to
// exactly one decision; clients branch on the decision kind, never on
// human-readable text.
type Decision string

const (
	DecisionValid        Decision = "valid"
	DecisionNotFound     Decision = "not_found"
	DecisionDisabled     Decision = "disabled"
	DecisionExpired      Decision = "expired"
	DecisionBanned       Decision = "banned"
	DecisionMachineLimit Decision = "machine_limit"
)

// Terminal reports whether the decision ends the client session. Everything
// except a successful validation is terminal from the poller's point of view.
func (d Decision) Terminal() bool {
	return d != DecisionValid
}

// DeviceStatus tracks a device identifier independently of license validity.
// A banned device is rejected even when it holds an otherwise valid license.
type DeviceStatus string

const (
	StatusVisitor    DeviceStatus = "visitor"
	StatusActive     DeviceStatus = "active"
	StatusSuspicious DeviceStatus = "suspicious"
	StatusHacking    DeviceStatus = "hacking"
	StatusBanned     DeviceStatus = "banned"
)

// Valid reports whether s is one of the known status values.
func (s DeviceStatus) Valid() bool {
	switch s {
	case StatusVisitor, StatusActive, StatusSuspicious, StatusHacking, StatusBanned:
		return true
	}
	return false
}

// License represents a purchased entitlement. Bound machines are derived from
// activation rows rather than stored inline, so the machine-count invariant
// can be enforced with row-level locking at bind time.
type License struct {
	Key           string     `json:"key"`
	Email         string     `json:"email,omitempty"`
	Name          string     `json:"name,omitempty"`
	LicenseType   string     `json:"license_type"`
	MaxMachines   int        `json:"max_machines"`
	Active        bool       `json:"active"`
	CustomMessage string     `json:"custom_message,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	LastIP        string     `json:"last_ip,omitempty"`
	LastVersion   string     `json:"last_version,omitempty"`
	// BoundMachines is populated on reads from the activation rows.
	BoundMachines []string `json:"bound_machines"`
}

// Expired reports whether the license expiry (if any) lies in the past at t.
func (l *License) Expired(t time.Time) bool {
	return l.ExpiresAt != nil && t.After(*l.ExpiresAt)
}

// Activation records the binding of one device fingerprint to one license.
// Each (license, fingerprint) pair activates at most once.
type Activation struct {
	ID          string    `json:"id"`
	LicenseKey  string    `json:"license_key"`
	MachineHash string    `json:"machine_hash"`
	DeviceID    string    `json:"device_id,omitempty"`
	IP          string    `json:"ip,omitempty"`
	AppVersion  string    `json:"app_version,omitempty"`
	ActivatedAt time.Time `json:"activated_at"`
}

// Device is the per-device status record used for ban tracking. It is created
// on first contact and never deleted (retained for audit).
type Device struct {
	DeviceID       string       `json:"device_id"`
	LicenseKey     string       `json:"license_key,omitempty"`
	Status         DeviceStatus `json:"status"`
	FirstSeen      time.Time    `json:"first_seen"`
	LastSeen       time.Time    `json:"last_seen"`
	LastIP         string       `json:"last_ip,omitempty"`
	TotalVisits    int64        `json:"total_visits"`
	FailedAttempts int64        `json:"failed_attempts"`
	BanReason      string       `json:"ban_reason,omitempty"`
	BannedAt       *time.Time   `json:"banned_at,omitempty"`
}

// ActivityEntry is one append-only audit log row. Every state-changing
// operation produces exactly one entry.
type ActivityEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	LicenseKey string    `json:"license_key,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
