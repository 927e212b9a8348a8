// Package store provides persistence for licenses, activations, device status
// records and the activity log. Two implementations exist: a Postgres-backed
// store (production) and an in-memory store (tests and single-process mode).
// The server process exclusively owns all four entities; clients request
// mutations only through the validation and admin surfaces.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/phattra-dev/vidttool/pkg/contracts/domain"
)

// Sentinel errors shared by both implementations.
var (
	// ErrLicenseNotFound is returned when a license key does not exist.
	ErrLicenseNotFound = errors.New("license not found")
	// ErrDeviceNotFound is returned when a device record does not exist.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrMachineLimit is returned by BindMachine when the license has no free
	// machine slot. The check-and-bind is atomic: under concurrent binds
	// against the last slot exactly one caller succeeds.
	ErrMachineLimit = errors.New("machine limit reached")
)

// LicenseUpdate describes a partial license mutation. Nil fields are left
// untouched.
type LicenseUpdate struct {
	Email         *string
	Name          *string
	LicenseType   *string
	MaxMachines   *int
	Active        *bool
	ExpiresAt     *time.Time
	Notes         *string
	CustomMessage *string
}

// Visit records one contact from a device, successful or not. The store
// creates the device record (as "visitor") on first contact and bumps the
// counters on every call.
type Visit struct {
	DeviceID   string
	LicenseKey string
	IP         string
	Failed     bool
	At         time.Time
}

// Bind describes a machine binding request passed to BindMachine.
type Bind struct {
	LicenseKey  string
	MachineHash string
	DeviceID    string
	IP          string
	AppVersion  string
	At          time.Time
}

// Snapshot holds the aggregate counters served by the admin stats endpoint.
type Snapshot struct {
	TotalLicenses    int64
	ActiveLicenses   int64
	ExpiredLicenses  int64
	TotalActivations int64
	BannedDevices    int64
	LicenseTypes     map[string]int64
}

// Store is the persistence contract used by the validation engine, the
// ban/status engine and the admin surface.
type Store interface {
	// Licenses.
	CreateLicense(ctx context.Context, lic *domain.License) error
	GetLicense(ctx context.Context, key string) (*domain.License, error)
	ListLicenses(ctx context.Context) ([]domain.License, error)
	UpdateLicense(ctx context.Context, key string, upd LicenseUpdate) (*domain.License, error)
	ToggleLicense(ctx context.Context, key string) (bool, error)
	DeleteLicense(ctx context.Context, key string) error
	TouchLicense(ctx context.Context, key, ip, version string, at time.Time) error
	DisableExpired(ctx context.Context, now time.Time) (int64, error)

	// Activations. BindMachine is idempotent for an already-bound
	// (license, fingerprint) pair and returns ErrMachineLimit when no slot
	// is free; the count check and the insert happen in one transaction.
	BindMachine(ctx context.Context, b Bind) (*domain.Activation, error)
	ReleaseMachine(ctx context.Context, key, machineHash string) (bool, error)
	ResetLicense(ctx context.Context, key string) (int64, error)
	ListActivations(ctx context.Context) ([]domain.Activation, error)

	// Device status records.
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
	RecordVisit(ctx context.Context, v Visit) (*domain.Device, error)
	SetDeviceStatus(ctx context.Context, deviceID string, status domain.DeviceStatus, reason string, at time.Time) (*domain.Device, error)
	ListDevices(ctx context.Context) ([]domain.Device, error)

	// Activity log (append only).
	AppendLog(ctx context.Context, entry domain.ActivityEntry) error
	ListLogs(ctx context.Context, limit int) ([]domain.ActivityEntry, error)

	// Aggregates.
	Stats(ctx context.Context, now time.Time) (*Snapshot, error)

	Close() error
}
