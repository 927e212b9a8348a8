// Package license implements the validation engine, the ban/status engine and
// the admin operations of the activation service. All state lives in the
// store; this package owns the decision policy on top of it.
package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phattra-dev/vidttool/internal/config"
	"github.com/phattra-dev/vidttool/internal/store"
	"github.com/phattra-dev/vidttool/pkg/contracts/domain"
)

// Event is pushed to connected realtime subscribers whenever server-side
// state changes in a way a client should react to before its next poll.
type Event struct {
	Type       string    `json:"type"`
	DeviceID   string    `json:"device_id,omitempty"`
	LicenseKey string    `json:"license_key,omitempty"`
	Status     string    `json:"status,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Event types.
const (
	EventStatusChanged  = "status_changed"
	EventLicenseChanged = "license_changed"
)

// Publisher delivers events to realtime subscribers. The websocket hub
// implements it; tests use a recording fake.
type Publisher interface {
	Publish(Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the realtime event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.pub = p
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is the license engine. It is safe for concurrent use.
type Service struct {
	store  store.Store
	policy config.PolicyConfig
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds the engine over the given store.
func NewService(st store.Store, policy config.PolicyConfig, opts ...Option) *Service {
	s := &Service{
		store:  st,
		policy: policy,
		pub:    nopPublisher{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateInput carries one validation call.
type ValidateInput struct {
	LicenseKey         string
	MachineFingerprint string
	DeviceID           string
	IP                 string
	AppVersion         string
}

// ValidateResult is the resolved decision plus the context a client needs to
// render it.
type ValidateResult struct {
	Decision  domain.Decision
	Message   string
	BanReason string
	License   *domain.License
	CheckedAt time.Time
}

// Validate resolves one validation call to exactly one decision. Checks apply
// in a fixed order: unknown key, disabled, expired, banned device, then the
// machine binding. Every call records a visit and an activity log entry
// regardless of outcome; a successful validation additionally stamps the
// license's last-seen fields.
func (s *Service) Validate(ctx context.Context, in ValidateInput) (*ValidateResult, error) {
	now := s.now()
	res := &ValidateResult{CheckedAt: now}

	lic, err := s.store.GetLicense(ctx, in.LicenseKey)
	switch {
	case errors.Is(err, store.ErrLicenseNotFound):
		res.Decision = domain.DecisionNotFound
	case err != nil:
		return nil, fmt.Errorf("load license: %w", err)
	case !lic.Active:
		res.Decision = domain.DecisionDisabled
	case lic.Expired(now):
		res.Decision = domain.DecisionExpired
	}
	res.License = lic

	// A banned device is rejected even when its license would otherwise be
	// valid. The lookup is read-only; the visit below does the bookkeeping.
	if res.Decision == "" {
		dev, err := s.store.GetDevice(ctx, in.DeviceID)
		if err != nil && !errors.Is(err, store.ErrDeviceNotFound) {
			return nil, fmt.Errorf("load device: %w", err)
		}
		if dev != nil && dev.Status == domain.StatusBanned {
			res.Decision = domain.DecisionBanned
			res.BanReason = dev.BanReason
		}
	}

	if res.Decision == "" {
		_, err := s.store.BindMachine(ctx, store.Bind{
			LicenseKey:  in.LicenseKey,
			MachineHash: in.MachineFingerprint,
			DeviceID:    in.DeviceID,
			IP:          in.IP,
			AppVersion:  in.AppVersion,
			At:          now,
		})
		switch {
		case errors.Is(err, store.ErrMachineLimit):
			res.Decision = domain.DecisionMachineLimit
		case err != nil:
			return nil, fmt.Errorf("bind machine: %w", err)
		default:
			res.Decision = domain.DecisionValid
		}
	}

	res.Message = s.decisionMessage(res.Decision, lic)

	visitKey := ""
	if lic != nil {
		visitKey = lic.Key
	}
	dev, err := s.store.RecordVisit(ctx, store.Visit{
		DeviceID:   in.DeviceID,
		LicenseKey: visitKey,
		IP:         in.IP,
		Failed:     res.Decision != domain.DecisionValid,
		At:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}

	// Last-seen stamping happens on every call that resolved a license, not
	// only on valid ones; a disabled license still shows when it was last
	// tried.
	if lic != nil {
		if err := s.store.TouchLicense(ctx, in.LicenseKey, in.IP, in.AppVersion, now); err != nil {
			return nil, fmt.Errorf("touch license: %w", err)
		}
	}
	if res.Decision != domain.DecisionValid {
		if err := s.escalate(ctx, dev, now); err != nil {
			return nil, err
		}
	}

	s.appendLog(ctx, domain.ActivityEntry{
		Action:     "validation",
		LicenseKey: in.LicenseKey,
		DeviceID:   in.DeviceID,
		IP:         in.IP,
		Details:    string(res.Decision),
		CreatedAt:  now,
	})

	validationsTotal.WithLabelValues(string(res.Decision)).Inc()
	s.logger.InfoContext(ctx, "validation resolved",
		"decision", res.Decision,
		"license_key", in.LicenseKey,
		"device_id", in.DeviceID,
	)
	return res, nil
}

// escalate flags a device for admin review once its failed-attempt count
// crosses a threshold. Escalation never bans and never downgrades; a banned
// or already-hacking device is left alone.
func (s *Service) escalate(ctx context.Context, dev *domain.Device, now time.Time) error {
	if dev == nil {
		return nil
	}
	var next domain.DeviceStatus
	switch {
	case s.policy.HackingThreshold > 0 && dev.FailedAttempts >= s.policy.HackingThreshold:
		next = domain.StatusHacking
	case s.policy.SuspiciousThreshold > 0 && dev.FailedAttempts >= s.policy.SuspiciousThreshold:
		next = domain.StatusSuspicious
	default:
		return nil
	}

	switch dev.Status {
	case domain.StatusBanned, domain.StatusHacking:
		return nil
	case next:
		return nil
	}

	if _, err := s.store.SetDeviceStatus(ctx, dev.DeviceID, next, "", now); err != nil {
		return fmt.Errorf("escalate device status: %w", err)
	}
	statusChangesTotal.WithLabelValues(string(next)).Inc()
	s.appendLog(ctx, domain.ActivityEntry{
		Action:    "escalation",
		DeviceID:  dev.DeviceID,
		Details:   fmt.Sprintf("failed_attempts=%d status=%s", dev.FailedAttempts, next),
		CreatedAt: now,
	})
	s.logger.WarnContext(ctx, "device escalated",
		"device_id", dev.DeviceID,
		"status", next,
		"failed_attempts", dev.FailedAttempts,
	)
	return nil
}

func (s *Service) decisionMessage(d domain.Decision, lic *domain.License) string {
	if lic != nil && lic.CustomMessage != "" {
		// Admin-set message overrides the stock text for every decision on
		// this license, valid included.
		return lic.CustomMessage
	}
	switch d {
	case domain.DecisionValid:
		return "License valid"
	case domain.DecisionNotFound:
		return "License not found"
	case domain.DecisionDisabled:
		return "License disabled"
	case domain.DecisionExpired:
		return "License expired"
	case domain.DecisionBanned:
		return "Device banned"
	case domain.DecisionMachineLimit:
		return "Machine limit reached"
	}
	return ""
}

// Deactivate releases one machine slot. Releasing a fingerprint that was
// never bound is a successful no-op with Released=false.
func (s *Service) Deactivate(ctx context.Context, licenseKey, machineFingerprint, ip string) (bool, error) {
	now := s.now()
	released, err := s.store.ReleaseMachine(ctx, licenseKey, machineFingerprint)
	if err != nil {
		return false, fmt.Errorf("release machine: %w", err)
	}
	s.appendLog(ctx, domain.ActivityEntry{
		Action:     "deactivation",
		LicenseKey: licenseKey,
		IP:         ip,
		Details:    fmt.Sprintf("released=%t", released),
		CreatedAt:  now,
	})
	return released, nil
}

// PollStatus answers the client poller. A device the server has never seen
// reports the implicit visitor status; polling is read-only and does not
// create a record. The returned timestamp is the engine clock reading for
// this check.
func (s *Service) PollStatus(ctx context.Context, deviceID string) (*domain.Device, time.Time, error) {
	checkedAt := s.now().UTC()
	dev, err := s.store.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrDeviceNotFound) {
		return &domain.Device{
			DeviceID: deviceID,
			Status:   domain.StatusVisitor,
		}, checkedAt, nil
	}
	if err != nil {
		return nil, checkedAt, fmt.Errorf("load device: %w", err)
	}
	return dev, checkedAt, nil
}

// CreateInput describes one license to mint.
type CreateInput struct {
	Email         string
	Name          string
	LicenseType   string
	MaxMachines   int
	DurationDays  int
	Notes         string
	CustomMessage string
}

// CreateLicense mints a license with a generated key. Zero DurationDays means
// no expiry.
func (s *Service) CreateLicense(ctx context.Context, in CreateInput) (*domain.License, error) {
	now := s.now()
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	lic := &domain.License{
		Key:           key,
		Email:         in.Email,
		Name:          in.Name,
		LicenseType:   in.LicenseType,
		MaxMachines:   in.MaxMachines,
		Active:        true,
		CustomMessage: in.CustomMessage,
		Notes:         in.Notes,
		CreatedAt:     now,
	}
	if lic.LicenseType == "" {
		lic.LicenseType = "standard"
	}
	if lic.MaxMachines < 1 {
		lic.MaxMachines = 1
	}
	if in.DurationDays > 0 {
		exp := now.AddDate(0, 0, in.DurationDays)
		lic.ExpiresAt = &exp
	}

	if err := s.store.CreateLicense(ctx, lic); err != nil {
		return nil, fmt.Errorf("create license: %w", err)
	}
	licensesGeneratedTotal.Inc()
	s.appendLog(ctx, domain.ActivityEntry{
		Action:     "license_created",
		LicenseKey: lic.Key,
		Details:    lic.LicenseType,
		CreatedAt:  now,
	})
	lic.BoundMachines = []string{}
	return lic, nil
}

// BulkInput describes a batch of licenses to mint.
type BulkInput struct {
	Count        int
	BatchName    string
	LicenseType  string
	MaxMachines  int
	DurationDays int
}

// BulkGenerate mints up to the configured cap of licenses in one call and
// returns the generated keys.
func (s *Service) BulkGenerate(ctx context.Context, in BulkInput) ([]string, error) {
	count := in.Count
	if limit := s.policy.BulkGenerateCap; limit > 0 && count > limit {
		count = limit
	}

	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		lic, err := s.CreateLicense(ctx, CreateInput{
			LicenseType:  in.LicenseType,
			MaxMachines:  in.MaxMachines,
			DurationDays: in.DurationDays,
			Notes:        in.BatchName,
		})
		if err != nil {
			return keys, err
		}
		keys = append(keys, lic.Key)
	}
	s.appendLog(ctx, domain.ActivityEntry{
		Action:    "bulk_generate",
		Details:   fmt.Sprintf("count=%d batch=%s", len(keys), in.BatchName),
		CreatedAt: s.now(),
	})
	return keys, nil
}

// GetLicense returns one license with its bound machines.
func (s *Service) GetLicense(ctx context.Context, key string) (*domain.License, error) {
	return s.store.GetLicense(ctx, key)
}

// ListLicenses returns all licenses, newest first.
func (s *Service) ListLicenses(ctx context.Context) ([]domain.License, error) {
	return s.store.ListLicenses(ctx)
}

// UpdateLicense applies a partial update and notifies subscribers.
func (s *Service) UpdateLicense(ctx context.Context, key string, upd store.LicenseUpdate) (*domain.License, error) {
	lic, err := s.store.UpdateLicense(ctx, key, upd)
	if err != nil {
		return nil, err
	}
	now := s.now()
	s.appendLog(ctx, domain.ActivityEntry{
		Action:     "license_updated",
		LicenseKey: key,
		CreatedAt:  now,
	})
	s.pub.Publish(Event{Type: EventLicenseChanged, LicenseKey: key, At: now})
	return lic, nil
}

// ToggleLicense flips the active flag and notifies subscribers so running
// clients revoke without waiting for the next validation.
func (s *Service) ToggleLicense(ctx context.Context, key string) (bool, error) {
	active, err := s.store.ToggleLicense(ctx, key)
	if err != nil {
		return false, err
	}
	now := s.now()
	s.appendLog(ctx, domain.ActivityEntry{
		Action:     "license_toggled",
		LicenseKey: key,
		Details:    fmt.Sprintf("active=%t", active),
		CreatedAt:  now,
	})
	s.pub.Publish(Event{Type: EventLicenseChanged, LicenseKey: key, At: now})
	return active, nil
}

// DeleteLicense removes a license and its activations.
func (s *Service) DeleteLicense(ctx context.Context, key string) error {
	if err := s.store.DeleteLicense(ctx, key); err != nil {
		return err
	}
	now := s.now()
	s.appendLog(ctx, domain.ActivityEntry{
		Action:     "license_deleted",
		LicenseKey: key,
		CreatedAt:  now,
	})
	s.pub.Publish(Event{Type: EventLicenseChanged, LicenseKey: key, At: now})
	return nil
}

// ResetLicense releases every machine bound to the key.
func (s *Service) ResetLicense(ctx context.Context, key string) (int64, error) {
	n, err := s.store.ResetLicense(ctx, key)
	if err != nil {
		return 0, err
	}
	s.appendLog(ctx, domain.ActivityEntry{
		Action:     "license_reset",
		LicenseKey: key,
		Details:    fmt.Sprintf("released=%d", n),
		CreatedAt:  s.now(),
	})
	return n, nil
}

// DisableExpired deactivates every active license whose expiry has passed.
func (s *Service) DisableExpired(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.store.DisableExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	s.appendLog(ctx, domain.ActivityEntry{
		Action:    "bulk_disable_expired",
		Details:   fmt.Sprintf("disabled=%d", n),
		CreatedAt: now,
	})
	return n, nil
}

// BanDevice bans a device identifier. The record is created if the server has
// never seen the device, so the ban holds on first contact.
func (s *Service) BanDevice(ctx context.Context, deviceID, reason string) (*domain.Device, error) {
	return s.SetDeviceStatus(ctx, deviceID, domain.StatusBanned, reason)
}

// UnbanDevice lifts a ban, returning the device to active.
func (s *Service) UnbanDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	return s.SetDeviceStatus(ctx, deviceID, domain.StatusActive, "")
}

// SetDeviceStatus forces a device into the given status and notifies
// subscribers. Reason is recorded only for bans.
func (s *Service) SetDeviceStatus(ctx context.Context, deviceID string, status domain.DeviceStatus, reason string) (*domain.Device, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown device status %q", status)
	}
	now := s.now()
	dev, err := s.store.SetDeviceStatus(ctx, deviceID, status, reason, now)
	if err != nil {
		return nil, err
	}

	statusChangesTotal.WithLabelValues(string(status)).Inc()
	s.appendLog(ctx, domain.ActivityEntry{
		Action:    "device_status_set",
		DeviceID:  deviceID,
		Details:   string(status),
		CreatedAt: now,
	})
	s.pub.Publish(Event{
		Type:     EventStatusChanged,
		DeviceID: deviceID,
		Status:   string(status),
		Reason:   reason,
		At:       now,
	})
	s.logger.InfoContext(ctx, "device status set",
		"device_id", deviceID,
		"status", status,
		"reason", reason,
	)
	return dev, nil
}

// GetDevice returns one device record.
func (s *Service) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	return s.store.GetDevice(ctx, deviceID)
}

// ListDevices returns all device records, most recently seen first.
func (s *Service) ListDevices(ctx context.Context) ([]domain.Device, error) {
	return s.store.ListDevices(ctx)
}

// ListActivations returns all machine bindings, newest first.
func (s *Service) ListActivations(ctx context.Context) ([]domain.Activation, error) {
	return s.store.ListActivations(ctx)
}

// ListLogs returns the newest limit activity entries.
func (s *Service) ListLogs(ctx context.Context, limit int) ([]domain.ActivityEntry, error) {
	return s.store.ListLogs(ctx, limit)
}

// Stats returns the aggregate counters for the admin dashboard.
func (s *Service) Stats(ctx context.Context) (*store.Snapshot, error) {
	return s.store.Stats(ctx, s.now())
}

// appendLog writes an audit entry. Log failures are reported but never fail
// the operation that produced them.
func (s *Service) appendLog(ctx context.Context, entry domain.ActivityEntry) {
	if err := s.store.AppendLog(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "append activity log", "action", entry.Action, "error", err)
	}
}
