package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phattra-dev/vidttool/pkg/contracts/domain"
)

// NewMemoryStore returns a map-backed Store. It serves tests and the
// single-process mode selected when no database URL is configured. A single
// mutex guards all maps, which also makes BindMachine's check-and-insert
// atomic.
func NewMemoryStore() Store {
	return &memoryStore{
		licenses:    make(map[string]*domain.License),
		activations: make(map[string][]domain.Activation),
		devices:     make(map[string]*domain.Device),
	}
}

type memoryStore struct {
	mu          sync.RWMutex
	licenses    map[string]*domain.License
	activations map[string][]domain.Activation
	devices     map[string]*domain.Device
	logs        []domain.ActivityEntry
}

func (s *memoryStore) CreateLicense(_ context.Context, lic *domain.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *lic
	cp.BoundMachines = nil
	s.licenses[lic.Key] = &cp
	return nil
}

func (s *memoryStore) GetLicense(_ context.Context, key string) (*domain.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lic, ok := s.licenses[key]
	if !ok {
		return nil, ErrLicenseNotFound
	}
	out := s.copyLicense(lic)
	return &out, nil
}

func (s *memoryStore) ListLicenses(_ context.Context) ([]domain.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.License, 0, len(s.licenses))
	for _, lic := range s.licenses {
		out = append(out, s.copyLicense(lic))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) UpdateLicense(_ context.Context, key string, upd LicenseUpdate) (*domain.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[key]
	if !ok {
		return nil, ErrLicenseNotFound
	}
	if upd.Email != nil {
		lic.Email = *upd.Email
	}
	if upd.Name != nil {
		lic.Name = *upd.Name
	}
	if upd.LicenseType != nil {
		lic.LicenseType = *upd.LicenseType
	}
	if upd.MaxMachines != nil {
		lic.MaxMachines = *upd.MaxMachines
	}
	if upd.Active != nil {
		lic.Active = *upd.Active
	}
	if upd.ExpiresAt != nil {
		t := *upd.ExpiresAt
		lic.ExpiresAt = &t
	}
	if upd.Notes != nil {
		lic.Notes = *upd.Notes
	}
	if upd.CustomMessage != nil {
		lic.CustomMessage = *upd.CustomMessage
	}
	out := s.copyLicense(lic)
	return &out, nil
}

func (s *memoryStore) ToggleLicense(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[key]
	if !ok {
		return false, ErrLicenseNotFound
	}
	lic.Active = !lic.Active
	return lic.Active, nil
}

func (s *memoryStore) DeleteLicense(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[key]; !ok {
		return ErrLicenseNotFound
	}
	delete(s.licenses, key)
	delete(s.activations, key)
	return nil
}

func (s *memoryStore) TouchLicense(_ context.Context, key, ip, version string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[key]
	if !ok {
		return nil
	}
	t := at
	lic.LastSeen = &t
	lic.LastIP = ip
	lic.LastVersion = version
	return nil
}

func (s *memoryStore) DisableExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, lic := range s.licenses {
		if lic.Active && lic.ExpiresAt != nil && lic.ExpiresAt.Before(now) {
			lic.Active = false
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) BindMachine(_ context.Context, b Bind) (*domain.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, ok := s.licenses[b.LicenseKey]
	if !ok {
		return nil, ErrLicenseNotFound
	}

	acts := s.activations[b.LicenseKey]
	for _, a := range acts {
		if a.MachineHash == b.MachineHash {
			cp := a
			return &cp, nil
		}
	}

	if len(acts) >= lic.MaxMachines {
		return nil, ErrMachineLimit
	}

	act := domain.Activation{
		ID:          uuid.NewString(),
		LicenseKey:  b.LicenseKey,
		MachineHash: b.MachineHash,
		DeviceID:    b.DeviceID,
		IP:          b.IP,
		AppVersion:  b.AppVersion,
		ActivatedAt: b.At,
	}
	s.activations[b.LicenseKey] = append(acts, act)
	cp := act
	return &cp, nil
}

func (s *memoryStore) ReleaseMachine(_ context.Context, key, machineHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acts := s.activations[key]
	for i, a := range acts {
		if a.MachineHash == machineHash {
			s.activations[key] = append(acts[:i:i], acts[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) ResetLicense(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[key]; !ok {
		return 0, ErrLicenseNotFound
	}
	n := int64(len(s.activations[key]))
	delete(s.activations, key)
	return n, nil
}

func (s *memoryStore) ListActivations(_ context.Context) ([]domain.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Activation
	for _, acts := range s.activations {
		out = append(out, acts...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivatedAt.After(out[j].ActivatedAt) })
	return out, nil
}

func (s *memoryStore) GetDevice(_ context.Context, deviceID string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	cp := *dev
	return &cp, nil
}

func (s *memoryStore) RecordVisit(_ context.Context, v Visit) (*domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[v.DeviceID]
	if !ok {
		dev = &domain.Device{
			DeviceID:  v.DeviceID,
			Status:    domain.StatusVisitor,
			FirstSeen: v.At,
		}
		s.devices[v.DeviceID] = dev
	}

	dev.LastSeen = v.At
	dev.LastIP = v.IP
	dev.TotalVisits++
	if v.Failed {
		dev.FailedAttempts++
	}
	if v.LicenseKey != "" {
		dev.LicenseKey = v.LicenseKey
		if !v.Failed && dev.Status == domain.StatusVisitor {
			dev.Status = domain.StatusActive
		}
	}
	cp := *dev
	return &cp, nil
}

func (s *memoryStore) SetDeviceStatus(_ context.Context, deviceID string, status domain.DeviceStatus, reason string, at time.Time) (*domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[deviceID]
	if !ok {
		dev = &domain.Device{
			DeviceID:  deviceID,
			Status:    domain.StatusVisitor,
			FirstSeen: at,
			LastSeen:  at,
		}
		s.devices[deviceID] = dev
	}

	dev.Status = status
	if status == domain.StatusBanned {
		dev.BanReason = reason
		t := at
		dev.BannedAt = &t
	} else {
		dev.BanReason = ""
		dev.BannedAt = nil
	}
	cp := *dev
	return &cp, nil
}

func (s *memoryStore) ListDevices(_ context.Context) ([]domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Device, 0, len(s.devices))
	for _, dev := range s.devices {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

func (s *memoryStore) AppendLog(_ context.Context, entry domain.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *memoryStore) ListLogs(_ context.Context, limit int) ([]domain.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ActivityEntry, len(s.logs))
	copy(out, s.logs)
	// Newest first, matching the Postgres implementation.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) Stats(_ context.Context, now time.Time) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{LicenseTypes: make(map[string]int64)}
	for _, lic := range s.licenses {
		snap.TotalLicenses++
		if lic.Active {
			snap.ActiveLicenses++
		}
		if lic.ExpiresAt != nil && lic.ExpiresAt.Before(now) {
			snap.ExpiredLicenses++
		}
		snap.LicenseTypes[lic.LicenseType]++
	}
	for _, acts := range s.activations {
		snap.TotalActivations += int64(len(acts))
	}
	for _, dev := range s.devices {
		if dev.Status == domain.StatusBanned {
			snap.BannedDevices++
		}
	}
	return snap, nil
}

func (s *memoryStore) Close() error { return nil }

// copyLicense returns a value copy with BoundMachines derived from the
// activation rows. Caller must hold at least the read lock.
func (s *memoryStore) copyLicense(lic *domain.License) domain.License {
	out := *lic
	acts := s.activations[lic.Key]
	out.BoundMachines = make([]string, 0, len(acts))
	for _, a := range acts {
		out.BoundMachines = append(out.BoundMachines, a.MachineHash)
	}
	return out
}
