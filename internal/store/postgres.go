package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/phattra-dev/vidttool/pkg/contracts/domain"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Connect opens and validates a Postgres-backed GORM connection pool.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*gorm.DB, error) {
	// Simple protocol lets the multi-statement migration files run in one
	// Exec.
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  databaseURL,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(int(maxConns))
		sqlDB.SetMaxIdleConns(int(maxConns) / 2)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// RunMigrations applies the embedded SQL migrations in lexical order.
// Embedding the schema with the binary avoids drift between code and database
// at startup.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := db.WithContext(ctx).Exec(string(sql)).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		slog.Default().InfoContext(ctx, "migration applied", "migration", name)
	}
	return nil
}

// NewPostgresStore wraps a GORM connection in the Store contract.
func NewPostgresStore(db *gorm.DB) Store {
	return &postgresStore{db: db}
}

type postgresStore struct {
	db *gorm.DB
}

func (s *postgresStore) CreateLicense(ctx context.Context, lic *domain.License) error {
	rec := licenseModel{
		Key:           lic.Key,
		Email:         lic.Email,
		Name:          lic.Name,
		LicenseType:   lic.LicenseType,
		MaxMachines:   lic.MaxMachines,
		Active:        lic.Active,
		CustomMessage: lic.CustomMessage,
		Notes:         lic.Notes,
		CreatedAt:     lic.CreatedAt,
		ExpiresAt:     lic.ExpiresAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *postgresStore) GetLicense(ctx context.Context, key string) (*domain.License, error) {
	var rec licenseModel
	if err := s.db.WithContext(ctx).Where("key = ?", key).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}

	var hashes []string
	if err := s.db.WithContext(ctx).Model(&activationModel{}).
		Where("license_key = ?", key).
		Order("activated_at").
		Pluck("machine_hash", &hashes).Error; err != nil {
		return nil, err
	}

	lic := toDomainLicense(rec)
	lic.BoundMachines = hashes
	return &lic, nil
}

func (s *postgresStore) ListLicenses(ctx context.Context) ([]domain.License, error) {
	var recs []licenseModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}

	bound := make(map[string][]string, len(recs))
	var acts []activationModel
	if err := s.db.WithContext(ctx).Order("activated_at").Find(&acts).Error; err != nil {
		return nil, err
	}
	for _, a := range acts {
		bound[a.LicenseKey] = append(bound[a.LicenseKey], a.MachineHash)
	}

	out := make([]domain.License, 0, len(recs))
	for _, rec := range recs {
		lic := toDomainLicense(rec)
		lic.BoundMachines = bound[rec.Key]
		if lic.BoundMachines == nil {
			lic.BoundMachines = []string{}
		}
		out = append(out, lic)
	}
	return out, nil
}

func (s *postgresStore) UpdateLicense(ctx context.Context, key string, upd LicenseUpdate) (*domain.License, error) {
	updates := map[string]interface{}{}
	if upd.Email != nil {
		updates["email"] = *upd.Email
	}
	if upd.Name != nil {
		updates["name"] = *upd.Name
	}
	if upd.LicenseType != nil {
		updates["license_type"] = *upd.LicenseType
	}
	if upd.MaxMachines != nil {
		updates["max_machines"] = *upd.MaxMachines
	}
	if upd.Active != nil {
		updates["active"] = *upd.Active
	}
	if upd.ExpiresAt != nil {
		updates["expires_at"] = *upd.ExpiresAt
	}
	if upd.Notes != nil {
		updates["notes"] = *upd.Notes
	}
	if upd.CustomMessage != nil {
		updates["custom_message"] = *upd.CustomMessage
	}

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&licenseModel{}).Where("key = ?", key).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrLicenseNotFound
		}
	}
	return s.GetLicense(ctx, key)
}

func (s *postgresStore) ToggleLicense(ctx context.Context, key string) (bool, error) {
	var active bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec licenseModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("key = ?", key).Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLicenseNotFound
			}
			return err
		}
		active = !rec.Active
		return tx.Model(&licenseModel{}).Where("key = ?", key).Update("active", active).Error
	})
	return active, err
}

func (s *postgresStore) DeleteLicense(ctx context.Context, key string) error {
	// Activations go with the license via ON DELETE CASCADE.
	res := s.db.WithContext(ctx).Where("key = ?", key).Delete(&licenseModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLicenseNotFound
	}
	return nil
}

func (s *postgresStore) TouchLicense(ctx context.Context, key, ip, version string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&licenseModel{}).Where("key = ?", key).Updates(map[string]interface{}{
		"last_seen":    at,
		"last_ip":      ip,
		"last_version": version,
	}).Error
}

func (s *postgresStore) DisableExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&licenseModel{}).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at < ?", true, now).
		Update("active", false)
	return res.RowsAffected, res.Error
}

func (s *postgresStore) BindMachine(ctx context.Context, b Bind) (*domain.Activation, error) {
	var rec activationModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the license row so the slot count cannot change between the
		// check and the insert.
		var lic licenseModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("key = ?", b.LicenseKey).Take(&lic).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLicenseNotFound
			}
			return err
		}

		var existing activationModel
		err := tx.Where("license_key = ? AND machine_hash = ?", b.LicenseKey, b.MachineHash).
			Take(&existing).Error
		if err == nil {
			rec = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var count int64
		if err := tx.Model(&activationModel{}).
			Where("license_key = ?", b.LicenseKey).Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(lic.MaxMachines) {
			return ErrMachineLimit
		}

		rec = activationModel{
			ID:          uuid.NewString(),
			LicenseKey:  b.LicenseKey,
			MachineHash: b.MachineHash,
			DeviceID:    b.DeviceID,
			IP:          b.IP,
			AppVersion:  b.AppVersion,
			ActivatedAt: b.At,
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	act := toDomainActivation(rec)
	return &act, nil
}

func (s *postgresStore) ReleaseMachine(ctx context.Context, key, machineHash string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("license_key = ? AND machine_hash = ?", key, machineHash).
		Delete(&activationModel{})
	return res.RowsAffected > 0, res.Error
}

func (s *postgresStore) ResetLicense(ctx context.Context, key string) (int64, error) {
	var exists int64
	if err := s.db.WithContext(ctx).Model(&licenseModel{}).Where("key = ?", key).Count(&exists).Error; err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, ErrLicenseNotFound
	}
	res := s.db.WithContext(ctx).Where("license_key = ?", key).Delete(&activationModel{})
	return res.RowsAffected, res.Error
}

func (s *postgresStore) ListActivations(ctx context.Context) ([]domain.Activation, error) {
	var recs []activationModel
	if err := s.db.WithContext(ctx).Order("activated_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Activation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDomainActivation(rec))
	}
	return out, nil
}

func (s *postgresStore) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	var rec deviceModel
	if err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	dev := toDomainDevice(rec)
	return &dev, nil
}

func (s *postgresStore) RecordVisit(ctx context.Context, v Visit) (*domain.Device, error) {
	var rec deviceModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("device_id = ?", v.DeviceID).Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = deviceModel{
				DeviceID:    v.DeviceID,
				Status:      string(domain.StatusVisitor),
				FirstSeen:   v.At,
				LastSeen:    v.At,
				LastIP:      v.IP,
				TotalVisits: 1,
			}
			if v.Failed {
				rec.FailedAttempts = 1
			} else if v.LicenseKey != "" {
				rec.Status = string(domain.StatusActive)
			}
			if v.LicenseKey != "" {
				rec.LicenseKey = &v.LicenseKey
			}
			return tx.Create(&rec).Error
		}
		if err != nil {
			return err
		}

		rec.LastSeen = v.At
		rec.LastIP = v.IP
		rec.TotalVisits++
		if v.Failed {
			rec.FailedAttempts++
		}
		if v.LicenseKey != "" {
			rec.LicenseKey = &v.LicenseKey
			// A successful validation promotes a visitor to active, but a
			// flagged or banned device keeps its status.
			if !v.Failed && rec.Status == string(domain.StatusVisitor) {
				rec.Status = string(domain.StatusActive)
			}
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	dev := toDomainDevice(rec)
	return &dev, nil
}

func (s *postgresStore) SetDeviceStatus(ctx context.Context, deviceID string, status domain.DeviceStatus, reason string, at time.Time) (*domain.Device, error) {
	var rec deviceModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("device_id = ?", deviceID).Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Banning a device the server has never seen still creates the
			// record so the ban holds on first contact.
			rec = deviceModel{
				DeviceID:  deviceID,
				Status:    string(status),
				FirstSeen: at,
				LastSeen:  at,
			}
			if status == domain.StatusBanned {
				rec.BanReason = reason
				rec.BannedAt = &at
			}
			return tx.Create(&rec).Error
		}
		if err != nil {
			return err
		}

		rec.Status = string(status)
		if status == domain.StatusBanned {
			rec.BanReason = reason
			rec.BannedAt = &at
		} else {
			rec.BanReason = ""
			rec.BannedAt = nil
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	dev := toDomainDevice(rec)
	return &dev, nil
}

func (s *postgresStore) ListDevices(ctx context.Context) ([]domain.Device, error) {
	var recs []deviceModel
	if err := s.db.WithContext(ctx).Order("last_seen DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Device, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDomainDevice(rec))
	}
	return out, nil
}

func (s *postgresStore) AppendLog(ctx context.Context, entry domain.ActivityEntry) error {
	rec := activityLogModel{
		ID:         entry.ID,
		Action:     entry.Action,
		LicenseKey: entry.LicenseKey,
		DeviceID:   entry.DeviceID,
		IP:         entry.IP,
		Details:    entry.Details,
		CreatedAt:  entry.CreatedAt,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *postgresStore) ListLogs(ctx context.Context, limit int) ([]domain.ActivityEntry, error) {
	var recs []activityLogModel
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ActivityEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, domain.ActivityEntry{
			ID:         rec.ID,
			Action:     rec.Action,
			LicenseKey: rec.LicenseKey,
			DeviceID:   rec.DeviceID,
			IP:         rec.IP,
			Details:    rec.Details,
			CreatedAt:  rec.CreatedAt,
		})
	}
	return out, nil
}

func (s *postgresStore) Stats(ctx context.Context, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{LicenseTypes: make(map[string]int64)}

	if err := s.db.WithContext(ctx).Model(&licenseModel{}).Count(&snap.TotalLicenses).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&licenseModel{}).Where("active = ?", true).
		Count(&snap.ActiveLicenses).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&licenseModel{}).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Count(&snap.ExpiredLicenses).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&activationModel{}).Count(&snap.TotalActivations).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&deviceModel{}).
		Where("status = ?", string(domain.StatusBanned)).
		Count(&snap.BannedDevices).Error; err != nil {
		return nil, err
	}

	type typeRow struct {
		LicenseType string
		N           int64
	}
	var rows []typeRow
	if err := s.db.WithContext(ctx).Model(&licenseModel{}).
		Select("license_type, count(*) as n").
		Group("license_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		snap.LicenseTypes[row.LicenseType] = row.N
	}
	return snap, nil
}

func (s *postgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toDomainLicense(rec licenseModel) domain.License {
	return domain.License{
		Key:           rec.Key,
		Email:         rec.Email,
		Name:          rec.Name,
		LicenseType:   rec.LicenseType,
		MaxMachines:   rec.MaxMachines,
		Active:        rec.Active,
		CustomMessage: rec.CustomMessage,
		Notes:         rec.Notes,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
		LastSeen:      rec.LastSeen,
		LastIP:        rec.LastIP,
		LastVersion:   rec.LastVersion,
		BoundMachines: []string{},
	}
}

func toDomainActivation(rec activationModel) domain.Activation {
	return domain.Activation{
		ID:          rec.ID,
		LicenseKey:  rec.LicenseKey,
		MachineHash: rec.MachineHash,
		DeviceID:    rec.DeviceID,
		IP:          rec.IP,
		AppVersion:  rec.AppVersion,
		ActivatedAt: rec.ActivatedAt,
	}
}

func toDomainDevice(rec deviceModel) domain.Device {
	dev := domain.Device{
		DeviceID:       rec.DeviceID,
		Status:         domain.DeviceStatus(rec.Status),
		FirstSeen:      rec.FirstSeen,
		LastSeen:       rec.LastSeen,
		LastIP:         rec.LastIP,
		TotalVisits:    rec.TotalVisits,
		FailedAttempts: rec.FailedAttempts,
		BanReason:      rec.BanReason,
		BannedAt:       rec.BannedAt,
	}
	if rec.LicenseKey != nil {
		dev.LicenseKey = *rec.LicenseKey
	}
	return dev
}
