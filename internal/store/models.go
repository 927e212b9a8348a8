package store

import (
	"time"
)

type licenseModel struct {
	Key           string     `gorm:"column:key;primaryKey"`
	Email         string     `gorm:"column:email"`
	Name          string     `gorm:"column:name"`
	LicenseType   string     `gorm:"column:license_type"`
	MaxMachines   int        `gorm:"column:max_machines"`
	Active        bool       `gorm:"column:active"`
	CustomMessage string     `gorm:"column:custom_message"`
	Notes         string     `gorm:"column:notes"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	ExpiresAt     *time.Time `gorm:"column:expires_at"`
	LastSeen      *time.Time `gorm:"column:last_seen"`
	LastIP        string     `gorm:"column:last_ip"`
	LastVersion   string     `gorm:"column:last_version"`
}

func (licenseModel) TableName() string { return "licenses" }

type activationModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	LicenseKey  string    `gorm:"column:license_key"`
	MachineHash string    `gorm:"column:machine_hash"`
	DeviceID    string    `gorm:"column:device_id"`
	IP          string    `gorm:"column:ip"`
	AppVersion  string    `gorm:"column:app_version"`
	ActivatedAt time.Time `gorm:"column:activated_at"`
}

func (activationModel) TableName() string { return "activations" }

type deviceModel struct {
	DeviceID       string     `gorm:"column:device_id;primaryKey"`
	LicenseKey     *string    `gorm:"column:license_key"`
	Status         string     `gorm:"column:status"`
	FirstSeen      time.Time  `gorm:"column:first_seen"`
	LastSeen       time.Time  `gorm:"column:last_seen"`
	LastIP         string     `gorm:"column:last_ip"`
	TotalVisits    int64      `gorm:"column:total_visits"`
	FailedAttempts int64      `gorm:"column:failed_attempts"`
	BanReason      string     `gorm:"column:ban_reason"`
	BannedAt       *time.Time `gorm:"column:banned_at"`
}

func (deviceModel) TableName() string { return "users" }

type activityLogModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Action     string    `gorm:"column:action"`
	LicenseKey string    `gorm:"column:license_key"`
	DeviceID   string    `gorm:"column:device_id"`
	IP         string    `gorm:"column:ip"`
	Details    string    `gorm:"column:details"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (activityLogModel) TableName() string { return "activity_logs" }
