package models

import (
	"time"

	"github.com/google/uuid"
)

// MobileDevice is a registered Android SMS forwarder.
type MobileDevice struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DeviceCode         string     `gorm:"column:device_code;not null;uniqueIndex"`
	Label              string     `gorm:"column:label;not null"`
	PhoneNumber        *string    `gorm:"column:phone_number"`
	APIKeyHash         *string    `gorm:"column:api_key_hash"`
	AutoApproveEnabled bool       `gorm:"column:auto_approve_enabled;not null;default:false"`
	Online             bool       `gorm:"column:online;not null;default:false"`
	LastHeartbeatAt    *time.Time `gorm:"column:last_heartbeat_at"`
	BatteryLevel       *int       `gorm:"column:battery_level"`
	NetworkType        *string    `gorm:"column:network_type"`
	AppVersion         *string    `gorm:"column:app_version"`
	DisabledAt         *time.Time `gorm:"column:disabled_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// IsDisabled reports whether the device has been administratively shut off.
func (d MobileDevice) IsDisabled() bool {
	return d.DisabledAt != nil
}
