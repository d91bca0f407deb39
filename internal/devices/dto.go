package devices

import (
	"time"

	"github.com/google/uuid"

	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
)

// RegisterInput carries the admin-facing registration payload.
type RegisterInput struct {
	DeviceCode         string  `json:"device_code"`
	Label              string  `json:"label"`
	PhoneNumber        *string `json:"phone_number,omitempty"`
	AutoApproveEnabled bool    `json:"auto_approve_enabled"`
}

// UpdateInput carries the admin-facing patch payload. Nil fields are left
// untouched.
type UpdateInput struct {
	Label              *string `json:"label,omitempty"`
	AutoApproveEnabled *bool   `json:"auto_approve_enabled,omitempty"`
	Disabled           *bool   `json:"disabled,omitempty"`
}

// HeartbeatInput is what the mobile app posts on its keepalive interval.
type HeartbeatInput struct {
	DeviceCode   string  `json:"device_code"`
	DeviceKey    string  `json:"-"`
	BatteryLevel *int    `json:"battery_level,omitempty"`
	NetworkType  *string `json:"network_type,omitempty"`
	AppVersion   *string `json:"app_version,omitempty"`
}

// DeviceDTO is the API projection of a registered device.
type DeviceDTO struct {
	ID                 uuid.UUID  `json:"id"`
	DeviceCode         string     `json:"device_code"`
	Label              string     `json:"label"`
	PhoneNumber        *string    `json:"phone_number,omitempty"`
	AutoApproveEnabled bool       `json:"auto_approve_enabled"`
	Online             bool       `json:"online"`
	LastHeartbeatAt    *time.Time `json:"last_heartbeat_at,omitempty"`
	BatteryLevel       *int       `json:"battery_level,omitempty"`
	NetworkType        *string    `json:"network_type,omitempty"`
	AppVersion         *string    `json:"app_version,omitempty"`
	Disabled           bool       `json:"disabled"`
	DisabledAt         *time.Time `json:"disabled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// RegisteredDevice pairs the created device with its raw key. The key is
// shown exactly once; only the argon2id hash survives.
type RegisteredDevice struct {
	Device    DeviceDTO `json:"device"`
	DeviceKey string    `json:"device_key"`
}

// DeviceList is a cursor page of devices.
type DeviceList struct {
	Devices    []DeviceDTO `json:"devices"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// NewDeviceDTO converts a device row into its API projection.
func NewDeviceDTO(device models.MobileDevice) DeviceDTO {
	return DeviceDTO{
		ID:                 device.ID,
		DeviceCode:         device.DeviceCode,
		Label:              device.Label,
		PhoneNumber:        device.PhoneNumber,
		AutoApproveEnabled: device.AutoApproveEnabled,
		Online:             device.Online,
		LastHeartbeatAt:    device.LastHeartbeatAt,
		BatteryLevel:       device.BatteryLevel,
		NetworkType:        device.NetworkType,
		AppVersion:         device.AppVersion,
		Disabled:           device.IsDisabled(),
		DisabledAt:         device.DisabledAt,
		CreatedAt:          device.CreatedAt,
		UpdatedAt:          device.UpdatedAt,
	}
}
