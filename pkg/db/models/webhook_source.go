package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// WebhookSource holds the shared-secret credentials for one upstream SMS
// gateway tenant. AllowedEvents constrains which event types the source may
// deliver; empty means all supported events.
type WebhookSource struct {
	ID            uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string         `gorm:"column:name;not null"`
	APIKey        string         `gorm:"column:api_key;not null;uniqueIndex"`
	Secret        string         `gorm:"column:secret;not null"`
	AllowedEvents pq.StringArray `gorm:"column:allowed_events;type:text[];default:ARRAY[]::text[]"`
	Active        bool           `gorm:"column:active;not null;default:true"`
	LastSeenAt    *time.Time     `gorm:"column:last_seen_at"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// AllowsEvent reports whether the source may deliver the given event type.
func (s WebhookSource) AllowsEvent(event string) bool {
	if len(s.AllowedEvents) == 0 {
		return true
	}
	for _, allowed := range s.AllowedEvents {
		if allowed == event {
			return true
		}
	}
	return false
}
