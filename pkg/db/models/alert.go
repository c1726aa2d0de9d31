package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/confops/pkg/enums"
)

// Alert is the durable record behind a realtime alert entry.
type Alert struct {
	ID       uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Type     string              `gorm:"column:type;type:text;not null"`
	Council  string              `gorm:"column:council;type:text;not null"`
	Message  string              `gorm:"column:message;type:text;not null"`
	Status   enums.AlertStatus   `gorm:"column:status;type:alert_status;not null"`
	Priority enums.AlertPriority `gorm:"column:priority;type:alert_priority;not null"`
	Reply    *string             `gorm:"column:reply;type:text"`
	// TargetRole narrows push fan-out and realtime visibility; nil means every role.
	TargetRole *enums.Role `gorm:"column:target_role;type:dashboard_role"`
	CreatedAt  time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

func (Alert) TableName() string { return "alerts" }

func (a *Alert) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
