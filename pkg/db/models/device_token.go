package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/confops/pkg/enums"
)

// DeviceToken mirrors a push token a signed-in device obtained. Token is unique;
// re-registering the same token moves it to the latest user and role.
type DeviceToken struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID     string     `gorm:"column:user_id;type:text;not null"`
	Role       enums.Role `gorm:"column:role;type:dashboard_role;not null"`
	Token      string     `gorm:"column:token;type:text;not null;uniqueIndex"`
	Platform   string     `gorm:"column:platform;type:text;not null"`
	ObtainedAt time.Time  `gorm:"column:obtained_at;type:timestamptz;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeviceToken) TableName() string { return "device_tokens" }

// BeforeCreate assigns the id client-side so sqlite-backed runs behave like Postgres.
func (d *DeviceToken) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
