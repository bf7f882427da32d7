package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FollowerDeviceModel is the GORM struct for the 'follower_devices' table.
// Each row is one device that asked for push notifications about a vendor.
type FollowerDeviceModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v7()"`
	VendorID  string    `gorm:"type:varchar(64);not null;index"`
	FCMToken  string    `gorm:"type:varchar(255);not null"`
	DeviceID  string    `gorm:"type:varchar(255);not null"`
	Platform  string    `gorm:"type:varchar(50);not null"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName explicitly sets the table name for GORM.
func (FollowerDeviceModel) TableName() string {
	return "follower_devices"
}
