// Package model holds the GORM-specific table structs, kept apart from the
// domain entities they mirror.
package model

import (
	"time"
)

// VendorPresenceModel is the GORM struct for the 'vendor_presences' table.
// One row per vendor, the durable mirror of the in-memory presence store.
type VendorPresenceModel struct {
	VendorID  string `gorm:"type:varchar(64);primary_key"`
	IsOnline  bool   `gorm:"not null;default:false"`
	Latitude  float64
	Longitude float64
	Address   string `gorm:"type:varchar(255)"`
	Sequence  uint64 `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// TableName explicitly sets the table name for GORM.
func (VendorPresenceModel) TableName() string {
	return "vendor_presences"
}
