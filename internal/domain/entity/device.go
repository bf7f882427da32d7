// Package entity contains the core business objects of the project.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// FollowerDevice represents a customer device registered for push notifications
// about a vendor it follows. Used by the push worker for the best-effort
// notification path; live websocket delivery does not consult it.
type FollowerDevice struct {
	ID        uuid.UUID `json:"id"`         // The unique identifier for the registration.
	VendorID  string    `json:"vendor_id"`  // The vendor the device wants updates about.
	FCMToken  string    `json:"fcm_token"`  // Firebase Cloud Messaging token.
	DeviceID  string    `json:"device_id"`  // Unique device identifier from the client.
	Platform  string    `json:"platform"`   // Device platform (ios, android).
	IsActive  bool      `json:"is_active"`  // Indicates if this device should receive pushes.
	CreatedAt time.Time `json:"created_at"` // Timestamp of registration.
	UpdatedAt time.Time `json:"updated_at"` // Timestamp of the last modification.
}
