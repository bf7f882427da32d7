// Package repository defines the interfaces for the persistence layer.
package repository

import (
	"context"

	"beacon/internal/domain/entity"
	"beacon/internal/errors"
)

// ErrPresenceNotFound is returned when no durable presence row exists for a vendor.
var ErrPresenceNotFound = errors.New("vendor presence not found")

// PresenceRepository is the durable system of record for vendor presence.
// The in-memory store writes through to it asynchronously and reads from it
// only for cold-start hydration, so none of these calls sit on the hot path.
type PresenceRepository interface {
	// UpsertPresence persists the current presence row for a vendor,
	// creating it on first write.
	UpsertPresence(ctx context.Context, presence *entity.VendorPresence) error

	// FindPresenceByVendor loads the durable presence row for a vendor.
	// Returns ErrPresenceNotFound when the vendor has never been online.
	FindPresenceByVendor(ctx context.Context, vendorID string) (*entity.VendorPresence, error)
}
