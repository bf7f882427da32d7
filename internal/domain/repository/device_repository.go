package repository

import (
	"context"

	"beacon/internal/domain/entity"
)

// DeviceRepository provides follower device lookups for the push worker.
type DeviceRepository interface {
	// FindDevicesByVendor retrieves all active devices following a vendor.
	FindDevicesByVendor(ctx context.Context, vendorID string) ([]*entity.FollowerDevice, error)

	// DeactivateDevicesByToken marks devices with the given FCM tokens inactive,
	// used to prune tokens Firebase reports as invalid or unregistered.
	// Returns the number of devices deactivated.
	DeactivateDevicesByToken(ctx context.Context, tokens []string) (int64, error)
}
