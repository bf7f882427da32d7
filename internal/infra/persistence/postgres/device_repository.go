package postgres

import (
	"context"

	"beacon/internal/domain/entity"
	"beacon/internal/domain/repository"
	"beacon/internal/infra/persistence/model"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// deviceRepository implements the repository.DeviceRepository interface.
type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository is the constructor for deviceRepository.
func NewDeviceRepository(db *gorm.DB) repository.DeviceRepository {
	return &deviceRepository{
		db: db,
	}
}

// FindDevicesByVendor retrieves the active devices following a vendor.
func (repo *deviceRepository) FindDevicesByVendor(ctx context.Context, vendorID string) ([]*entity.FollowerDevice, error) {
	var deviceModels []*model.FollowerDeviceModel

	if err := repo.db.WithContext(ctx).
		Where("vendor_id = ? AND is_active = ?", vendorID, true).
		Order("created_at DESC").
		Find(&deviceModels).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find devices by vendor")
	}

	devices := make([]*entity.FollowerDevice, 0, len(deviceModels))
	for _, deviceM := range deviceModels {
		devices = append(devices, toDeviceDomain(deviceM))
	}

	return devices, nil
}

// DeactivateDevicesByToken marks every device carrying one of the tokens
// inactive. Called when FCM reports the tokens as no longer registered.
func (repo *deviceRepository) DeactivateDevicesByToken(ctx context.Context, fcmTokens []string) (int64, error) {
	if len(fcmTokens) == 0 {
		return 0, nil
	}

	result := repo.db.WithContext(ctx).
		Model(&model.FollowerDeviceModel{}).
		Where("fcm_token IN ?", fcmTokens).
		Update("is_active", false)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to deactivate devices by token")
	}

	return result.RowsAffected, nil
}

// --- Mapper Functions ---

// toDeviceDomain converts a GORM FollowerDeviceModel to a domain FollowerDevice entity.
func toDeviceDomain(data *model.FollowerDeviceModel) *entity.FollowerDevice {
	if data == nil {
		return nil
	}

	return &entity.FollowerDevice{
		ID:        data.ID,
		VendorID:  data.VendorID,
		FCMToken:  data.FCMToken,
		DeviceID:  data.DeviceID,
		Platform:  data.Platform,
		IsActive:  data.IsActive,
		CreatedAt: data.CreatedAt,
		UpdatedAt: data.UpdatedAt,
	}
}
