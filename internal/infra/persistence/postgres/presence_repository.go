// Package postgres contains the concrete implementation of the persistence layer using GORM and PostgreSQL.
package postgres

import (
	"context"

	"beacon/internal/domain/entity"
	"beacon/internal/domain/repository"
	"beacon/internal/infra/persistence/model"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// presenceRepository implements the repository.PresenceRepository interface.
type presenceRepository struct {
	db *gorm.DB
}

// NewPresenceRepository is the constructor for presenceRepository.
func NewPresenceRepository(db *gorm.DB) repository.PresenceRepository {
	return &presenceRepository{
		db: db,
	}
}

// UpsertPresence writes the latest snapshot for a vendor. The sequence guard
// in the WHERE clause keeps a delayed write from clobbering a newer row.
func (repo *presenceRepository) UpsertPresence(ctx context.Context, presence *entity.VendorPresence) error {
	presenceM := fromPresenceDomain(presence)

	err := repo.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "vendor_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"is_online":  presenceM.IsOnline,
				"latitude":   presenceM.Latitude,
				"longitude":  presenceM.Longitude,
				"address":    presenceM.Address,
				"sequence":   presenceM.Sequence,
				"updated_at": presenceM.UpdatedAt,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("vendor_presences.sequence < ?", presenceM.Sequence),
			}},
		}).
		Create(presenceM).Error
	if err != nil {
		return errors.Wrap(err, "failed to upsert vendor presence")
	}

	return nil
}

// FindPresenceByVendor retrieves the stored snapshot for one vendor.
func (repo *presenceRepository) FindPresenceByVendor(ctx context.Context, vendorID string) (*entity.VendorPresence, error) {
	var presenceM model.VendorPresenceModel

	if err := repo.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
		First(&presenceM).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrPresenceNotFound
		}

		return nil, errors.Wrap(err, "failed to find presence by vendor")
	}

	return toPresenceDomain(&presenceM), nil
}

// --- Mapper Functions ---

func toPresenceDomain(data *model.VendorPresenceModel) *entity.VendorPresence {
	if data == nil {
		return nil
	}

	return &entity.VendorPresence{
		VendorID:  data.VendorID,
		IsOnline:  data.IsOnline,
		Latitude:  data.Latitude,
		Longitude: data.Longitude,
		Address:   data.Address,
		Sequence:  data.Sequence,
		UpdatedAt: data.UpdatedAt,
	}
}

func fromPresenceDomain(data *entity.VendorPresence) *model.VendorPresenceModel {
	if data == nil {
		return nil
	}

	return &model.VendorPresenceModel{
		VendorID:  data.VendorID,
		IsOnline:  data.IsOnline,
		Latitude:  data.Latitude,
		Longitude: data.Longitude,
		Address:   data.Address,
		Sequence:  data.Sequence,
		UpdatedAt: data.UpdatedAt,
	}
}
