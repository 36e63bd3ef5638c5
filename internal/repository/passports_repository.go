package repository

import (
	"context"
	"time"

	"catalog-import-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PassportsRepository struct {
	db *gorm.DB
}

func NewPassportsRepository(db *gorm.DB) *PassportsRepository {
	return &PassportsRepository{db: db}
}

// CreatePassports inserts passports, skipping any whose variant or upid
// already has one. Safe to call again with the same input.
func (r *PassportsRepository) CreatePassports(ctx context.Context, passports []*models.ProductPassport) (int64, error) {
	if len(passports) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&passports)
	return result.RowsAffected, result.Error
}

// OrphanByVariantIDs detaches passports from variants about to be deleted
func (r *PassportsRepository) OrphanByVariantIDs(ctx context.Context, tenantID string, variantIDs []uuid.UUID) (int64, error) {
	if len(variantIDs) == 0 {
		return 0, nil
	}
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.ProductPassport{}).
		Where("tenant_id = ? AND variant_id IN ?", tenantID, variantIDs).
		Updates(map[string]interface{}{
			"variant_id":  nil,
			"orphaned_at": now,
			"updated_at":  now,
		})
	return result.RowsAffected, result.Error
}

// SyncMetadata copies a variant's sku and barcode onto its passport
func (r *PassportsRepository) SyncMetadata(ctx context.Context, tenantID string, variantID uuid.UUID, sku, barcode *string) error {
	return r.db.WithContext(ctx).Model(&models.ProductPassport{}).
		Where("tenant_id = ? AND variant_id = ?", tenantID, variantID).
		Updates(map[string]interface{}{
			"sku":        sku,
			"barcode":    barcode,
			"updated_at": time.Now(),
		}).Error
}

// GetByUPID retrieves a passport, orphaned or not
func (r *PassportsRepository) GetByUPID(ctx context.Context, tenantID, upid string) (*models.ProductPassport, error) {
	var passport models.ProductPassport
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND upid = ?", tenantID, upid).
		First(&passport).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &passport, nil
}

// GetByVariantID retrieves the passport linked to a variant
func (r *PassportsRepository) GetByVariantID(ctx context.Context, tenantID string, variantID uuid.UUID) (*models.ProductPassport, error) {
	var passport models.ProductPassport
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND variant_id = ?", tenantID, variantID).
		First(&passport).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &passport, nil
}

// LinkedVariantIDs returns which of variantIDs already have a passport
func (r *PassportsRepository) LinkedVariantIDs(ctx context.Context, tenantID string, variantIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	linked := make(map[uuid.UUID]bool)
	if len(variantIDs) == 0 {
		return linked, nil
	}
	var passports []models.ProductPassport
	if err := r.db.WithContext(ctx).
		Select("variant_id").
		Where("tenant_id = ? AND variant_id IN ?", tenantID, variantIDs).
		Find(&passports).Error; err != nil {
		return nil, err
	}
	for _, p := range passports {
		if p.VariantID != nil {
			linked[*p.VariantID] = true
		}
	}
	return linked, nil
}
