package repository

import (
	"context"

	"catalog-import-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReferencesRepository reads the tenant lookup values import rows resolve against
type ReferencesRepository struct {
	db *gorm.DB
}

func NewReferencesRepository(db *gorm.DB) *ReferencesRepository {
	return &ReferencesRepository{db: db}
}

// ListByTenant returns every reference value of a tenant
func (r *ReferencesRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.CatalogReference, error) {
	var refs []models.CatalogReference
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("kind ASC, name ASC").
		Find(&refs).Error
	return refs, err
}

// Get retrieves one reference value within a tenant
func (r *ReferencesRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.CatalogReference, error) {
	var ref models.CatalogReference
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&ref).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &ref, nil
}

// Create inserts a reference value
func (r *ReferencesRepository) Create(ctx context.Context, ref *models.CatalogReference) error {
	return r.db.WithContext(ctx).Create(ref).Error
}
