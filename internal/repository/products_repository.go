package repository

import (
	"context"
	"time"

	"catalog-import-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProductsRepository struct {
	db *gorm.DB
}

func NewProductsRepository(db *gorm.DB) *ProductsRepository {
	return &ProductsRepository{db: db}
}

// CreateProduct creates a product for the tenant set on it
func (r *ProductsRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

// GetProduct retrieves a product by ID within a tenant
func (r *ProductsRepository) GetProduct(ctx context.Context, tenantID string, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, productID).
		First(&product).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

// GetProductByHandle retrieves a product by its tenant-unique handle
func (r *ProductsRepository) GetProductByHandle(ctx context.Context, tenantID, handle string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND handle = ?", tenantID, handle).
		First(&product).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

// UpdateProductFields applies a column map to a product
func (r *ProductsRepository) UpdateProductFields(ctx context.Context, tenantID string, productID uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&models.Product{}).
		Where("tenant_id = ? AND id = ?", tenantID, productID).
		Updates(updates).Error
}

// ListVariants returns every variant of a product in creation order
func (r *ProductsRepository) ListVariants(ctx context.Context, tenantID string, productID uuid.UUID) ([]models.ProductVariant, error) {
	var variants []models.ProductVariant
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ?", tenantID, productID).
		Order("created_at ASC, upid ASC").
		Find(&variants).Error
	return variants, err
}

// GetVariant retrieves a variant by ID within a tenant
func (r *ProductsRepository) GetVariant(ctx context.Context, tenantID string, variantID uuid.UUID) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, variantID).
		First(&variant).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &variant, nil
}

// GetVariantsByIDs retrieves the tenant's variants among ids
func (r *ProductsRepository) GetVariantsByIDs(ctx context.Context, tenantID string, ids []uuid.UUID) ([]models.ProductVariant, error) {
	if len(ids) == 0 {
		return []models.ProductVariant{}, nil
	}
	var variants []models.ProductVariant
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Find(&variants).Error
	return variants, err
}

// FindVariantsByUPIDs retrieves the tenant's variants holding any of upids
func (r *ProductsRepository) FindVariantsByUPIDs(ctx context.Context, tenantID string, upids []string) ([]models.ProductVariant, error) {
	if len(upids) == 0 {
		return []models.ProductVariant{}, nil
	}
	var variants []models.ProductVariant
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND upid IN ?", tenantID, upids).
		Find(&variants).Error
	return variants, err
}

// FindVariantsBySKUs retrieves the tenant's variants holding any of skus
func (r *ProductsRepository) FindVariantsBySKUs(ctx context.Context, tenantID string, skus []string) ([]models.ProductVariant, error) {
	if len(skus) == 0 {
		return []models.ProductVariant{}, nil
	}
	var variants []models.ProductVariant
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sku IN ?", tenantID, skus).
		Find(&variants).Error
	return variants, err
}

// FindBarcodeHolders returns the tenant's variants holding any of the
// normalized barcodes, ignoring the variants in excludeIDs.
func (r *ProductsRepository) FindBarcodeHolders(ctx context.Context, tenantID string, barcodes []string, excludeIDs []uuid.UUID) ([]models.ProductVariant, error) {
	if len(barcodes) == 0 {
		return []models.ProductVariant{}, nil
	}
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND barcode IN ?", tenantID, barcodes)
	// gorm renders an empty NOT IN as NOT IN (NULL), which matches nothing
	if len(excludeIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeIDs)
	}
	var variants []models.ProductVariant
	err := query.Find(&variants).Error
	return variants, err
}

// UPIDsInUse returns the subset of upids already held by a variant or a
// passport of any tenant. The two tables share one namespace.
func (r *ProductsRepository) UPIDsInUse(ctx context.Context, upids []string) ([]string, error) {
	if len(upids) == 0 {
		return []string{}, nil
	}
	var fromVariants, fromPassports []string
	if err := r.db.WithContext(ctx).Model(&models.ProductVariant{}).
		Where("upid IN ?", upids).
		Pluck("upid", &fromVariants).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&models.ProductPassport{}).
		Where("upid IN ?", upids).
		Pluck("upid", &fromPassports).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(fromVariants)+len(fromPassports))
	used := make([]string, 0, len(fromVariants)+len(fromPassports))
	for _, u := range append(fromVariants, fromPassports...) {
		if !seen[u] {
			seen[u] = true
			used = append(used, u)
		}
	}
	return used, nil
}

// CreateVariants inserts variants in one statement
func (r *ProductsRepository) CreateVariants(ctx context.Context, variants []*models.ProductVariant) error {
	if len(variants) == 0 {
		return nil
	}
	now := time.Now()
	for _, v := range variants {
		v.CreatedAt = now
		v.UpdatedAt = now
	}
	return r.db.WithContext(ctx).Create(&variants).Error
}

// UpdateVariantFields applies a column map to one variant
func (r *ProductsRepository) UpdateVariantFields(ctx context.Context, tenantID string, variantID uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(&models.ProductVariant{}).
		Where("tenant_id = ? AND id = ?", tenantID, variantID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteVariants hard deletes the tenant's variants among ids
func (r *ProductsRepository) DeleteVariants(ctx context.Context, tenantID string, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Delete(&models.ProductVariant{})
	return result.RowsAffected, result.Error
}
