package services

import (
	"context"
	"io"

	"catalog-import-service/internal/models"

	"github.com/google/uuid"
)

// Dispatcher triggers the background validation and commit passes
type Dispatcher interface {
	DispatchValidation(ctx context.Context, task models.ImportTask) error
	DispatchCommit(ctx context.Context, task models.ImportTask) error
}

// FileStore reads uploaded import files by their {tenantId}/{jobId}/{filename} key
type FileStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// VariantCache caches variant listings per product
type VariantCache interface {
	GetVariants(ctx context.Context, tenantID string, productID uuid.UUID) ([]models.ProductVariant, bool)
	SetVariants(ctx context.Context, tenantID string, productID uuid.UUID, variants []models.ProductVariant)
	InvalidateProduct(ctx context.Context, tenantID string, productID uuid.UUID) error
}
