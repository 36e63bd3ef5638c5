package services

import (
	"context"
	"errors"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PassportService keeps exactly one passport per variant. Passports outlive
// their variants: deletion only orphans them.
type PassportService struct {
	store  *repository.Store
	logger *logrus.Entry
}

func NewPassportService(store *repository.Store, logger *logrus.Logger) *PassportService {
	return &PassportService{
		store:  store,
		logger: logger.WithField("component", "passports"),
	}
}

// PassportResolution answers a public identifier lookup
type PassportResolution struct {
	Passport  *models.ProductPassport `json:"passport"`
	VariantID *uuid.UUID              `json:"variantId"`
	Orphaned  bool                    `json:"orphaned"`
}

// CreateForVariants creates the passports of freshly created variants.
// Variants that already have one are skipped, so redelivery is harmless.
func (s *PassportService) CreateForVariants(ctx context.Context, tenantID string, variants []models.ProductVariant) error {
	if len(variants) == 0 {
		return nil
	}
	passports := make([]*models.ProductPassport, 0, len(variants))
	for i := range variants {
		v := variants[i]
		id := v.ID
		passports = append(passports, &models.ProductPassport{
			TenantID:  tenantID,
			VariantID: &id,
			UPID:      v.UPID,
			SKU:       v.SKU,
			Barcode:   v.Barcode,
		})
	}
	created, err := s.store.Passports.CreatePassports(ctx, passports)
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"tenantId":  tenantID,
		"requested": len(passports),
		"created":   created,
	}).Debug("Passports created")
	return nil
}

// EnsurePassports backfills passports for variantIDs that lack one
func (s *PassportService) EnsurePassports(ctx context.Context, tenantID string, variantIDs []uuid.UUID) error {
	linked, err := s.store.Passports.LinkedVariantIDs(ctx, tenantID, variantIDs)
	if err != nil {
		return err
	}
	missing := make([]uuid.UUID, 0, len(variantIDs))
	for _, id := range variantIDs {
		if !linked[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	variants, err := s.store.Products.GetVariantsByIDs(ctx, tenantID, missing)
	if err != nil {
		return err
	}
	return s.CreateForVariants(ctx, tenantID, variants)
}

// OrphanForDeletion detaches passports inside the caller's transaction.
// It must run before the variants are deleted.
func (s *PassportService) OrphanForDeletion(ctx context.Context, tx *repository.Store, tenantID string, variantIDs []uuid.UUID) error {
	_, err := tx.Passports.OrphanByVariantIDs(ctx, tenantID, variantIDs)
	return err
}

// SyncMetadata mirrors sku and barcode of updated variants onto their passports
func (s *PassportService) SyncMetadata(ctx context.Context, tenantID string, variants []models.ProductVariant) error {
	var firstErr error
	for _, v := range variants {
		if err := s.store.Passports.SyncMetadata(ctx, tenantID, v.ID, v.SKU, v.Barcode); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"tenantId":  tenantID,
				"variantId": v.ID,
			}).Warn("Failed to sync passport metadata")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Resolve looks a passport up by upid. Orphaned passports still resolve.
func (s *PassportService) Resolve(ctx context.Context, tenantID, upid string) (*PassportResolution, error) {
	if tenantID == "" {
		return nil, requestError("TENANT_REQUIRED", "tenant context is required")
	}
	passport, err := s.store.Passports.GetByUPID(ctx, tenantID, upid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("PASSPORT_NOT_FOUND", "passport not found")
		}
		return nil, internalError(err)
	}
	return &PassportResolution{
		Passport:  passport,
		VariantID: passport.VariantID,
		Orphaned:  passport.Orphaned(),
	}, nil
}

// ForVariant returns the passport linked to a live variant
func (s *PassportService) ForVariant(ctx context.Context, tenantID string, variantID uuid.UUID) (*models.ProductPassport, error) {
	if tenantID == "" {
		return nil, requestError("TENANT_REQUIRED", "tenant context is required")
	}
	passport, err := s.store.Passports.GetByVariantID(ctx, tenantID, variantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("PASSPORT_NOT_FOUND", "no passport linked to this variant")
		}
		return nil, internalError(err)
	}
	return passport, nil
}
