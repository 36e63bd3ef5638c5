package handlers

import (
	"net/http"

	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// VariantsHandler exposes variant writes and barcode checks
type VariantsHandler struct {
	variants *services.VariantService
	logger   *logrus.Entry
}

func NewVariantsHandler(variants *services.VariantService, logger *logrus.Logger) *VariantsHandler {
	return &VariantsHandler{
		variants: variants,
		logger:   logger.WithField("component", "variants-handler"),
	}
}

// SyncVariantsRequest carries the complete desired variant set. An empty
// list deletes every variant, so the key itself is required.
type SyncVariantsRequest struct {
	Variants []services.VariantInput `json:"variants" validate:"required,max=1000"`
}

type BatchCreateVariantsRequest struct {
	Variants []services.VariantInput `json:"variants" validate:"required,min=1,max=1000"`
}

type BatchUpdateVariantsRequest struct {
	Variants []services.VariantUpdate `json:"variants" validate:"required,min=1,max=1000"`
}

type BatchDeleteVariantsRequest struct {
	IDs []uuid.UUID `json:"ids" validate:"required,min=1,max=1000"`
}

// BarcodeCheckResponse answers a barcode availability check
type BarcodeCheckResponse struct {
	Barcode   string `json:"barcode"`
	Available bool   `json:"available"`
}

// ListVariants returns the variants of a product
// GET /api/v1/products/:id/variants
func (h *VariantsHandler) ListVariants(c *gin.Context) {
	productID, ok := parseUUIDParam(c, "id", "product")
	if !ok {
		return
	}

	variants, err := h.variants.ListVariants(c.Request.Context(), middleware.GetTenantID(c), productID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    variants,
		"total":   len(variants),
	})
}

// CreateVariant adds one variant to a product
// @Summary Create variant
// @Tags variants
// @Accept json
// @Produce json
// @Param id path string true "Product ID"
// @Param request body services.VariantInput true "Variant"
// @Success 201 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /products/{id}/variants [post]
func (h *VariantsHandler) CreateVariant(c *gin.Context) {
	productID, ok := parseUUIDParam(c, "id", "product")
	if !ok {
		return
	}
	var input services.VariantInput
	if !bindJSON(c, &input) {
		return
	}

	variant, err := h.variants.Create(c.Request.Context(), middleware.GetTenantID(c), productID, input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusCreated, variant)
}

// BatchCreateVariants adds several variants in one transaction
// POST /api/v1/products/:id/variants/batch
func (h *VariantsHandler) BatchCreateVariants(c *gin.Context) {
	productID, ok := parseUUIDParam(c, "id", "product")
	if !ok {
		return
	}
	var req BatchCreateVariantsRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.variants.BatchCreate(c.Request.Context(), middleware.GetTenantID(c), productID, req.Variants)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusCreated, result)
}

// SyncVariants replaces a product's variant set
// @Summary Sync variants
// @Description Entries whose upid matches an existing variant update it; others are created; unnamed variants are deleted.
// @Tags variants
// @Accept json
// @Produce json
// @Param id path string true "Product ID"
// @Param request body SyncVariantsRequest true "Desired variants"
// @Success 200 {object} models.SuccessResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /products/{id}/variants/sync [put]
func (h *VariantsHandler) SyncVariants(c *gin.Context) {
	productID, ok := parseUUIDParam(c, "id", "product")
	if !ok {
		return
	}
	var req SyncVariantsRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.variants.Sync(c.Request.Context(), middleware.GetTenantID(c), productID, req.Variants)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, result)
}

// UpdateVariant patches one variant. Omitted fields are left unchanged.
// PATCH /api/v1/variants/:variantId
func (h *VariantsHandler) UpdateVariant(c *gin.Context) {
	variantID, ok := parseUUIDParam(c, "variantId", "variant")
	if !ok {
		return
	}
	var input services.VariantInput
	if !bindJSON(c, &input) {
		return
	}

	variant, err := h.variants.Update(c.Request.Context(), middleware.GetTenantID(c), variantID, input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, variant)
}

// BatchUpdateVariants patches several variants in one transaction
// PATCH /api/v1/variants/batch
func (h *VariantsHandler) BatchUpdateVariants(c *gin.Context) {
	var req BatchUpdateVariantsRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.variants.BatchUpdate(c.Request.Context(), middleware.GetTenantID(c), req.Variants)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, result)
}

// GetVariant returns one variant
// GET /api/v1/variants/:variantId
func (h *VariantsHandler) GetVariant(c *gin.Context) {
	variantID, ok := parseUUIDParam(c, "variantId", "variant")
	if !ok {
		return
	}

	variant, err := h.variants.GetVariant(c.Request.Context(), middleware.GetTenantID(c), variantID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, variant)
}

// DeleteVariant removes one variant and orphans its passport
// DELETE /api/v1/variants/:variantId
func (h *VariantsHandler) DeleteVariant(c *gin.Context) {
	variantID, ok := parseUUIDParam(c, "variantId", "variant")
	if !ok {
		return
	}

	if err := h.variants.Delete(c.Request.Context(), middleware.GetTenantID(c), variantID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Variant deleted successfully"})
}

// BatchDeleteVariants removes several variants
// POST /api/v1/variants/batch-delete
func (h *VariantsHandler) BatchDeleteVariants(c *gin.Context) {
	var req BatchDeleteVariantsRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.variants.BatchDelete(c.Request.Context(), middleware.GetTenantID(c), req.IDs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, result)
}

// CheckBarcode reports whether a barcode is free in the tenant catalog
// GET /api/v1/barcodes/check?barcode=...&excludeVariantId=...
func (h *VariantsHandler) CheckBarcode(c *gin.Context) {
	barcode := c.Query("barcode")

	var exclude *uuid.UUID
	if raw := c.Query("excludeVariantId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondBadRequest(c, "INVALID_ID", "Invalid variant ID format", "excludeVariantId")
			return
		}
		exclude = &id
	}

	available, err := h.variants.CheckBarcode(c.Request.Context(), middleware.GetTenantID(c), barcode, exclude)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, BarcodeCheckResponse{Barcode: barcode, Available: available})
}
