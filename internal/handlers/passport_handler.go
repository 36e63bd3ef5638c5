package handlers

import (
	"net/http"

	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type PassportHandler struct {
	passports *services.PassportService
	logger    *logrus.Entry
}

func NewPassportHandler(passports *services.PassportService, logger *logrus.Logger) *PassportHandler {
	return &PassportHandler{
		passports: passports,
		logger:    logger.WithField("component", "passport-handler"),
	}
}

// GetPassport resolves a public identifier, including orphaned passports
// @Summary Resolve passport
// @Tags passports
// @Produce json
// @Param upid path string true "Public identifier"
// @Success 200 {object} models.SuccessResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /passports/{upid} [get]
func (h *PassportHandler) GetPassport(c *gin.Context) {
	resolution, err := h.passports.Resolve(c.Request.Context(), middleware.GetTenantID(c), c.Param("upid"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, resolution)
}

// GetVariantPassport returns the passport of a live variant
// GET /api/v1/variants/:variantId/passport
func (h *PassportHandler) GetVariantPassport(c *gin.Context) {
	variantID, ok := parseUUIDParam(c, "variantId", "variant")
	if !ok {
		return
	}

	passport, err := h.passports.ForVariant(c.Request.Context(), middleware.GetTenantID(c), variantID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, passport)
}
