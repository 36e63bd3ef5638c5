package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"catalog-import-service/internal/export"
	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ImportHandler exposes the bulk import job lifecycle
type ImportHandler struct {
	imports *services.ImportService
	logger  *logrus.Entry
}

func NewImportHandler(imports *services.ImportService, logger *logrus.Logger) *ImportHandler {
	return &ImportHandler{
		imports: imports,
		logger:  logger.WithField("component", "import-handler"),
	}
}

// StartImportRequest registers an already uploaded file
type StartImportRequest struct {
	FileID   string            `json:"fileId" validate:"required"`
	Filename string            `json:"filename" validate:"required"`
	Mode     models.ImportMode `json:"mode" validate:"omitempty,oneof=CREATE CREATE_AND_ENRICH"`
}

// ResolveValueRequest maps an unmapped value to a reference, or drops it
// when referenceId is null
type ResolveValueRequest struct {
	Kind        models.ReferenceKind `json:"kind" validate:"required,oneof=category season manufacturer color size"`
	Value       string               `json:"value" validate:"required"`
	ReferenceID *uuid.UUID           `json:"referenceId"`
}

// StartImport creates a job for an uploaded file and queues validation
// @Summary Start catalog import
// @Tags imports
// @Accept json
// @Produce json
// @Param request body StartImportRequest true "Uploaded file reference"
// @Success 202 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /imports [post]
func (h *ImportHandler) StartImport(c *gin.Context) {
	var req StartImportRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.imports.Start(c.Request.Context(), middleware.GetTenantID(c), req.FileID, req.Filename, req.Mode)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusAccepted, result)
}

// ListImports returns the most recent jobs of the tenant
// GET /api/v1/imports?limit=10
func (h *ImportHandler) ListImports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	jobs, err := h.imports.Recent(c.Request.Context(), middleware.GetTenantID(c), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"jobs": jobs})
}

// GetImport returns the status and progress of one job
// @Summary Get import status
// @Tags imports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.SuccessResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /imports/{id} [get]
func (h *ImportHandler) GetImport(c *gin.Context) {
	jobID, ok := parseUUIDParam(c, "id", "job")
	if !ok {
		return
	}

	status, err := h.imports.Status(c.Request.Context(), middleware.GetTenantID(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, status)
}

// ApproveImport queues the commit of a validated job
// POST /api/v1/imports/:id/approve
func (h *ImportHandler) ApproveImport(c *gin.Context) {
	jobID, ok := parseUUIDParam(c, "id", "job")
	if !ok {
		return
	}

	result, err := h.imports.Approve(c.Request.Context(), middleware.GetTenantID(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusAccepted, result)
}

// CancelImport discards a validated job and its staged rows
// POST /api/v1/imports/:id/cancel
func (h *ImportHandler) CancelImport(c *gin.Context) {
	jobID, ok := parseUUIDParam(c, "id", "job")
	if !ok {
		return
	}

	result, err := h.imports.Cancel(c.Request.Context(), middleware.GetTenantID(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, result)
}

// DismissImport hides a failed job and drops its remaining rows
// POST /api/v1/imports/:id/dismiss
func (h *ImportHandler) DismissImport(c *gin.Context) {
	jobID, ok := parseUUIDParam(c, "id", "job")
	if !ok {
		return
	}

	result, err := h.imports.Dismiss(c.Request.Context(), middleware.GetTenantID(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, result)
}

// ResolveValue maps an unmapped value of a validated job
// POST /api/v1/imports/:id/resolutions
func (h *ImportHandler) ResolveValue(c *gin.Context) {
	jobID, ok := parseUUIDParam(c, "id", "job")
	if !ok {
		return
	}
	var req ResolveValueRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.imports.ResolveValue(c.Request.Context(), middleware.GetTenantID(c), jobID, req.Kind, req.Value, req.ReferenceID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondData(c, http.StatusOK, result)
}

// ExportFailures downloads the failed and blocked rows as a spreadsheet
// @Summary Export failed import rows
// @Tags imports
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Job ID"
// @Success 200 {file} file
// @Failure 404 {object} models.ErrorResponse
// @Router /imports/{id}/failures/export [get]
func (h *ImportHandler) ExportFailures(c *gin.Context) {
	jobID, ok := parseUUIDParam(c, "id", "job")
	if !ok {
		return
	}

	job, rows, err := h.imports.FailedRows(c.Request.Context(), middleware.GetTenantID(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteFailuresXLSX(&buf, rows); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=import-%s-failures.xlsx", job.ID))
	c.Data(http.StatusOK, export.ContentTypeXLSX, buf.Bytes())
}

// GetImportTemplate returns the template definition or a downloadable file
// GET /api/v1/imports/template?format=json|csv|xlsx
func (h *ImportHandler) GetImportTemplate(c *gin.Context) {
	template := models.CatalogImportTemplate()

	var buf bytes.Buffer
	switch c.DefaultQuery("format", "json") {
	case "csv":
		if err := export.WriteTemplateCSV(&buf, template); err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=catalog_import_template.csv")
		c.Data(http.StatusOK, export.ContentTypeCSV, buf.Bytes())
	case "xlsx":
		if err := export.WriteTemplateXLSX(&buf, template); err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=catalog_import_template.xlsx")
		c.Data(http.StatusOK, export.ContentTypeXLSX, buf.Bytes())
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"template": template,
		})
	}
}
