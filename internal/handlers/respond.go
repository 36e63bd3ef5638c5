package handlers

import (
	"net/http"

	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// statusFor maps a service error kind to its HTTP status
func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindRequest:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindAccessDenied:
		return http.StatusForbidden
	case services.KindConflict:
		return http.StatusConflict
	case services.KindDispatch:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError renders err in the error envelope. Internal causes are
// logged and never echoed.
func respondError(c *gin.Context, logger *logrus.Entry, err error) {
	e := services.AsError(err)
	status := statusFor(e.Kind)

	if status >= http.StatusInternalServerError {
		logger.WithFields(logrus.Fields{
			"path":      c.FullPath(),
			"tenantId":  middleware.GetTenantID(c),
			"requestId": middleware.GetRequestID(c),
			"code":      e.Code,
		}).WithError(err).Error("Request failed")
	}

	body := models.Error{Code: e.Code, Message: e.Message, Field: e.Field}
	if e.Conflict != "" || len(e.Values) > 0 {
		details := models.JSON{"conflict": string(e.Conflict), "values": e.Values}
		body.Details = &details
	}
	c.JSON(status, models.ErrorResponse{
		Success:   false,
		Error:     body,
		RequestID: middleware.GetRequestID(c),
	})
}

func respondBadRequest(c *gin.Context, code, message, field string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Success: false,
		Error: models.Error{
			Code:    code,
			Message: message,
			Field:   field,
		},
		RequestID: middleware.GetRequestID(c),
	})
}

// parseUUIDParam reads a path parameter, answering 400 when it is malformed
func parseUUIDParam(c *gin.Context, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondBadRequest(c, "INVALID_ID", "Invalid "+label+" ID format", name)
		return uuid.Nil, false
	}
	return id, true
}

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, models.SuccessResponse{Success: true, Data: data})
}
