package middleware

import (
	"net/http"

	"catalog-import-service/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	tenantKey    = "tenant_id"
	requestIDKey = "request_id"
)

// TenantMiddleware extracts the tenant from X-Vendor-ID or X-Tenant-ID.
// Requests without tenant context are rejected; there is no default tenant.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// an upstream auth layer may already have set it
		tenantID := c.GetString(tenantKey)
		if tenantID == "" {
			tenantID = c.GetHeader("X-Vendor-ID")
		}
		if tenantID == "" {
			tenantID = c.GetHeader("X-Tenant-ID")
		}

		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "TENANT_REQUIRED",
					Message: "Vendor/Tenant ID is required. Include X-Vendor-ID or X-Tenant-ID header.",
				},
				RequestID: GetRequestID(c),
			})
			return
		}

		c.Set(tenantKey, tenantID)
		c.Next()
	}
}

// GetTenantID retrieves the tenant ID from gin context
func GetTenantID(c *gin.Context) string {
	return c.GetString(tenantKey)
}
