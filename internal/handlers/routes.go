package handlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the tenant-scoped API on api
func RegisterRoutes(api *gin.RouterGroup, imports *ImportHandler, variants *VariantsHandler, passports *PassportHandler) {
	importRoutes := api.Group("/imports")
	{
		importRoutes.POST("", imports.StartImport)
		importRoutes.GET("", imports.ListImports)
		importRoutes.GET("/template", imports.GetImportTemplate)
		importRoutes.GET("/:id", imports.GetImport)
		importRoutes.POST("/:id/approve", imports.ApproveImport)
		importRoutes.POST("/:id/cancel", imports.CancelImport)
		importRoutes.POST("/:id/dismiss", imports.DismissImport)
		importRoutes.POST("/:id/resolutions", imports.ResolveValue)
		importRoutes.GET("/:id/failures/export", imports.ExportFailures)
	}

	products := api.Group("/products")
	{
		products.GET("/:id/variants", variants.ListVariants)
		products.POST("/:id/variants", variants.CreateVariant)
		products.POST("/:id/variants/batch", variants.BatchCreateVariants)
		products.PUT("/:id/variants/sync", variants.SyncVariants)
	}

	variantRoutes := api.Group("/variants")
	{
		variantRoutes.PATCH("/batch", variants.BatchUpdateVariants)
		variantRoutes.POST("/batch-delete", variants.BatchDeleteVariants)
		variantRoutes.GET("/:variantId", variants.GetVariant)
		variantRoutes.GET("/:variantId/passport", passports.GetVariantPassport)
		variantRoutes.PATCH("/:variantId", variants.UpdateVariant)
		variantRoutes.DELETE("/:variantId", variants.DeleteVariant)
	}

	api.GET("/barcodes/check", variants.CheckBarcode)
	api.GET("/passports/:upid", passports.GetPassport)
}
