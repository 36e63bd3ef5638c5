package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductPassport is the public identity record mirroring a variant.
// A nil VariantID means the variant was deleted and the passport is orphaned;
// the UPID keeps resolving either way.
type ProductPassport struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID         string     `json:"tenantId" gorm:"not null;index"`
	VariantID        *uuid.UUID `json:"variantId" gorm:"type:uuid;uniqueIndex:idx_passports_variant"`
	UPID             string     `json:"upid" gorm:"column:upid;not null;uniqueIndex:idx_passports_upid"`
	SKU              *string    `json:"sku,omitempty"`
	Barcode          *string    `json:"barcode,omitempty"`
	CurrentVersionID *string    `json:"currentVersionId,omitempty"`
	FirstPublishedAt *time.Time `json:"firstPublishedAt,omitempty"`
	OrphanedAt       *time.Time `json:"orphanedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (p *ProductPassport) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Orphaned reports whether the linked variant no longer exists
func (p *ProductPassport) Orphaned() bool {
	return p.VariantID == nil
}

// TableName returns the table name for the ProductPassport model
func (ProductPassport) TableName() string {
	return "product_passports"
}
