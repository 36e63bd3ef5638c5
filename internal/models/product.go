package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductStatus represents the status of a product
type ProductStatus string

const (
	ProductStatusDraft    ProductStatus = "DRAFT"
	ProductStatusActive   ProductStatus = "ACTIVE"
	ProductStatusArchived ProductStatus = "ARCHIVED"
)

// StringArray type for PostgreSQL JSONB (array of strings)
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(a))
}

func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, a)
}

// Product represents a catalog product owned by a tenant
type Product struct {
	ID             uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID       string            `json:"tenantId" gorm:"not null;index;uniqueIndex:idx_products_tenant_handle"`
	Handle         string            `json:"handle" gorm:"not null;uniqueIndex:idx_products_tenant_handle"`
	Name           string            `json:"name" gorm:"not null"`
	Description    *string           `json:"description,omitempty"`
	Status         ProductStatus     `json:"status" gorm:"not null;default:'DRAFT'"`
	CategoryID     *string           `json:"categoryId,omitempty"`
	SeasonID       *string           `json:"seasonId,omitempty"`
	ManufacturerID *string           `json:"manufacturerId,omitempty"`
	Variants       []*ProductVariant `json:"variants,omitempty" gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ProductVariant represents a sellable variant of a product.
// Barcode holds the GTIN-14 storage form and is unique per tenant; UPID is
// unique across variants and passports.
type ProductVariant struct {
	ID                uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID          string      `json:"tenantId" gorm:"not null;index;uniqueIndex:idx_variants_tenant_barcode"`
	ProductID         uuid.UUID   `json:"productId" gorm:"type:uuid;not null;index"`
	UPID              string      `json:"upid" gorm:"column:upid;not null;uniqueIndex:idx_variants_upid"`
	SKU               *string     `json:"sku,omitempty" gorm:"index"`
	Barcode           *string     `json:"barcode,omitempty" gorm:"uniqueIndex:idx_variants_tenant_barcode"`
	AttributeValueIDs StringArray `json:"attributeValueIds" gorm:"type:jsonb"`
	IsGhost           bool        `json:"isGhost" gorm:"not null;default:false"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

func (v *ProductVariant) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// ReferenceKind names the lookup tables import rows are resolved against
type ReferenceKind string

const (
	ReferenceCategory     ReferenceKind = "category"
	ReferenceSeason       ReferenceKind = "season"
	ReferenceManufacturer ReferenceKind = "manufacturer"
	ReferenceColor        ReferenceKind = "color"
	ReferenceSize         ReferenceKind = "size"
)

// Valid reports whether k is a known reference kind
func (k ReferenceKind) Valid() bool {
	switch k {
	case ReferenceCategory, ReferenceSeason, ReferenceManufacturer, ReferenceColor, ReferenceSize:
		return true
	}
	return false
}

// CatalogReference is a read-only tenant lookup value (category, season, color...)
type CatalogReference struct {
	ID        uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID  string        `json:"tenantId" gorm:"not null;index:idx_references_tenant_kind"`
	Kind      ReferenceKind `json:"kind" gorm:"not null;index:idx_references_tenant_kind"`
	Name      string        `json:"name" gorm:"not null"`
	CreatedAt time.Time     `json:"createdAt"`
}

func (r *CatalogReference) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// TableName returns the table name for the Product model
func (Product) TableName() string {
	return "products"
}

// TableName returns the table name for the ProductVariant model
func (ProductVariant) TableName() string {
	return "product_variants"
}

// TableName returns the table name for the CatalogReference model
func (CatalogReference) TableName() string {
	return "catalog_references"
}
