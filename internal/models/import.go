package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImportFormat represents the file format for import
type ImportFormat string

const (
	ImportFormatCSV  ImportFormat = "csv"
	ImportFormatXLSX ImportFormat = "xlsx"
)

// ImportMode selects whether existing catalog entries may be modified
type ImportMode string

const (
	ImportModeCreate          ImportMode = "CREATE"
	ImportModeCreateAndEnrich ImportMode = "CREATE_AND_ENRICH"
)

// Valid reports whether m is a known import mode
func (m ImportMode) Valid() bool {
	return m == ImportModeCreate || m == ImportModeCreateAndEnrich
}

// ImportStatus represents the status of an import job
type ImportStatus string

const (
	ImportStatusPending               ImportStatus = "PENDING"
	ImportStatusValidating            ImportStatus = "VALIDATING"
	ImportStatusValidated             ImportStatus = "VALIDATED"
	ImportStatusCommitting            ImportStatus = "COMMITTING"
	ImportStatusCompleted             ImportStatus = "COMPLETED"
	ImportStatusCompletedWithFailures ImportStatus = "COMPLETED_WITH_FAILURES"
	ImportStatusCancelled             ImportStatus = "CANCELLED"
	ImportStatusFailed                ImportStatus = "FAILED"
)

var importTransitions = map[ImportStatus][]ImportStatus{
	ImportStatusPending:    {ImportStatusValidating, ImportStatusFailed},
	ImportStatusValidating: {ImportStatusValidated, ImportStatusFailed},
	ImportStatusValidated:  {ImportStatusCommitting, ImportStatusCancelled},
	ImportStatusCommitting: {ImportStatusCompleted, ImportStatusCompletedWithFailures, ImportStatusFailed, ImportStatusValidated},
}

// CanTransitionTo reports whether the job state machine has an edge from s to next.
// COMMITTING -> VALIDATED only exists to roll back a failed commit dispatch.
func (s ImportStatus) CanTransitionTo(next ImportStatus) bool {
	for _, candidate := range importTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Dismissible reports whether staged output of a job in s may be discarded
func (s ImportStatus) Dismissible() bool {
	return s == ImportStatusFailed || s == ImportStatusCompletedWithFailures
}

// Phase names the pass a job in s belongs to
func (s ImportStatus) Phase() string {
	if s == ImportStatusValidating || s == ImportStatusValidated {
		return "validation"
	}
	return "commit"
}

// PendingApproval is an unmapped reference value awaiting user resolution
type PendingApproval struct {
	Kind  ReferenceKind `json:"kind"`
	Value string        `json:"value"`
	Rows  []int         `json:"rows"`
}

// ImportSummary holds the running counters of a job
type ImportSummary struct {
	Total            int               `json:"total"`
	Processed        int               `json:"processed"`
	Created          int               `json:"created"`
	Updated          int               `json:"updated"`
	Failed           int               `json:"failed"`
	Blocked          int               `json:"blocked"`
	Dismissed        bool              `json:"dismissed"`
	DismissedAt      *time.Time        `json:"dismissedAt,omitempty"`
	Error            string            `json:"error,omitempty"`
	PendingApprovals []PendingApproval `json:"pendingApprovals"`
}

func (s ImportSummary) Value() (driver.Value, error) {
	if s.PendingApprovals == nil {
		s.PendingApprovals = []PendingApproval{}
	}
	return json.Marshal(s)
}

func (s *ImportSummary) Scan(value interface{}) error {
	if value == nil {
		*s = ImportSummary{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, s)
}

// ImportJob is one bulk import of a tenant file
type ImportJob struct {
	ID                    uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID              string        `json:"tenantId" gorm:"not null;index"`
	Filename              string        `json:"filename" gorm:"not null"`
	FilePath              string        `json:"filePath" gorm:"not null"`
	Mode                  ImportMode    `json:"mode" gorm:"not null"`
	Status                ImportStatus  `json:"status" gorm:"not null;index"`
	StartedAt             *time.Time    `json:"startedAt,omitempty"`
	FinishedAt            *time.Time    `json:"finishedAt,omitempty"`
	Summary               ImportSummary `json:"summary" gorm:"type:jsonb"`
	HasExportableFailures bool          `json:"hasExportableFailures" gorm:"not null;default:false"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

func (j *ImportJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// RowStatus is the staging state of one import row
type RowStatus string

const (
	RowStatusPending   RowStatus = "PENDING"
	RowStatusBlocked   RowStatus = "BLOCKED"
	RowStatusFailed    RowStatus = "FAILED"
	RowStatusCommitted RowStatus = "COMMITTED"
)

// Row error codes
const (
	RowErrorRequired        = "REQUIRED"
	RowErrorTooLong         = "TOO_LONG"
	RowErrorInvalidBarcode  = "INVALID_BARCODE"
	RowErrorDuplicateInFile = "DUPLICATE_IN_FILE"
	RowErrorAlreadyExists   = "ALREADY_EXISTS"
	RowErrorAlreadyInUse    = "ALREADY_IN_USE"
	RowErrorUnmappedValue   = "UNMAPPED_VALUE"
	RowErrorCommitFailed    = "COMMIT_FAILED"
)

// RowError is a row scoped validation or commit problem
type RowError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RowErrors type for PostgreSQL JSONB
type RowErrors []RowError

func (e RowErrors) Value() (driver.Value, error) {
	if e == nil {
		return json.Marshal([]RowError{})
	}
	return json.Marshal([]RowError(e))
}

func (e *RowErrors) Scan(value interface{}) error {
	if value == nil {
		*e = RowErrors{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, e)
}

// RowValues is the raw column -> cell mapping of a parsed row
type RowValues map[string]string

func (r RowValues) Value() (driver.Value, error) {
	if r == nil {
		return json.Marshal(map[string]string{})
	}
	return json.Marshal(map[string]string(r))
}

func (r *RowValues) Scan(value interface{}) error {
	if value == nil {
		*r = RowValues{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, r)
}

// NormalizedProduct is the product half of a staged row
type NormalizedProduct struct {
	Handle         string  `json:"handle"`
	Name           string  `json:"name"`
	Description    *string `json:"description,omitempty"`
	CategoryID     *string `json:"categoryId,omitempty"`
	SeasonID       *string `json:"seasonId,omitempty"`
	ManufacturerID *string `json:"manufacturerId,omitempty"`
}

// NormalizedVariant is the variant half of a staged row
type NormalizedVariant struct {
	UPID    *string `json:"upid,omitempty"`
	SKU     *string `json:"sku,omitempty"`
	Barcode *string `json:"barcode,omitempty"`
	ColorID *string `json:"colorId,omitempty"`
	SizeID  *string `json:"sizeId,omitempty"`
}

// AttributeValueIDs returns the resolved color and size assignments
func (v NormalizedVariant) AttributeValueIDs() []string {
	ids := []string{}
	if v.ColorID != nil {
		ids = append(ids, *v.ColorID)
	}
	if v.SizeID != nil {
		ids = append(ids, *v.SizeID)
	}
	return ids
}

// NormalizedRow is the nested product+variant shape the commit pass applies
type NormalizedRow struct {
	Product NormalizedProduct `json:"product"`
	Variant NormalizedVariant `json:"variant"`
}

func (n NormalizedRow) Value() (driver.Value, error) {
	return json.Marshal(n)
}

func (n *NormalizedRow) Scan(value interface{}) error {
	if value == nil {
		*n = NormalizedRow{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, n)
}

// ImportRow is a staged row owned by exactly one job
type ImportRow struct {
	ID         uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	JobID      uuid.UUID     `json:"jobId" gorm:"type:uuid;not null;index:idx_import_rows_job_row"`
	RowNumber  int           `json:"rowNumber" gorm:"column:row_num;not null;index:idx_import_rows_job_row"`
	Raw        RowValues     `json:"raw" gorm:"type:jsonb"`
	Normalized NormalizedRow `json:"normalized" gorm:"type:jsonb"`
	Status     RowStatus     `json:"status" gorm:"not null;index"`
	Errors     RowErrors     `json:"errors" gorm:"type:jsonb"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

func (r *ImportRow) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// TableName returns the table name for the ImportJob model
func (ImportJob) TableName() string {
	return "import_jobs"
}

// TableName returns the table name for the ImportRow model
func (ImportRow) TableName() string {
	return "import_rows"
}

// Import column names
const (
	ColumnProductName      = "product_name"
	ColumnProductHandle    = "product_handle"
	ColumnUPID             = "upid"
	ColumnSKU              = "sku"
	ColumnBarcode          = "barcode"
	ColumnDescription      = "description"
	ColumnCategoryName     = "category_name"
	ColumnSeason           = "season"
	ColumnManufacturerName = "manufacturer_name"
	ColumnColorName        = "color_name"
	ColumnSizeName         = "size_name"
)

// Field length limits
const (
	MaxProductNameLength = 100
	MaxDescriptionLength = 2000
)

// ReferenceColumns maps each lookup kind to the column carrying its name
var ReferenceColumns = map[ReferenceKind]string{
	ReferenceCategory:     ColumnCategoryName,
	ReferenceSeason:       ColumnSeason,
	ReferenceManufacturer: ColumnManufacturerName,
	ReferenceColor:        ColumnColorName,
	ReferenceSize:         ColumnSizeName,
}

// ImportTemplateColumn defines a column in the import template
type ImportTemplateColumn struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // string, number, barcode
	Example     string `json:"example"`
}

// ImportTemplate defines the structure of an import template
type ImportTemplate struct {
	Entity     string                 `json:"entity"`
	Version    string                 `json:"version"`
	Columns    []ImportTemplateColumn `json:"columns"`
	SampleData []map[string]string    `json:"sampleData,omitempty"`
}

// CatalogImportColumns returns the column definitions for catalog import
func CatalogImportColumns() []ImportTemplateColumn {
	return []ImportTemplateColumn{
		{Name: ColumnProductName, Description: "Product name (max 100 characters)", Required: true, Type: "string", Example: "Classic Cotton T-Shirt"},
		{Name: ColumnProductHandle, Description: "Product handle - rows sharing a handle become variants of one product. Defaults to the name slug", Required: false, Type: "string", Example: "classic-cotton-t-shirt"},
		{Name: ColumnUPID, Description: "Unique product identifier (use this OR sku)", Required: false, Type: "string", Example: "0000000A1B2C3"},
		{Name: ColumnSKU, Description: "Stock keeping unit (use this OR upid)", Required: false, Type: "string", Example: "TSH-WHT-M"},
		{Name: ColumnBarcode, Description: "EAN-8, UPC-A, EAN-13 or GTIN-14 barcode", Required: false, Type: "barcode", Example: "4006381333931"},
		{Name: ColumnDescription, Description: "Product description (max 2000 characters)", Required: false, Type: "string", Example: ""},
		{Name: ColumnCategoryName, Description: "Category name - must match an existing category", Required: false, Type: "string", Example: "T-Shirts"},
		{Name: ColumnSeason, Description: "Season name - must match an existing season", Required: false, Type: "string", Example: "SS25"},
		{Name: ColumnManufacturerName, Description: "Manufacturer name - must match an existing manufacturer", Required: false, Type: "string", Example: "Acme Textiles"},
		{Name: ColumnColorName, Description: "Color name - must match an existing color", Required: false, Type: "string", Example: "White"},
		{Name: ColumnSizeName, Description: "Size name - must match an existing size", Required: false, Type: "string", Example: "M"},
	}
}

// CatalogImportTemplate returns the template definition for catalog rows
func CatalogImportTemplate() ImportTemplate {
	return ImportTemplate{
		Entity:  "catalog",
		Version: "2.0",
		Columns: CatalogImportColumns(),
	}
}

// ImportTask is the payload handed to the background task runner
type ImportTask struct {
	JobID    uuid.UUID  `json:"jobId"`
	TenantID string     `json:"tenantId"`
	FilePath string     `json:"filePath"`
	Mode     ImportMode `json:"mode"`
}
