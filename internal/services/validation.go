package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"catalog-import-service/internal/fileimport"
	"catalog-import-service/internal/metrics"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/normalizer"
	"catalog-import-service/internal/repository"

	"github.com/sirupsen/logrus"
)

const defaultChunkSize = 500

// ValidationEngine stages the rows of an uploaded file. Rows are written
// chunk by chunk and the job counters are saved after every chunk so Status
// can report progress while the pass runs.
type ValidationEngine struct {
	store     *repository.Store
	logger    *logrus.Entry
	chunkSize int
}

func NewValidationEngine(store *repository.Store, logger *logrus.Logger, chunkSize int) *ValidationEngine {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &ValidationEngine{
		store:     store,
		logger:    logger.WithField("component", "validation"),
		chunkSize: chunkSize,
	}
}

// referenceIndex resolves names to reference ids per kind, case-insensitively
type referenceIndex map[models.ReferenceKind]map[string]string

// fileState tracks identifiers seen earlier in the file
type fileState struct {
	upids    map[string]int
	skus     map[string]int
	barcodes map[string]int
	pending  map[string]*models.PendingApproval
	order    []string
}

// catalogState holds what the tenant catalog already knows about a chunk
type catalogState struct {
	byUPID   map[string]models.ProductVariant
	bySKU    map[string]models.ProductVariant
	upidUsed map[string]bool
	holders  map[string]models.ProductVariant
}

// Run validates sheet for the job named by task. A redelivered task for a job
// still VALIDATING restarts the pass from scratch; any other state is skipped.
func (e *ValidationEngine) Run(ctx context.Context, task models.ImportTask, sheet *fileimport.Sheet) error {
	log := e.logger.WithFields(logrus.Fields{"jobId": task.JobID, "tenantId": task.TenantID})

	job, proceed, err := e.begin(ctx, task)
	if err != nil || !proceed {
		return err
	}

	if reason := checkHeaders(sheet); reason != "" {
		return e.fail(ctx, job, reason)
	}
	if len(sheet.Rows) == 0 {
		return e.fail(ctx, job, "file contains no data rows")
	}

	refs, err := e.loadReferences(ctx, job.TenantID)
	if err != nil {
		return e.abort(ctx, job, err)
	}

	job.Summary = models.ImportSummary{Total: len(sheet.Rows), PendingApprovals: []models.PendingApproval{}}
	state := &fileState{
		upids:    map[string]int{},
		skus:     map[string]int{},
		barcodes: map[string]int{},
		pending:  map[string]*models.PendingApproval{},
	}

	for start := 0; start < len(sheet.Rows); start += e.chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + e.chunkSize
		if end > len(sheet.Rows) {
			end = len(sheet.Rows)
		}
		if err := e.stageChunk(ctx, job, sheet.Rows[start:end], refs, state); err != nil {
			// an interrupted pass stays VALIDATING and restarts on redelivery
			if ctx.Err() != nil {
				return err
			}
			return e.abort(ctx, job, err)
		}
	}

	for _, key := range state.order {
		job.Summary.PendingApprovals = append(job.Summary.PendingApprovals, *state.pending[key])
	}
	job.HasExportableFailures = job.Summary.Failed > 0

	err = e.store.Imports.TransitionJob(ctx, job.ID,
		[]models.ImportStatus{models.ImportStatusValidating}, models.ImportStatusValidated,
		map[string]interface{}{"summary": job.Summary, "has_exportable_failures": job.HasExportableFailures})
	if err != nil {
		return fmt.Errorf("failed to mark job validated: %w", err)
	}
	metrics.IncreaseImportJobTransitionMetric(string(models.ImportStatusValidated))

	log.WithFields(logrus.Fields{
		"total":   job.Summary.Total,
		"failed":  job.Summary.Failed,
		"blocked": job.Summary.Blocked,
		"pending": len(job.Summary.PendingApprovals),
	}).Info("Import validation finished")
	return nil
}

// Fail moves a job that could not be read to FAILED
func (e *ValidationEngine) Fail(ctx context.Context, task models.ImportTask, reason string) error {
	job, proceed, err := e.begin(ctx, task)
	if err != nil || !proceed {
		return err
	}
	return e.fail(ctx, job, reason)
}

// begin claims the job for this pass
func (e *ValidationEngine) begin(ctx context.Context, task models.ImportTask) (*models.ImportJob, bool, error) {
	log := e.logger.WithFields(logrus.Fields{"jobId": task.JobID, "tenantId": task.TenantID})

	job, err := e.store.Imports.GetJob(ctx, task.JobID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("Validation task for unknown job skipped")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if job.TenantID != task.TenantID {
		log.Warn("Validation task tenant does not own the job, skipped")
		return nil, false, nil
	}

	switch job.Status {
	case models.ImportStatusPending:
		err := e.store.Imports.TransitionJob(ctx, job.ID,
			[]models.ImportStatus{models.ImportStatusPending}, models.ImportStatusValidating, nil)
		if errors.Is(err, repository.ErrStateConflict) {
			log.Info("Job claimed by another validation pass, skipped")
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		job.Status = models.ImportStatusValidating
		metrics.IncreaseImportJobTransitionMetric(string(models.ImportStatusValidating))
	case models.ImportStatusValidating:
		// redelivery after a crash: discard partial output
		if _, err := e.store.Imports.DeleteRows(ctx, job.ID); err != nil {
			return nil, false, err
		}
		log.Info("Restarting interrupted validation pass")
	default:
		log.WithField("status", job.Status).Info("Validation task skipped for job outside PENDING")
		return nil, false, nil
	}
	return job, true, nil
}

func (e *ValidationEngine) stageChunk(ctx context.Context, job *models.ImportJob, chunk []fileimport.Row, refs referenceIndex, state *fileState) error {
	catalog, err := e.loadCatalog(ctx, job.TenantID, chunk)
	if err != nil {
		return err
	}

	rows := make([]*models.ImportRow, 0, len(chunk))
	for _, in := range chunk {
		row := validateRow(in, refs)
		row.JobID = job.ID
		checkInFile(row, state)
		checkCatalog(row, job.Mode, catalog)

		switch {
		case hasHardErrors(row.Errors):
			row.Status = models.RowStatusFailed
			job.Summary.Failed++
		case len(row.Errors) > 0:
			row.Status = models.RowStatusBlocked
			job.Summary.Blocked++
			state.recordUnmapped(row)
		default:
			row.Status = models.RowStatusPending
		}
		rows = append(rows, row)
	}

	if err := e.store.Imports.CreateRows(ctx, rows); err != nil {
		return err
	}
	job.Summary.Processed += len(chunk)
	return e.store.Imports.SaveSummary(ctx, job)
}

// fail ends the pass with a job-level reason
func (e *ValidationEngine) fail(ctx context.Context, job *models.ImportJob, reason string) error {
	job.Summary.Error = reason
	err := e.store.Imports.TransitionJob(ctx, job.ID,
		[]models.ImportStatus{models.ImportStatusPending, models.ImportStatusValidating}, models.ImportStatusFailed,
		map[string]interface{}{"summary": job.Summary, "finished_at": time.Now()})
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	metrics.IncreaseImportJobTransitionMetric(string(models.ImportStatusFailed))
	e.logger.WithFields(logrus.Fields{"jobId": job.ID, "tenantId": job.TenantID, "reason": reason}).Warn("Import validation failed")
	return nil
}

// abort fails the job on a systemic error and returns the cause
func (e *ValidationEngine) abort(ctx context.Context, job *models.ImportJob, cause error) error {
	if err := e.fail(ctx, job, fmt.Sprintf("validation aborted: %v", cause)); err != nil {
		e.logger.WithError(err).WithField("jobId", job.ID).Error("Failed to record aborted validation")
	}
	return cause
}

func (e *ValidationEngine) loadReferences(ctx context.Context, tenantID string) (referenceIndex, error) {
	refs, err := e.store.References.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	index := referenceIndex{}
	for _, ref := range refs {
		if index[ref.Kind] == nil {
			index[ref.Kind] = map[string]string{}
		}
		index[ref.Kind][strings.ToLower(strings.TrimSpace(ref.Name))] = ref.ID.String()
	}
	return index, nil
}

// loadCatalog issues one lookup per identifier type for the whole chunk
func (e *ValidationEngine) loadCatalog(ctx context.Context, tenantID string, chunk []fileimport.Row) (*catalogState, error) {
	var upids, skus, barcodes []string
	for _, r := range chunk {
		if v := normalizer.NormalizeIdentifier(r.Values[models.ColumnUPID]); v != "" {
			upids = append(upids, v)
		}
		if v := normalizer.NormalizeIdentifier(r.Values[models.ColumnSKU]); v != "" {
			skus = append(skus, v)
		}
		if v, err := normalizer.NormalizeBarcode(r.Values[models.ColumnBarcode]); err == nil && v != "" {
			barcodes = append(barcodes, v)
		}
	}

	state := &catalogState{
		byUPID:   map[string]models.ProductVariant{},
		bySKU:    map[string]models.ProductVariant{},
		upidUsed: map[string]bool{},
		holders:  map[string]models.ProductVariant{},
	}
	if len(upids) > 0 {
		own, err := e.store.Products.FindVariantsByUPIDs(ctx, tenantID, upids)
		if err != nil {
			return nil, err
		}
		for _, v := range own {
			state.byUPID[v.UPID] = v
		}
		used, err := e.store.Products.UPIDsInUse(ctx, upids)
		if err != nil {
			return nil, err
		}
		for _, u := range used {
			state.upidUsed[u] = true
		}
	}
	if len(skus) > 0 {
		own, err := e.store.Products.FindVariantsBySKUs(ctx, tenantID, skus)
		if err != nil {
			return nil, err
		}
		for _, v := range own {
			if v.SKU != nil {
				state.bySKU[*v.SKU] = v
			}
		}
	}
	if len(barcodes) > 0 {
		holders, err := e.store.Products.FindBarcodeHolders(ctx, tenantID, barcodes, nil)
		if err != nil {
			return nil, err
		}
		for _, v := range holders {
			if v.Barcode != nil {
				state.holders[*v.Barcode] = v
			}
		}
	}
	return state, nil
}

// checkHeaders returns a reason when the header row cannot describe a variant
func checkHeaders(sheet *fileimport.Sheet) string {
	if !sheet.HasColumn(models.ColumnProductName) {
		return fmt.Sprintf("missing required column %s", models.ColumnProductName)
	}
	if !sheet.HasColumn(models.ColumnUPID) && !sheet.HasColumn(models.ColumnSKU) {
		return fmt.Sprintf("file needs a %s or %s column", models.ColumnUPID, models.ColumnSKU)
	}
	return ""
}

// validateRow runs the structural and reference checks of one row
func validateRow(in fileimport.Row, refs referenceIndex) *models.ImportRow {
	values := in.Values
	row := &models.ImportRow{RowNumber: in.Number, Raw: values, Errors: models.RowErrors{}}
	addErr := func(field, code, message string) {
		row.Errors = append(row.Errors, models.RowError{Field: field, Code: code, Message: message})
	}
	norm := &row.Normalized

	name := strings.TrimSpace(values[models.ColumnProductName])
	switch {
	case name == "":
		addErr(models.ColumnProductName, models.RowErrorRequired, "Product name is required")
	case utf8.RuneCountInString(name) > models.MaxProductNameLength:
		addErr(models.ColumnProductName, models.RowErrorTooLong, fmt.Sprintf("Product name must be at most %d characters", models.MaxProductNameLength))
	}
	norm.Product.Name = name

	handle := normalizer.Handle(values[models.ColumnProductHandle])
	if handle == "" {
		handle = normalizer.Handle(name)
	}
	if handle == "" && name != "" {
		addErr(models.ColumnProductHandle, models.RowErrorRequired, "Product handle could not be derived from the name")
	}
	norm.Product.Handle = handle

	if desc := strings.TrimSpace(values[models.ColumnDescription]); desc != "" {
		if utf8.RuneCountInString(desc) > models.MaxDescriptionLength {
			addErr(models.ColumnDescription, models.RowErrorTooLong, fmt.Sprintf("Description must be at most %d characters", models.MaxDescriptionLength))
		}
		norm.Product.Description = &desc
	}

	upid := normalizer.NormalizeIdentifier(values[models.ColumnUPID])
	sku := normalizer.NormalizeIdentifier(values[models.ColumnSKU])
	if upid == "" && sku == "" {
		addErr(models.ColumnUPID, models.RowErrorRequired, "Either upid or sku is required")
	}
	if len(upid) > normalizer.MaxIdentifierLength {
		addErr(models.ColumnUPID, models.RowErrorTooLong, fmt.Sprintf("UPID must be at most %d characters", normalizer.MaxIdentifierLength))
	}
	if len(sku) > normalizer.MaxIdentifierLength {
		addErr(models.ColumnSKU, models.RowErrorTooLong, fmt.Sprintf("SKU must be at most %d characters", normalizer.MaxIdentifierLength))
	}
	if upid != "" {
		norm.Variant.UPID = &upid
	}
	if sku != "" {
		norm.Variant.SKU = &sku
	}

	barcode, err := normalizer.NormalizeBarcode(values[models.ColumnBarcode])
	if err != nil {
		addErr(models.ColumnBarcode, models.RowErrorInvalidBarcode, err.Error())
	} else if barcode != "" {
		norm.Variant.Barcode = &barcode
	}

	for _, kind := range referenceKinds {
		column := models.ReferenceColumns[kind]
		value := strings.TrimSpace(values[column])
		if value == "" {
			continue
		}
		id, ok := refs[kind][strings.ToLower(value)]
		if !ok {
			addErr(column, models.RowErrorUnmappedValue, fmt.Sprintf("%s %q does not match an existing %s", column, value, kind))
			continue
		}
		setReference(norm, kind, &id)
	}
	return row
}

// referenceKinds fixes the order row errors are reported in
var referenceKinds = []models.ReferenceKind{
	models.ReferenceCategory,
	models.ReferenceSeason,
	models.ReferenceManufacturer,
	models.ReferenceColor,
	models.ReferenceSize,
}

// checkInFile flags identifiers repeated earlier in the same file
func checkInFile(row *models.ImportRow, state *fileState) {
	v := row.Normalized.Variant
	check := func(seen map[string]int, value *string, field, label string) {
		if value == nil {
			return
		}
		if first, ok := seen[*value]; ok {
			row.Errors = append(row.Errors, models.RowError{
				Field:   field,
				Code:    models.RowErrorDuplicateInFile,
				Message: fmt.Sprintf("%s %s already appears on row %d", label, *value, first),
			})
			return
		}
		seen[*value] = row.RowNumber
	}
	check(state.upids, v.UPID, models.ColumnUPID, "UPID")
	check(state.skus, v.SKU, models.ColumnSKU, "SKU")
	check(state.barcodes, v.Barcode, models.ColumnBarcode, "Barcode")
}

// checkCatalog compares a row to the tenant catalog. CREATE rejects rows for
// variants that already exist; enrich rows may target their own variant.
func checkCatalog(row *models.ImportRow, mode models.ImportMode, catalog *catalogState) {
	v := row.Normalized.Variant
	addErr := func(field, code, message string) {
		row.Errors = append(row.Errors, models.RowError{Field: field, Code: code, Message: message})
	}

	var match *models.ProductVariant
	if v.UPID != nil {
		if existing, ok := catalog.byUPID[*v.UPID]; ok {
			match = &existing
		} else if catalog.upidUsed[*v.UPID] {
			addErr(models.ColumnUPID, models.RowErrorAlreadyInUse, fmt.Sprintf("UPID %s is already in use", *v.UPID))
		}
	}
	if match == nil && v.SKU != nil {
		if existing, ok := catalog.bySKU[*v.SKU]; ok {
			match = &existing
		}
	}

	if match != nil && mode == models.ImportModeCreate {
		field, value := models.ColumnSKU, ""
		if v.UPID != nil && match.UPID == *v.UPID {
			field, value = models.ColumnUPID, *v.UPID
		} else if v.SKU != nil {
			value = *v.SKU
		}
		addErr(field, models.RowErrorAlreadyExists, fmt.Sprintf("Variant %s already exists", value))
	}

	if v.Barcode != nil {
		if holder, ok := catalog.holders[*v.Barcode]; ok && (match == nil || holder.ID != match.ID) {
			addErr(models.ColumnBarcode, models.RowErrorAlreadyInUse, fmt.Sprintf("Barcode %s already used by another variant", *v.Barcode))
		}
	}
}

func hasHardErrors(errs models.RowErrors) bool {
	for _, e := range errs {
		if e.Code != models.RowErrorUnmappedValue {
			return true
		}
	}
	return false
}

// recordUnmapped adds the row to the pending approval of each unmapped value
func (s *fileState) recordUnmapped(row *models.ImportRow) {
	for _, e := range row.Errors {
		if e.Code != models.RowErrorUnmappedValue {
			continue
		}
		kind := kindOfColumn(e.Field)
		value := strings.TrimSpace(row.Raw[e.Field])
		key := string(kind) + "\x00" + strings.ToLower(value)
		p, ok := s.pending[key]
		if !ok {
			p = &models.PendingApproval{Kind: kind, Value: value, Rows: []int{}}
			s.pending[key] = p
			s.order = append(s.order, key)
		}
		p.Rows = append(p.Rows, row.RowNumber)
	}
}

func kindOfColumn(column string) models.ReferenceKind {
	for kind, c := range models.ReferenceColumns {
		if c == column {
			return kind
		}
	}
	return ""
}
