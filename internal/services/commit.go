package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalog-import-service/internal/metrics"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CommitEngine applies the PENDING rows of an approved job to the catalog
// through the VariantService, one product handle at a time.
type CommitEngine struct {
	store     *repository.Store
	variants  *VariantService
	logger    *logrus.Entry
	batchSize int
}

func NewCommitEngine(store *repository.Store, variants *VariantService, logger *logrus.Logger, batchSize int) *CommitEngine {
	if batchSize <= 0 {
		batchSize = defaultChunkSize
	}
	return &CommitEngine{
		store:     store,
		variants:  variants,
		logger:    logger.WithField("component", "commit"),
		batchSize: batchSize,
	}
}

// rowOutcome is the result of applying one staged row
type rowOutcome struct {
	row     *models.ImportRow
	created bool
	err     *models.RowError
}

// variantPlan pairs a staged row with the variant write it turns into
type variantPlan struct {
	row    *models.ImportRow
	input  VariantInput
	target *models.ProductVariant
}

// Run commits a job in COMMITTING. Rows already COMMITTED by an earlier,
// interrupted delivery are not touched again.
func (e *CommitEngine) Run(ctx context.Context, task models.ImportTask) error {
	log := e.logger.WithFields(logrus.Fields{"jobId": task.JobID, "tenantId": task.TenantID})

	job, err := e.store.Imports.GetJob(ctx, task.JobID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("Commit task for unknown job skipped")
		return nil
	}
	if err != nil {
		return err
	}
	if job.TenantID != task.TenantID {
		log.Warn("Commit task tenant does not own the job, skipped")
		return nil
	}
	if job.Status != models.ImportStatusCommitting {
		log.WithField("status", job.Status).Info("Commit task skipped for job outside COMMITTING")
		return nil
	}

	pending, err := e.store.Imports.CountRows(ctx, job.ID, models.RowStatusPending)
	if err != nil {
		return e.abort(ctx, job, err)
	}
	job.Summary.Processed = job.Summary.Total - int(pending)
	if job.Summary.Processed < 0 {
		job.Summary.Processed = 0
	}
	failed, err := e.store.Imports.CountRows(ctx, job.ID, models.RowStatusFailed, models.RowStatusBlocked)
	if err != nil {
		return e.abort(ctx, job, err)
	}
	job.Summary.Failed = int(failed)

	after := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := e.store.Imports.ListRowsAfter(ctx, job.ID, after, e.batchSize, models.RowStatusPending)
		if err != nil {
			return e.abort(ctx, job, err)
		}
		if len(rows) == 0 {
			break
		}
		after = rows[len(rows)-1].RowNumber

		if err := e.commitChunk(ctx, job, rows); err != nil {
			if ctx.Err() != nil {
				// shutdown: the redelivered task resumes from the PENDING rows
				return err
			}
			return e.abort(ctx, job, err)
		}
	}

	return e.finish(ctx, job)
}

func (e *CommitEngine) commitChunk(ctx context.Context, job *models.ImportJob, rows []models.ImportRow) error {
	groups := make(map[string][]*models.ImportRow)
	order := make([]string, 0)
	for i := range rows {
		handle := rows[i].Normalized.Product.Handle
		if _, ok := groups[handle]; !ok {
			order = append(order, handle)
		}
		groups[handle] = append(groups[handle], &rows[i])
	}

	for _, handle := range order {
		outcomes, err := e.commitGroup(ctx, job, handle, groups[handle])
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			if o.err != nil {
				o.row.Status = models.RowStatusFailed
				o.row.Errors = append(o.row.Errors, *o.err)
				job.Summary.Failed++
			} else {
				o.row.Status = models.RowStatusCommitted
				if o.created {
					job.Summary.Created++
				} else {
					job.Summary.Updated++
				}
			}
			if err := e.store.Imports.UpdateRow(ctx, o.row); err != nil {
				return err
			}
		}
	}

	job.Summary.Processed += len(rows)
	return e.store.Imports.SaveSummary(ctx, job)
}

// commitGroup applies every row of one product handle. Errors it returns are
// systemic; row problems are reported through the outcomes.
func (e *CommitEngine) commitGroup(ctx context.Context, job *models.ImportJob, handle string, rows []*models.ImportRow) ([]rowOutcome, error) {
	product, err := e.ensureProduct(ctx, job, handle, rows[0].Normalized.Product)
	if err != nil {
		return nil, err
	}

	var upids, skus []string
	for _, row := range rows {
		v := row.Normalized.Variant
		if v.UPID != nil {
			upids = append(upids, *v.UPID)
		}
		if v.SKU != nil {
			skus = append(skus, *v.SKU)
		}
	}
	byUPID, bySKU, err := e.existingVariants(ctx, job.TenantID, upids, skus)
	if err != nil {
		return nil, err
	}

	outcomes := make([]rowOutcome, 0, len(rows))
	var creates, updates []variantPlan
	for _, row := range rows {
		v := row.Normalized.Variant
		var target *models.ProductVariant
		if v.UPID != nil {
			if existing, ok := byUPID[*v.UPID]; ok {
				target = &existing
			}
		}
		if target == nil && v.SKU != nil {
			if existing, ok := bySKU[*v.SKU]; ok {
				target = &existing
			}
		}

		switch {
		case target == nil:
			creates = append(creates, variantPlan{row: row, input: createInput(v)})
		case job.Mode == models.ImportModeCreate:
			outcomes = append(outcomes, rowOutcome{row: row, err: &models.RowError{
				Field: models.ColumnUPID, Code: models.RowErrorAlreadyExists,
				Message: fmt.Sprintf("Variant %s already exists", target.UPID),
			}})
		case target.ProductID != product.ID:
			outcomes = append(outcomes, rowOutcome{row: row, err: &models.RowError{
				Field: models.ColumnProductHandle, Code: models.RowErrorAlreadyExists,
				Message: fmt.Sprintf("Variant %s belongs to another product", target.UPID),
			}})
		default:
			updates = append(updates, variantPlan{row: row, input: enrichInput(v), target: target})
		}
	}

	outcomes = append(outcomes, e.applyCreates(ctx, job.TenantID, product.ID, creates)...)
	outcomes = append(outcomes, e.applyUpdates(ctx, job.TenantID, updates)...)
	// a cancelled pass must not record its rows as failed
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// ensureProduct finds the product for handle, creating it when missing.
// Enrich mode copies the row's non-empty product fields onto an existing one.
func (e *CommitEngine) ensureProduct(ctx context.Context, job *models.ImportJob, handle string, p models.NormalizedProduct) (*models.Product, error) {
	product, err := e.store.Products.GetProductByHandle(ctx, job.TenantID, handle)
	if errors.Is(err, repository.ErrNotFound) {
		product = &models.Product{
			TenantID:       job.TenantID,
			Handle:         handle,
			Name:           p.Name,
			Description:    p.Description,
			Status:         models.ProductStatusDraft,
			CategoryID:     p.CategoryID,
			SeasonID:       p.SeasonID,
			ManufacturerID: p.ManufacturerID,
		}
		if err := e.store.Products.CreateProduct(ctx, product); err != nil {
			if !repository.IsUniqueViolation(err) {
				return nil, err
			}
			// created concurrently by another job of the tenant
			return e.store.Products.GetProductByHandle(ctx, job.TenantID, handle)
		}
		return product, nil
	}
	if err != nil {
		return nil, err
	}

	if job.Mode == models.ImportModeCreateAndEnrich {
		updates := map[string]interface{}{}
		if p.Name != "" && p.Name != product.Name {
			updates["name"] = p.Name
		}
		if p.Description != nil {
			updates["description"] = p.Description
		}
		if p.CategoryID != nil {
			updates["category_id"] = p.CategoryID
		}
		if p.SeasonID != nil {
			updates["season_id"] = p.SeasonID
		}
		if p.ManufacturerID != nil {
			updates["manufacturer_id"] = p.ManufacturerID
		}
		if len(updates) > 0 {
			if err := e.store.Products.UpdateProductFields(ctx, job.TenantID, product.ID, updates); err != nil {
				return nil, err
			}
		}
	}
	return product, nil
}

func (e *CommitEngine) existingVariants(ctx context.Context, tenantID string, upids, skus []string) (map[string]models.ProductVariant, map[string]models.ProductVariant, error) {
	byUPID := map[string]models.ProductVariant{}
	bySKU := map[string]models.ProductVariant{}
	if len(upids) > 0 {
		found, err := e.store.Products.FindVariantsByUPIDs(ctx, tenantID, upids)
		if err != nil {
			return nil, nil, err
		}
		for _, v := range found {
			byUPID[v.UPID] = v
		}
	}
	if len(skus) > 0 {
		found, err := e.store.Products.FindVariantsBySKUs(ctx, tenantID, skus)
		if err != nil {
			return nil, nil, err
		}
		for _, v := range found {
			if v.SKU != nil {
				bySKU[*v.SKU] = v
			}
		}
	}
	return byUPID, bySKU, nil
}

// applyCreates tries the whole group in one batch and falls back to one
// call per row so a bad row cannot fail its neighbours.
func (e *CommitEngine) applyCreates(ctx context.Context, tenantID string, productID uuid.UUID, plans []variantPlan) []rowOutcome {
	if len(plans) == 0 {
		return nil
	}
	inputs := make([]VariantInput, 0, len(plans))
	for _, p := range plans {
		inputs = append(inputs, p.input)
	}
	outcomes := make([]rowOutcome, 0, len(plans))
	if result, err := e.variants.BatchCreate(ctx, tenantID, productID, inputs); err == nil {
		for _, p := range plans {
			outcomes = append(outcomes, rowOutcome{row: p.row, created: true})
		}
		e.backfillPassports(ctx, tenantID, result.CreatedIDs)
		return outcomes
	}

	createdIDs := make([]uuid.UUID, 0, len(plans))
	for _, p := range plans {
		variant, err := e.variants.Create(ctx, tenantID, productID, p.input)
		if err == nil {
			createdIDs = append(createdIDs, variant.ID)
		}
		outcomes = append(outcomes, rowOutcome{row: p.row, created: true, err: commitRowError(err)})
	}
	e.backfillPassports(ctx, tenantID, createdIDs)
	return outcomes
}

// backfillPassports covers variants whose best-effort passport write was lost
func (e *CommitEngine) backfillPassports(ctx context.Context, tenantID string, variantIDs []uuid.UUID) {
	if len(variantIDs) == 0 {
		return
	}
	if err := e.variants.passports.EnsurePassports(ctx, tenantID, variantIDs); err != nil {
		e.logger.WithError(err).WithField("tenantId", tenantID).Warn("Failed to backfill passports")
	}
}

func (e *CommitEngine) applyUpdates(ctx context.Context, tenantID string, plans []variantPlan) []rowOutcome {
	if len(plans) == 0 {
		return nil
	}
	updates := make([]VariantUpdate, 0, len(plans))
	for _, p := range plans {
		updates = append(updates, VariantUpdate{ID: p.target.ID, VariantInput: p.input})
	}
	outcomes := make([]rowOutcome, 0, len(plans))
	if _, err := e.variants.BatchUpdate(ctx, tenantID, updates); err == nil {
		for _, p := range plans {
			outcomes = append(outcomes, rowOutcome{row: p.row})
		}
		return outcomes
	}

	for _, p := range plans {
		_, err := e.variants.Update(ctx, tenantID, p.target.ID, p.input)
		outcomes = append(outcomes, rowOutcome{row: p.row, err: commitRowError(err)})
	}
	return outcomes
}

// finish settles the final status. Committed rows are cleaned up; failed
// rows stay for export until the job is dismissed.
func (e *CommitEngine) finish(ctx context.Context, job *models.ImportJob) error {
	failed, err := e.store.Imports.CountRows(ctx, job.ID, models.RowStatusFailed, models.RowStatusBlocked)
	if err != nil {
		return e.abort(ctx, job, err)
	}
	if _, err := e.store.Imports.DeleteRows(ctx, job.ID, models.RowStatusCommitted); err != nil {
		return e.abort(ctx, job, err)
	}

	job.Summary.Failed = int(failed)
	job.HasExportableFailures = failed > 0
	status := models.ImportStatusCompleted
	if failed > 0 {
		status = models.ImportStatusCompletedWithFailures
	}

	err = e.store.Imports.TransitionJob(ctx, job.ID,
		[]models.ImportStatus{models.ImportStatusCommitting}, status,
		map[string]interface{}{
			"summary":                 job.Summary,
			"has_exportable_failures": job.HasExportableFailures,
			"finished_at":             time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	metrics.IncreaseImportJobTransitionMetric(string(status))

	e.logger.WithFields(logrus.Fields{
		"jobId":   job.ID,
		"status":  status,
		"created": job.Summary.Created,
		"updated": job.Summary.Updated,
		"failed":  job.Summary.Failed,
	}).Info("Import commit finished")
	return nil
}

// abort marks the job FAILED on a systemic error and returns the cause
func (e *CommitEngine) abort(ctx context.Context, job *models.ImportJob, cause error) error {
	log := e.logger.WithFields(logrus.Fields{"jobId": job.ID, "tenantId": job.TenantID})
	log.WithError(cause).Error("Import commit aborted")

	// background context: the pass context may be what failed
	bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed, err := e.store.Imports.CountRows(bg, job.ID, models.RowStatusFailed)
	if err == nil {
		job.Summary.Failed = int(failed)
		job.HasExportableFailures = failed > 0
	}
	job.Summary.Error = fmt.Sprintf("commit aborted: %v", cause)
	err = e.store.Imports.TransitionJob(bg, job.ID,
		[]models.ImportStatus{models.ImportStatusCommitting}, models.ImportStatusFailed,
		map[string]interface{}{
			"summary":                 job.Summary,
			"has_exportable_failures": job.HasExportableFailures,
			"finished_at":             time.Now(),
		})
	if err != nil {
		log.WithError(err).Error("Failed to mark job failed")
	} else {
		metrics.IncreaseImportJobTransitionMetric(string(models.ImportStatusFailed))
	}
	return cause
}

// createInput turns a staged variant into a create request. A staged upid is
// kept as the variant's identifier.
func createInput(v models.NormalizedVariant) VariantInput {
	in := VariantInput{
		AttributeValueIDs: models.SetValue(v.AttributeValueIDs()),
	}
	if v.UPID != nil {
		in.UPID = models.SetValue(*v.UPID)
	}
	if v.SKU != nil {
		in.SKU = models.SetValue(*v.SKU)
	}
	if v.Barcode != nil {
		in.Barcode = models.SetValue(*v.Barcode)
	}
	return in
}

// enrichInput only carries the fields the row provided
func enrichInput(v models.NormalizedVariant) VariantInput {
	in := VariantInput{}
	if v.SKU != nil {
		in.SKU = models.SetValue(*v.SKU)
	}
	if v.Barcode != nil {
		in.Barcode = models.SetValue(*v.Barcode)
	}
	if attrs := v.AttributeValueIDs(); len(attrs) > 0 {
		in.AttributeValueIDs = models.SetValue(attrs)
	}
	return in
}

// commitRowError converts a variant service error into the row's error
func commitRowError(err error) *models.RowError {
	if err == nil {
		return nil
	}
	e := AsError(err)
	field := e.Field
	if field == "" {
		field = models.ColumnUPID
	}
	code := models.RowErrorCommitFailed
	switch {
	case errors.Is(err, ErrAlreadyInUse):
		code = models.RowErrorAlreadyInUse
	case errors.Is(err, ErrWithinBatch):
		code = models.RowErrorDuplicateInFile
	}
	message := e.Message
	if e.Kind == KindInternal {
		message = "Row could not be committed"
	}
	return &models.RowError{Field: field, Code: code, Message: message}
}
