package repository

import (
	"context"
	"time"

	"catalog-import-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const rowInsertBatchSize = 200

type ImportsRepository struct {
	db *gorm.DB
}

func NewImportsRepository(db *gorm.DB) *ImportsRepository {
	return &ImportsRepository{db: db}
}

// --- Job Methods ---

// CreateJob creates a new import job
func (r *ImportsRepository) CreateJob(ctx context.Context, job *models.ImportJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetJob retrieves a job by ID regardless of tenant so callers can tell a
// missing job from a foreign one.
func (r *ImportsRepository) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error) {
	var job models.ImportJob
	if err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// ListRecentJobs returns the tenant's newest jobs that were not dismissed
func (r *ImportsRepository) ListRecentJobs(ctx context.Context, tenantID string, limit int) ([]models.ImportJob, error) {
	jobs := make([]models.ImportJob, 0, limit)
	pageSize := limit * 2
	if pageSize < 20 {
		pageSize = 20
	}

	// dismissed lives inside the summary document, so filter page by page
	for offset := 0; len(jobs) < limit; offset += pageSize {
		var page []models.ImportJob
		if err := r.db.WithContext(ctx).
			Where("tenant_id = ?", tenantID).
			Order("created_at DESC, id DESC").
			Offset(offset).
			Limit(pageSize).
			Find(&page).Error; err != nil {
			return nil, err
		}
		for _, job := range page {
			if job.Summary.Dismissed {
				continue
			}
			jobs = append(jobs, job)
			if len(jobs) == limit {
				break
			}
		}
		if len(page) < pageSize {
			break
		}
	}
	return jobs, nil
}

// TransitionJob moves a job to status `to` only if it currently holds one of
// `from`. It returns ErrStateConflict when no row matched.
func (r *ImportsRepository) TransitionJob(ctx context.Context, jobID uuid.UUID, from []models.ImportStatus, to models.ImportStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ? AND status IN ?", jobID, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

// SaveSummary persists the summary document and failure flag of a job
func (r *ImportsRepository) SaveSummary(ctx context.Context, job *models.ImportJob) error {
	return r.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"summary":                 job.Summary,
			"has_exportable_failures": job.HasExportableFailures,
			"updated_at":              time.Now(),
		}).Error
}

// --- Row Methods ---

// CreateRows stages rows in insert batches
func (r *ImportsRepository) CreateRows(ctx context.Context, rows []*models.ImportRow) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, rowInsertBatchSize).Error
}

// ListRowsAfter returns up to limit rows of a job with a row number greater
// than afterRow, in row-number order, optionally filtered by status.
func (r *ImportsRepository) ListRowsAfter(ctx context.Context, jobID uuid.UUID, afterRow, limit int, statuses ...models.RowStatus) ([]models.ImportRow, error) {
	query := r.db.WithContext(ctx).
		Where("job_id = ? AND row_num > ?", jobID, afterRow)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var rows []models.ImportRow
	err := query.Order("row_num ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ListRows returns every row of a job with one of statuses, in row-number order
func (r *ImportsRepository) ListRows(ctx context.Context, jobID uuid.UUID, statuses ...models.RowStatus) ([]models.ImportRow, error) {
	query := r.db.WithContext(ctx).Where("job_id = ?", jobID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var rows []models.ImportRow
	err := query.Order("row_num ASC").Find(&rows).Error
	return rows, err
}

// UpdateRow persists status, errors and normalized payload of a row
func (r *ImportsRepository) UpdateRow(ctx context.Context, row *models.ImportRow) error {
	return r.db.WithContext(ctx).Model(&models.ImportRow{}).
		Where("id = ?", row.ID).
		Updates(map[string]interface{}{
			"status":     row.Status,
			"errors":     row.Errors,
			"normalized": row.Normalized,
			"updated_at": time.Now(),
		}).Error
}

// CountRows counts a job's rows, optionally by status
func (r *ImportsRepository) CountRows(ctx context.Context, jobID uuid.UUID, statuses ...models.RowStatus) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ImportRow{}).Where("job_id = ?", jobID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

// DeleteRows removes a job's staged rows, optionally only those in statuses
func (r *ImportsRepository) DeleteRows(ctx context.Context, jobID uuid.UUID, statuses ...models.RowStatus) (int64, error) {
	query := r.db.WithContext(ctx).Where("job_id = ?", jobID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	result := query.Delete(&models.ImportRow{})
	return result.RowsAffected, result.Error
}
