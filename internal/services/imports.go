package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"catalog-import-service/internal/metrics"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultRecentImportsLimit = 10

// ImportService owns the import job state machine. Background passes are
// handed to the Dispatcher; callers poll Status for progress.
type ImportService struct {
	store       *repository.Store
	files       FileStore
	dispatcher  Dispatcher
	logger      *logrus.Entry
	recentLimit int
}

func NewImportService(store *repository.Store, files FileStore, dispatcher Dispatcher, logger *logrus.Logger, recentLimit int) *ImportService {
	if recentLimit <= 0 {
		recentLimit = defaultRecentImportsLimit
	}
	return &ImportService{
		store:       store,
		files:       files,
		dispatcher:  dispatcher,
		logger:      logger.WithField("component", "imports"),
		recentLimit: recentLimit,
	}
}

// StartResult is returned by Start
type StartResult struct {
	JobID     uuid.UUID           `json:"jobId"`
	Status    models.ImportStatus `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
}

// Progress is the live view of a job's counters
type Progress struct {
	Phase      string `json:"phase"`
	Total      int    `json:"total"`
	Processed  int    `json:"processed"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Failed     int    `json:"failed"`
	Percentage int    `json:"percentage"`
}

// JobStatus is returned by Status and Recent
type JobStatus struct {
	JobID                 uuid.UUID            `json:"jobId"`
	Filename              string               `json:"filename"`
	Mode                  models.ImportMode    `json:"mode"`
	Status                models.ImportStatus  `json:"status"`
	StartedAt             *time.Time           `json:"startedAt"`
	FinishedAt            *time.Time           `json:"finishedAt"`
	Progress              Progress             `json:"progress"`
	Summary               models.ImportSummary `json:"summary"`
	HasExportableFailures bool                 `json:"hasExportableFailures"`
	CreatedAt             time.Time            `json:"createdAt"`
}

// ActionResult is returned by Approve, Cancel and ResolveValue
type ActionResult struct {
	JobID   uuid.UUID           `json:"jobId"`
	Status  models.ImportStatus `json:"status"`
	Message string              `json:"message"`
}

// DismissResult is returned by Dismiss
type DismissResult struct {
	JobID   uuid.UUID `json:"jobId"`
	Success bool      `json:"success"`
	Message string    `json:"message"`
}

// Start registers an uploaded file as a new job and dispatches validation.
// fileID must follow {tenantId}/{jobId}/{filename}.
func (s *ImportService) Start(ctx context.Context, tenantID, fileID, filename string, mode models.ImportMode) (*StartResult, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if mode == "" {
		mode = models.ImportModeCreate
	}
	if !mode.Valid() {
		return nil, fieldError("INVALID_MODE", "mode", fmt.Sprintf("mode must be %s or %s", models.ImportModeCreate, models.ImportModeCreateAndEnrich))
	}
	if err := CheckFileReference(tenantID, fileID, filename); err != nil {
		return nil, err
	}

	exists, err := s.files.Exists(ctx, fileID)
	if err != nil {
		return nil, internalError(fmt.Errorf("failed to stat import file: %w", err))
	}
	if !exists {
		return nil, notFoundError("FILE_NOT_FOUND", "import file not found")
	}

	now := time.Now()
	job := &models.ImportJob{
		TenantID:  tenantID,
		Filename:  filename,
		FilePath:  fileID,
		Mode:      mode,
		Status:    models.ImportStatusPending,
		StartedAt: &now,
		Summary:   models.ImportSummary{PendingApprovals: []models.PendingApproval{}},
	}
	if err := s.store.Imports.CreateJob(ctx, job); err != nil {
		return nil, internalError(err)
	}
	metrics.IncreaseImportJobTransitionMetric(string(models.ImportStatusPending))

	log := s.logger.WithFields(logrus.Fields{"jobId": job.ID, "tenantId": tenantID})
	task := models.ImportTask{JobID: job.ID, TenantID: tenantID, FilePath: fileID, Mode: mode}
	if err := s.dispatcher.DispatchValidation(ctx, task); err != nil {
		log.WithError(err).Error("Failed to dispatch validation task")
		job.Summary.Error = fmt.Sprintf("failed to dispatch validation: %v", err)
		finished := time.Now()
		ferr := s.store.Imports.TransitionJob(ctx, job.ID,
			[]models.ImportStatus{models.ImportStatusPending}, models.ImportStatusFailed,
			map[string]interface{}{"summary": job.Summary, "finished_at": finished})
		if ferr != nil {
			log.WithError(ferr).Error("Failed to mark job failed after dispatch error")
		} else {
			metrics.IncreaseImportJobTransitionMetric(string(models.ImportStatusFailed))
		}
		return nil, dispatchError("validation", err)
	}

	log.WithField("filename", filename).Info("Import job started")
	return &StartResult{JobID: job.ID, Status: job.Status, CreatedAt: job.CreatedAt}, nil
}

// CheckFileReference validates fileID segment by segment against the
// caller's tenant and the declared filename without touching storage.
func CheckFileReference(tenantID, fileID, filename string) error {
	segments := strings.Split(fileID, "/")
	if len(segments) != 3 {
		return fieldError("INVALID_FILE_REFERENCE", "fileId", "file reference must have the form {tenantId}/{jobId}/{filename}")
	}
	if segments[0] != tenantID {
		return accessDeniedError("file reference belongs to another tenant")
	}
	if jobSegment := segments[1]; jobSegment == "" || jobSegment == "." || jobSegment == ".." {
		return fieldError("INVALID_FILE_REFERENCE", "fileId", "file reference is missing the job segment")
	}
	if filename == "" || segments[2] != filename {
		return fieldError("INVALID_FILE_REFERENCE", "filename", "filename does not match the file reference")
	}
	return nil
}

// Status is a read with no side effects
func (s *ImportService) Status(ctx context.Context, tenantID string, jobID uuid.UUID) (*JobStatus, error) {
	job, err := s.loadJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	status := toJobStatus(job)
	return &status, nil
}

// Recent lists the tenant's latest jobs that have not been dismissed
func (s *ImportService) Recent(ctx context.Context, tenantID string, limit int) ([]JobStatus, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if limit <= 0 || limit > 100 {
		limit = s.recentLimit
	}
	jobs, err := s.store.Imports.ListRecentJobs(ctx, tenantID, limit)
	if err != nil {
		return nil, internalError(err)
	}
	out := make([]JobStatus, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobStatus(&jobs[i]))
	}
	return out, nil
}

// Approve moves a validated job to COMMITTING and dispatches the commit pass.
// Calling it again while COMMITTING returns the current state without a
// second dispatch.
func (s *ImportService) Approve(ctx context.Context, tenantID string, jobID uuid.UUID) (*ActionResult, error) {
	job, err := s.loadJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.ImportStatusCommitting {
		return committingResult(job.ID), nil
	}
	if job.Status != models.ImportStatusValidated {
		return nil, invalidStateError(fmt.Sprintf("job cannot be approved in status %s", job.Status))
	}
	if n := len(job.Summary.PendingApprovals); n > 0 {
		return nil, requestError("PENDING_APPROVALS", fmt.Sprintf("%d unmapped values must be resolved before approval", n))
	}

	err = s.store.Imports.TransitionJob(ctx, job.ID,
		[]models.ImportStatus{models.ImportStatusValidated}, models.ImportStatusCommitting, nil)
	if errors.Is(err, repository.ErrStateConflict) {
		// a concurrent approve won the race
		current, lerr := s.loadJob(ctx, tenantID, jobID)
		if lerr != nil {
			return nil, lerr
		}
		if current.Status == models.ImportStatusCommitting {
			return committingResult(current.ID), nil
		}
		return nil, invalidStateError(fmt.Sprintf("job cannot be approved in status %s", current.Status))
	}
	if err != nil {
		return nil, internalError(err)
	}
	metrics.IncreaseImportJobTransitionMetric(string(models.ImportStatusCommitting))

	log := s.logger.WithFields(logrus.Fields{"jobId": job.ID, "tenantId": tenantID})
	task := models.ImportTask{JobID: job.ID, TenantID: tenantID, FilePath: job.FilePath, Mode: job.Mode}
	if err := s.dispatcher.DispatchCommit(ctx, task); err != nil {
		log.WithError(err).Error("Failed to dispatch commit task")
		rerr := s.store.Imports.TransitionJob(ctx, job.ID,
			[]models.ImportStatus{models.ImportStatusCommitting}, models.ImportStatusValidated, nil)
		if rerr != nil {
			log.WithError(rerr).Error("Failed to roll job back to VALIDATED")
		} else {
			metrics.IncreaseImportJobTransitionMetric(string(models.ImportStatusValidated))
		}
		return nil, dispatchError("commit", err)
	}

	log.Info("Import job approved")
	return committingResult(job.ID), nil
}

// Cancel discards the staged rows of a validated job
func (s *ImportService) Cancel(ctx context.Context, tenantID string, jobID uuid.UUID) (*ActionResult, error) {
	job, err := s.loadJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ImportStatusValidated {
		return nil, invalidStateError(fmt.Sprintf("job cannot be cancelled in status %s", job.Status))
	}

	err = s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Imports.DeleteRows(ctx, job.ID); err != nil {
			return err
		}
		return tx.Imports.TransitionJob(ctx, job.ID,
			[]models.ImportStatus{models.ImportStatusValidated}, models.ImportStatusCancelled,
			map[string]interface{}{"finished_at": time.Now()})
	})
	if errors.Is(err, repository.ErrStateConflict) {
		return nil, invalidStateError("job is no longer awaiting approval")
	}
	if err != nil {
		return nil, internalError(err)
	}
	metrics.IncreaseImportJobTransitionMetric(string(models.ImportStatusCancelled))
	s.logger.WithFields(logrus.Fields{"jobId": job.ID, "tenantId": tenantID}).Info("Import job cancelled")

	return &ActionResult{JobID: job.ID, Status: models.ImportStatusCancelled, Message: "Import cancelled"}, nil
}

// Dismiss discards the staged rows of a failed job. The status is kept.
func (s *ImportService) Dismiss(ctx context.Context, tenantID string, jobID uuid.UUID) (*DismissResult, error) {
	job, err := s.loadJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Dismissible() {
		return nil, invalidStateError(fmt.Sprintf("job cannot be dismissed in status %s", job.Status))
	}
	if job.Summary.Dismissed {
		return &DismissResult{JobID: job.ID, Success: true, Message: "Import already dismissed"}, nil
	}

	now := time.Now()
	job.Summary.Dismissed = true
	job.Summary.DismissedAt = &now
	err = s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Imports.DeleteRows(ctx, job.ID); err != nil {
			return err
		}
		return tx.Imports.SaveSummary(ctx, job)
	})
	if err != nil {
		return nil, internalError(err)
	}
	s.logger.WithFields(logrus.Fields{"jobId": job.ID, "tenantId": tenantID}).Info("Import job dismissed")

	return &DismissResult{JobID: job.ID, Success: true, Message: "Import dismissed"}, nil
}

// ResolveValue maps an unmapped reference value of a validated job to an
// existing reference, or drops it when referenceID is nil. Blocked rows that
// carry the value are patched and released once they have no other errors.
func (s *ImportService) ResolveValue(ctx context.Context, tenantID string, jobID uuid.UUID, kind models.ReferenceKind, value string, referenceID *uuid.UUID) (*ActionResult, error) {
	if !kind.Valid() {
		return nil, fieldError("INVALID_KIND", "kind", fmt.Sprintf("unknown reference kind %q", kind))
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fieldError("REQUIRED", "value", "value is required")
	}

	job, err := s.loadJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ImportStatusValidated {
		return nil, invalidStateError(fmt.Sprintf("values cannot be resolved in status %s", job.Status))
	}

	pendingIdx := -1
	for i, p := range job.Summary.PendingApprovals {
		if p.Kind == kind && strings.EqualFold(p.Value, value) {
			pendingIdx = i
			break
		}
	}
	if pendingIdx < 0 {
		return nil, notFoundError("PENDING_VALUE_NOT_FOUND", fmt.Sprintf("no pending %s value %q", kind, value))
	}

	var refID *string
	if referenceID != nil {
		ref, err := s.store.References.Get(ctx, tenantID, *referenceID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("REFERENCE_NOT_FOUND", "reference not found")
		}
		if err != nil {
			return nil, internalError(err)
		}
		if ref.Kind != kind {
			return nil, fieldError("REFERENCE_KIND_MISMATCH", "referenceId", fmt.Sprintf("reference is a %s, not a %s", ref.Kind, kind))
		}
		id := ref.ID.String()
		refID = &id
	}

	column := models.ReferenceColumns[kind]
	released := 0
	err = s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		rows, err := tx.Imports.ListRows(ctx, job.ID, models.RowStatusBlocked)
		if err != nil {
			return err
		}
		for i := range rows {
			row := &rows[i]
			if !strings.EqualFold(strings.TrimSpace(row.Raw[column]), value) {
				continue
			}
			setReference(&row.Normalized, kind, refID)
			row.Errors = removeRowError(row.Errors, column, models.RowErrorUnmappedValue)
			if len(row.Errors) == 0 {
				row.Status = models.RowStatusPending
				released++
			}
			if err := tx.Imports.UpdateRow(ctx, row); err != nil {
				return err
			}
		}

		job.Summary.PendingApprovals = append(job.Summary.PendingApprovals[:pendingIdx], job.Summary.PendingApprovals[pendingIdx+1:]...)
		job.Summary.Blocked -= released
		if job.Summary.Blocked < 0 {
			job.Summary.Blocked = 0
		}
		return tx.Imports.SaveSummary(ctx, job)
	})
	if err != nil {
		return nil, internalError(err)
	}

	s.logger.WithFields(logrus.Fields{
		"jobId":    job.ID,
		"tenantId": tenantID,
		"kind":     kind,
		"released": released,
	}).Info("Unmapped import value resolved")

	return &ActionResult{
		JobID:   job.ID,
		Status:  job.Status,
		Message: fmt.Sprintf("%d rows released, %d values pending", released, len(job.Summary.PendingApprovals)),
	}, nil
}

// FailedRows returns the FAILED and BLOCKED rows of a job for export
func (s *ImportService) FailedRows(ctx context.Context, tenantID string, jobID uuid.UUID) (*models.ImportJob, []models.ImportRow, error) {
	job, err := s.loadJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.store.Imports.ListRows(ctx, job.ID, models.RowStatusFailed, models.RowStatusBlocked)
	if err != nil {
		return nil, nil, internalError(err)
	}
	return job, rows, nil
}

// loadJob enforces tenant ownership. A missing job is NotFound, a foreign
// one AccessDenied.
func (s *ImportService) loadJob(ctx context.Context, tenantID string, jobID uuid.UUID) (*models.ImportJob, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	job, err := s.store.Imports.GetJob(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("JOB_NOT_FOUND", "import job not found")
	}
	if err != nil {
		return nil, internalError(err)
	}
	if job.TenantID != tenantID {
		return nil, accessDeniedError("import job belongs to another tenant")
	}
	return job, nil
}

func toJobStatus(job *models.ImportJob) JobStatus {
	return JobStatus{
		JobID:                 job.ID,
		Filename:              job.Filename,
		Mode:                  job.Mode,
		Status:                job.Status,
		StartedAt:             job.StartedAt,
		FinishedAt:            job.FinishedAt,
		Progress:              progressOf(job),
		Summary:               job.Summary,
		HasExportableFailures: job.HasExportableFailures,
		CreatedAt:             job.CreatedAt,
	}
}

func progressOf(job *models.ImportJob) Progress {
	s := job.Summary
	p := Progress{
		Phase:     job.Status.Phase(),
		Total:     s.Total,
		Processed: s.Processed,
		Created:   s.Created,
		Updated:   s.Updated,
		Failed:    s.Failed,
	}
	if s.Total > 0 {
		p.Percentage = int(math.Round(float64(s.Processed) / float64(s.Total) * 100))
	}
	return p
}

func committingResult(jobID uuid.UUID) *ActionResult {
	return &ActionResult{JobID: jobID, Status: models.ImportStatusCommitting, Message: "Import approved, commit in progress"}
}

func setReference(row *models.NormalizedRow, kind models.ReferenceKind, id *string) {
	switch kind {
	case models.ReferenceCategory:
		row.Product.CategoryID = id
	case models.ReferenceSeason:
		row.Product.SeasonID = id
	case models.ReferenceManufacturer:
		row.Product.ManufacturerID = id
	case models.ReferenceColor:
		row.Variant.ColorID = id
	case models.ReferenceSize:
		row.Variant.SizeID = id
	}
}

func removeRowError(errs models.RowErrors, field, code string) models.RowErrors {
	out := make(models.RowErrors, 0, len(errs))
	for _, e := range errs {
		if e.Field == field && e.Code == code {
			continue
		}
		out = append(out, e)
	}
	return out
}
