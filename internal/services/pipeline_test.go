package services

import (
	"context"
	"io"
	"strings"
	"testing"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func countRows(t *testing.T, store *repository.Store, jobID uuid.UUID, statuses ...models.RowStatus) int {
	t.Helper()
	n, err := store.Imports.CountRows(context.Background(), jobID, statuses...)
	require.NoError(t, err)
	return int(n)
}

func TestImportPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	files := new(MockFileStore)
	dispatcher := new(MockDispatcher)
	imports := NewImportService(f.store, files, dispatcher, newTestLogger(), 10)
	processor := NewImportProcessor(files, f.validation, f.commit, newTestLogger())

	require.NoError(t, f.store.References.Create(ctx, &models.CatalogReference{TenantID: "tenant-a", Kind: models.ReferenceColor, Name: "White"}))

	fileID := "tenant-a/upload-7/catalog.csv"
	content := strings.Join([]string{
		"product_name,sku,barcode,color_name",
		"Classic Tee,TSH-1,4006381333931,White",
		"Classic Tee,TSH-2,,Teal",
		"Classic Tee,TSH-3,12345,",
	}, "\n")
	files.On("Exists", mock.Anything, fileID).Return(true, nil)
	files.On("Open", mock.Anything, fileID).Return(io.NopCloser(strings.NewReader(content)), nil).Once()
	dispatcher.On("DispatchValidation", mock.Anything, mock.Anything).Return(nil).Once()
	dispatcher.On("DispatchCommit", mock.Anything, mock.Anything).Return(nil).Once()

	started, err := imports.Start(ctx, "tenant-a", fileID, "catalog.csv", models.ImportModeCreate)
	require.NoError(t, err)
	job := &models.ImportJob{ID: started.JobID}
	job = reloadJob(t, f.store, job)

	// validation stages every row under its own job
	require.NoError(t, processor.Validate(ctx, jobTaskOf(job)))
	job = reloadJob(t, f.store, job)
	require.Equal(t, models.ImportStatusValidated, job.Status)
	assert.Equal(t, 3, countRows(t, f.store, job.ID))
	assert.Zero(t, countRows(t, f.store, uuid.Nil))
	assert.Equal(t, 1, countRows(t, f.store, job.ID, models.RowStatusPending))
	assert.Equal(t, 1, countRows(t, f.store, job.ID, models.RowStatusBlocked))
	assert.Equal(t, 1, countRows(t, f.store, job.ID, models.RowStatusFailed))
	require.Len(t, job.Summary.PendingApprovals, 1)

	teal := &models.CatalogReference{TenantID: "tenant-a", Kind: models.ReferenceColor, Name: "Teal"}
	require.NoError(t, f.store.References.Create(ctx, teal))
	_, err = imports.ResolveValue(ctx, "tenant-a", job.ID, models.ReferenceColor, "teal", &teal.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, countRows(t, f.store, job.ID, models.RowStatusPending))
	assert.Zero(t, countRows(t, f.store, job.ID, models.RowStatusBlocked))

	_, err = imports.Approve(ctx, "tenant-a", job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ImportStatusCommitting, reloadJob(t, f.store, job).Status)

	require.NoError(t, processor.Commit(ctx, jobTaskOf(job)))
	job = reloadJob(t, f.store, job)
	assert.Equal(t, models.ImportStatusCompletedWithFailures, job.Status)
	assert.Equal(t, 2, job.Summary.Created)
	assert.Equal(t, 1, job.Summary.Failed)
	assert.Equal(t, 1, countRows(t, f.store, job.ID))

	tee, err := f.store.Products.GetProductByHandle(ctx, "tenant-a", "classic-tee")
	require.NoError(t, err)
	variants, err := f.store.Products.ListVariants(ctx, "tenant-a", tee.ID)
	require.NoError(t, err)
	require.Len(t, variants, 2)

	_, failed, err := imports.FailedRows(ctx, "tenant-a", job.ID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 4, failed[0].RowNumber)
	assert.Equal(t, []string{models.RowErrorInvalidBarcode}, errorCodes(failed[0]))

	_, err = imports.Dismiss(ctx, "tenant-a", job.ID)
	require.NoError(t, err)
	assert.Zero(t, countRows(t, f.store, job.ID))
	assert.True(t, reloadJob(t, f.store, job).Summary.Dismissed)

	files.AssertExpectations(t)
	dispatcher.AssertExpectations(t)
}

func TestImportPipeline_CancelDropsStagedRows(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	imports := NewImportService(f.store, new(MockFileStore), new(MockDispatcher), newTestLogger(), 10)

	job := seedJob(t, f.store, "tenant-a", models.ImportStatusPending, models.ImportModeCreate)
	other := seedJob(t, f.store, "tenant-a", models.ImportStatusPending, models.ImportModeCreate)
	require.NoError(t, f.validation.Run(ctx, jobTaskOf(job), parseCSV(t, "product_name,sku\nTee,A\nTee,B\n")))
	require.NoError(t, f.validation.Run(ctx, jobTaskOf(other), parseCSV(t, "product_name,sku\nCap,C\n")))
	require.Equal(t, 2, countRows(t, f.store, job.ID))

	_, err := imports.Cancel(ctx, "tenant-a", job.ID)
	require.NoError(t, err)
	assert.Zero(t, countRows(t, f.store, job.ID))
	assert.Equal(t, 1, countRows(t, f.store, other.ID))
}

func TestCommitEngine_CountsFailuresWhileCommitting(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	job := seedJob(t, f.store, "tenant-a", models.ImportStatusPending, models.ImportModeCreate)
	sheet := parseCSV(t, "product_name,sku,barcode\nCap,CAP-1,036000291452\nCap,CAP-2,\n")
	require.NoError(t, f.validation.Run(ctx, jobTaskOf(job), sheet))
	require.NoError(t, f.store.Imports.TransitionJob(ctx, job.ID,
		[]models.ImportStatus{models.ImportStatusValidated}, models.ImportStatusCommitting, nil))

	// the barcode is taken after validation
	other := createProduct(t, f.store, "tenant-a", "other")
	_, err := f.variants.Create(ctx, "tenant-a", other.ID, VariantInput{Barcode: models.SetValue("036000291452")})
	require.NoError(t, err)

	job = reloadJob(t, f.store, job)
	require.Zero(t, job.Summary.Failed)
	rows, err := f.store.Imports.ListRows(ctx, job.ID, models.RowStatusPending)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, f.commit.commitChunk(ctx, job, rows))

	mid := reloadJob(t, f.store, job)
	assert.Equal(t, models.ImportStatusCommitting, mid.Status)
	assert.Equal(t, 1, mid.Summary.Failed)
	assert.Equal(t, 1, mid.Summary.Created)
}
