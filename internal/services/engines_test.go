package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"catalog-import-service/internal/fileimport"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"
	"catalog-import-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	store      *repository.Store
	variants   *VariantService
	validation *ValidationEngine
	commit     *CommitEngine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := repository.NewStore(testutil.NewDB(t))
	logger := newTestLogger()
	variants := NewVariantService(store, NewPassportService(store, logger), nil, logger, 3)
	return &engineFixture{
		store:      store,
		variants:   variants,
		validation: NewValidationEngine(store, logger, 2),
		commit:     NewCommitEngine(store, variants, logger, 2),
	}
}

func parseCSV(t *testing.T, content string) *fileimport.Sheet {
	t.Helper()
	sheet, err := fileimport.ParseCSV(strings.NewReader(content))
	require.NoError(t, err)
	return sheet
}

func rowsByNumber(t *testing.T, store *repository.Store, job *models.ImportJob) map[int]models.ImportRow {
	t.Helper()
	rows, err := store.Imports.ListRows(context.Background(), job.ID)
	require.NoError(t, err)
	out := map[int]models.ImportRow{}
	for _, r := range rows {
		out[r.RowNumber] = r
	}
	return out
}

func errorCodes(row models.ImportRow) []string {
	codes := make([]string, 0, len(row.Errors))
	for _, e := range row.Errors {
		codes = append(codes, e.Code)
	}
	return codes
}

func TestValidationEngine_StagesRows(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	require.NoError(t, f.store.References.Create(ctx, &models.CatalogReference{TenantID: "tenant-a", Kind: models.ReferenceColor, Name: "White"}))

	job := seedJob(t, f.store, "tenant-a", models.ImportStatusPending, models.ImportModeCreate)
	sheet := parseCSV(t, strings.Join([]string{
		"product_name *,sku,barcode,color_name,size_name",
		"Classic Tee,TSH-1,4006381333931,white,",
		"Classic Tee,TSH-1,12345670,,",
		"Classic Tee,TSH-3,04006381333931,,",
		",TSH-4,,,",
		"Classic Tee,TSH-5,12345,,",
		"Classic Tee,TSH-6,,White,Huge",
		"Classic Tee,,,,",
	}, "\n"))

	require.NoError(t, f.validation.Run(ctx, jobTaskOf(job), sheet))

	fresh := reloadJob(t, f.store, job)
	assert.Equal(t, models.ImportStatusValidated, fresh.Status)
	assert.Equal(t, 7, fresh.Summary.Total)
	assert.Equal(t, 7, fresh.Summary.Processed)
	assert.Equal(t, 5, fresh.Summary.Failed)
	assert.Equal(t, 1, fresh.Summary.Blocked)
	assert.True(t, fresh.HasExportableFailures)
	require.Len(t, fresh.Summary.PendingApprovals, 1)
	assert.Equal(t, models.ReferenceSize, fresh.Summary.PendingApprovals[0].Kind)
	assert.Equal(t, []int{7}, fresh.Summary.PendingApprovals[0].Rows)

	rows := rowsByNumber(t, f.store, job)
	require.Len(t, rows, 7)

	clean := rows[2]
	assert.Equal(t, models.RowStatusPending, clean.Status)
	assert.Equal(t, "classic-tee", clean.Normalized.Product.Handle)
	assert.Equal(t, "04006381333931", *clean.Normalized.Variant.Barcode)
	require.NotNil(t, clean.Normalized.Variant.ColorID)

	assert.Equal(t, []string{models.RowErrorDuplicateInFile}, errorCodes(rows[3]))
	assert.Equal(t, []string{models.RowErrorDuplicateInFile}, errorCodes(rows[4]))
	assert.Equal(t, []string{models.RowErrorRequired}, errorCodes(rows[5]))
	assert.Equal(t, []string{models.RowErrorInvalidBarcode}, errorCodes(rows[6]))
	assert.Equal(t, models.RowStatusBlocked, rows[7].Status)
	assert.Equal(t, []string{models.RowErrorUnmappedValue}, errorCodes(rows[7]))
	assert.Equal(t, []string{models.RowErrorRequired}, errorCodes(rows[8]))
}

func TestValidationEngine_FailsOnHeaders(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	job := seedJob(t, f.store, "tenant-a", models.ImportStatusPending, models.ImportModeCreate)
	require.NoError(t, f.validation.Run(ctx, jobTaskOf(job), parseCSV(t, "product_name,barcode\nTee,12345670\n")))

	fresh := reloadJob(t, f.store, job)
	assert.Equal(t, models.ImportStatusFailed, fresh.Status)
	assert.Contains(t, fresh.Summary.Error, "upid")

	empty := seedJob(t, f.store, "tenant-a", models.ImportStatusPending, models.ImportModeCreate)
	require.NoError(t, f.validation.Run(ctx, jobTaskOf(empty), parseCSV(t, "product_name,sku\n")))
	assert.Equal(t, models.ImportStatusFailed, reloadJob(t, f.store, empty).Status)
}

func TestValidationEngine_SkipsJobsOutsidePending(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	job := seedJob(t, f.store, "tenant-a", models.ImportStatusCancelled, models.ImportModeCreate)
	require.NoError(t, f.validation.Run(ctx, jobTaskOf(job), parseCSV(t, "product_name,sku\nTee,A\n")))
	assert.Equal(t, models.ImportStatusCancelled, reloadJob(t, f.store, job).Status)

	count, err := f.store.Imports.CountRows(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestValidationEngine_CreateModeRejectsExisting(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	product := createProduct(t, f.store, "tenant-a", "classic-tee")
	_, err := f.variants.Create(ctx, "tenant-a", product.ID, VariantInput{SKU: models.SetValue("TSH-1"), Barcode: models.SetValue("12345670")})
	require.NoError(t, err)

	job := seedJob(t, f.store, "tenant-a", models.ImportStatusPending, models.ImportModeCreate)
	sheet := parseCSV(t, "product_name,sku,barcode\nClassic Tee,TSH-1,\nClassic Tee,TSH-2,12345670\n")
	require.NoError(t, f.validation.Run(ctx, jobTaskOf(job), sheet))

	rows := rowsByNumber(t, f.store, job)
	assert.Equal(t, []string{models.RowErrorAlreadyExists}, errorCodes(rows[2]))
	assert.Equal(t, []string{models.RowErrorAlreadyInUse}, errorCodes(rows[3]))
}

func TestCommitEngine_CommitsAndKeepsFailures(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	job := seedJob(t, f.store, "tenant-a", models.ImportStatusPending, models.ImportModeCreate)
	sheet := parseCSV(t, strings.Join([]string{
		"product_name,product_handle,upid,sku,barcode",
		"Classic Tee,,,TSH-1,4006381333931",
		"Classic Tee,,CUSTOM-0001,TSH-2,",
		"Hoodie,hoodie,,HD-1,12345670",
		"Cap,,,CAP-1,036000291452",
	}, "\n"))
	require.NoError(t, f.validation.Run(ctx, jobTaskOf(job), sheet))
	require.Equal(t, models.ImportStatusValidated, reloadJob(t, f.store, job).Status)

	// another writer takes the cap's barcode between validation and commit
	other := createProduct(t, f.store, "tenant-a", "other")
	_, err := f.variants.Create(ctx, "tenant-a", other.ID, VariantInput{Barcode: models.SetValue("036000291452")})
	require.NoError(t, err)

	require.NoError(t, f.store.Imports.TransitionJob(ctx, job.ID,
		[]models.ImportStatus{models.ImportStatusValidated}, models.ImportStatusCommitting, nil))
	require.NoError(t, f.commit.Run(ctx, jobTaskOf(job)))

	fresh := reloadJob(t, f.store, job)
	assert.Equal(t, models.ImportStatusCompletedWithFailures, fresh.Status)
	assert.True(t, fresh.HasExportableFailures)
	assert.Equal(t, 3, fresh.Summary.Created)
	assert.Equal(t, 1, fresh.Summary.Failed)
	assert.Equal(t, 4, fresh.Summary.Processed)
	assert.NotNil(t, fresh.FinishedAt)

	// committed rows are cleaned up, the failure stays for export
	rows := rowsByNumber(t, f.store, job)
	require.Len(t, rows, 1)
	assert.Equal(t, models.RowStatusFailed, rows[5].Status)
	assert.Equal(t, []string{models.RowErrorAlreadyInUse}, errorCodes(rows[5]))

	tee, err := f.store.Products.GetProductByHandle(ctx, "tenant-a", "classic-tee")
	require.NoError(t, err)
	variants, err := f.store.Products.ListVariants(ctx, "tenant-a", tee.ID)
	require.NoError(t, err)
	assert.Len(t, variants, 2)

	res, err := NewPassportService(f.store, newTestLogger()).Resolve(ctx, "tenant-a", "CUSTOM-0001")
	require.NoError(t, err)
	assert.False(t, res.Orphaned)
}

func TestCommitEngine_EnrichUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	product := createProduct(t, f.store, "tenant-a", "classic-tee")
	existing, err := f.variants.Create(ctx, "tenant-a", product.ID, VariantInput{SKU: models.SetValue("TSH-1")})
	require.NoError(t, err)

	job := seedJob(t, f.store, "tenant-a", models.ImportStatusPending, models.ImportModeCreateAndEnrich)
	sheet := parseCSV(t, "product_name,sku,barcode,description\nClassic Tee,TSH-1,4006381333931,Soft cotton\nClassic Tee,TSH-2,,\n")
	require.NoError(t, f.validation.Run(ctx, jobTaskOf(job), sheet))
	require.NoError(t, f.store.Imports.TransitionJob(ctx, job.ID,
		[]models.ImportStatus{models.ImportStatusValidated}, models.ImportStatusCommitting, nil))
	require.NoError(t, f.commit.Run(ctx, jobTaskOf(job)))

	fresh := reloadJob(t, f.store, job)
	assert.Equal(t, models.ImportStatusCompleted, fresh.Status)
	assert.False(t, fresh.HasExportableFailures)
	assert.Equal(t, 1, fresh.Summary.Created)
	assert.Equal(t, 1, fresh.Summary.Updated)

	updated, err := f.store.Products.GetVariant(ctx, "tenant-a", existing.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.Barcode)
	assert.Equal(t, "04006381333931", *updated.Barcode)

	enriched, err := f.store.Products.GetProduct(ctx, "tenant-a", product.ID)
	require.NoError(t, err)
	require.NotNil(t, enriched.Description)
	assert.Equal(t, "Soft cotton", *enriched.Description)
}

func TestCommitEngine_SkipsJobsOutsideCommitting(t *testing.T) {
	f := newEngineFixture(t)
	job := seedJob(t, f.store, "tenant-a", models.ImportStatusValidated, models.ImportModeCreate)
	require.NoError(t, f.commit.Run(context.Background(), jobTaskOf(job)))
	assert.Equal(t, models.ImportStatusValidated, reloadJob(t, f.store, job).Status)
}

func TestImportProcessor_Validate(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	files := new(MockFileStore)
	processor := NewImportProcessor(files, f.validation, f.commit, newTestLogger())

	job := seedJob(t, f.store, "tenant-a", models.ImportStatusPending, models.ImportModeCreate)
	files.On("Open", mock.Anything, job.FilePath).
		Return(io.NopCloser(strings.NewReader("product_name,sku\nTee,A\n")), nil)
	require.NoError(t, processor.Validate(ctx, jobTaskOf(job)))
	assert.Equal(t, models.ImportStatusValidated, reloadJob(t, f.store, job).Status)

	missing := seedJob(t, f.store, "tenant-a", models.ImportStatusPending, models.ImportModeCreate)
	missing.FilePath = "tenant-a/gone/catalog.csv"
	files.On("Open", mock.Anything, missing.FilePath).Return(nil, errors.New("no such key"))
	require.NoError(t, processor.Validate(ctx, jobTaskOf(missing)))

	fresh := reloadJob(t, f.store, missing)
	assert.Equal(t, models.ImportStatusFailed, fresh.Status)
	assert.Contains(t, fresh.Summary.Error, "no such key")
}

func jobTaskOf(job *models.ImportJob) models.ImportTask {
	return models.ImportTask{JobID: job.ID, TenantID: job.TenantID, FilePath: job.FilePath, Mode: job.Mode}
}
