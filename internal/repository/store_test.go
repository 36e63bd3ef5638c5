package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProduct(t *testing.T, store *Store, tenantID, handle string) *models.Product {
	t.Helper()
	product := &models.Product{TenantID: tenantID, Handle: handle, Name: handle, Status: models.ProductStatusDraft}
	require.NoError(t, store.Products.CreateProduct(context.Background(), product))
	return product
}

func seedVariant(t *testing.T, store *Store, product *models.Product, upid string, barcode *string) *models.ProductVariant {
	t.Helper()
	variant := &models.ProductVariant{TenantID: product.TenantID, ProductID: product.ID, UPID: upid, Barcode: barcode}
	require.NoError(t, store.Products.CreateVariants(context.Background(), []*models.ProductVariant{variant}))
	return variant
}

func TestProductsRepository_BarcodeUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.NewDB(t))

	a := seedProduct(t, store, "tenant-a", "shirt")
	b := seedProduct(t, store, "tenant-b", "shirt")
	seedVariant(t, store, a, "UPID-A1", testutil.Ptr("01234567890123"))

	// same value in another tenant is allowed
	seedVariant(t, store, b, "UPID-B1", testutil.Ptr("01234567890123"))

	// within the tenant the storage constraint rejects it
	dup := &models.ProductVariant{TenantID: "tenant-a", ProductID: a.ID, UPID: "UPID-A2", Barcode: testutil.Ptr("01234567890123")}
	err := store.Products.CreateVariants(ctx, []*models.ProductVariant{dup})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	// many variants without a barcode are fine
	seedVariant(t, store, a, "UPID-A3", nil)
	seedVariant(t, store, a, "UPID-A4", nil)
}

func TestProductsRepository_FindBarcodeHolders(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.NewDB(t))

	p := seedProduct(t, store, "tenant-a", "shirt")
	v1 := seedVariant(t, store, p, "UPID-1", testutil.Ptr("00000012345670"))
	seedVariant(t, store, p, "UPID-2", testutil.Ptr("04006381333931"))

	holders, err := store.Products.FindBarcodeHolders(ctx, "tenant-a", []string{"00000012345670", "04006381333931"}, nil)
	require.NoError(t, err)
	assert.Len(t, holders, 2)

	holders, err = store.Products.FindBarcodeHolders(ctx, "tenant-a", []string{"00000012345670"}, []uuid.UUID{v1.ID})
	require.NoError(t, err)
	assert.Empty(t, holders)

	holders, err = store.Products.FindBarcodeHolders(ctx, "tenant-b", []string{"00000012345670"}, nil)
	require.NoError(t, err)
	assert.Empty(t, holders)

	holders, err = store.Products.FindBarcodeHolders(ctx, "tenant-a", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, holders)
}

func TestProductsRepository_UPIDsInUseSpansPassports(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.NewDB(t))

	p := seedProduct(t, store, "tenant-a", "shirt")
	seedVariant(t, store, p, "UPID-LIVE", nil)
	_, err := store.Passports.CreatePassports(ctx, []*models.ProductPassport{
		{TenantID: "tenant-a", UPID: "UPID-ORPHAN"},
	})
	require.NoError(t, err)

	used, err := store.Products.UPIDsInUse(ctx, []string{"UPID-LIVE", "UPID-ORPHAN", "UPID-FREE"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"UPID-LIVE", "UPID-ORPHAN"}, used)
}

func TestPassportsRepository_OrphanKeepsRow(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.NewDB(t))

	p := seedProduct(t, store, "tenant-a", "shirt")
	v := seedVariant(t, store, p, "UPID-1", nil)

	passports := []*models.ProductPassport{{TenantID: "tenant-a", VariantID: &v.ID, UPID: v.UPID}}
	n, err := store.Passports.CreatePassports(ctx, passports)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// second insert for the same variant is skipped
	n, err = store.Passports.CreatePassports(ctx, []*models.ProductPassport{{TenantID: "tenant-a", VariantID: &v.ID, UPID: v.UPID}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	orphaned, err := store.Passports.OrphanByVariantIDs(ctx, "tenant-a", []uuid.UUID{v.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), orphaned)

	deleted, err := store.Products.DeleteVariants(ctx, "tenant-a", []uuid.UUID{v.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	passport, err := store.Passports.GetByUPID(ctx, "tenant-a", "UPID-1")
	require.NoError(t, err)
	assert.True(t, passport.Orphaned())
	assert.NotNil(t, passport.OrphanedAt)
}

func TestImportsRepository_TransitionJob(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.NewDB(t))

	job := &models.ImportJob{TenantID: "tenant-a", Filename: "a.csv", FilePath: "tenant-a/x/a.csv", Mode: models.ImportModeCreate, Status: models.ImportStatusValidated}
	require.NoError(t, store.Imports.CreateJob(ctx, job))

	err := store.Imports.TransitionJob(ctx, job.ID, []models.ImportStatus{models.ImportStatusValidated}, models.ImportStatusCommitting, nil)
	require.NoError(t, err)

	err = store.Imports.TransitionJob(ctx, job.ID, []models.ImportStatus{models.ImportStatusValidated}, models.ImportStatusCommitting, nil)
	assert.True(t, errors.Is(err, ErrStateConflict))

	reloaded, err := store.Imports.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCommitting, reloaded.Status)

	_, err = store.Imports.GetJob(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestImportsRepository_ListRecentJobsSkipsDismissed(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.NewDB(t))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		job := &models.ImportJob{
			TenantID:  "tenant-a",
			Filename:  "f.csv",
			FilePath:  "tenant-a/x/f.csv",
			Mode:      models.ImportModeCreate,
			Status:    models.ImportStatusFailed,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		job.Summary.Dismissed = i == 3
		require.NoError(t, store.Imports.CreateJob(ctx, job))
	}
	other := &models.ImportJob{TenantID: "tenant-b", Filename: "f.csv", FilePath: "tenant-b/x/f.csv", Mode: models.ImportModeCreate, Status: models.ImportStatusPending}
	require.NoError(t, store.Imports.CreateJob(ctx, other))

	jobs, err := store.Imports.ListRecentJobs(ctx, "tenant-a", 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.False(t, j.Summary.Dismissed)
		assert.Equal(t, "tenant-a", j.TenantID)
	}
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))
}

func TestImportsRepository_Rows(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.NewDB(t))
	jobID := uuid.New()

	rows := []*models.ImportRow{
		{JobID: jobID, RowNumber: 3, Status: models.RowStatusFailed, Raw: models.RowValues{"sku": "c"}},
		{JobID: jobID, RowNumber: 2, Status: models.RowStatusPending, Raw: models.RowValues{"sku": "b"}},
		{JobID: jobID, RowNumber: 4, Status: models.RowStatusPending, Raw: models.RowValues{"sku": "d"}},
	}
	require.NoError(t, store.Imports.CreateRows(ctx, rows))

	page, err := store.Imports.ListRowsAfter(ctx, jobID, 0, 10, models.RowStatusPending)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 2, page[0].RowNumber)
	assert.Equal(t, 4, page[1].RowNumber)
	assert.Equal(t, "b", page[0].Raw["sku"])

	page[0].Status = models.RowStatusFailed
	page[0].Errors = models.RowErrors{{Field: "sku", Code: models.RowErrorAlreadyInUse, Message: "taken"}}
	require.NoError(t, store.Imports.UpdateRow(ctx, &page[0]))

	failed, err := store.Imports.CountRows(ctx, jobID, models.RowStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), failed)

	deleted, err := store.Imports.DeleteRows(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}
