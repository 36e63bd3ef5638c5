package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"
	"catalog-import-service/internal/testutil"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newVariantFixture(t *testing.T) (*VariantService, *repository.Store) {
	t.Helper()
	store := repository.NewStore(testutil.NewDB(t))
	logger := newTestLogger()
	passports := NewPassportService(store, logger)
	return NewVariantService(store, passports, nil, logger, 3), store
}

func createProduct(t *testing.T, store *repository.Store, tenantID, handle string) *models.Product {
	t.Helper()
	product := &models.Product{TenantID: tenantID, Handle: handle, Name: handle, Status: models.ProductStatusDraft}
	require.NoError(t, store.Products.CreateProduct(context.Background(), product))
	return product
}

func barcodeInput(barcode string) VariantInput {
	return VariantInput{Barcode: models.SetValue(barcode)}
}

func TestVariantService_SyncEmptyDeletesAll(t *testing.T) {
	ctx := context.Background()
	svc, store := newVariantFixture(t)
	product := createProduct(t, store, "tenant-a", "shirt")

	created, err := svc.BatchCreate(ctx, "tenant-a", product.ID, []VariantInput{{}, {}, {}})
	require.NoError(t, err)
	require.Equal(t, 3, created.Created)

	result, err := svc.Sync(ctx, "tenant-a", product.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 3, result.Deleted)

	variants, err := svc.ListVariants(ctx, "tenant-a", product.ID)
	require.NoError(t, err)
	assert.Empty(t, variants)

	// passports survive deletion
	for _, v := range created.Variants {
		res, err := svc.passports.Resolve(ctx, "tenant-a", v.UPID)
		require.NoError(t, err)
		assert.True(t, res.Orphaned)
		assert.Nil(t, res.VariantID)
	}
}

func TestVariantService_SyncRejectsEquivalentBarcodesWithinBatch(t *testing.T) {
	ctx := context.Background()
	svc, store := newVariantFixture(t)
	product := createProduct(t, store, "tenant-a", "shirt")

	_, err := svc.Sync(ctx, "tenant-a", product.ID, []VariantInput{
		barcodeInput("1234567890123"),
		barcodeInput("01234567890123"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWithinBatch))
	assert.False(t, errors.Is(err, ErrAlreadyInUse))
	assert.Contains(t, err.Error(), "1234567890123")
	assert.Contains(t, err.Error(), "01234567890123")

	variants, err := store.Products.ListVariants(ctx, "tenant-a", product.ID)
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestVariantService_SyncKeepsOwnBarcode(t *testing.T) {
	ctx := context.Background()
	svc, store := newVariantFixture(t)
	product := createProduct(t, store, "tenant-a", "shirt")

	v, err := svc.Create(ctx, "tenant-a", product.ID, barcodeInput("1234567890123"))
	require.NoError(t, err)
	assert.Equal(t, "01234567890123", *v.Barcode)

	result, err := svc.Sync(ctx, "tenant-a", product.ID, []VariantInput{{
		UPID:    models.SetValue(v.UPID),
		Barcode: models.SetValue("01234567890123"),
		SKU:     models.SetValue("SHIRT-RED"),
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Deleted)

	stored, err := store.Products.GetVariant(ctx, "tenant-a", v.ID)
	require.NoError(t, err)
	assert.Equal(t, "SHIRT-RED", *stored.SKU)

	// passport metadata follows the variant
	passport, err := store.Passports.GetByVariantID(ctx, "tenant-a", v.ID)
	require.NoError(t, err)
	assert.Equal(t, "SHIRT-RED", *passport.SKU)
}

func TestVariantService_SyncCreatesUpdatesAndDeletes(t *testing.T) {
	ctx := context.Background()
	svc, store := newVariantFixture(t)
	product := createProduct(t, store, "tenant-a", "shirt")

	created, err := svc.BatchCreate(ctx, "tenant-a", product.ID, []VariantInput{
		barcodeInput("4006381333931"),
		barcodeInput("12345670"),
	})
	require.NoError(t, err)
	keep, drop := created.Variants[0], created.Variants[1]

	// the dropped variant's barcode moves to a new variant in the same write
	result, err := svc.Sync(ctx, "tenant-a", product.ID, []VariantInput{
		{UPID: models.SetValue(keep.UPID), Barcode: models.SetNull[string]()},
		{UPID: models.SetValue("UNKNOWN-UPID"), Barcode: models.SetValue("12345670")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Deleted)

	variants, err := store.Products.ListVariants(ctx, "tenant-a", product.ID)
	require.NoError(t, err)
	require.Len(t, variants, 2)

	byID := map[uuid.UUID]models.ProductVariant{}
	for _, v := range variants {
		byID[v.ID] = v
	}
	assert.Nil(t, byID[keep.ID].Barcode)
	_, stillThere := byID[drop.ID]
	assert.False(t, stillThere)

	fresh := byID[result.CreatedIDs[0]]
	assert.Equal(t, "00000012345670", *fresh.Barcode)
	assert.NotEqual(t, "UNKNOWN-UPID", fresh.UPID)
	assert.Len(t, fresh.UPID, 13)
}

func TestVariantService_SyncSwapsBarcodes(t *testing.T) {
	ctx := context.Background()
	svc, store := newVariantFixture(t)
	product := createProduct(t, store, "tenant-a", "shirt")

	created, err := svc.BatchCreate(ctx, "tenant-a", product.ID, []VariantInput{
		barcodeInput("4006381333931"),
		barcodeInput("12345670"),
	})
	require.NoError(t, err)
	a, b := created.Variants[0], created.Variants[1]

	_, err = svc.Sync(ctx, "tenant-a", product.ID, []VariantInput{
		{UPID: models.SetValue(a.UPID), Barcode: models.SetValue("12345670")},
		{UPID: models.SetValue(b.UPID), Barcode: models.SetValue("4006381333931")},
	})
	require.NoError(t, err)

	storedA, err := store.Products.GetVariant(ctx, "tenant-a", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "00000012345670", *storedA.Barcode)
}

func TestVariantService_CreateRejectsBarcodeInUse(t *testing.T) {
	ctx := context.Background()
	svc, store := newVariantFixture(t)
	product := createProduct(t, store, "tenant-a", "shirt")
	other := createProduct(t, store, "tenant-b", "shirt")

	_, err := svc.Create(ctx, "tenant-a", product.ID, barcodeInput("1234567890123"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, "tenant-a", product.ID, barcodeInput("1234567890123"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyInUse))
	assert.Contains(t, err.Error(), "already used by another variant")

	// barcodes are scoped to the tenant
	_, err = svc.Create(ctx, "tenant-b", other.ID, barcodeInput("1234567890123"))
	assert.NoError(t, err)
}

func TestVariantService_BatchUpdate(t *testing.T) {
	ctx := context.Background()
	svc, store := newVariantFixture(t)
	product := createProduct(t, store, "tenant-a", "shirt")

	created, err := svc.BatchCreate(ctx, "tenant-a", product.ID, []VariantInput{
		{SKU: models.SetValue("A"), Barcode: models.SetValue("4006381333931")},
		{SKU: models.SetValue("B")},
	})
	require.NoError(t, err)
	a, b := created.Variants[0], created.Variants[1]

	t.Run("taking another variant's barcode", func(t *testing.T) {
		_, err := svc.Update(ctx, "tenant-a", b.ID, barcodeInput("4006381333931"))
		assert.True(t, errors.Is(err, ErrAlreadyInUse))
	})

	t.Run("unset fields are left alone", func(t *testing.T) {
		updated, err := svc.Update(ctx, "tenant-a", a.ID, VariantInput{IsGhost: models.SetValue(true)})
		require.NoError(t, err)
		assert.True(t, updated.IsGhost)
		assert.Equal(t, "A", *updated.SKU)
		assert.Equal(t, "04006381333931", *updated.Barcode)
	})

	t.Run("upid is immutable", func(t *testing.T) {
		_, err := svc.Update(ctx, "tenant-a", a.ID, VariantInput{UPID: models.SetValue("SOMETHING-ELSE")})
		assert.True(t, errors.Is(err, ErrRequest))
	})

	t.Run("unknown variant", func(t *testing.T) {
		_, err := svc.Update(ctx, "tenant-a", uuid.New(), VariantInput{})
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("other tenant cannot see the variant", func(t *testing.T) {
		_, err := svc.Update(ctx, "tenant-b", a.ID, VariantInput{IsGhost: models.SetValue(false)})
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestVariantService_BatchCreateHonorsFreeUPID(t *testing.T) {
	ctx := context.Background()
	svc, store := newVariantFixture(t)
	product := createProduct(t, store, "tenant-a", "shirt")

	v, err := svc.Create(ctx, "tenant-a", product.ID, VariantInput{UPID: models.SetValue("CUSTOM-0001")})
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM-0001", v.UPID)

	_, err = svc.Create(ctx, "tenant-a", product.ID, VariantInput{UPID: models.SetValue("CUSTOM-0001")})
	assert.True(t, errors.Is(err, ErrAlreadyInUse))

	// an orphaned passport still reserves its upid
	require.NoError(t, svc.Delete(ctx, "tenant-a", v.ID))
	_, err = svc.Create(ctx, "tenant-a", product.ID, VariantInput{UPID: models.SetValue("CUSTOM-0001")})
	assert.True(t, errors.Is(err, ErrAlreadyInUse))
}

func TestVariantService_GeneratedUPIDRetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	svc, store := newVariantFixture(t)
	product := createProduct(t, store, "tenant-a", "shirt")

	taken, err := svc.Create(ctx, "tenant-a", product.ID, VariantInput{})
	require.NoError(t, err)

	candidates := []string{taken.UPID, "000000FRESH01"}
	svc.newUPID = func() string {
		next := candidates[0]
		if len(candidates) > 1 {
			candidates = candidates[1:]
		}
		return next
	}

	v, err := svc.Create(ctx, "tenant-a", product.ID, VariantInput{})
	require.NoError(t, err)
	assert.Equal(t, "000000FRESH01", v.UPID)
}

func TestVariantService_CheckBarcode(t *testing.T) {
	ctx := context.Background()
	svc, store := newVariantFixture(t)
	product := createProduct(t, store, "tenant-a", "shirt")

	v, err := svc.Create(ctx, "tenant-a", product.ID, barcodeInput("4006381333931"))
	require.NoError(t, err)

	available, err := svc.CheckBarcode(ctx, "tenant-a", "04006381333931", nil)
	require.NoError(t, err)
	assert.False(t, available)

	available, err = svc.CheckBarcode(ctx, "tenant-a", "4006381333931", &v.ID)
	require.NoError(t, err)
	assert.True(t, available)

	available, err = svc.CheckBarcode(ctx, "tenant-b", "4006381333931", nil)
	require.NoError(t, err)
	assert.True(t, available)

	_, err = svc.CheckBarcode(ctx, "tenant-a", "12345", nil)
	assert.True(t, errors.Is(err, ErrRequest))
}

func TestVariantService_RequiresTenant(t *testing.T) {
	svc, _ := newVariantFixture(t)
	_, err := svc.Sync(context.Background(), "", uuid.New(), nil)
	assert.True(t, errors.Is(err, ErrTenantRequired))
}

func TestVariantService_UnknownProduct(t *testing.T) {
	svc, _ := newVariantFixture(t)
	_, err := svc.Sync(context.Background(), "tenant-a", uuid.New(), nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCheckWithinBatch(t *testing.T) {
	err := checkWithinBatch([]barcodeClaim{
		{raw: "4006381333931", normalized: "04006381333931"},
		{raw: "12345670", normalized: "00000012345670"},
	})
	assert.Nil(t, err)

	err = checkWithinBatch([]barcodeClaim{
		{raw: "1234567890123", normalized: "01234567890123"},
		{raw: "0-1234567890123", normalized: "01234567890123"},
	})
	require.NotNil(t, err)
	assert.Equal(t, []string{"1234567890123", "0-1234567890123"}, err.Values)
}

func TestGenerateUPID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		upid := GenerateUPID()
		assert.Len(t, upid, 13)
		assert.False(t, seen[upid])
		seen[upid] = true
	}
}
