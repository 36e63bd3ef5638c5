package services

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"catalog-import-service/internal/metrics"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/normalizer"
	"catalog-import-service/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultUPIDAttempts = 5

// VariantInput is one desired variant. Unset fields leave stored values
// alone, null clears them. In a sync, a upid matching an existing variant
// makes the entry an edit of that variant.
type VariantInput struct {
	UPID              models.Field[string]   `json:"upid"`
	SKU               models.Field[string]   `json:"sku"`
	Barcode           models.Field[string]   `json:"barcode"`
	AttributeValueIDs models.Field[[]string] `json:"attributeValueIds"`
	IsGhost           models.Field[bool]     `json:"isGhost"`
}

// VariantUpdate targets an existing variant by ID
type VariantUpdate struct {
	ID uuid.UUID `json:"id"`
	VariantInput
}

// SyncResult reports what a variant write did
type SyncResult struct {
	Created    int                     `json:"created"`
	Updated    int                     `json:"updated"`
	Deleted    int                     `json:"deleted"`
	CreatedIDs []uuid.UUID             `json:"createdIds"`
	UpdatedIDs []uuid.UUID             `json:"updatedIds"`
	Variants   []models.ProductVariant `json:"variants,omitempty"`
}

// VariantService reconciles variant sets against the catalog and enforces
// tenant-scoped barcode uniqueness.
type VariantService struct {
	store        *repository.Store
	passports    *PassportService
	cache        VariantCache
	logger       *logrus.Entry
	upidAttempts int
	newUPID      func() string
}

func NewVariantService(store *repository.Store, passports *PassportService, cache VariantCache, logger *logrus.Logger, upidAttempts int) *VariantService {
	if upidAttempts <= 0 {
		upidAttempts = defaultUPIDAttempts
	}
	return &VariantService{
		store:        store,
		passports:    passports,
		cache:        cache,
		logger:       logger.WithField("component", "variants"),
		upidAttempts: upidAttempts,
		newUPID:      GenerateUPID,
	}
}

// GenerateUPID returns a random base36 identifier padded to 13 characters
func GenerateUPID() string {
	id := uuid.New()
	n := binary.BigEndian.Uint64(id[:8])
	return normalizer.PadIdentifier(strings.ToUpper(strconv.FormatUint(n, 36)), normalizer.UPIDLength)
}

// createPlan is one variant to insert
type createPlan struct {
	variant      *models.ProductVariant
	explicitUPID bool
}

// updatePlan is one existing variant to patch
type updatePlan struct {
	before          models.ProductVariant
	after           models.ProductVariant
	updates         map[string]interface{}
	metadataChanged bool
}

// writePlan is the full set of changes applied in one transaction
type writePlan struct {
	tenantID   string
	productIDs []uuid.UUID
	creates    []*createPlan
	updates    []*updatePlan
	deletes    []uuid.UUID
	claims     []barcodeClaim
}

// barcodeClaim is the barcode an entry will hold once the write succeeds
type barcodeClaim struct {
	raw        string
	normalized string
}

// Sync makes the product's variants match desired. Entries whose upid
// matches an existing variant update it, all others are created, and any
// existing variant not named is deleted.
func (s *VariantService) Sync(ctx context.Context, tenantID string, productID uuid.UUID, desired []VariantInput) (result *SyncResult, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveVariantSyncDuration(start)
		metrics.IncreaseVariantOperationMetric("sync", err)
	}()

	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if _, err := s.loadProduct(ctx, tenantID, productID); err != nil {
		return nil, err
	}
	existing, err := s.store.Products.ListVariants(ctx, tenantID, productID)
	if err != nil {
		return nil, internalError(err)
	}

	byUPID := make(map[string]models.ProductVariant, len(existing))
	for _, v := range existing {
		byUPID[v.UPID] = v
	}

	plan := &writePlan{tenantID: tenantID, productIDs: []uuid.UUID{productID}}
	matched := make(map[uuid.UUID]bool)
	for i, entry := range desired {
		upid := ""
		if entry.UPID.Present() {
			upid = normalizer.NormalizeIdentifier(entry.UPID.Value)
		}
		if current, ok := byUPID[upid]; ok && upid != "" {
			if matched[current.ID] {
				return nil, s.conflict(&Error{
					Kind: KindConflict, Code: "DUPLICATE_UPID", Field: "upid",
					Conflict: ConflictWithinBatch, Values: []string{upid},
					Message: fmt.Sprintf("upid %s appears more than once", upid),
				})
			}
			matched[current.ID] = true
			up, claim, perr := planUpdate(current, entry, i)
			if perr != nil {
				return nil, perr
			}
			plan.updates = append(plan.updates, up)
			plan.claims = appendClaim(plan.claims, claim)
			continue
		}

		// unknown or absent upid: a new variant with a generated identifier
		entry.UPID = models.Field[string]{}
		cp, claim, perr := planCreate(tenantID, productID, entry, i)
		if perr != nil {
			return nil, perr
		}
		plan.creates = append(plan.creates, cp)
		plan.claims = appendClaim(plan.claims, claim)
	}
	for _, v := range existing {
		if !matched[v.ID] {
			plan.deletes = append(plan.deletes, v.ID)
		}
	}

	return s.execute(ctx, plan)
}

// BatchCreate adds variants to a product. A supplied upid is kept when it
// is free in both the variant and passport namespaces.
func (s *VariantService) BatchCreate(ctx context.Context, tenantID string, productID uuid.UUID, inputs []VariantInput) (result *SyncResult, err error) {
	defer func() { metrics.IncreaseVariantOperationMetric("batch_create", err) }()

	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if len(inputs) == 0 {
		return nil, requestError("EMPTY_BATCH", "at least one variant is required")
	}
	if _, err := s.loadProduct(ctx, tenantID, productID); err != nil {
		return nil, err
	}

	plan := &writePlan{tenantID: tenantID, productIDs: []uuid.UUID{productID}}
	for i, in := range inputs {
		cp, claim, perr := planCreate(tenantID, productID, in, i)
		if perr != nil {
			return nil, perr
		}
		plan.creates = append(plan.creates, cp)
		plan.claims = appendClaim(plan.claims, claim)
	}
	return s.execute(ctx, plan)
}

// Create adds one variant to a product
func (s *VariantService) Create(ctx context.Context, tenantID string, productID uuid.UUID, input VariantInput) (*models.ProductVariant, error) {
	result, err := s.BatchCreate(ctx, tenantID, productID, []VariantInput{input})
	if err != nil {
		return nil, err
	}
	return &result.Variants[0], nil
}

// BatchUpdate patches existing variants by ID
func (s *VariantService) BatchUpdate(ctx context.Context, tenantID string, updates []VariantUpdate) (result *SyncResult, err error) {
	defer func() { metrics.IncreaseVariantOperationMetric("batch_update", err) }()

	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if len(updates) == 0 {
		return nil, requestError("EMPTY_BATCH", "at least one variant is required")
	}

	ids := make([]uuid.UUID, 0, len(updates))
	seen := make(map[uuid.UUID]bool, len(updates))
	for _, u := range updates {
		if seen[u.ID] {
			return nil, fieldError("DUPLICATE_VARIANT", "id", fmt.Sprintf("variant %s appears more than once", u.ID))
		}
		seen[u.ID] = true
		ids = append(ids, u.ID)
	}

	current, err := s.store.Products.GetVariantsByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, internalError(err)
	}
	byID := make(map[uuid.UUID]models.ProductVariant, len(current))
	for _, v := range current {
		byID[v.ID] = v
	}

	plan := &writePlan{tenantID: tenantID}
	products := make(map[uuid.UUID]bool)
	for i, u := range updates {
		existing, ok := byID[u.ID]
		if !ok {
			return nil, notFoundError("VARIANT_NOT_FOUND", fmt.Sprintf("variant %s not found", u.ID))
		}
		if u.UPID.Present() && normalizer.NormalizeIdentifier(u.UPID.Value) != existing.UPID {
			return nil, fieldError("UPID_IMMUTABLE", "upid", "upid of an existing variant cannot be changed")
		}
		up, claim, perr := planUpdate(existing, u.VariantInput, i)
		if perr != nil {
			return nil, perr
		}
		plan.updates = append(plan.updates, up)
		plan.claims = appendClaim(plan.claims, claim)
		if !products[existing.ProductID] {
			products[existing.ProductID] = true
			plan.productIDs = append(plan.productIDs, existing.ProductID)
		}
	}
	return s.execute(ctx, plan)
}

// Update patches one variant
func (s *VariantService) Update(ctx context.Context, tenantID string, variantID uuid.UUID, input VariantInput) (*models.ProductVariant, error) {
	result, err := s.BatchUpdate(ctx, tenantID, []VariantUpdate{{ID: variantID, VariantInput: input}})
	if err != nil {
		return nil, err
	}
	return &result.Variants[0], nil
}

// BatchDelete removes variants by ID, orphaning their passports
func (s *VariantService) BatchDelete(ctx context.Context, tenantID string, ids []uuid.UUID) (result *SyncResult, err error) {
	defer func() { metrics.IncreaseVariantOperationMetric("batch_delete", err) }()

	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if len(ids) == 0 {
		return nil, requestError("EMPTY_BATCH", "at least one variant id is required")
	}
	current, err := s.store.Products.GetVariantsByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, internalError(err)
	}
	found := make(map[uuid.UUID]models.ProductVariant, len(current))
	for _, v := range current {
		found[v.ID] = v
	}

	plan := &writePlan{tenantID: tenantID}
	products := make(map[uuid.UUID]bool)
	for _, id := range ids {
		v, ok := found[id]
		if !ok {
			return nil, notFoundError("VARIANT_NOT_FOUND", fmt.Sprintf("variant %s not found", id))
		}
		if !products[v.ProductID] {
			products[v.ProductID] = true
			plan.productIDs = append(plan.productIDs, v.ProductID)
		}
		plan.deletes = append(plan.deletes, id)
	}
	return s.execute(ctx, plan)
}

// Delete removes one variant, orphaning its passport
func (s *VariantService) Delete(ctx context.Context, tenantID string, variantID uuid.UUID) error {
	_, err := s.BatchDelete(ctx, tenantID, []uuid.UUID{variantID})
	return err
}

// GetVariant returns one variant of the tenant
func (s *VariantService) GetVariant(ctx context.Context, tenantID string, variantID uuid.UUID) (*models.ProductVariant, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	variant, err := s.store.Products.GetVariant(ctx, tenantID, variantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("VARIANT_NOT_FOUND", fmt.Sprintf("variant %s not found", variantID))
	}
	if err != nil {
		return nil, internalError(err)
	}
	return variant, nil
}

// CheckBarcode reports whether barcode is free in the tenant catalog
func (s *VariantService) CheckBarcode(ctx context.Context, tenantID, barcode string, excludeVariantID *uuid.UUID) (bool, error) {
	if tenantID == "" {
		return false, ErrTenantRequired
	}
	normalized, err := normalizer.NormalizeBarcode(barcode)
	if err != nil {
		return false, fieldError("INVALID_BARCODE", "barcode", err.Error())
	}
	if normalized == "" {
		return true, nil
	}
	var exclude []uuid.UUID
	if excludeVariantID != nil {
		exclude = []uuid.UUID{*excludeVariantID}
	}
	holders, err := s.store.Products.FindBarcodeHolders(ctx, tenantID, []string{normalized}, exclude)
	if err != nil {
		return false, internalError(err)
	}
	return len(holders) == 0, nil
}

// ListVariants returns a product's variants, served from cache when warm
func (s *VariantService) ListVariants(ctx context.Context, tenantID string, productID uuid.UUID) ([]models.ProductVariant, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if s.cache != nil {
		if variants, ok := s.cache.GetVariants(ctx, tenantID, productID); ok {
			return variants, nil
		}
	}
	if _, err := s.loadProduct(ctx, tenantID, productID); err != nil {
		return nil, err
	}
	variants, err := s.store.Products.ListVariants(ctx, tenantID, productID)
	if err != nil {
		return nil, internalError(err)
	}
	if s.cache != nil {
		s.cache.SetVariants(ctx, tenantID, productID, variants)
	}
	return variants, nil
}

func (s *VariantService) loadProduct(ctx context.Context, tenantID string, productID uuid.UUID) (*models.Product, error) {
	product, err := s.store.Products.GetProduct(ctx, tenantID, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("PRODUCT_NOT_FOUND", "product not found")
		}
		return nil, internalError(err)
	}
	return product, nil
}

// execute validates uniqueness, writes the plan in one transaction and
// runs the passport and cache side effects after commit.
func (s *VariantService) execute(ctx context.Context, plan *writePlan) (*SyncResult, error) {
	if err := checkWithinBatch(plan.claims); err != nil {
		return nil, s.conflict(err)
	}
	if err := s.checkCatalog(ctx, plan); err != nil {
		return nil, err
	}
	if err := s.checkExplicitUPIDs(ctx, plan); err != nil {
		return nil, err
	}
	if err := s.assignUPIDs(ctx, plan); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
			return s.apply(ctx, tx, plan)
		})
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("VARIANT_NOT_FOUND", "variant was removed by another request")
		}
		if !repository.IsUniqueViolation(err) {
			return nil, internalError(err)
		}

		// lost a race against a concurrent writer; the constraint is authoritative
		s.logger.WithError(err).WithFields(logrus.Fields{
			"tenantId": plan.tenantID,
			"attempt":  attempt,
		}).Warn("Unique constraint hit while applying variants")
		if cerr := s.checkCatalog(ctx, plan); cerr != nil {
			return nil, cerr
		}
		if uerr := s.checkExplicitUPIDs(ctx, plan); uerr != nil {
			return nil, uerr
		}
		if attempt >= s.upidAttempts || !hasGeneratedUPIDs(plan) {
			return nil, s.conflict(alreadyInUseError(nil))
		}
		if err := s.assignUPIDs(ctx, plan); err != nil {
			return nil, err
		}
	}

	result := &SyncResult{
		Created:    len(plan.creates),
		Updated:    len(plan.updates),
		Deleted:    len(plan.deletes),
		CreatedIDs: make([]uuid.UUID, 0, len(plan.creates)),
		UpdatedIDs: make([]uuid.UUID, 0, len(plan.updates)),
		Variants:   make([]models.ProductVariant, 0, len(plan.creates)+len(plan.updates)),
	}
	created := make([]models.ProductVariant, 0, len(plan.creates))
	for _, c := range plan.creates {
		result.CreatedIDs = append(result.CreatedIDs, c.variant.ID)
		created = append(created, *c.variant)
	}
	changed := make([]models.ProductVariant, 0)
	for _, u := range plan.updates {
		result.UpdatedIDs = append(result.UpdatedIDs, u.after.ID)
		if u.metadataChanged {
			changed = append(changed, u.after)
		}
	}
	result.Variants = append(result.Variants, created...)
	for _, u := range plan.updates {
		result.Variants = append(result.Variants, u.after)
	}

	s.afterWrite(ctx, plan, created, changed)
	return result, nil
}

// apply runs inside the transaction. Passports are orphaned before their
// variants are deleted, and deletes run first so freed barcodes can be reused.
func (s *VariantService) apply(ctx context.Context, tx *repository.Store, plan *writePlan) error {
	if len(plan.deletes) > 0 {
		if err := s.passports.OrphanForDeletion(ctx, tx, plan.tenantID, plan.deletes); err != nil {
			return err
		}
		if _, err := tx.Products.DeleteVariants(ctx, plan.tenantID, plan.deletes); err != nil {
			return err
		}
	}
	// release moved barcodes first so swaps inside one write do not collide
	for _, u := range plan.updates {
		if _, ok := u.updates["barcode"]; !ok || sameString(u.before.Barcode, u.after.Barcode) || u.before.Barcode == nil {
			continue
		}
		if err := tx.Products.UpdateVariantFields(ctx, plan.tenantID, u.before.ID, map[string]interface{}{"barcode": nil}); err != nil {
			return err
		}
	}
	for _, u := range plan.updates {
		if err := tx.Products.UpdateVariantFields(ctx, plan.tenantID, u.before.ID, copyUpdates(u.updates)); err != nil {
			return err
		}
	}
	if len(plan.creates) > 0 {
		variants := make([]*models.ProductVariant, 0, len(plan.creates))
		for _, c := range plan.creates {
			variants = append(variants, c.variant)
		}
		if err := tx.Products.CreateVariants(ctx, variants); err != nil {
			return err
		}
	}
	return nil
}

// afterWrite is best effort: failures are logged and never reach the caller
func (s *VariantService) afterWrite(ctx context.Context, plan *writePlan, created, changed []models.ProductVariant) {
	if err := s.passports.CreateForVariants(ctx, plan.tenantID, created); err != nil {
		s.logger.WithError(err).WithField("tenantId", plan.tenantID).Warn("Failed to create passports for new variants")
	}
	if len(changed) > 0 {
		if err := s.passports.SyncMetadata(ctx, plan.tenantID, changed); err != nil {
			s.logger.WithError(err).WithField("tenantId", plan.tenantID).Warn("Failed to sync passport metadata for updated variants")
		}
	}
	s.invalidateProducts(plan.tenantID, plan.productIDs)
}

// invalidateProducts drops cached listings without blocking the request
func (s *VariantService) invalidateProducts(tenantID string, productIDs []uuid.UUID) {
	if s.cache == nil || len(productIDs) == 0 {
		return
	}
	ids := append([]uuid.UUID(nil), productIDs...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, id := range ids {
			if err := s.cache.InvalidateProduct(ctx, tenantID, id); err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"tenantId":  tenantID,
					"productId": id,
				}).Warn("Failed to invalidate product cache")
			}
		}
	}()
}

// checkCatalog rejects barcodes held by a variant outside this operation.
// Variants updated or deleted by the plan are excluded.
func (s *VariantService) checkCatalog(ctx context.Context, plan *writePlan) error {
	barcodes := distinctBarcodes(plan.claims)
	if len(barcodes) == 0 {
		return nil
	}
	exclude := make([]uuid.UUID, 0, len(plan.updates)+len(plan.deletes))
	for _, u := range plan.updates {
		exclude = append(exclude, u.before.ID)
	}
	exclude = append(exclude, plan.deletes...)

	holders, err := s.store.Products.FindBarcodeHolders(ctx, plan.tenantID, barcodes, exclude)
	if err != nil {
		return internalError(err)
	}
	if len(holders) == 0 {
		return nil
	}
	taken := make([]string, 0, len(holders))
	seen := make(map[string]bool)
	for _, h := range holders {
		if h.Barcode != nil && !seen[*h.Barcode] {
			seen[*h.Barcode] = true
			taken = append(taken, *h.Barcode)
		}
	}
	sort.Strings(taken)
	return s.conflict(alreadyInUseError(taken))
}

// checkExplicitUPIDs rejects caller supplied upids that repeat or are taken
func (s *VariantService) checkExplicitUPIDs(ctx context.Context, plan *writePlan) error {
	explicit := make([]string, 0)
	seen := make(map[string]bool)
	for _, c := range plan.creates {
		if !c.explicitUPID {
			continue
		}
		if seen[c.variant.UPID] {
			return s.conflict(&Error{
				Kind: KindConflict, Code: "DUPLICATE_UPID", Field: "upid",
				Conflict: ConflictWithinBatch, Values: []string{c.variant.UPID},
				Message: fmt.Sprintf("upid %s appears more than once", c.variant.UPID),
			})
		}
		seen[c.variant.UPID] = true
		explicit = append(explicit, c.variant.UPID)
	}
	if len(explicit) == 0 {
		return nil
	}
	used, err := s.store.Products.UPIDsInUse(ctx, explicit)
	if err != nil {
		return internalError(err)
	}
	if len(used) > 0 {
		sort.Strings(used)
		return s.conflict(&Error{
			Kind: KindConflict, Code: "UPID_IN_USE", Field: "upid",
			Conflict: ConflictAlreadyInUse, Values: used,
			Message: fmt.Sprintf("upid %s already in use", strings.Join(used, ", ")),
		})
	}
	return nil
}

// assignUPIDs generates identifiers for creates without an explicit upid and
// re-checks them against both namespaces until every candidate is free.
func (s *VariantService) assignUPIDs(ctx context.Context, plan *writePlan) error {
	pending := make([]*createPlan, 0, len(plan.creates))
	for _, c := range plan.creates {
		if !c.explicitUPID {
			pending = append(pending, c)
		}
	}
	reserved := make(map[string]bool)
	for _, c := range plan.creates {
		if c.explicitUPID {
			reserved[c.variant.UPID] = true
		}
	}

	for attempt := 0; len(pending) > 0; attempt++ {
		if attempt >= s.upidAttempts {
			return internalError(fmt.Errorf("could not generate %d unique upids after %d attempts", len(pending), attempt))
		}
		candidates := make([]string, 0, len(pending))
		for _, c := range pending {
			upid := s.newUPID()
			for reserved[upid] {
				upid = s.newUPID()
			}
			reserved[upid] = true
			c.variant.UPID = upid
			candidates = append(candidates, upid)
		}
		used, err := s.store.Products.UPIDsInUse(ctx, candidates)
		if err != nil {
			return internalError(err)
		}
		if len(used) == 0 {
			return nil
		}
		taken := make(map[string]bool, len(used))
		for _, u := range used {
			taken[u] = true
		}
		retry := pending[:0]
		for _, c := range pending {
			if taken[c.variant.UPID] {
				retry = append(retry, c)
			}
		}
		pending = retry
	}
	return nil
}

func (s *VariantService) conflict(err *Error) *Error {
	reason := "within_batch"
	if err.Conflict == ConflictAlreadyInUse {
		reason = "already_in_use"
	}
	metrics.IncreaseBarcodeConflictMetric(reason)
	return err
}

func planCreate(tenantID string, productID uuid.UUID, in VariantInput, index int) (*createPlan, *barcodeClaim, *Error) {
	sku, err := normalizeSKU(in.SKU, nil, index)
	if err != nil {
		return nil, nil, err
	}
	barcode, claim, err := normalizeBarcodeField(in.Barcode, nil, index)
	if err != nil {
		return nil, nil, err
	}

	variant := &models.ProductVariant{
		TenantID:          tenantID,
		ProductID:         productID,
		SKU:               sku,
		Barcode:           barcode,
		AttributeValueIDs: models.StringArray{},
	}
	if in.AttributeValueIDs.Present() {
		variant.AttributeValueIDs = models.StringArray(in.AttributeValueIDs.Value)
	}
	if in.IsGhost.Present() {
		variant.IsGhost = in.IsGhost.Value
	}

	cp := &createPlan{variant: variant}
	if in.UPID.Present() {
		upid := normalizer.NormalizeIdentifier(in.UPID.Value)
		if len(upid) > normalizer.MaxIdentifierLength {
			return nil, nil, fieldError("INVALID_UPID", "upid", fmt.Sprintf("variant %d: upid must be at most %d characters", index+1, normalizer.MaxIdentifierLength))
		}
		if upid != "" {
			variant.UPID = upid
			cp.explicitUPID = true
		}
	}
	return cp, claim, nil
}

func planUpdate(existing models.ProductVariant, in VariantInput, index int) (*updatePlan, *barcodeClaim, *Error) {
	after := existing
	updates := make(map[string]interface{})

	if in.SKU.Set {
		sku, err := normalizeSKU(in.SKU, existing.SKU, index)
		if err != nil {
			return nil, nil, err
		}
		after.SKU = sku
		updates["sku"] = sku
	}

	barcode, claim, err := normalizeBarcodeField(in.Barcode, existing.Barcode, index)
	if err != nil {
		return nil, nil, err
	}
	if in.Barcode.Set {
		after.Barcode = barcode
		updates["barcode"] = barcode
	}

	if in.AttributeValueIDs.Set {
		attrs := models.StringArray{}
		if in.AttributeValueIDs.Present() {
			attrs = models.StringArray(in.AttributeValueIDs.Value)
		}
		after.AttributeValueIDs = attrs
		updates["attribute_value_ids"] = attrs
	}
	if in.IsGhost.Set {
		after.IsGhost = in.IsGhost.Present() && in.IsGhost.Value
		updates["is_ghost"] = after.IsGhost
	}

	return &updatePlan{
		before:          existing,
		after:           after,
		updates:         updates,
		metadataChanged: !sameString(existing.SKU, after.SKU) || !sameString(existing.Barcode, after.Barcode),
	}, claim, nil
}

// normalizeBarcodeField resolves the barcode an entry will hold. Unset keeps
// current, null or blank clears it.
func normalizeBarcodeField(f models.Field[string], current *string, index int) (*string, *barcodeClaim, *Error) {
	if !f.Set {
		if current == nil {
			return nil, nil, nil
		}
		return current, &barcodeClaim{raw: *current, normalized: *current}, nil
	}
	if f.Null {
		return nil, nil, nil
	}
	normalized, err := normalizer.NormalizeBarcode(f.Value)
	if err != nil {
		return nil, nil, fieldError("INVALID_BARCODE", "barcode", fmt.Sprintf("variant %d: %s", index+1, err.Error()))
	}
	if normalized == "" {
		return nil, nil, nil
	}
	return &normalized, &barcodeClaim{raw: f.Value, normalized: normalized}, nil
}

func normalizeSKU(f models.Field[string], current *string, index int) (*string, *Error) {
	if !f.Set {
		return current, nil
	}
	if f.Null {
		return nil, nil
	}
	sku := normalizer.NormalizeIdentifier(f.Value)
	if sku == "" {
		return nil, nil
	}
	if len(sku) > normalizer.MaxIdentifierLength {
		return nil, fieldError("INVALID_SKU", "sku", fmt.Sprintf("variant %d: sku must be at most %d characters", index+1, normalizer.MaxIdentifierLength))
	}
	return &sku, nil
}

// checkWithinBatch rejects the write when two entries normalize to the same
// barcode, naming the values as they were supplied.
func checkWithinBatch(claims []barcodeClaim) *Error {
	groups := make(map[string][]string)
	order := make([]string, 0)
	for _, c := range claims {
		if _, ok := groups[c.normalized]; !ok {
			order = append(order, c.normalized)
		}
		groups[c.normalized] = append(groups[c.normalized], c.raw)
	}
	var collided []string
	for _, key := range order {
		if raws := groups[key]; len(raws) > 1 {
			collided = append(collided, raws...)
		}
	}
	if len(collided) == 0 {
		return nil
	}
	return withinBatchError(collided)
}

func appendClaim(claims []barcodeClaim, claim *barcodeClaim) []barcodeClaim {
	if claim == nil {
		return claims
	}
	return append(claims, *claim)
}

func distinctBarcodes(claims []barcodeClaim) []string {
	seen := make(map[string]bool, len(claims))
	out := make([]string, 0, len(claims))
	for _, c := range claims {
		if !seen[c.normalized] {
			seen[c.normalized] = true
			out = append(out, c.normalized)
		}
	}
	return out
}

func hasGeneratedUPIDs(plan *writePlan) bool {
	for _, c := range plan.creates {
		if !c.explicitUPID {
			return true
		}
	}
	return false
}

func copyUpdates(updates map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		out[k] = v
	}
	return out
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
