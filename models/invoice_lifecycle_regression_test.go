package models_test

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/models"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
)

// Party sale lifecycle: reserve on create, consume per challan, finish when
// the last pending quantity ships. Covers challan replay on the way.
func TestPartySaleInvoice_PartialThenFullDelivery(t *testing.T) {
	ctx := setupIntegration(t)

	part := mustCreatePart(t, ctx, "P-100", dec("1500"))
	mustReceiveStock(t, ctx, part.ID, "MAIN", dec("10"))

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerType: string(models.CustomerTypeWalking),
		CustomerName: "U Ba",
		LocationCode: "MAIN",
		Items: []models.NewInvoiceItem{
			{PartId: part.ID, Qty: dec("10"), PriceTier: "A"},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if invoice.Status != models.InvoiceStatusPending {
		t.Fatalf("status = %q, want %q", invoice.Status, models.InvoiceStatusPending)
	}
	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), "10", "10")
	assertItemInvariant(t, invoice)

	itemId := invoice.Items[0].ID
	invoice, err = models.RecordDelivery(ctx, invoice.ID, &models.NewDelivery{
		ChallanNo: "CH-001",
		Entries:   []models.NewDeliveryEntry{{InvoiceItemId: itemId, Qty: dec("4")}},
	}, -1)
	if err != nil {
		t.Fatalf("RecordDelivery(4): %v", err)
	}
	if invoice.Status != models.InvoiceStatusPartiallyDelivered {
		t.Fatalf("status = %q, want %q", invoice.Status, models.InvoiceStatusPartiallyDelivered)
	}
	if !invoice.Items[0].DeliveredQty.Equal(dec("4")) || !invoice.Items[0].PendingQty.Equal(dec("6")) {
		t.Fatalf("after partial delivery: delivered=%s pending=%s",
			invoice.Items[0].DeliveredQty, invoice.Items[0].PendingQty)
	}
	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), "6", "6")
	assertItemInvariant(t, invoice)

	// Replay of the same challan with the same payload acknowledges without
	// touching the ledger again.
	replayed, err := models.RecordDelivery(ctx, invoice.ID, &models.NewDelivery{
		ChallanNo: "CH-001",
		Entries:   []models.NewDeliveryEntry{{InvoiceItemId: itemId, Qty: dec("4")}},
	}, -1)
	if err != nil {
		t.Fatalf("replay of CH-001: %v", err)
	}
	if !replayed.Items[0].DeliveredQty.Equal(dec("4")) {
		t.Fatalf("replay mutated delivered qty: %s", replayed.Items[0].DeliveredQty)
	}
	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), "6", "6")
	if len(replayed.DeliveryLog) != 1 {
		t.Fatalf("replay appended a delivery log entry: %d entries", len(replayed.DeliveryLog))
	}

	// Same challan number with a different payload must be rejected.
	_, err = models.RecordDelivery(ctx, invoice.ID, &models.NewDelivery{
		ChallanNo: "CH-001",
		Entries:   []models.NewDeliveryEntry{{InvoiceItemId: itemId, Qty: dec("5")}},
	}, -1)
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for conflicting replay, got %v", err)
	}

	invoice, err = models.RecordDelivery(ctx, invoice.ID, &models.NewDelivery{
		ChallanNo: "CH-002",
		Entries:   []models.NewDeliveryEntry{{InvoiceItemId: itemId, Qty: dec("6")}},
	}, -1)
	if err != nil {
		t.Fatalf("RecordDelivery(6): %v", err)
	}
	if invoice.Status != models.InvoiceStatusFullyDelivered {
		t.Fatalf("status = %q, want %q", invoice.Status, models.InvoiceStatusFullyDelivered)
	}
	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), "0", "0")
	assertItemInvariant(t, invoice)
	if len(invoice.DeliveryLog) != 2 {
		t.Fatalf("delivery log entries = %d, want 2", len(invoice.DeliveryLog))
	}

	// Fully delivered invoices cannot be cancelled.
	_, err = models.CancelInvoice(ctx, invoice.ID, -1)
	var transitionErr *models.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError cancelling delivered invoice, got %v", err)
	}
}

// Cash sale lifecycle: pending approval on create, one-shot consumption on
// approval, no delivery log entry.
func TestCashSaleInvoice_Approval(t *testing.T) {
	ctx := setupIntegration(t)

	part := mustCreatePart(t, ctx, "P-200", dec("800"))
	mustReceiveStock(t, ctx, part.ID, "MAIN", dec("5"))

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerType: string(models.CustomerTypeRegistered),
		CustomerName: "Daw Mya",
		LocationCode: "MAIN",
		Items: []models.NewInvoiceItem{
			{PartId: part.ID, Qty: dec("5"), PriceTier: "B"},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if invoice.Status != models.InvoiceStatusPendingApproval {
		t.Fatalf("status = %q, want %q", invoice.Status, models.InvoiceStatusPendingApproval)
	}
	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), "5", "5")

	// Deliveries are not accepted while approval is pending.
	_, err = models.RecordDelivery(ctx, invoice.ID, &models.NewDelivery{
		ChallanNo: "CH-001",
		Entries:   []models.NewDeliveryEntry{{InvoiceItemId: invoice.Items[0].ID, Qty: dec("1")}},
	}, -1)
	var transitionErr *models.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError for delivery before approval, got %v", err)
	}

	invoice, err = models.ApproveInvoice(ctx, invoice.ID, "manager", -1)
	if err != nil {
		t.Fatalf("ApproveInvoice: %v", err)
	}
	if invoice.Status != models.InvoiceStatusFullyDelivered {
		t.Fatalf("status = %q, want %q", invoice.Status, models.InvoiceStatusFullyDelivered)
	}
	if invoice.ApprovedBy == nil || *invoice.ApprovedBy != "manager" || invoice.ApprovedAt == nil {
		t.Fatalf("approver identity not recorded: %+v", invoice)
	}
	if len(invoice.DeliveryLog) != 0 {
		t.Fatalf("approval must not write delivery log entries, got %d", len(invoice.DeliveryLog))
	}
	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), "0", "0")
	assertItemInvariant(t, invoice)

	// Approval is one shot.
	_, err = models.ApproveInvoice(ctx, invoice.ID, "manager", -1)
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError on second approval, got %v", err)
	}
}

// A multi-line invoice with one unsatisfiable line must leave no trace: no
// invoice row, no reservation, no movement.
func TestCreateInvoice_InsufficientStockIsAllOrNothing(t *testing.T) {
	ctx := setupIntegration(t)

	partA := mustCreatePart(t, ctx, "P-300", dec("100"))
	partB := mustCreatePart(t, ctx, "P-301", dec("100"))
	mustReceiveStock(t, ctx, partA.ID, "MAIN", dec("10"))
	mustReceiveStock(t, ctx, partB.ID, "MAIN", dec("3"))

	_, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerType: string(models.CustomerTypeWalking),
		LocationCode: "MAIN",
		Items: []models.NewInvoiceItem{
			{PartId: partA.ID, Qty: dec("10"), PriceTier: "A"},
			{PartId: partB.ID, Qty: dec("5"), PriceTier: "A"},
		},
	})
	var stockErr *models.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.PartNo != "P-301" {
		t.Fatalf("failing part = %q, want P-301", stockErr.PartNo)
	}

	assertBucket(t, fetchBucket(t, ctx, partA.ID, "MAIN"), "10", "0")
	assertBucket(t, fetchBucket(t, ctx, partB.ID, "MAIN"), "3", "0")

	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	var invoiceCount int64
	if err := config.GetDB().Model(&models.Invoice{}).Where("business_id = ?", businessId).Count(&invoiceCount).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if invoiceCount != 0 {
		t.Fatalf("invoice rows = %d, want 0 after failed creation", invoiceCount)
	}
	var movementCount int64
	if err := config.GetDB().Model(&models.StockMovement{}).
		Where("business_id = ? AND movement_type <> ?", businessId, models.StockMovementTypeIn).
		Count(&movementCount).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if movementCount != 0 {
		t.Fatalf("movement rows = %d, want 0 after failed creation", movementCount)
	}
}

// Create then cancel returns the bucket to its pre-creation state, and only
// then is deletion allowed.
func TestCancelInvoice_RoundTripAndDelete(t *testing.T) {
	ctx := setupIntegration(t)

	part := mustCreatePart(t, ctx, "P-400", dec("250"))
	mustReceiveStock(t, ctx, part.ID, "MAIN", dec("8"))
	before := fetchBucket(t, ctx, part.ID, "MAIN")

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerType: string(models.CustomerTypeWalking),
		LocationCode: "MAIN",
		Items: []models.NewInvoiceItem{
			{PartId: part.ID, Qty: dec("8"), PriceTier: "M"},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	// Deletion requires cancellation first.
	if err := models.DeleteInvoice(ctx, invoice.ID); err == nil {
		t.Fatal("expected error deleting a pending invoice")
	}

	invoice, err = models.CancelInvoice(ctx, invoice.ID, -1)
	if err != nil {
		t.Fatalf("CancelInvoice: %v", err)
	}
	if invoice.Status != models.InvoiceStatusCancelled {
		t.Fatalf("status = %q, want %q", invoice.Status, models.InvoiceStatusCancelled)
	}
	assertItemInvariant(t, invoice)

	after := fetchBucket(t, ctx, part.ID, "MAIN")
	if !after.OnHand.Equal(before.OnHand) || !after.Reserved.Equal(before.Reserved) {
		t.Fatalf("bucket not restored: before on_hand=%s reserved=%s, after on_hand=%s reserved=%s",
			before.OnHand, before.Reserved, after.OnHand, after.Reserved)
	}

	// Cancelled is terminal.
	_, err = models.CancelInvoice(ctx, invoice.ID, -1)
	var transitionErr *models.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError cancelling twice, got %v", err)
	}

	if err := models.DeleteInvoice(ctx, invoice.ID); err != nil {
		t.Fatalf("DeleteInvoice: %v", err)
	}
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	if _, err := models.FetchInvoice(ctx, businessId, invoice.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected record not found after delete, got %v", err)
	}
}

// Hold then release restores the invoice exactly and never touches the
// ledger in either direction.
func TestHoldRelease_RestoresStateExactly(t *testing.T) {
	ctx := setupIntegration(t)

	part := mustCreatePart(t, ctx, "P-500", dec("90"))
	mustReceiveStock(t, ctx, part.ID, "MAIN", dec("10"))

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerType: string(models.CustomerTypeWalking),
		LocationCode: "MAIN",
		Items: []models.NewInvoiceItem{
			{PartId: part.ID, Qty: dec("6"), PriceTier: "A"},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	itemId := invoice.Items[0].ID
	invoice, err = models.RecordDelivery(ctx, invoice.ID, &models.NewDelivery{
		ChallanNo: "CH-001",
		Entries:   []models.NewDeliveryEntry{{InvoiceItemId: itemId, Qty: dec("2")}},
	}, -1)
	if err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	bucketBefore := fetchBucket(t, ctx, part.ID, "MAIN")
	statusBefore := invoice.Status

	held, err := models.HoldInvoice(ctx, invoice.ID, "payment dispute", -1)
	if err != nil {
		t.Fatalf("HoldInvoice: %v", err)
	}
	if held.Status != models.InvoiceStatusOnHold {
		t.Fatalf("status = %q, want %q", held.Status, models.InvoiceStatusOnHold)
	}
	if held.HoldReason == nil || *held.HoldReason != "payment dispute" || held.HoldSince == nil {
		t.Fatalf("hold metadata not recorded: %+v", held)
	}
	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), bucketBefore.OnHand.String(), bucketBefore.Reserved.String())

	// No deliveries while on hold.
	_, err = models.RecordDelivery(ctx, invoice.ID, &models.NewDelivery{
		ChallanNo: "CH-002",
		Entries:   []models.NewDeliveryEntry{{InvoiceItemId: itemId, Qty: dec("1")}},
	}, -1)
	var transitionErr *models.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError delivering on hold, got %v", err)
	}

	released, err := models.ReleaseHold(ctx, invoice.ID, -1)
	if err != nil {
		t.Fatalf("ReleaseHold: %v", err)
	}
	if released.Status != statusBefore {
		t.Fatalf("status after release = %q, want %q", released.Status, statusBefore)
	}
	if released.HoldReason != nil || released.HoldSince != nil || released.PreviousStatus != nil {
		t.Fatalf("hold metadata not cleared: %+v", released)
	}
	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), bucketBefore.OnHand.String(), bucketBefore.Reserved.String())
	assertItemInvariant(t, released)
}

// A delivery batch over the pending quantity is rejected before any ledger
// or item mutation.
func TestRecordDelivery_OverPendingLeavesNoTrace(t *testing.T) {
	ctx := setupIntegration(t)

	part := mustCreatePart(t, ctx, "P-600", dec("50"))
	mustReceiveStock(t, ctx, part.ID, "MAIN", dec("10"))

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerType: string(models.CustomerTypeWalking),
		LocationCode: "MAIN",
		Items: []models.NewInvoiceItem{
			{PartId: part.ID, Qty: dec("6"), PriceTier: "A"},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	_, err = models.RecordDelivery(ctx, invoice.ID, &models.NewDelivery{
		ChallanNo: "CH-001",
		Entries:   []models.NewDeliveryEntry{{InvoiceItemId: invoice.Items[0].ID, Qty: dec("7")}},
	}, -1)
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), "10", "6")
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	fresh, err := models.FetchInvoice(ctx, businessId, invoice.ID)
	if err != nil {
		t.Fatalf("FetchInvoice: %v", err)
	}
	if !fresh.Items[0].DeliveredQty.IsZero() || !fresh.Items[0].PendingQty.Equal(dec("6")) {
		t.Fatalf("item mutated by rejected delivery: delivered=%s pending=%s",
			fresh.Items[0].DeliveredQty, fresh.Items[0].PendingQty)
	}
	if len(fresh.DeliveryLog) != 0 {
		t.Fatalf("delivery log entries = %d, want 0", len(fresh.DeliveryLog))
	}

	// Boundary: qty equal to pending completes the invoice.
	fresh, err = models.RecordDelivery(ctx, invoice.ID, &models.NewDelivery{
		ChallanNo: "CH-002",
		Entries:   []models.NewDeliveryEntry{{InvoiceItemId: invoice.Items[0].ID, Qty: dec("6")}},
	}, -1)
	if err != nil {
		t.Fatalf("RecordDelivery(boundary): %v", err)
	}
	if fresh.Status != models.InvoiceStatusFullyDelivered {
		t.Fatalf("status = %q, want %q", fresh.Status, models.InvoiceStatusFullyDelivered)
	}
}

// A stale version on a transition is refused with the actual version so the
// caller can re-fetch and retry.
func TestCancelInvoice_StaleVersionRejected(t *testing.T) {
	ctx := setupIntegration(t)

	part := mustCreatePart(t, ctx, "P-700", dec("10"))
	mustReceiveStock(t, ctx, part.ID, "MAIN", dec("5"))

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerType: string(models.CustomerTypeWalking),
		LocationCode: "MAIN",
		Items: []models.NewInvoiceItem{
			{PartId: part.ID, Qty: dec("5"), PriceTier: "A"},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	staleVersion := invoice.Version
	if _, err := models.HoldInvoice(ctx, invoice.ID, "audit", -1); err != nil {
		t.Fatalf("HoldInvoice: %v", err)
	}

	_, err = models.CancelInvoice(ctx, invoice.ID, staleVersion)
	var concurrentErr *models.ConcurrentModificationError
	if !errors.As(err, &concurrentErr) {
		t.Fatalf("expected ConcurrentModificationError, got %v", err)
	}
	if concurrentErr.ActualVersion == staleVersion {
		t.Fatalf("actual version %d should differ from stale %d", concurrentErr.ActualVersion, staleVersion)
	}

	// Retrying with the current version succeeds.
	if _, err := models.CancelInvoice(ctx, invoice.ID, concurrentErr.ActualVersion); err != nil {
		t.Fatalf("CancelInvoice with fresh version: %v", err)
	}
	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), "5", "0")
}
