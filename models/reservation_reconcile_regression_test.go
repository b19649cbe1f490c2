package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/models"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"bitbucket.org/mmdatafocus/parts_backend/workflow"
)

// Reconciliation releases reservations no live invoice accounts for and
// leaves healthy buckets alone. The release lands in the movement trail like
// any other ledger mutation.
func TestReconcileReservations_ReleasesOrphans(t *testing.T) {
	ctx := setupIntegration(t)
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	part := mustCreatePart(t, ctx, "P-800", dec("120"))
	mustReceiveStock(t, ctx, part.ID, "MAIN", dec("20"))

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerType: string(models.CustomerTypeWalking),
		LocationCode: "MAIN",
		Items: []models.NewInvoiceItem{
			{PartId: part.ID, Qty: dec("7"), PriceTier: "A"},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	// Healthy state: nothing to correct.
	corrections, err := workflow.ReconcileReservations(ctx, businessId)
	if err != nil {
		t.Fatalf("ReconcileReservations: %v", err)
	}
	if len(corrections) != 0 {
		t.Fatalf("corrections = %d, want 0 on a healthy ledger", len(corrections))
	}

	// Simulate an interrupted writer that left a reservation behind.
	bucket := fetchBucket(t, ctx, part.ID, "MAIN")
	err = config.GetDB().Exec("UPDATE stock_buckets SET reserved = reserved + 5 WHERE id = ?", bucket.ID).Error
	if err != nil {
		t.Fatalf("inject orphan reservation: %v", err)
	}

	corrections, err = workflow.ReconcileReservations(ctx, businessId)
	if err != nil {
		t.Fatalf("ReconcileReservations: %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("corrections = %d, want 1", len(corrections))
	}
	if !corrections[0].Released.Equal(dec("5")) {
		t.Fatalf("released = %s, want 5", corrections[0].Released)
	}
	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), "20", "7")

	// The release is an auditable movement and queued for the sink.
	var releaseMovements int64
	err = config.GetDB().Model(&models.StockMovement{}).
		Where("business_id = ? AND movement_type = ? AND reference_type = ?",
			businessId, models.StockMovementTypeRelease, models.StockReferenceTypeReconciliation).
		Count(&releaseMovements).Error
	if err != nil {
		t.Fatalf("count reconciliation movements: %v", err)
	}
	if releaseMovements != 1 {
		t.Fatalf("reconciliation movements = %d, want 1", releaseMovements)
	}

	// Cancelling the invoice afterwards still balances out.
	if _, err := models.CancelInvoice(ctx, invoice.ID, -1); err != nil {
		t.Fatalf("CancelInvoice: %v", err)
	}
	assertBucket(t, fetchBucket(t, ctx, part.ID, "MAIN"), "20", "0")
}

// Every ledger mutation leaves an outbox row for the audit sink, written in
// the same transaction; replayed challans must not enqueue twice.
func TestStockMovementOutbox_EnqueuedWithLedgerWrites(t *testing.T) {
	ctx := setupIntegration(t)
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	part := mustCreatePart(t, ctx, "P-900", dec("60"))
	mustReceiveStock(t, ctx, part.ID, "MAIN", dec("10"))

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerType: string(models.CustomerTypeWalking),
		LocationCode: "MAIN",
		Items: []models.NewInvoiceItem{
			{PartId: part.ID, Qty: dec("4"), PriceTier: "A"},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	delivery := &models.NewDelivery{
		ChallanNo: "CH-001",
		Entries:   []models.NewDeliveryEntry{{InvoiceItemId: invoice.Items[0].ID, Qty: dec("4")}},
	}
	if _, err := models.RecordDelivery(ctx, invoice.ID, delivery, -1); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	if _, err := models.RecordDelivery(ctx, invoice.ID, delivery, -1); err != nil {
		t.Fatalf("RecordDelivery replay: %v", err)
	}

	// receipt + reservation + consumption, each exactly once.
	var pending int64
	err = config.GetDB().Model(&models.StockMovementOutboxRecord{}).
		Where("business_id = ? AND publish_status = ?", businessId, models.OutboxPublishStatusPending).
		Count(&pending).Error
	if err != nil {
		t.Fatalf("count outbox rows: %v", err)
	}
	if pending != 3 {
		t.Fatalf("pending outbox rows = %d, want 3", pending)
	}
}
