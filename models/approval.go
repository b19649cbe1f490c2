package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"gorm.io/gorm"
)

// ApproveInvoice turns a pending-approval invoice into a fully delivered one
// in a single shot: every line's reservation is consumed at once and the
// approver identity is recorded. Approval is not a delivery; no delivery log
// entry is written.
func ApproveInvoice(ctx context.Context, invoiceId int, approver string, expectedVersion int) (*Invoice, error) {
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if approver == "" {
		if name, ok := utils.GetUserNameFromContext(ctx); ok {
			approver = name
		}
	}
	if approver == "" {
		return nil, NewValidationError("approver is required")
	}
	if err := utils.BusinessLock(ctx, businessId, "invoice", "models", "ApproveInvoice"); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
		_ = tx.Rollback().Error
	}()

	invoice, err := fetchInvoiceForUpdate(tx, businessId, invoiceId)
	if err != nil {
		return nil, err
	}
	if err := expectedVersionMatches(invoice, expectedVersion); err != nil {
		return nil, err
	}
	if invoice.Status != InvoiceStatusPendingApproval {
		return nil, &InvalidTransitionError{From: invoice.Status, To: InvoiceStatusFullyDelivered}
	}
	if invoice.CustomerType != CustomerTypeRegistered {
		return nil, NewValidationError("only %s invoices go through approval", CustomerTypeRegistered)
	}

	for idx := range invoice.Items {
		item := &invoice.Items[idx]
		err := ConsumeStock(ctx, tx, businessId, item.PartId, invoice.LocationCode, item.PendingQty,
			stockMovementKey(movementKindConsume, invoice.ID, item.ID, 0),
			StockReferenceTypeApproval, invoice.ID, item.ID)
		if err != nil {
			config.LogError(logger, "models", "ApproveInvoice", "Failed to consume stock", invoice.InvoiceNo, err)
			return nil, err
		}
		err = tx.Model(&InvoiceItem{}).Where("id = ?", item.ID).Updates(map[string]any{
			"delivered_qty": gorm.Expr("delivered_qty + pending_qty"),
			"pending_qty":   0,
		}).Error
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	if err := changeInvoiceStatus(tx, invoice, InvoiceStatusFullyDelivered, map[string]any{
		"approved_by": approver,
		"approved_at": now,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return FetchInvoice(ctx, businessId, invoiceId)
}
