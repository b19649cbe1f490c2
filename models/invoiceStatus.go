package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func lockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

// invoiceStatusTransitions is the single source of truth for legal status
// changes. Releasing a hold additionally requires the target to equal the
// remembered previous status; that check lives in ReleaseHold.
var invoiceStatusTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:              {InvoiceStatusPending, InvoiceStatusPendingApproval},
	InvoiceStatusPending:            {InvoiceStatusPartiallyDelivered, InvoiceStatusFullyDelivered, InvoiceStatusOnHold, InvoiceStatusCancelled},
	InvoiceStatusPendingApproval:    {InvoiceStatusFullyDelivered, InvoiceStatusOnHold, InvoiceStatusCancelled},
	InvoiceStatusPartiallyDelivered: {InvoiceStatusFullyDelivered, InvoiceStatusOnHold, InvoiceStatusCancelled},
	InvoiceStatusFullyDelivered:     {InvoiceStatusOnHold},
	InvoiceStatusOnHold:             {InvoiceStatusPending, InvoiceStatusPendingApproval, InvoiceStatusPartiallyDelivered, InvoiceStatusFullyDelivered, InvoiceStatusCancelled},
	InvoiceStatusCancelled:          {},
}

// CanTransitionInvoiceStatus reports whether the status change is legal
// according to the transition table.
func CanTransitionInvoiceStatus(from InvoiceStatus, to InvoiceStatus) bool {
	for _, allowed := range invoiceStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// changeInvoiceStatus applies a guarded status change plus any extra column
// updates, bumping the version. The WHERE clause pins the version the caller
// observed; zero rows affected means another writer got there first.
func changeInvoiceStatus(tx *gorm.DB, invoice *Invoice, newStatus InvoiceStatus, extra map[string]any) error {
	if !CanTransitionInvoiceStatus(invoice.Status, newStatus) {
		return &InvalidTransitionError{From: invoice.Status, To: newStatus}
	}
	updates := map[string]any{
		"status":  newStatus,
		"version": gorm.Expr("version + 1"),
	}
	for col, val := range extra {
		updates[col] = val
	}
	result := tx.Model(&Invoice{}).
		Where("id = ? AND version = ?", invoice.ID, invoice.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var actual Invoice
		if err := tx.Select("version").First(&actual, invoice.ID).Error; err != nil {
			return err
		}
		return &ConcurrentModificationError{
			InvoiceId:     invoice.ID,
			GivenVersion:  invoice.Version,
			ActualVersion: actual.Version,
		}
	}
	invoice.Status = newStatus
	invoice.Version++
	return nil
}

// expectedVersionMatches verifies the caller's optimistic version before any
// work is done. A negative expected version skips the check (internal callers
// operating on a freshly locked row).
func expectedVersionMatches(invoice *Invoice, expectedVersion int) error {
	if expectedVersion >= 0 && invoice.Version != expectedVersion {
		return &ConcurrentModificationError{
			InvoiceId:     invoice.ID,
			GivenVersion:  expectedVersion,
			ActualVersion: invoice.Version,
		}
	}
	return nil
}

// releaseRemainingReservations gives back every line's outstanding claim.
// Delivered quantities are history and stay untouched.
func releaseRemainingReservations(ctx context.Context, tx *gorm.DB, invoice *Invoice) error {
	for idx := range invoice.Items {
		item := &invoice.Items[idx]
		if item.PendingQty.LessThanOrEqual(decimal.Zero) {
			continue
		}
		err := ReleaseStock(ctx, tx, invoice.BusinessId, item.PartId, invoice.LocationCode, item.PendingQty,
			stockMovementKey(movementKindRelease, invoice.ID, item.ID, 0),
			StockReferenceTypeInvoice, invoice.ID, item.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// CancelInvoice releases all outstanding reservations and marks the invoice
// Cancelled. Fully delivered invoices cannot be cancelled; a cancelled one
// cannot be cancelled again.
func CancelInvoice(ctx context.Context, invoiceId int, expectedVersion int) (*Invoice, error) {
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.BusinessLock(ctx, businessId, "invoice", "models", "CancelInvoice"); err != nil {
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
	if !CanTransitionInvoiceStatus(invoice.Status, InvoiceStatusCancelled) {
		return nil, &InvalidTransitionError{From: invoice.Status, To: InvoiceStatusCancelled}
	}
	if err := releaseRemainingReservations(ctx, tx, invoice); err != nil {
		config.LogError(logger, "models", "CancelInvoice", "Failed to release reservations", invoice.InvoiceNo, err)
		return nil, err
	}
	previous := invoice.Status
	if err := changeInvoiceStatus(tx, invoice, InvoiceStatusCancelled, map[string]any{
		"previous_status": previous,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return FetchInvoice(ctx, businessId, invoiceId)
}

// UpdateInvoiceStatus is the generic status endpoint. Cancellation is the
// only transition it performs directly; delivery, approval and hold have
// their own entry points because they carry side effects and extra input.
func UpdateInvoiceStatus(ctx context.Context, invoiceId int, target InvoiceStatus, expectedVersion int) (*Invoice, error) {
	switch target {
	case InvoiceStatusCancelled:
		return CancelInvoice(ctx, invoiceId, expectedVersion)
	case InvoiceStatusOnHold:
		return nil, NewValidationError("use the hold operation (a reason is required) to put an invoice on hold")
	}
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	invoice, err := FetchInvoice(ctx, businessId, invoiceId)
	if err != nil {
		return nil, err
	}
	return nil, &InvalidTransitionError{From: invoice.Status, To: target}
}

// HoldInvoice parks a non-terminal invoice. Reservations are untouched and
// the current status is remembered so a release restores it exactly.
func HoldInvoice(ctx context.Context, invoiceId int, reason string, expectedVersion int) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if reason == "" {
		return nil, NewValidationError("hold reason is required")
	}
	if err := utils.BusinessLock(ctx, businessId, "invoice", "models", "HoldInvoice"); err != nil {
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
	previous := invoice.Status
	now := time.Now()
	if err := changeInvoiceStatus(tx, invoice, InvoiceStatusOnHold, map[string]any{
		"previous_status": previous,
		"hold_reason":     reason,
		"hold_since":      now,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return FetchInvoice(ctx, businessId, invoiceId)
}

// ReleaseHold restores the status remembered when the hold was taken. No
// ledger effect in either direction.
func ReleaseHold(ctx context.Context, invoiceId int, expectedVersion int) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.BusinessLock(ctx, businessId, "invoice", "models", "ReleaseHold"); err != nil {
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
	if invoice.Status != InvoiceStatusOnHold {
		return nil, &InvalidTransitionError{From: invoice.Status, To: InvoiceStatusOnHold}
	}
	if invoice.PreviousStatus == nil {
		return nil, NewInternalConsistencyError("invoice %d is on hold without a remembered previous status", invoice.ID)
	}
	restored := *invoice.PreviousStatus
	if err := changeInvoiceStatus(tx, invoice, restored, map[string]any{
		"previous_status": nil,
		"hold_reason":     nil,
		"hold_since":      nil,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return FetchInvoice(ctx, businessId, invoiceId)
}
