package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DeliveryLogEntry records one challan against an invoice. The unique index
// on (invoice_id, challan_no) makes every challan apply exactly once; an
// exact replay of a recorded challan is acknowledged without re-applying.
type DeliveryLogEntry struct {
	ID          int               `gorm:"primary_key" json:"id"`
	BusinessId  string            `gorm:"size:64;not null;index" json:"business_id"`
	InvoiceId   int               `gorm:"not null;uniqueIndex:idx_invoice_challan,priority:1" json:"invoice_id"`
	ChallanNo   string            `gorm:"size:50;not null;uniqueIndex:idx_invoice_challan,priority:2" json:"challan_no"`
	DeliveredBy string            `gorm:"size:100" json:"delivered_by"`
	DeliveredAt time.Time         `gorm:"not null" json:"delivered_at"`
	Items       []DeliveryLogItem `gorm:"foreignKey:DeliveryLogEntryId" json:"items"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

type DeliveryLogItem struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	DeliveryLogEntryId int             `gorm:"index;not null" json:"delivery_log_entry_id"`
	InvoiceItemId      int             `gorm:"index;not null" json:"invoice_item_id"`
	PartId             int             `gorm:"not null" json:"part_id"`
	Qty                decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
}

type NewDeliveryEntry struct {
	InvoiceItemId int             `json:"invoice_item_id" binding:"required"`
	Qty           decimal.Decimal `json:"qty" binding:"required"`
}

type NewDelivery struct {
	ChallanNo   string             `json:"challan_no" binding:"required"`
	DeliveredBy string             `json:"delivered_by"`
	DeliveredAt *time.Time         `json:"delivered_at"`
	Entries     []NewDeliveryEntry `json:"entries" binding:"required,min=1,dive"`
}

// validateDeliveryEntries checks the whole batch against the invoice lines
// before anything is mutated. Quantities for the same line are summed, so a
// batch cannot sneak past the pending limit by splitting a line.
func validateDeliveryEntries(items []InvoiceItem, entries []NewDeliveryEntry) error {
	if len(entries) == 0 {
		return NewValidationError("delivery must contain at least one entry")
	}
	byId := make(map[int]*InvoiceItem, len(items))
	for idx := range items {
		byId[items[idx].ID] = &items[idx]
	}
	requested := make(map[int]decimal.Decimal, len(entries))
	for i, entry := range entries {
		if entry.Qty.LessThanOrEqual(decimal.Zero) {
			return NewValidationError("entry %d: qty must be positive", i+1)
		}
		if _, ok := byId[entry.InvoiceItemId]; !ok {
			return NewValidationError("entry %d: item %d does not belong to this invoice", i+1, entry.InvoiceItemId)
		}
		requested[entry.InvoiceItemId] = requested[entry.InvoiceItemId].Add(entry.Qty)
	}
	for itemId, qty := range requested {
		item := byId[itemId]
		if qty.GreaterThan(item.PendingQty) {
			return NewValidationError("item %s: delivery qty %s exceeds pending qty %s",
				item.PartNo, qty.String(), item.PendingQty.String())
		}
	}
	return nil
}

// sameDeliveryPayload reports whether a recorded challan carries exactly the
// requested entries, line for line.
func sameDeliveryPayload(recorded []DeliveryLogItem, entries []NewDeliveryEntry) bool {
	recordedQty := make(map[int]decimal.Decimal, len(recorded))
	for _, item := range recorded {
		recordedQty[item.InvoiceItemId] = recordedQty[item.InvoiceItemId].Add(item.Qty)
	}
	requestedQty := make(map[int]decimal.Decimal, len(entries))
	for _, entry := range entries {
		requestedQty[entry.InvoiceItemId] = requestedQty[entry.InvoiceItemId].Add(entry.Qty)
	}
	if len(recordedQty) != len(requestedQty) {
		return false
	}
	for itemId, qty := range requestedQty {
		if !recordedQty[itemId].Equal(qty) {
			return false
		}
	}
	return true
}

// RecordDelivery applies one challan: validate the whole batch, consume stock
// per line, update delivered and pending quantities and recompute the status.
// Replaying an already recorded challan with the same payload succeeds
// without touching the ledger; the same challan number with a different
// payload is rejected.
func RecordDelivery(ctx context.Context, invoiceId int, input *NewDelivery, expectedVersion int) (*Invoice, error) {
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.BusinessLock(ctx, businessId, "invoice", "models", "RecordDelivery"); err != nil {
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

	var existing DeliveryLogEntry
	err = tx.Preload("Items").
		Where("invoice_id = ? AND challan_no = ?", invoiceId, input.ChallanNo).
		First(&existing).Error
	if err == nil {
		if sameDeliveryPayload(existing.Items, input.Entries) {
			// Replay of an applied challan; acknowledge without re-applying.
			return FetchInvoice(ctx, businessId, invoiceId)
		}
		return nil, NewValidationError("challan %q was already recorded with a different payload", input.ChallanNo)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := expectedVersionMatches(invoice, expectedVersion); err != nil {
		return nil, err
	}
	if invoice.Status != InvoiceStatusPending && invoice.Status != InvoiceStatusPartiallyDelivered {
		return nil, &InvalidTransitionError{From: invoice.Status, To: InvoiceStatusPartiallyDelivered}
	}
	if err := validateDeliveryEntries(invoice.Items, input.Entries); err != nil {
		return nil, err
	}

	deliveredAt := time.Now()
	if input.DeliveredAt != nil {
		deliveredAt = *input.DeliveredAt
	}
	entry := DeliveryLogEntry{
		BusinessId:  businessId,
		InvoiceId:   invoiceId,
		ChallanNo:   input.ChallanNo,
		DeliveredBy: input.DeliveredBy,
		DeliveredAt: deliveredAt,
	}
	itemsById := make(map[int]*InvoiceItem, len(invoice.Items))
	for idx := range invoice.Items {
		itemsById[invoice.Items[idx].ID] = &invoice.Items[idx]
	}
	for _, line := range input.Entries {
		entry.Items = append(entry.Items, DeliveryLogItem{
			InvoiceItemId: line.InvoiceItemId,
			PartId:        itemsById[line.InvoiceItemId].PartId,
			Qty:           line.Qty,
		})
	}
	if err := tx.Create(&entry).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, NewValidationError("challan %q was already recorded for this invoice", input.ChallanNo)
		}
		return nil, err
	}

	for _, line := range entry.Items {
		item := itemsById[line.InvoiceItemId]
		err := ConsumeStock(ctx, tx, businessId, item.PartId, invoice.LocationCode, line.Qty,
			stockMovementKey(movementKindConsume, invoice.ID, item.ID, entry.ID),
			StockReferenceTypeDelivery, entry.ID, item.ID)
		if err != nil {
			config.LogError(logger, "models", "RecordDelivery", "Failed to consume stock", invoice.InvoiceNo, err)
			return nil, err
		}
		result := tx.Model(&InvoiceItem{}).
			Where("id = ? AND pending_qty >= ?", item.ID, line.Qty).
			Updates(map[string]any{
				"delivered_qty": gorm.Expr("delivered_qty + ?", line.Qty),
				"pending_qty":   gorm.Expr("pending_qty - ?", line.Qty),
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			return nil, NewInternalConsistencyError("invoice item %d pending qty moved under delivery", item.ID)
		}
		item.DeliveredQty = item.DeliveredQty.Add(line.Qty)
		item.PendingQty = item.PendingQty.Sub(line.Qty)
	}

	newStatus := InvoiceStatusFullyDelivered
	for idx := range invoice.Items {
		if invoice.Items[idx].PendingQty.GreaterThan(decimal.Zero) {
			newStatus = InvoiceStatusPartiallyDelivered
			break
		}
	}
	if newStatus != invoice.Status {
		if err := changeInvoiceStatus(tx, invoice, newStatus, nil); err != nil {
			return nil, err
		}
	} else {
		result := tx.Model(&Invoice{}).
			Where("id = ? AND version = ?", invoice.ID, invoice.Version).
			Update("version", gorm.Expr("version + 1"))
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			return nil, &ConcurrentModificationError{InvoiceId: invoice.ID, GivenVersion: invoice.Version, ActualVersion: invoice.Version + 1}
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return FetchInvoice(ctx, businessId, invoiceId)
}

func deleteDeliveryLog(tx *gorm.DB, invoiceId int) error {
	err := tx.Where("delivery_log_entry_id IN (?)",
		tx.Session(&gorm.Session{NewDB: true}).Model(&DeliveryLogEntry{}).Select("id").Where("invoice_id = ?", invoiceId),
	).Delete(&DeliveryLogItem{}).Error
	if err != nil {
		return err
	}
	return tx.Where("invoice_id = ?", invoiceId).Delete(&DeliveryLogEntry{}).Error
}
