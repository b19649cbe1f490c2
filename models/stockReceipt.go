package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockReceipt brings quantity on hand at a location (purchases, opening
// stock). It is the inbound counterpart of invoice consumption.
type StockReceipt struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"size:64;not null;uniqueIndex:idx_receipt_no,priority:1" json:"business_id"`
	SequenceNo   int64           `gorm:"not null" json:"sequence_no"`
	ReceiptNo    string          `gorm:"size:30;not null;uniqueIndex:idx_receipt_no,priority:2" json:"receipt_no"`
	PartId       int             `gorm:"index;not null" json:"part_id"`
	LocationCode string          `gorm:"size:100;not null" json:"location_code"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	Note         string          `gorm:"size:255" json:"note"`
	ReceivedAt   time.Time       `gorm:"not null" json:"received_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewStockReceipt struct {
	PartId       int             `json:"part_id" binding:"required"`
	LocationCode string          `json:"location_code" binding:"required"`
	Qty          decimal.Decimal `json:"qty" binding:"required"`
	Note         string          `json:"note"`
}

func CreateStockReceipt(ctx context.Context, input *NewStockReceipt) (*StockReceipt, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if input.Qty.LessThanOrEqual(decimal.Zero) {
		return nil, NewValidationError("qty must be positive")
	}
	if _, err := GetPart(ctx, businessId, input.PartId); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewValidationError("part %d not found", input.PartId)
		}
		return nil, err
	}

	sequenceNo, err := utils.GetSequence[StockReceipt](ctx, businessId)
	if err != nil {
		return nil, err
	}
	receipt := StockReceipt{
		BusinessId:   businessId,
		SequenceNo:   sequenceNo,
		ReceiptNo:    fmt.Sprintf("RC-%06d", sequenceNo),
		PartId:       input.PartId,
		LocationCode: input.LocationCode,
		Qty:          input.Qty,
		Note:         input.Note,
		ReceivedAt:   time.Now(),
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

	if err := tx.Create(&receipt).Error; err != nil {
		return nil, err
	}
	err = ReceiveStock(ctx, tx, businessId, receipt.PartId, receipt.LocationCode, receipt.Qty,
		stockMovementKey("RCV", receipt.ID, 0, 0), receipt.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &receipt, nil
}
