package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockBucket tracks one part at one location. Available stock is always
// derived as OnHand - Reserved and never stored; the row invariant
// 0 <= Reserved <= OnHand is enforced on every mutation.
type StockBucket struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"size:64;not null;uniqueIndex:idx_stock_bucket,priority:1" json:"business_id"`
	PartId       int             `gorm:"not null;uniqueIndex:idx_stock_bucket,priority:2" json:"part_id"`
	LocationCode string          `gorm:"size:100;not null;uniqueIndex:idx_stock_bucket,priority:3" json:"location_code"`
	OnHand       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"on_hand"`
	Reserved     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reserved"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *StockBucket) Available() decimal.Decimal {
	return b.OnHand.Sub(b.Reserved)
}

// StockBalance is the read-side projection returned to callers.
type StockBalance struct {
	PartId       int             `json:"part_id"`
	LocationCode string          `json:"location_code,omitempty"`
	OnHand       decimal.Decimal `json:"on_hand"`
	Reserved     decimal.Decimal `json:"reserved"`
	Available    decimal.Decimal `json:"available"`
}

// firstOrCreateStockBucketForUpdate loads the bucket row under FOR UPDATE,
// creating it with zero quantities if the part has never been stocked at the
// location. The row lock serializes all ledger mutations per bucket.
func firstOrCreateStockBucketForUpdate(tx *gorm.DB, businessId string, partId int, locationCode string) (*StockBucket, error) {
	var bucket StockBucket
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(StockBucket{BusinessId: businessId, PartId: partId, LocationCode: locationCode}).
		Attrs(StockBucket{OnHand: decimal.Zero, Reserved: decimal.Zero}).
		FirstOrCreate(&bucket).Error
	if err != nil {
		return nil, err
	}
	return &bucket, nil
}

// recordStockMovement inserts the movement row keyed by movementKey. It
// returns (false, nil) when the key already exists, meaning the mutation was
// applied by an earlier attempt and must not be applied again.
func recordStockMovement(ctx context.Context, tx *gorm.DB, movement *StockMovement) (bool, error) {
	if err := tx.Create(movement).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	if err := EnqueueStockMovement(ctx, tx, movement); err != nil {
		return false, err
	}
	return true, nil
}

// ReserveStock moves qty from available into reserved. Fails with
// InsufficientStockError when available < qty; idempotent per movementKey.
func ReserveStock(ctx context.Context, tx *gorm.DB, businessId string, part *Part, locationCode string,
	qty decimal.Decimal, movementKey string, refType StockReferenceType, refId int, refDetailId int) error {
	bucket, err := firstOrCreateStockBucketForUpdate(tx, businessId, part.ID, locationCode)
	if err != nil {
		return err
	}
	if bucket.Available().LessThan(qty) {
		return &InsufficientStockError{
			PartId:    part.ID,
			PartNo:    part.PartNo,
			Available: bucket.Available(),
			Requested: qty,
		}
	}
	applied, err := recordStockMovement(ctx, tx, &StockMovement{
		BusinessId:        businessId,
		MovementKey:       movementKey,
		PartId:            part.ID,
		LocationCode:      locationCode,
		MovementType:      StockMovementTypeReservation,
		Qty:               qty,
		ReferenceType:     refType,
		ReferenceId:       refId,
		ReferenceDetailId: refDetailId,
		MovedAt:           time.Now(),
	})
	if err != nil || !applied {
		return err
	}
	return tx.Exec("UPDATE stock_buckets SET reserved = reserved + ? WHERE id = ?", qty, bucket.ID).Error
}

// ReleaseStock returns qty from reserved back to available. A release that
// would drive reserved negative is a consistency failure, never clamped.
func ReleaseStock(ctx context.Context, tx *gorm.DB, businessId string, partId int, locationCode string,
	qty decimal.Decimal, movementKey string, refType StockReferenceType, refId int, refDetailId int) error {
	bucket, err := firstOrCreateStockBucketForUpdate(tx, businessId, partId, locationCode)
	if err != nil {
		return err
	}
	if bucket.Reserved.LessThan(qty) {
		return NewInternalConsistencyError(
			"release of %s would drive reserved negative for part %d at %s (reserved=%s)",
			qty.String(), partId, locationCode, bucket.Reserved.String())
	}
	applied, err := recordStockMovement(ctx, tx, &StockMovement{
		BusinessId:        businessId,
		MovementKey:       movementKey,
		PartId:            partId,
		LocationCode:      locationCode,
		MovementType:      StockMovementTypeRelease,
		Qty:               qty,
		ReferenceType:     refType,
		ReferenceId:       refId,
		ReferenceDetailId: refDetailId,
		MovedAt:           time.Now(),
	})
	if err != nil || !applied {
		return err
	}
	return tx.Exec("UPDATE stock_buckets SET reserved = reserved - ? WHERE id = ?", qty, bucket.ID).Error
}

// ConsumeStock removes qty from both reserved and on-hand in one step. The
// caller must already hold an equal or larger reservation.
func ConsumeStock(ctx context.Context, tx *gorm.DB, businessId string, partId int, locationCode string,
	qty decimal.Decimal, movementKey string, refType StockReferenceType, refId int, refDetailId int) error {
	bucket, err := firstOrCreateStockBucketForUpdate(tx, businessId, partId, locationCode)
	if err != nil {
		return err
	}
	if bucket.Reserved.LessThan(qty) || bucket.OnHand.LessThan(qty) {
		return NewInternalConsistencyError(
			"consume of %s exceeds holdings for part %d at %s (on_hand=%s, reserved=%s)",
			qty.String(), partId, locationCode, bucket.OnHand.String(), bucket.Reserved.String())
	}
	applied, err := recordStockMovement(ctx, tx, &StockMovement{
		BusinessId:        businessId,
		MovementKey:       movementKey,
		PartId:            partId,
		LocationCode:      locationCode,
		MovementType:      StockMovementTypeOut,
		Qty:               qty,
		ReferenceType:     refType,
		ReferenceId:       refId,
		ReferenceDetailId: refDetailId,
		MovedAt:           time.Now(),
	})
	if err != nil || !applied {
		return err
	}
	return tx.Exec("UPDATE stock_buckets SET on_hand = on_hand - ?, reserved = reserved - ? WHERE id = ?",
		qty, qty, bucket.ID).Error
}

// ReceiveStock adds qty to on-hand, used by stock receipts and opening
// balances.
func ReceiveStock(ctx context.Context, tx *gorm.DB, businessId string, partId int, locationCode string,
	qty decimal.Decimal, movementKey string, refId int) error {
	bucket, err := firstOrCreateStockBucketForUpdate(tx, businessId, partId, locationCode)
	if err != nil {
		return err
	}
	applied, err := recordStockMovement(ctx, tx, &StockMovement{
		BusinessId:    businessId,
		MovementKey:   movementKey,
		PartId:        partId,
		LocationCode:  locationCode,
		MovementType:  StockMovementTypeIn,
		Qty:           qty,
		ReferenceType: StockReferenceTypeReceipt,
		ReferenceId:   refId,
		MovedAt:       time.Now(),
	})
	if err != nil || !applied {
		return err
	}
	return tx.Exec("UPDATE stock_buckets SET on_hand = on_hand + ? WHERE id = ?", qty, bucket.ID).Error
}

// GetStockBalance reports on-hand, reserved and available for a part, summed
// across locations unless locationCode narrows it to one bucket.
func GetStockBalance(ctx context.Context, businessId string, partId int, locationCode *string) (*StockBalance, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&StockBucket{}).
		Where("business_id = ? AND part_id = ?", businessId, partId)
	balance := StockBalance{PartId: partId}
	if locationCode != nil {
		query = query.Where("location_code = ?", *locationCode)
		balance.LocationCode = *locationCode
	}
	row := struct {
		OnHand   decimal.Decimal
		Reserved decimal.Decimal
	}{}
	err := query.
		Select("COALESCE(SUM(on_hand), 0) AS on_hand, COALESCE(SUM(reserved), 0) AS reserved").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	balance.OnHand = row.OnHand
	balance.Reserved = row.Reserved
	balance.Available = row.OnHand.Sub(row.Reserved)
	return &balance, nil
}
