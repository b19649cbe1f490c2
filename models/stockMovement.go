package models

import (
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

// StockMovement is the append-only audit trail of every ledger mutation.
// MovementKey is derived from (invoice, item, event) by the caller; the
// unique index makes every mutation idempotent under retry: replaying the
// same key is detected as a duplicate and skipped without double-counting.
type StockMovement struct {
	ID                int                `gorm:"primary_key" json:"id"`
	BusinessId        string             `gorm:"size:64;not null;uniqueIndex:idx_movement_key,priority:1" json:"business_id"`
	MovementKey       string             `gorm:"size:100;not null;uniqueIndex:idx_movement_key,priority:2" json:"movement_key"`
	PartId            int                `gorm:"index;not null" json:"part_id"`
	LocationCode      string             `gorm:"size:100" json:"location_code"`
	MovementType      StockMovementType  `gorm:"type:enum('in','reservation','release','out');not null" json:"movement_type"`
	Qty               decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"qty"`
	ReferenceType     StockReferenceType `gorm:"type:enum('IV','DL','AP','RC','RN')" json:"reference_type"`
	ReferenceId       int                `gorm:"index" json:"reference_id"`
	ReferenceDetailId int                `json:"reference_detail_id"`
	MovedAt           time.Time          `gorm:"not null" json:"moved_at"`
	CreatedAt         time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
