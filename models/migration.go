package models

import (
	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Part{},
		&Account{},
		&StockBucket{},
		&StockMovement{},
		&StockMovementOutboxRecord{},
		&StockReceipt{},
		&Invoice{},
		&InvoiceItem{},
		&DeliveryLogEntry{},
		&DeliveryLogItem{},
	)
}
