package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// StockMovementOutboxRecord queues one movement for the external audit sink.
// The row is written in the same transaction as the ledger mutation; a
// background dispatcher publishes it after commit (at-least-once). Publishing
// never blocks or fails the ledger decision.
type StockMovementOutboxRecord struct {
	ID               int                `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId       string             `gorm:"size:64;not null;index" json:"business_id"`
	StockMovementId  int                `gorm:"index;not null" json:"stock_movement_id"`
	MovementKey      string             `gorm:"size:100;not null" json:"movement_key"`
	PartId           int                `gorm:"not null" json:"part_id"`
	LocationCode     string             `gorm:"size:100" json:"location_code"`
	MovementType     StockMovementType  `gorm:"type:enum('in','reservation','release','out');not null" json:"movement_type"`
	Qty              decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"qty"`
	ReferenceType    StockReferenceType `gorm:"type:enum('IV','DL','AP','RC','RN')" json:"reference_type"`
	ReferenceId      int                `json:"reference_id"`
	MovedAt          time.Time          `gorm:"not null" json:"moved_at"`
	PublishStatus    string             `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time         `gorm:"index" json:"published_at"`
	PubSubMessageId  *string            `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int                `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time         `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time         `gorm:"index" json:"locked_at"`
	LockedBy         *string            `gorm:"size:100" json:"locked_by"`
	LastPublishError *string            `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string             `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueStockMovement writes the outbox row for a movement inside the same
// transaction that created the movement.
func EnqueueStockMovement(ctx context.Context, tx *gorm.DB, movement *StockMovement) error {
	record := StockMovementOutboxRecord{
		BusinessId:      movement.BusinessId,
		StockMovementId: movement.ID,
		MovementKey:     movement.MovementKey,
		PartId:          movement.PartId,
		LocationCode:    movement.LocationCode,
		MovementType:    movement.MovementType,
		Qty:             movement.Qty,
		ReferenceType:   movement.ReferenceType,
		ReferenceId:     movement.ReferenceId,
		MovedAt:         movement.MovedAt,
		PublishStatus:   OutboxPublishStatusPending,
		CorrelationId:   correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func ConvertToStockMovementMessage(record StockMovementOutboxRecord) config.StockMovementMessage {
	return config.StockMovementMessage{
		ID:            record.StockMovementId,
		BusinessId:    record.BusinessId,
		MovementKey:   record.MovementKey,
		PartId:        record.PartId,
		LocationCode:  record.LocationCode,
		MovementType:  string(record.MovementType),
		Qty:           record.Qty,
		ReferenceType: string(record.ReferenceType),
		ReferenceId:   record.ReferenceId,
		MovedAt:       record.MovedAt,
		CorrelationId: record.CorrelationId,
	}
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
