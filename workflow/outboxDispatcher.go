package workflow

import (
	"context"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func skipLockedClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}
}

const (
	dispatcherBatchSize   = 50
	dispatcherMaxAttempts = 8
	staleLockThreshold    = 5 * time.Minute
)

// publishBackoff returns the delay before the next publish attempt, doubling
// per attempt and capped at ten minutes.
func publishBackoff(attempts int) time.Duration {
	backoff := time.Duration(1<<uint(min(attempts, 10))) * time.Second
	if backoff > 10*time.Minute {
		backoff = 10 * time.Minute
	}
	return backoff
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// RunOutboxDispatcher drains the stock movement outbox until the context is
// cancelled. Rows are claimed with SKIP LOCKED so several instances can run
// side by side; delivery to the sink is at-least-once.
func RunOutboxDispatcher(ctx context.Context, interval time.Duration) {
	logger := config.GetLogger()
	workerId := dispatcherWorkerId()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := DispatchPendingStockMovements(ctx, workerId); err != nil {
				config.LogError(logger, "workflow", "RunOutboxDispatcher", "Dispatch round failed", workerId, err)
			}
		}
	}
}

func dispatcherWorkerId() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
}

// DispatchPendingStockMovements claims one batch of due outbox rows and
// publishes each to the audit sink. A publish failure only delays that row;
// the ledger transaction that produced it committed long ago.
func DispatchPendingStockMovements(ctx context.Context, workerId string) error {
	records, err := claimPendingRecords(ctx, workerId)
	if err != nil {
		return err
	}
	db := config.GetDB()
	logger := config.GetLogger()
	for _, record := range records {
		message := models.ConvertToStockMovementMessage(record)
		messageId, err := config.PublishStockMovementWithResult(ctx, record.BusinessId, message)
		if err != nil {
			config.LogError(logger, "workflow", "DispatchPendingStockMovements", "Publish failed", record.MovementKey, err)
			if markErr := markPublishFailed(ctx, db, record, err); markErr != nil {
				config.LogError(logger, "workflow", "DispatchPendingStockMovements", "Failed to mark outbox row failed", record.ID, markErr)
			}
			continue
		}
		if err := markPublished(ctx, db, record, messageId); err != nil {
			config.LogError(logger, "workflow", "DispatchPendingStockMovements", "Failed to mark outbox row sent", record.ID, err)
		}
	}
	return nil
}

// claimPendingRecords moves one batch from PENDING/FAILED to PROCESSING under
// a row lock. Rows stuck in PROCESSING past the stale threshold are
// reclaimed; their worker died between claim and publish.
func claimPendingRecords(ctx context.Context, workerId string) ([]models.StockMovementOutboxRecord, error) {
	db := config.GetDB()
	var claimed []models.StockMovementOutboxRecord
	now := time.Now()
	staleBefore := now.Add(-staleLockThreshold)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []models.StockMovementOutboxRecord
		err := tx.
			Clauses(skipLockedClause()).
			Where("(publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))"+
				" OR (publish_status = ? AND locked_at < ?)",
				[]string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now,
				models.OutboxPublishStatusProcessing, staleBefore).
			Order("id").
			Limit(dispatcherBatchSize).
			Find(&records).Error
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		ids := make([]int, 0, len(records))
		for _, record := range records {
			ids = append(ids, record.ID)
		}
		err = tx.Model(&models.StockMovementOutboxRecord{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"publish_status": models.OutboxPublishStatusProcessing,
				"locked_at":      now,
				"locked_by":      workerId,
			}).Error
		if err != nil {
			return err
		}
		claimed = records
		return nil
	})
	return claimed, err
}

func markPublished(ctx context.Context, db *gorm.DB, record models.StockMovementOutboxRecord, messageId string) error {
	now := time.Now()
	return db.WithContext(ctx).Model(&models.StockMovementOutboxRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"publish_status":    models.OutboxPublishStatusSent,
			"published_at":      now,
			"pubsub_message_id": messageId,
			"publish_attempts":  gorm.Expr("publish_attempts + 1"),
			"locked_at":         nil,
			"locked_by":         nil,
		}).Error
}

func markPublishFailed(ctx context.Context, db *gorm.DB, record models.StockMovementOutboxRecord, publishErr error) error {
	attempts := record.PublishAttempts + 1
	status := models.OutboxPublishStatusFailed
	if attempts >= dispatcherMaxAttempts {
		status = models.OutboxPublishStatusDead
	}
	nextAttempt := time.Now().Add(publishBackoff(attempts))
	errText := publishErr.Error()
	return db.WithContext(ctx).Model(&models.StockMovementOutboxRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"publish_status":     status,
			"publish_attempts":   attempts,
			"next_attempt_at":    nextAttempt,
			"last_publish_error": errText,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
}
