package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/models"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// liveInvoiceStatuses are the statuses whose lines still hold reservations.
var liveInvoiceStatuses = []models.InvoiceStatus{
	models.InvoiceStatusPending,
	models.InvoiceStatusPendingApproval,
	models.InvoiceStatusPartiallyDelivered,
	models.InvoiceStatusOnHold,
}

// ReservationCorrection records one bucket whose reserved figure exceeded
// what live invoices can account for, and the amount given back.
type ReservationCorrection struct {
	PartId       int             `json:"part_id"`
	LocationCode string          `json:"location_code"`
	Reserved     decimal.Decimal `json:"reserved"`
	Expected     decimal.Decimal `json:"expected"`
	Released     decimal.Decimal `json:"released"`
}

// ReconcileReservations walks every stock bucket of a business and releases
// reservations no invoice can account for (orphans left by interrupted
// writers). A bucket reserving less than expected is reported as an error and
// left alone; shrinking a real claim needs a human.
func ReconcileReservations(ctx context.Context, businessId string) ([]ReservationCorrection, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	if err := utils.BusinessLock(ctx, businessId, "invoice", "workflow", "ReconcileReservations"); err != nil {
		return nil, err
	}

	var buckets []models.StockBucket
	if err := db.WithContext(ctx).Where("business_id = ?", businessId).Order("id").Find(&buckets).Error; err != nil {
		return nil, err
	}

	var corrections []ReservationCorrection
	for _, bucket := range buckets {
		correction, err := reconcileBucket(ctx, db, businessId, bucket.ID)
		if err != nil {
			config.LogError(logger, "workflow", "ReconcileReservations", "Bucket reconciliation failed", bucket.ID, err)
			return corrections, err
		}
		if correction != nil {
			corrections = append(corrections, *correction)
			logger.WithFields(logrus.Fields{
				"module":        "workflow",
				"funcName":      "ReconcileReservations",
				"part_id":       correction.PartId,
				"location_code": correction.LocationCode,
				"released":      correction.Released.String(),
			}).Warn("released orphan reservation")
		}
	}
	return corrections, nil
}

func reconcileBucket(ctx context.Context, db *gorm.DB, businessId string, bucketId int) (*ReservationCorrection, error) {
	var correction *ReservationCorrection
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bucket models.StockBucket
		if err := tx.Clauses(skipLockedClause()).First(&bucket, bucketId).Error; err != nil {
			return err
		}
		var expected decimal.Decimal
		err := tx.Model(&models.InvoiceItem{}).
			Joins("JOIN invoices ON invoices.id = invoice_items.invoice_id").
			Where("invoices.business_id = ? AND invoices.location_code = ? AND invoice_items.part_id = ? AND invoices.status IN ?",
				businessId, bucket.LocationCode, bucket.PartId, liveInvoiceStatuses).
			Select("COALESCE(SUM(invoice_items.pending_qty), 0)").
			Scan(&expected).Error
		if err != nil {
			return err
		}
		if bucket.Reserved.LessThan(expected) {
			return models.NewInternalConsistencyError(
				"bucket %d reserves %s but live invoices claim %s; manual review required",
				bucket.ID, bucket.Reserved.String(), expected.String())
		}
		orphan := bucket.Reserved.Sub(expected)
		if orphan.IsZero() {
			return nil
		}
		err = models.ReleaseStock(ctx, tx, businessId, bucket.PartId, bucket.LocationCode, orphan,
			"RN-"+uuid.NewString(), models.StockReferenceTypeReconciliation, bucket.ID, 0)
		if err != nil {
			return err
		}
		correction = &ReservationCorrection{
			PartId:       bucket.PartId,
			LocationCode: bucket.LocationCode,
			Reserved:     bucket.Reserved,
			Expected:     expected,
			Released:     orphan,
		}
		return nil
	})
	return correction, err
}
