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

// Invoice is the aggregate root of the sales lifecycle. Prices and customer
// details are snapshots taken at creation; Version guards every status
// transition against concurrent writers.
type Invoice struct {
	ID              int                `gorm:"primary_key" json:"id"`
	BusinessId      string             `gorm:"size:64;not null;uniqueIndex:idx_invoice_no,priority:1" json:"business_id"`
	SequenceNo      int64              `gorm:"not null" json:"sequence_no"`
	InvoiceNo       string             `gorm:"size:30;not null;uniqueIndex:idx_invoice_no,priority:2" json:"invoice_no"`
	CustomerType    CustomerType       `gorm:"type:enum('Party Sale','Cash Sale');not null" json:"customer_type"`
	CustomerId      *int               `gorm:"index" json:"customer_id"`
	CustomerName    string             `gorm:"size:100" json:"customer_name"`
	LocationCode    string             `gorm:"size:100;not null" json:"location_code"`
	InvoiceDate     time.Time          `gorm:"not null" json:"invoice_date"`
	Items           []InvoiceItem      `gorm:"foreignKey:InvoiceId" json:"items"`
	Subtotal        decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	OverallDiscount decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"overall_discount"`
	TaxAmount       decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	GrandTotal      decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"grand_total"`
	BankAccountId   *int               `json:"bank_account_id"`
	BankAmount      decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"bank_amount"`
	CashAccountId   *int               `json:"cash_account_id"`
	CashAmount      decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"cash_amount"`
	PaidAmount      decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	DueAmount       decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"due_amount"`
	PaymentStatus   PaymentStatus      `gorm:"type:enum('Unpaid','Partial','Paid');default:'Unpaid'" json:"payment_status"`
	Status          InvoiceStatus      `gorm:"type:enum('Draft','Pending','Pending Approval','Partially Delivered','Fully Delivered','On Hold','Cancelled');not null;index" json:"status"`
	PreviousStatus  *InvoiceStatus     `gorm:"type:enum('Draft','Pending','Pending Approval','Partially Delivered','Fully Delivered','On Hold','Cancelled')" json:"previous_status"`
	HoldReason      *string            `gorm:"size:255" json:"hold_reason"`
	HoldSince       *time.Time         `json:"hold_since"`
	ApprovedBy      *string            `gorm:"size:100" json:"approved_by"`
	ApprovedAt      *time.Time         `json:"approved_at"`
	Version         int                `gorm:"not null;default:0" json:"version"`
	DeliveryLog     []DeliveryLogEntry `gorm:"foreignKey:InvoiceId" json:"delivery_log"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// InvoiceItem keeps DeliveredQty + PendingQty == OrderedQty at all times,
// including after cancellation. Cancelling releases the stock claim but does
// not rewrite delivery history.
type InvoiceItem struct {
	ID           int             `gorm:"primary_key" json:"id"`
	InvoiceId    int             `gorm:"index;not null" json:"invoice_id"`
	PartId       int             `gorm:"not null" json:"part_id"`
	PartNo       string          `gorm:"size:100;not null" json:"part_no"`
	Description  string          `gorm:"size:255" json:"description"`
	PriceTier    PriceTier       `gorm:"type:enum('A','B','M');not null" json:"price_tier"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	OrderedQty   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"ordered_qty"`
	DeliveredQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"delivered_qty"`
	PendingQty   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"pending_qty"`
	LineTotal    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_total"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoiceItem struct {
	PartId    int             `json:"part_id" binding:"required"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
	PriceTier string          `json:"price_tier" binding:"required,oneof=A B M"`
}

type NewInvoice struct {
	CustomerType    string           `json:"customer_type" binding:"required"`
	CustomerId      *int             `json:"customer_id"`
	CustomerName    string           `json:"customer_name"`
	LocationCode    string           `json:"location_code" binding:"required"`
	InvoiceDate     *time.Time       `json:"invoice_date"`
	Items           []NewInvoiceItem `json:"items" binding:"required,min=1,dive"`
	OverallDiscount decimal.Decimal  `json:"overall_discount"`
	TaxAmount       decimal.Decimal  `json:"tax_amount"`
	Payment         *PaymentInput    `json:"payment"`
}

// stockMovementKey derives the idempotency key of a ledger mutation from the
// invoice, the line and an event sequence. Retrying the same logical event
// regenerates the same key and the ledger skips the duplicate.
func stockMovementKey(kind string, invoiceId int, itemId int, eventSeq int) string {
	return fmt.Sprintf("%s-%d-%d-%d", kind, invoiceId, itemId, eventSeq)
}

const (
	movementKindReserve = "RSV"
	movementKindRelease = "REL"
	movementKindConsume = "OUT"
)

// CreateInvoice validates the whole document, reserves stock for every line
// and persists the invoice in one transaction. Any line failing reservation
// aborts the entire creation; no invoice row and no ledger change survive.
func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	customerType, err := ParseCustomerType(input.CustomerType)
	if err != nil {
		return nil, NewValidationError("invalid customer type %q", input.CustomerType)
	}
	for i, line := range input.Items {
		if line.Qty.LessThanOrEqual(decimal.Zero) {
			return nil, NewValidationError("item %d: qty must be positive", i+1)
		}
	}

	if err := utils.BusinessLock(ctx, businessId, "invoice", "models", "CreateInvoice"); err != nil {
		return nil, err
	}

	sequenceNo, err := utils.GetSequence[Invoice](ctx, businessId)
	if err != nil {
		config.LogError(logger, "models", "CreateInvoice", "Failed to get invoice sequence", businessId, err)
		return nil, err
	}

	invoiceDate := time.Now()
	if input.InvoiceDate != nil {
		invoiceDate = *input.InvoiceDate
	}

	invoice := Invoice{
		BusinessId:      businessId,
		SequenceNo:      sequenceNo,
		InvoiceNo:       fmt.Sprintf("IV-%06d", sequenceNo),
		CustomerType:    customerType,
		CustomerId:      input.CustomerId,
		CustomerName:    input.CustomerName,
		LocationCode:    input.LocationCode,
		InvoiceDate:     invoiceDate,
		OverallDiscount: input.OverallDiscount,
		TaxAmount:       input.TaxAmount,
	}

	subtotal := decimal.Zero
	for _, line := range input.Items {
		part, err := GetPart(ctx, businessId, line.PartId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, NewValidationError("part %d not found", line.PartId)
			}
			return nil, err
		}
		tier, _ := ParsePriceTier(line.PriceTier)
		unitPrice := part.Price(tier)
		lineTotal := unitPrice.Mul(line.Qty)
		subtotal = subtotal.Add(lineTotal)
		invoice.Items = append(invoice.Items, InvoiceItem{
			PartId:       part.ID,
			PartNo:       part.PartNo,
			Description:  part.Description,
			PriceTier:    tier,
			UnitPrice:    unitPrice,
			OrderedQty:   line.Qty,
			DeliveredQty: decimal.Zero,
			PendingQty:   line.Qty,
			LineTotal:    lineTotal,
		})
	}
	invoice.Subtotal = subtotal
	invoice.GrandTotal = subtotal.Sub(input.OverallDiscount).Add(input.TaxAmount)

	if input.Payment != nil {
		invoice.BankAccountId = input.Payment.BankAccountId
		invoice.BankAmount = input.Payment.BankAmount
		invoice.CashAccountId = input.Payment.CashAccountId
		invoice.CashAmount = input.Payment.CashAmount
		if err := validatePaymentAccounts(ctx, businessId, input.Payment); err != nil {
			return nil, err
		}
	}
	invoice.PaidAmount, invoice.DueAmount = AllocatePayment(input.Payment, invoice.GrandTotal)
	invoice.PaymentStatus = DerivePaymentStatus(invoice.PaidAmount, invoice.GrandTotal)

	switch customerType {
	case CustomerTypeWalking:
		invoice.Status = InvoiceStatusPending
	case CustomerTypeRegistered:
		invoice.Status = InvoiceStatusPendingApproval
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

	if err := tx.Create(&invoice).Error; err != nil {
		config.LogError(logger, "models", "CreateInvoice", "Failed to create invoice", invoice.InvoiceNo, err)
		return nil, err
	}
	for idx := range invoice.Items {
		item := &invoice.Items[idx]
		part := Part{ID: item.PartId, PartNo: item.PartNo}
		err := ReserveStock(ctx, tx, businessId, &part, invoice.LocationCode, item.OrderedQty,
			stockMovementKey(movementKindReserve, invoice.ID, item.ID, 0),
			StockReferenceTypeInvoice, invoice.ID, item.ID)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func validatePaymentAccounts(ctx context.Context, businessId string, payment *PaymentInput) error {
	if payment.BankAccountId != nil {
		account, err := GetAccount(ctx, businessId, *payment.BankAccountId)
		if err != nil {
			return NewValidationError("bank account %d not found", *payment.BankAccountId)
		}
		if account.Class != AccountClassBank {
			return NewValidationError("account %d is not a bank account", account.ID)
		}
	}
	if payment.CashAccountId != nil {
		account, err := GetAccount(ctx, businessId, *payment.CashAccountId)
		if err != nil {
			return NewValidationError("cash account %d not found", *payment.CashAccountId)
		}
		if account.Class != AccountClassCash {
			return NewValidationError("account %d is not a cash account", account.ID)
		}
	}
	return nil
}

// FetchInvoice loads an invoice with its lines and delivery log.
func FetchInvoice(ctx context.Context, businessId string, invoiceId int) (*Invoice, error) {
	var invoice Invoice
	db := config.GetDB()
	err := db.WithContext(ctx).
		Preload("Items").
		Preload("DeliveryLog").
		Preload("DeliveryLog.Items").
		Where("business_id = ? AND id = ?", businessId, invoiceId).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// fetchInvoiceForUpdate loads the invoice and its lines under FOR UPDATE
// inside an open transaction.
func fetchInvoiceForUpdate(tx *gorm.DB, businessId string, invoiceId int) (*Invoice, error) {
	var invoice Invoice
	err := tx.Clauses(lockingClause()).
		Where("business_id = ? AND id = ?", businessId, invoiceId).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := tx.Where("invoice_id = ?", invoiceId).Order("id").Find(&invoice.Items).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// DeleteInvoice permanently removes a cancelled invoice together with its
// lines and delivery log. Any other status is refused; cancellation is the
// only path to deletion.
func DeleteInvoice(ctx context.Context, invoiceId int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
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
		return err
	}
	if invoice.Status != InvoiceStatusCancelled {
		return NewValidationError("only cancelled invoices can be deleted (status is %q)", invoice.Status)
	}
	if err := tx.Where("invoice_id = ?", invoiceId).Delete(&InvoiceItem{}).Error; err != nil {
		return err
	}
	if err := deleteDeliveryLog(tx, invoiceId); err != nil {
		return err
	}
	if err := tx.Delete(&Invoice{}, invoiceId).Error; err != nil {
		return err
	}
	return tx.Commit().Error
}
