package models

import (
	"errors"
	"fmt"
)

type CustomerType string

const (
	// Walk-in customer; invoiced as "Party Sale" and delivered in parts.
	CustomerTypeWalking CustomerType = "Party Sale"
	// Registered customer; invoiced as "Cash Sale" and delivered in one
	// shot after approval.
	CustomerTypeRegistered CustomerType = "Cash Sale"
)

func ParseCustomerType(s string) (CustomerType, error) {
	switch s {
	case string(CustomerTypeWalking):
		return CustomerTypeWalking, nil
	case string(CustomerTypeRegistered):
		return CustomerTypeRegistered, nil
	default:
		return "", errors.New("invalid customer type")
	}
}

type InvoiceStatus string

const (
	InvoiceStatusDraft              InvoiceStatus = "Draft"
	InvoiceStatusPending            InvoiceStatus = "Pending"
	InvoiceStatusPendingApproval    InvoiceStatus = "Pending Approval"
	InvoiceStatusPartiallyDelivered InvoiceStatus = "Partially Delivered"
	InvoiceStatusFullyDelivered     InvoiceStatus = "Fully Delivered"
	InvoiceStatusOnHold             InvoiceStatus = "On Hold"
	InvoiceStatusCancelled          InvoiceStatus = "Cancelled"
)

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch InvoiceStatus(s) {
	case InvoiceStatusDraft, InvoiceStatusPending, InvoiceStatusPendingApproval,
		InvoiceStatusPartiallyDelivered, InvoiceStatusFullyDelivered,
		InvoiceStatusOnHold, InvoiceStatusCancelled:
		return InvoiceStatus(s), nil
	default:
		return "", fmt.Errorf("invalid invoice status %q", s)
	}
}

// IsTerminal reports whether no further status transition is allowed.
// Cancelled invoices can still be permanently deleted, but that is a
// destructive out-of-band operation, not a transition.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusCancelled
}

type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "Unpaid"
	PaymentStatusPartial PaymentStatus = "Partial"
	PaymentStatusPaid    PaymentStatus = "Paid"
)

type PriceTier string

const (
	PriceTierA PriceTier = "A"
	PriceTierB PriceTier = "B"
	PriceTierM PriceTier = "M"
)

func ParsePriceTier(s string) (PriceTier, error) {
	switch PriceTier(s) {
	case PriceTierA, PriceTierB, PriceTierM:
		return PriceTier(s), nil
	default:
		return "", fmt.Errorf("invalid price tier %q", s)
	}
}

type AccountClass string

const (
	AccountClassBank AccountClass = "bank"
	AccountClassCash AccountClass = "cash"
)

type StockMovementType string

const (
	// Stock received into a location (purchases, opening stock).
	StockMovementTypeIn StockMovementType = "in"
	// A claim against on-hand stock by an active invoice.
	StockMovementTypeReservation StockMovementType = "reservation"
	// A reservation given back (cancel, reconciliation).
	StockMovementTypeRelease StockMovementType = "release"
	// Physical stock-out; the only movement that reduces on-hand.
	StockMovementTypeOut StockMovementType = "out"
)

type StockReferenceType string

const (
	StockReferenceTypeInvoice        StockReferenceType = "IV"
	StockReferenceTypeDelivery       StockReferenceType = "DL"
	StockReferenceTypeApproval       StockReferenceType = "AP"
	StockReferenceTypeReceipt        StockReferenceType = "RC"
	StockReferenceTypeReconciliation StockReferenceType = "RN"
)
