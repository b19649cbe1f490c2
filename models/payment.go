package models

import (
	"github.com/shopspring/decimal"
)

// PaymentInput carries the payment legs captured with an invoice. Either the
// bank/cash split or a single received amount may be supplied; when both are
// present the split wins.
type PaymentInput struct {
	BankAccountId  *int             `json:"bank_account_id"`
	BankAmount     decimal.Decimal  `json:"bank_amount"`
	CashAccountId  *int             `json:"cash_account_id"`
	CashAmount     decimal.Decimal  `json:"cash_amount"`
	ReceivedAmount *decimal.Decimal `json:"received_amount"`
}

// AllocatePayment computes paid and due amounts for an invoice total. Due may
// go negative on overpayment; the excess is preserved, never clamped.
func AllocatePayment(payment *PaymentInput, grandTotal decimal.Decimal) (paid decimal.Decimal, due decimal.Decimal) {
	if payment == nil {
		return decimal.Zero, grandTotal
	}
	paid = payment.BankAmount.Add(payment.CashAmount)
	if paid.IsZero() && payment.ReceivedAmount != nil {
		paid = *payment.ReceivedAmount
	}
	return paid, grandTotal.Sub(paid)
}

// DerivePaymentStatus maps paid vs total onto Unpaid, Partial or Paid.
// Overpayment still reads as Paid.
func DerivePaymentStatus(paid decimal.Decimal, grandTotal decimal.Decimal) PaymentStatus {
	switch {
	case paid.LessThanOrEqual(decimal.Zero):
		return PaymentStatusUnpaid
	case paid.GreaterThanOrEqual(grandTotal):
		return PaymentStatusPaid
	default:
		return PaymentStatusPartial
	}
}
