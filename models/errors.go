package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError: bad input (no items, zero quantity, duplicate challan,
// unknown price tier). No state change has happened when one is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError: a reservation or consumption would exceed what the
// ledger can cover. The whole operation is aborted.
type InsufficientStockError struct {
	PartId    int
	PartNo    string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for part %s (available=%s, requested=%s)",
		e.PartNo, e.Available.String(), e.Requested.String())
}

// InvalidTransitionError: the requested status change is not legal from the
// invoice's current status.
type InvalidTransitionError struct {
	From InvoiceStatus
	To   InvoiceStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %q -> %q", e.From, e.To)
}

// ConcurrentModificationError: the caller submitted a transition holding a
// stale invoice version. Re-fetch and retry; never auto-retried internally.
type ConcurrentModificationError struct {
	InvoiceId     int
	GivenVersion  int
	ActualVersion int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("invoice %d was modified concurrently (given version=%d, actual=%d)",
		e.InvoiceId, e.GivenVersion, e.ActualVersion)
}

// InternalConsistencyError: a defensive invariant check failed (reserved
// would go negative, reserved would exceed on-hand). Never silently
// corrected; the operation fails and the condition is logged.
type InternalConsistencyError struct {
	Message string
}

func (e *InternalConsistencyError) Error() string { return e.Message }

func NewInternalConsistencyError(format string, args ...any) error {
	return &InternalConsistencyError{Message: fmt.Sprintf(format, args...)}
}
