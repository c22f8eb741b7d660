package service

import (
	"errors"
	"fmt"
)

// ErrDuplicateReservation is returned by CreatePending when a pending or
// reserved row already exists for the same (sale, product, batch) tuple.
// Idempotent callers treat it as a no-op.
var ErrDuplicateReservation = errors.New("duplicate reservation")

// ErrIllegalTransition is returned for a reservation or sale status
// change outside the legal transition table. A usage error, never
// retried automatically.
var ErrIllegalTransition = errors.New("illegal status transition")

// InsufficientStockError reports a failed allocation with the exact
// shortfall so operators can split the order or wait for restock.
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Short     int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, short %d",
		e.ProductID, e.Requested, e.Short)
}

// IsInsufficientStock reports whether err is an allocation shortfall.
func IsInsufficientStock(err error) bool {
	var ise *InsufficientStockError
	return errors.As(err, &ise)
}
