package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SaleStatus is the lifecycle status of a sale as a whole.
type SaleStatus string

const (
	SaleStatusDraft            SaleStatus = "DRAFT"
	SaleStatusPendingInventory SaleStatus = "PENDING_INVENTORY"
	SaleStatusReserved         SaleStatus = "RESERVED"
	SaleStatusRejected         SaleStatus = "REJECTED"
	SaleStatusCancelled        SaleStatus = "CANCELLED"
	SaleStatusDelivered        SaleStatus = "DELIVERED"
)

// ReservationStatus is the status of a single reservation row.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusRejected  ReservationStatus = "REJECTED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ReservationStatus) IsTerminal() bool {
	return s != ReservationStatusPending
}

// CanTransitionTo reports whether s -> target is a legal transition.
// Only a pending reservation can move, and only to a terminal status.
func (s ReservationStatus) CanTransitionTo(target ReservationStatus) bool {
	if s != ReservationStatusPending {
		return false
	}
	switch target {
	case ReservationStatusReserved, ReservationStatusRejected, ReservationStatusCancelled:
		return true
	}
	return false
}

// Batch represents a received lot of stock, owned by the purchasing
// subsystem. Read-only here except for its items.
type Batch struct {
	ID         int64     `db:"id" json:"id"`
	SupplierID int64     `db:"supplier_id" json:"supplier_id"`
	ReceivedAt time.Time `db:"received_at" json:"received_at"`
	Status     string    `db:"status" json:"status"`
}

// BatchItem is the quantity-on-hand of one product within one batch.
type BatchItem struct {
	ID        int64           `db:"id" json:"id"`
	BatchID   int64           `db:"batch_id" json:"batch_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int64           `db:"quantity" json:"quantity"`
	UnitCost  decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	ExpiresAt *time.Time      `db:"expires_at" json:"expires_at,omitempty"`

	// ReceivedAt is joined from the owning batch for FIFO ordering.
	ReceivedAt time.Time `db:"received_at" json:"received_at"`
}

// IsExpired returns true if the item has passed its expiry date.
func (bi *BatchItem) IsExpired(now time.Time) bool {
	if bi.ExpiresAt == nil {
		return false
	}
	return bi.ExpiresAt.Before(now)
}

// StockMovement is an append-only audit record of one quantity change
// against a batch item.
type StockMovement struct {
	ID          int64           `db:"id" json:"id"`
	BatchItemID int64           `db:"batch_item_id" json:"batch_item_id"`
	Delta       int64           `db:"delta" json:"delta"`
	UnitCost    decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	Reference   string          `db:"reference" json:"reference"`
	Note        string          `db:"note" json:"note,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// NewOutboundMovement builds the movement record for a deduction of
// quantity units from a batch item.
func NewOutboundMovement(item *BatchItem, quantity int64, reference, note string) (*StockMovement, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("movement quantity must be positive, got %d", quantity)
	}
	return &StockMovement{
		BatchItemID: item.ID,
		Delta:       -quantity,
		UnitCost:    item.UnitCost,
		Reference:   reference,
		Note:        note,
	}, nil
}

// Reservation commits a quantity of a product (optionally from one
// specific batch) to a sale. Rows are never deleted, only transitioned.
type Reservation struct {
	ID        int64             `db:"id" json:"id"`
	SaleID    int64             `db:"sale_id" json:"sale_id"`
	ProductID int64             `db:"product_id" json:"product_id"`
	BatchID   *int64            `db:"batch_id" json:"batch_id,omitempty"`
	Quantity  int64             `db:"quantity" json:"quantity"`
	Status    ReservationStatus `db:"status" json:"status"`
	ExpiresAt *time.Time        `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// NewReservation builds a pending reservation, validating that illegal
// states are unrepresentable from the start.
func NewReservation(saleID, productID int64, batchID *int64, quantity int64, expiresAt *time.Time) (*Reservation, error) {
	if saleID <= 0 {
		return nil, fmt.Errorf("reservation requires a sale id")
	}
	if productID <= 0 {
		return nil, fmt.Errorf("reservation requires a product id")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("reservation quantity must be positive, got %d", quantity)
	}
	if batchID != nil && *batchID <= 0 {
		return nil, fmt.Errorf("invalid batch id %d", *batchID)
	}
	return &Reservation{
		SaleID:    saleID,
		ProductID: productID,
		BatchID:   batchID,
		Quantity:  quantity,
		Status:    ReservationStatusPending,
		ExpiresAt: expiresAt,
	}, nil
}

// Sale is the aggregate order, owned by the sales subsystem. Its status
// column is a cached projection of its reservations' statuses.
type Sale struct {
	ID         int64      `db:"id" json:"id"`
	CustomerID int64      `db:"customer_id" json:"customer_id"`
	Status     SaleStatus `db:"status" json:"status"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// SaleItem is one line item of a sale.
type SaleItem struct {
	ID        int64  `db:"id" json:"id"`
	SaleID    int64  `db:"sale_id" json:"sale_id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	BatchID   *int64 `db:"batch_id" json:"batch_id,omitempty"`
	Quantity  int64  `db:"quantity" json:"quantity"`
}

// DeriveSaleStatus computes the sale status implied by its reservations.
// Reservations are the source of truth; the sale column is only ever
// written with the result of this function.
//
// Rules: an empty set or any pending reservation leaves the status
// unchanged, except that a rejection wins immediately. A fully terminal
// set with at least one cancellation (and no rejection) cancels the sale.
// All reserved means reserved.
func DeriveSaleStatus(reservations []Reservation) (SaleStatus, bool) {
	if len(reservations) == 0 {
		return "", false
	}

	var pending, reserved, rejected, cancelled int
	for _, r := range reservations {
		switch r.Status {
		case ReservationStatusPending:
			pending++
		case ReservationStatusReserved:
			reserved++
		case ReservationStatusRejected:
			rejected++
		case ReservationStatusCancelled:
			cancelled++
		}
	}

	switch {
	case rejected > 0:
		return SaleStatusRejected, true
	case pending > 0:
		return "", false
	case cancelled > 0:
		return SaleStatusCancelled, true
	case reserved == len(reservations):
		return SaleStatusReserved, true
	}
	return "", false
}
