package models

import "time"

// Event types
const (
	EventTypeSaleSubmitted        = "SALE_SUBMITTED"
	EventTypeSaleReserved         = "SALE_RESERVED"
	EventTypeSaleRejected         = "SALE_REJECTED"
	EventTypeSaleCancelled        = "SALE_CANCELLED"
	EventTypeSaleDelivered        = "SALE_DELIVERED"
	EventTypeReservationReserved  = "RESERVATION_RESERVED"
	EventTypeReservationRejected  = "RESERVATION_REJECTED"
	EventTypeReservationCancelled = "RESERVATION_CANCELLED"
	EventTypeReservationDecision  = "RESERVATION_DECISION"
	EventTypeStockAllocated       = "STOCK_ALLOCATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SaleSubmittedEvent published when a sale enters pending_inventory
type SaleSubmittedEvent struct {
	BaseEvent
	SaleID       int64 `json:"sale_id"`
	Reservations int   `json:"reservations"`
}

// SaleStatusChangedEvent published when the sale projection changes
type SaleStatusChangedEvent struct {
	BaseEvent
	SaleID int64      `json:"sale_id"`
	Status SaleStatus `json:"status"`
}

// ReservationTransitionedEvent published when a reservation reaches a
// terminal status
type ReservationTransitionedEvent struct {
	BaseEvent
	ReservationID int64             `json:"reservation_id"`
	SaleID        int64             `json:"sale_id"`
	ProductID     int64             `json:"product_id"`
	Quantity      int64             `json:"quantity"`
	Status        ReservationStatus `json:"status"`
}

// StockAllocatedEvent published after a committed FIFO allocation
type StockAllocatedEvent struct {
	BaseEvent
	ReservationID int64              `json:"reservation_id"`
	SaleID        int64              `json:"sale_id"`
	ProductID     int64              `json:"product_id"`
	Movements     []MovementEventRow `json:"movements"`
}

// MovementEventRow is the event-facing shape of one movement record
type MovementEventRow struct {
	BatchItemID int64  `json:"batch_item_id"`
	Delta       int64  `json:"delta"`
	UnitCost    string `json:"unit_cost"`
}

// ReservationDecisionEvent consumed from operator tooling; drives Decide
type ReservationDecisionEvent struct {
	BaseEvent
	ReservationID int64  `json:"reservation_id"`
	Decision      string `json:"decision"`
	Operator      string `json:"operator,omitempty"`
}

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
