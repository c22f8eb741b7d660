package service

import (
	"context"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

// Store is the slice of the database store the engine depends on.
// *store.Store satisfies it; tests substitute an in-memory fake.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx store.EngineTx) error) error

	GetSale(ctx context.Context, saleID int64) (*models.Sale, error)
	GetSaleItems(ctx context.Context, saleID int64) ([]models.SaleItem, error)
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	ListReservationsBySale(ctx context.Context, saleID int64) ([]models.Reservation, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error)
	ListMovementsByBatchItem(ctx context.Context, batchItemID int64) ([]models.StockMovement, error)
	ProductAvailability(ctx context.Context, productID int64) (int64, error)
	ListProductAvailabilities(ctx context.Context) ([]store.ProductAvailabilityRow, error)
}

// AvailabilityCache is the fast-read cache of per-product on-hand
// quantity. Implemented by the redis client; every method is best
// effort from the engine's point of view.
type AvailabilityCache interface {
	GetAvailability(ctx context.Context, productID int64) (int64, bool, error)
	SetAvailability(ctx context.Context, productID, quantity int64) error
	DecrementAvailability(ctx context.Context, productID, quantity int64) error
}

// EventPublisher publishes domain events after a mutation commits.
// Implemented by the kafka broker.
type EventPublisher interface {
	PublishSaleSubmitted(ctx context.Context, event *models.SaleSubmittedEvent) error
	PublishSaleStatusChanged(ctx context.Context, event *models.SaleStatusChangedEvent) error
	PublishReservationTransitioned(ctx context.Context, event *models.ReservationTransitionedEvent) error
	PublishStockAllocated(ctx context.Context, event *models.StockAllocatedEvent) error
}
