package service

import (
	"context"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// Allocator draws stock for a product from batch items in first-in
// first-out order: oldest batch receipt date first, item id as tiebreak.
type Allocator struct {
	store  Store
	logger *zap.Logger
}

// NewAllocator creates a new FIFO allocator
func NewAllocator(s Store) *Allocator {
	return &Allocator{
		store:  s,
		logger: util.GetLogger(),
	}
}

// Allocate deducts quantity units of a product across batch items inside
// one transaction and records one movement per deduction. On a shortfall
// the transaction rolls back, so no partial allocation is ever visible.
// A non-nil pinnedBatchID means "only this batch, full or fail".
func (a *Allocator) Allocate(ctx context.Context, productID, quantity int64, pinnedBatchID *int64, reference string) ([]models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "Allocator.Allocate")
	defer span.End()

	var movements []models.StockMovement
	err := a.store.RunInTx(ctx, func(tx store.EngineTx) error {
		var txErr error
		movements, txErr = a.allocateInTx(ctx, tx, productID, quantity, pinnedBatchID, reference)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return movements, nil
}

// allocateInTx runs the FIFO walk inside an already-open transaction so
// a reservation transition can make allocation part of its own atomic
// scope.
func (a *Allocator) allocateInTx(ctx context.Context, tx store.EngineTx, productID, quantity int64, pinnedBatchID *int64, reference string) ([]models.StockMovement, error) {
	start := time.Now()
	defer func() {
		util.AllocationLatency.Observe(time.Since(start).Seconds())
	}()

	candidates, err := tx.CandidateBatchItems(ctx, productID, pinnedBatchID)
	if err != nil {
		util.AllocationsFailedTotal.WithLabelValues("storage_error").Inc()
		return nil, err
	}

	remaining := quantity
	movements := make([]models.StockMovement, 0, len(candidates))

	for i := range candidates {
		if remaining == 0 {
			break
		}
		item := &candidates[i]

		take := item.Quantity
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}

		if _, err := tx.DecrementBatchItem(ctx, item.ID, take); err != nil {
			util.AllocationsFailedTotal.WithLabelValues("storage_error").Inc()
			return nil, err
		}

		movement, err := models.NewOutboundMovement(item, take, reference, "fifo allocation")
		if err != nil {
			return nil, err
		}
		if err := tx.InsertMovement(ctx, movement); err != nil {
			util.AllocationsFailedTotal.WithLabelValues("storage_error").Inc()
			return nil, err
		}

		movements = append(movements, *movement)
		remaining -= take
	}

	if remaining > 0 {
		util.AllocationsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return nil, &InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Short:     remaining,
		}
	}

	util.AllocationsTotal.Inc()
	util.MovementsRecordedTotal.Add(float64(len(movements)))

	a.logger.Info("Stock allocated",
		zap.Int64("product_id", productID),
		zap.Int64("quantity", quantity),
		zap.Int("batch_items", len(movements)),
		zap.String("reference", reference))

	return movements, nil
}
