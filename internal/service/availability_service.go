package service

import (
	"context"
	"fmt"

	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// AvailabilityService answers "how many units of this product are on
// hand across all batches" from the redis cache, falling back to the
// store. The store is authoritative; the cache only serves reads.
type AvailabilityService struct {
	store  Store
	cache  AvailabilityCache
	logger *zap.Logger
}

// NewAvailabilityService creates a new availability service
func NewAvailabilityService(s Store, cache AvailabilityCache) *AvailabilityService {
	return &AvailabilityService{
		store:  s,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Get returns the total on-hand quantity for a product
func (as *AvailabilityService) Get(ctx context.Context, productID int64) (int64, error) {
	ctx, span := util.StartSpan(ctx, "AvailabilityService.Get")
	defer span.End()

	quantity, found, err := as.cache.GetAvailability(ctx, productID)
	if err != nil {
		as.logger.Warn("Availability cache read failed, falling back to DB",
			zap.Int64("product_id", productID),
			zap.Error(err))
	} else if found {
		return quantity, nil
	}

	quantity, err = as.store.ProductAvailability(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to read product availability: %w", err)
	}

	if err := as.cache.SetAvailability(ctx, productID, quantity); err != nil {
		as.logger.Warn("Failed to populate availability cache",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
	return quantity, nil
}

// SyncToCache loads every product's summed quantity into the cache.
// Called at startup so availability reads are warm from the first
// request.
func (as *AvailabilityService) SyncToCache(ctx context.Context) error {
	as.logger.Info("Starting availability sync to cache")

	rows, err := as.store.ListProductAvailabilities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list product availabilities: %w", err)
	}

	for _, row := range rows {
		if err := as.cache.SetAvailability(ctx, row.ProductID, row.Quantity); err != nil {
			as.logger.Error("Failed to cache availability",
				zap.Int64("product_id", row.ProductID),
				zap.Error(err))
		}
	}

	as.logger.Info("Availability sync completed", zap.Int("products", len(rows)))
	return nil
}
