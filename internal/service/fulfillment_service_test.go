package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFulfillmentFixture(s *memStore) (*FulfillmentService, *fakePublisher, *fakeCache) {
	publisher := &fakePublisher{}
	cache := newFakeCache()
	allocator := NewAllocator(s)
	reservations := NewReservationService(s, allocator)
	fulfillment := NewFulfillmentService(s, reservations, publisher, cache, time.Hour)
	return fulfillment, publisher, cache
}

func seedSaleWithStock(s *memStore) {
	seedTwoBatches(s)
	s.addBatch(3, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	s.addBatchItem(103, 3, 20, 6)
	s.addSale(1, models.SaleStatusDraft)
	s.addSaleItem(1, 10, 3, nil)
	s.addSaleItem(1, 20, 2, nil)
}

func TestSubmitCreatesPendingReservations(t *testing.T) {
	s := newMemStore()
	seedSaleWithStock(s)
	fulfillment, publisher, _ := newFulfillmentFixture(s)

	result, err := fulfillment.Submit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, models.SaleStatusPendingInventory, result.Status)

	sale, reservations, err := fulfillment.GetSale(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusPendingInventory, sale.Status)
	require.Len(t, reservations, 2)
	for _, r := range reservations {
		assert.Equal(t, models.ReservationStatusPending, r.Status)
		assert.NotNil(t, r.ExpiresAt)
	}
	assert.Contains(t, publisher.published(), models.EventTypeSaleSubmitted)
}

func TestSubmitIsIdempotent(t *testing.T) {
	s := newMemStore()
	seedSaleWithStock(s)
	fulfillment, _, _ := newFulfillmentFixture(s)

	first, err := fulfillment.Submit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := fulfillment.Submit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)

	_, reservations, err := fulfillment.GetSale(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, reservations, 2)
}

func TestSubmitRejectsEmptySale(t *testing.T) {
	s := newMemStore()
	s.addSale(7, models.SaleStatusDraft)
	fulfillment, _, _ := newFulfillmentFixture(s)

	_, err := fulfillment.Submit(context.Background(), 7)
	assert.Error(t, err)
}

func TestSubmitRejectsTerminalSale(t *testing.T) {
	s := newMemStore()
	seedSaleWithStock(s)
	s.addSale(2, models.SaleStatusReserved)
	s.addSaleItem(2, 10, 1, nil)
	fulfillment, _, _ := newFulfillmentFixture(s)

	_, err := fulfillment.Submit(context.Background(), 2)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestDecideReserveAllMovesSaleToReserved(t *testing.T) {
	s := newMemStore()
	seedSaleWithStock(s)
	fulfillment, publisher, cache := newFulfillmentFixture(s)
	cache.values[10] = 15
	ctx := context.Background()

	_, err := fulfillment.Submit(ctx, 1)
	require.NoError(t, err)
	_, reservations, err := fulfillment.GetSale(ctx, 1)
	require.NoError(t, err)

	for i, r := range reservations {
		result, err := fulfillment.Decide(ctx, r.ID, DecisionReserve)
		require.NoError(t, err)
		assert.Equal(t, models.ReservationStatusReserved, result.Reservation.Status)
		assert.NotEmpty(t, result.Movements)
		if i == len(reservations)-1 {
			assert.Equal(t, models.SaleStatusReserved, result.SaleStatus)
		} else {
			assert.Equal(t, models.SaleStatusPendingInventory, result.SaleStatus)
		}
	}

	sale, _, err := fulfillment.GetSale(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusReserved, sale.Status)

	// Product 10 ordered 3 units out of 15 cached.
	assert.Equal(t, int64(12), cache.values[10])

	published := publisher.published()
	assert.Contains(t, published, models.EventTypeStockAllocated)
	assert.Contains(t, published, models.EventTypeReservationReserved)
	assert.Contains(t, published, models.EventTypeSaleReserved)
}

func TestDecideRejectMovesSaleToRejected(t *testing.T) {
	s := newMemStore()
	seedSaleWithStock(s)
	fulfillment, publisher, _ := newFulfillmentFixture(s)
	ctx := context.Background()

	_, err := fulfillment.Submit(ctx, 1)
	require.NoError(t, err)
	_, reservations, err := fulfillment.GetSale(ctx, 1)
	require.NoError(t, err)

	result, err := fulfillment.Decide(ctx, reservations[0].ID, DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusRejected, result.SaleStatus)

	// No stock was touched by the rejection.
	assert.Equal(t, int64(5), s.batchItemQuantity(101))
	assert.Contains(t, publisher.published(), models.EventTypeSaleRejected)
}

func TestDecideInsufficientStockLeavesReservationPending(t *testing.T) {
	s := newMemStore()
	seedTwoBatches(s)
	s.addSale(1, models.SaleStatusDraft)
	s.addSaleItem(1, 10, 50, nil)
	fulfillment, _, _ := newFulfillmentFixture(s)
	ctx := context.Background()

	_, err := fulfillment.Submit(ctx, 1)
	require.NoError(t, err)
	_, reservations, err := fulfillment.GetSale(ctx, 1)
	require.NoError(t, err)

	_, err = fulfillment.Decide(ctx, reservations[0].ID, DecisionReserve)
	require.True(t, IsInsufficientStock(err))

	// Nothing committed: stock intact, reservation still pending, sale
	// still pending_inventory.
	assert.Equal(t, int64(5), s.batchItemQuantity(101))
	assert.Equal(t, int64(10), s.batchItemQuantity(102))
	sale, reservations, err := fulfillment.GetSale(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusPendingInventory, sale.Status)
	assert.Equal(t, models.ReservationStatusPending, reservations[0].Status)
}

func TestDecideTwiceIsIllegal(t *testing.T) {
	s := newMemStore()
	seedSaleWithStock(s)
	fulfillment, _, _ := newFulfillmentFixture(s)
	ctx := context.Background()

	_, err := fulfillment.Submit(ctx, 1)
	require.NoError(t, err)
	_, reservations, err := fulfillment.GetSale(ctx, 1)
	require.NoError(t, err)

	_, err = fulfillment.Decide(ctx, reservations[0].ID, DecisionReserve)
	require.NoError(t, err)
	_, err = fulfillment.Decide(ctx, reservations[0].ID, DecisionReserve)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestConcurrentReserveDecisionsDeductOnce(t *testing.T) {
	s := newMemStore()
	seedTwoBatches(s)
	s.addSale(1, models.SaleStatusDraft)
	s.addSaleItem(1, 10, 3, nil)
	fulfillment, _, _ := newFulfillmentFixture(s)
	ctx := context.Background()

	_, err := fulfillment.Submit(ctx, 1)
	require.NoError(t, err)
	_, reservations, err := fulfillment.GetSale(ctx, 1)
	require.NoError(t, err)
	reservationID := reservations[0].ID

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fulfillment.Decide(ctx, reservationID, DecisionReserve)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrIllegalTransition)
		}
	}
	assert.Equal(t, 1, succeeded)

	// Stock for the 3 requested units was deducted exactly once.
	assert.Equal(t, int64(12), s.batchItemQuantity(101)+s.batchItemQuantity(102))
}

func TestStatusProjectionNeverReservedWhilePending(t *testing.T) {
	s := newMemStore()
	seedSaleWithStock(s)
	fulfillment, _, _ := newFulfillmentFixture(s)
	ctx := context.Background()

	_, err := fulfillment.Submit(ctx, 1)
	require.NoError(t, err)
	_, reservations, err := fulfillment.GetSale(ctx, 1)
	require.NoError(t, err)

	_, err = fulfillment.Decide(ctx, reservations[0].ID, DecisionReserve)
	require.NoError(t, err)

	sale, _, err := fulfillment.GetSale(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusPendingInventory, sale.Status)
}

func TestFulfillImmediatelyReservesEverything(t *testing.T) {
	s := newMemStore()
	seedSaleWithStock(s)
	fulfillment, _, _ := newFulfillmentFixture(s)

	result, err := fulfillment.FulfillImmediately(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusReserved, result.Status)
	assert.Equal(t, 2, result.Reserved)
	assert.Equal(t, int64(5), result.Quantity)

	assert.Equal(t, int64(2), s.batchItemQuantity(101))
	assert.Equal(t, int64(4), s.batchItemQuantity(103))
}

func TestFulfillImmediatelyPartialFailureKeepsEarlierItems(t *testing.T) {
	s := newMemStore()
	seedTwoBatches(s)
	s.addSale(1, models.SaleStatusDraft)
	s.addSaleItem(1, 10, 3, nil)
	// Product 30 has no stock at all.
	s.addSaleItem(1, 30, 1, nil)
	fulfillment, _, _ := newFulfillmentFixture(s)
	ctx := context.Background()

	_, err := fulfillment.FulfillImmediately(ctx, 1)
	require.Error(t, err)
	require.True(t, IsInsufficientStock(err))

	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, int64(30), ise.ProductID)
	assert.Equal(t, int64(1), ise.Short)

	// Per-item atomicity: the first item stays reserved, the sale stays
	// pending_inventory.
	sale, reservations, err := fulfillment.GetSale(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusPendingInventory, sale.Status)
	require.Len(t, reservations, 2)
	assert.Equal(t, models.ReservationStatusReserved, reservations[0].Status)
	assert.Equal(t, models.ReservationStatusPending, reservations[1].Status)
	assert.Equal(t, int64(12), s.batchItemQuantity(101)+s.batchItemQuantity(102))
}

func TestConfirmDelivery(t *testing.T) {
	s := newMemStore()
	seedSaleWithStock(s)
	fulfillment, publisher, _ := newFulfillmentFixture(s)
	ctx := context.Background()

	_, err := fulfillment.ConfirmDelivery(ctx, 1)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = fulfillment.FulfillImmediately(ctx, 1)
	require.NoError(t, err)

	sale, err := fulfillment.ConfirmDelivery(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusDelivered, sale.Status)
	assert.Contains(t, publisher.published(), models.EventTypeSaleDelivered)
}

func TestCancelExpiredSweepsPendingReservations(t *testing.T) {
	s := newMemStore()
	seedTwoBatches(s)
	s.addSale(1, models.SaleStatusDraft)
	s.addSaleItem(1, 10, 2, nil)
	publisher := &fakePublisher{}
	allocator := NewAllocator(s)
	reservations := NewReservationService(s, allocator)
	fulfillment := NewFulfillmentService(s, reservations, publisher, newFakeCache(), time.Nanosecond)
	ctx := context.Background()

	_, err := fulfillment.Submit(ctx, 1)
	require.NoError(t, err)

	cancelled, err := fulfillment.CancelExpired(ctx, time.Now().Add(time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	sale, rows, err := fulfillment.GetSale(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusCancelled, sale.Status)
	assert.Equal(t, models.ReservationStatusCancelled, rows[0].Status)

	// A second sweep finds nothing.
	cancelled, err = fulfillment.CancelExpired(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, cancelled)
}
