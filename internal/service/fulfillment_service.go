package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Decision is an inventory operator's verdict on a pending reservation.
type Decision string

const (
	DecisionReserve Decision = "reserve"
	DecisionReject  Decision = "reject"
	DecisionCancel  Decision = "cancel"
)

func (d Decision) targetStatus() (models.ReservationStatus, error) {
	switch d {
	case DecisionReserve:
		return models.ReservationStatusReserved, nil
	case DecisionReject:
		return models.ReservationStatusRejected, nil
	case DecisionCancel:
		return models.ReservationStatusCancelled, nil
	}
	return "", fmt.Errorf("unknown decision %q: %w", d, ErrIllegalTransition)
}

// FulfillmentService coordinates sale-level status from the aggregate
// state of a sale's reservations. Reservations are the source of truth;
// the sale status column is only ever written with the output of
// models.DeriveSaleStatus.
type FulfillmentService struct {
	store          Store
	reservations   *ReservationService
	publisher      EventPublisher
	cache          AvailabilityCache
	logger         *zap.Logger
	reservationTTL time.Duration
}

// NewFulfillmentService creates a new fulfillment orchestrator
func NewFulfillmentService(
	s Store,
	reservations *ReservationService,
	publisher EventPublisher,
	cache AvailabilityCache,
	reservationTTL time.Duration,
) *FulfillmentService {
	return &FulfillmentService{
		store:          s,
		reservations:   reservations,
		publisher:      publisher,
		cache:          cache,
		logger:         util.GetLogger(),
		reservationTTL: reservationTTL,
	}
}

// SubmitResult reports what Submit did
type SubmitResult struct {
	SaleID       int64             `json:"sale_id"`
	Status       models.SaleStatus `json:"status"`
	Reservations int               `json:"reservations"`
	Created      int               `json:"created"`
}

// Submit creates a pending reservation for every line item that does not
// already have an active one and moves the sale to pending_inventory.
// Idempotent: re-submitting never duplicates reservations.
func (f *FulfillmentService) Submit(ctx context.Context, saleID int64) (*SubmitResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.Submit")
	defer span.End()

	var result SubmitResult
	err := f.store.RunInTx(ctx, func(tx store.EngineTx) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusDraft && sale.Status != models.SaleStatusPendingInventory {
			return fmt.Errorf("sale %d is %s, cannot submit: %w", saleID, sale.Status, ErrIllegalTransition)
		}

		items, err := tx.GetSaleItems(ctx, saleID)
		if err != nil {
			return fmt.Errorf("failed to load sale items: %w", err)
		}
		if len(items) == 0 {
			return fmt.Errorf("sale %d has no line items", saleID)
		}

		var expiresAt *time.Time
		if f.reservationTTL > 0 {
			t := time.Now().Add(f.reservationTTL)
			expiresAt = &t
		}

		created := 0
		for _, item := range items {
			_, err := f.reservations.createPendingInTx(ctx, tx,
				saleID, item.ProductID, item.BatchID, item.Quantity, expiresAt)
			if errors.Is(err, ErrDuplicateReservation) {
				continue
			}
			if err != nil {
				return err
			}
			created++
		}

		if sale.Status != models.SaleStatusPendingInventory {
			if err := tx.UpdateSaleStatus(ctx, saleID, models.SaleStatusPendingInventory); err != nil {
				return fmt.Errorf("failed to update sale status: %w", err)
			}
		}

		result = SubmitResult{
			SaleID:       saleID,
			Status:       models.SaleStatusPendingInventory,
			Reservations: len(items),
			Created:      created,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.SalesSubmittedTotal.Inc()
	f.logger.Info("Sale submitted",
		zap.Int64("sale_id", saleID),
		zap.Int("created", result.Created))

	event := &models.SaleSubmittedEvent{
		BaseEvent:    newBaseEvent(models.EventTypeSaleSubmitted),
		SaleID:       saleID,
		Reservations: result.Reservations,
	}
	if err := f.publisher.PublishSaleSubmitted(ctx, event); err != nil {
		f.logger.Error("Failed to publish SaleSubmitted event", zap.Error(err))
	}

	return &result, nil
}

// DecideResult reports the outcome of a reservation decision
type DecideResult struct {
	Reservation *models.Reservation    `json:"reservation"`
	Movements   []models.StockMovement `json:"movements,omitempty"`
	SaleStatus  models.SaleStatus      `json:"sale_status"`
}

// Decide applies an operator decision to one reservation and recomputes
// the sale status projection in the same transaction, so a reader right
// after a successful call sees the updated sale.
func (f *FulfillmentService) Decide(ctx context.Context, reservationID int64, decision Decision) (*DecideResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.Decide")
	defer span.End()

	target, err := decision.targetStatus()
	if err != nil {
		return nil, err
	}

	// Read outside the transaction only to learn the sale id; the sale
	// row is then locked before the reservation row, matching Submit's
	// lock order.
	current, err := f.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	var result DecideResult
	err = f.store.RunInTx(ctx, func(tx store.EngineTx) error {
		sale, err := tx.GetSaleForUpdate(ctx, current.SaleID)
		if err != nil {
			return err
		}

		reservation, movements, err := f.reservations.transitionInTx(ctx, tx, reservationID, target)
		if err != nil {
			return err
		}

		all, err := tx.ListReservationsBySale(ctx, reservation.SaleID)
		if err != nil {
			return fmt.Errorf("failed to list reservations: %w", err)
		}

		saleStatus := sale.Status
		if derived, changed := models.DeriveSaleStatus(all); changed && derived != sale.Status {
			if err := tx.UpdateSaleStatus(ctx, sale.ID, derived); err != nil {
				return fmt.Errorf("failed to update sale status: %w", err)
			}
			saleStatus = derived
		}

		result = DecideResult{
			Reservation: reservation,
			Movements:   movements,
			SaleStatus:  saleStatus,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.afterDecide(ctx, &result)
	return &result, nil
}

// afterDecide handles the best-effort side effects of a committed
// decision: cache upkeep, events, sale-level metrics.
func (f *FulfillmentService) afterDecide(ctx context.Context, result *DecideResult) {
	reservation := result.Reservation

	if reservation.Status == models.ReservationStatusReserved {
		if err := f.cache.DecrementAvailability(ctx, reservation.ProductID, reservation.Quantity); err != nil {
			f.logger.Warn("Failed to update availability cache",
				zap.Int64("product_id", reservation.ProductID),
				zap.Error(err))
		}

		rows := make([]models.MovementEventRow, 0, len(result.Movements))
		for _, m := range result.Movements {
			rows = append(rows, models.MovementEventRow{
				BatchItemID: m.BatchItemID,
				Delta:       m.Delta,
				UnitCost:    m.UnitCost.String(),
			})
		}
		allocated := &models.StockAllocatedEvent{
			BaseEvent:     newBaseEvent(models.EventTypeStockAllocated),
			ReservationID: reservation.ID,
			SaleID:        reservation.SaleID,
			ProductID:     reservation.ProductID,
			Movements:     rows,
		}
		if err := f.publisher.PublishStockAllocated(ctx, allocated); err != nil {
			f.logger.Error("Failed to publish StockAllocated event", zap.Error(err))
		}
	}

	transitioned := &models.ReservationTransitionedEvent{
		BaseEvent:     newBaseEvent(reservationEventType(reservation.Status)),
		ReservationID: reservation.ID,
		SaleID:        reservation.SaleID,
		ProductID:     reservation.ProductID,
		Quantity:      reservation.Quantity,
		Status:        reservation.Status,
	}
	if err := f.publisher.PublishReservationTransitioned(ctx, transitioned); err != nil {
		f.logger.Error("Failed to publish reservation event", zap.Error(err))
	}

	switch result.SaleStatus {
	case models.SaleStatusReserved:
		util.SalesReservedTotal.Inc()
	case models.SaleStatusRejected:
		util.SalesRejectedTotal.Inc()
	case models.SaleStatusCancelled:
		util.SalesCancelledTotal.Inc()
	default:
		return
	}

	changed := &models.SaleStatusChangedEvent{
		BaseEvent: newBaseEvent(saleEventType(result.SaleStatus)),
		SaleID:    reservation.SaleID,
		Status:    result.SaleStatus,
	}
	if err := f.publisher.PublishSaleStatusChanged(ctx, changed); err != nil {
		f.logger.Error("Failed to publish sale status event", zap.Error(err))
	}
}

// FulfillResult reports the outcome of an immediate fulfillment
type FulfillResult struct {
	SaleID   int64             `json:"sale_id"`
	Status   models.SaleStatus `json:"status"`
	Reserved int               `json:"reserved"`
	Quantity int64             `json:"quantity"`
}

// FulfillImmediately submits the sale and then reserves every pending
// reservation in one pass. Atomicity is per line item: a failure on a
// later item leaves earlier items reserved and the sale in
// pending_inventory, and the returned error names the failing product
// and shortfall.
func (f *FulfillmentService) FulfillImmediately(ctx context.Context, saleID int64) (*FulfillResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.FulfillImmediately")
	defer span.End()

	if _, err := f.Submit(ctx, saleID); err != nil {
		return nil, err
	}

	reservations, err := f.store.ListReservationsBySale(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	result := FulfillResult{SaleID: saleID, Status: models.SaleStatusPendingInventory}
	for _, r := range reservations {
		if r.Status != models.ReservationStatusPending {
			continue
		}
		decided, err := f.Decide(ctx, r.ID, DecisionReserve)
		if err != nil {
			if IsInsufficientStock(err) {
				return nil, fmt.Errorf("fulfillment of sale %d stopped: %w", saleID, err)
			}
			return nil, err
		}
		result.Reserved++
		result.Quantity += r.Quantity
		result.Status = decided.SaleStatus
	}

	f.logger.Info("Sale fulfilled immediately",
		zap.Int64("sale_id", saleID),
		zap.Int("reserved", result.Reserved))
	return &result, nil
}

// ConfirmDelivery moves a fully reserved sale to delivered. Called by
// the sales subsystem once physical delivery is confirmed.
func (f *FulfillmentService) ConfirmDelivery(ctx context.Context, saleID int64) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.ConfirmDelivery")
	defer span.End()

	var sale *models.Sale
	err := f.store.RunInTx(ctx, func(tx store.EngineTx) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusReserved {
			return fmt.Errorf("sale %d is %s, cannot deliver: %w", saleID, sale.Status, ErrIllegalTransition)
		}
		if err := tx.UpdateSaleStatus(ctx, saleID, models.SaleStatusDelivered); err != nil {
			return fmt.Errorf("failed to update sale status: %w", err)
		}
		sale.Status = models.SaleStatusDelivered
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := &models.SaleStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeSaleDelivered),
		SaleID:    saleID,
		Status:    models.SaleStatusDelivered,
	}
	if err := f.publisher.PublishSaleStatusChanged(ctx, event); err != nil {
		f.logger.Error("Failed to publish SaleDelivered event", zap.Error(err))
	}
	return sale, nil
}

// CancelExpired cancels pending reservations whose expiry has passed,
// through the same Decide contract an external scheduler would use.
func (f *FulfillmentService) CancelExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.CancelExpired")
	defer span.End()

	expired, err := f.store.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}

	cancelled := 0
	for _, r := range expired {
		if _, err := f.Decide(ctx, r.ID, DecisionCancel); err != nil {
			// A concurrent decision may have already settled the row.
			if errors.Is(err, ErrIllegalTransition) {
				continue
			}
			f.logger.Error("Failed to cancel expired reservation",
				zap.Int64("reservation_id", r.ID),
				zap.Error(err))
			continue
		}
		cancelled++
	}

	if cancelled > 0 {
		util.ExpiredReservationsSweptTotal.Add(float64(cancelled))
		f.logger.Info("Expired reservations cancelled", zap.Int("count", cancelled))
	}
	return cancelled, nil
}

// GetSale retrieves a sale with its reservations
func (f *FulfillmentService) GetSale(ctx context.Context, saleID int64) (*models.Sale, []models.Reservation, error) {
	sale, err := f.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, nil, err
	}
	reservations, err := f.store.ListReservationsBySale(ctx, saleID)
	if err != nil {
		return nil, nil, err
	}
	return sale, reservations, nil
}

// GetMovements retrieves the movement log for a batch item
func (f *FulfillmentService) GetMovements(ctx context.Context, batchItemID int64) ([]models.StockMovement, error) {
	return f.store.ListMovementsByBatchItem(ctx, batchItemID)
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func reservationEventType(status models.ReservationStatus) string {
	switch status {
	case models.ReservationStatusReserved:
		return models.EventTypeReservationReserved
	case models.ReservationStatusRejected:
		return models.EventTypeReservationRejected
	default:
		return models.EventTypeReservationCancelled
	}
}

func saleEventType(status models.SaleStatus) string {
	switch status {
	case models.SaleStatusReserved:
		return models.EventTypeSaleReserved
	case models.SaleStatusRejected:
		return models.EventTypeSaleRejected
	default:
		return models.EventTypeSaleCancelled
	}
}
