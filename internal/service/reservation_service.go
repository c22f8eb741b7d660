package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// ReservationService owns the reservation ledger: one row per
// (sale, product, batch) tuple a line item asked for. Rows are only ever
// inserted as pending and transitioned, never deleted.
type ReservationService struct {
	store     Store
	allocator *Allocator
	logger    *zap.Logger
}

// NewReservationService creates a new reservation service
func NewReservationService(s Store, allocator *Allocator) *ReservationService {
	return &ReservationService{
		store:     s,
		allocator: allocator,
		logger:    util.GetLogger(),
	}
}

// CreatePending inserts a pending reservation, failing with
// ErrDuplicateReservation if an active one already exists for the same
// tuple. Safe to retry.
func (rs *ReservationService) CreatePending(ctx context.Context, saleID, productID int64, batchID *int64, quantity int64, expiresAt *time.Time) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.CreatePending")
	defer span.End()

	var reservation *models.Reservation
	err := rs.store.RunInTx(ctx, func(tx store.EngineTx) error {
		var txErr error
		reservation, txErr = rs.createPendingInTx(ctx, tx, saleID, productID, batchID, quantity, expiresAt)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (rs *ReservationService) createPendingInTx(ctx context.Context, tx store.EngineTx, saleID, productID int64, batchID *int64, quantity int64, expiresAt *time.Time) (*models.Reservation, error) {
	exists, err := tx.HasActiveReservation(ctx, saleID, productID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing reservation: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("sale %d product %d: %w", saleID, productID, ErrDuplicateReservation)
	}

	reservation, err := models.NewReservation(saleID, productID, batchID, quantity, expiresAt)
	if err != nil {
		return nil, err
	}
	if err := tx.InsertReservation(ctx, reservation); err != nil {
		return nil, fmt.Errorf("failed to insert reservation: %w", err)
	}

	util.ReservationsCreatedTotal.Inc()
	return reservation, nil
}

// Transition moves a reservation to a terminal status. A transition to
// reserved runs the FIFO allocator inside the same transaction: if
// allocation fails the row stays pending and the caller sees the
// shortfall, with nothing committed.
func (rs *ReservationService) Transition(ctx context.Context, reservationID int64, target models.ReservationStatus) (*models.Reservation, []models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Transition")
	defer span.End()

	var reservation *models.Reservation
	var movements []models.StockMovement
	err := rs.store.RunInTx(ctx, func(tx store.EngineTx) error {
		var txErr error
		reservation, movements, txErr = rs.transitionInTx(ctx, tx, reservationID, target)
		return txErr
	})
	if err != nil {
		return nil, nil, err
	}
	return reservation, movements, nil
}

func (rs *ReservationService) transitionInTx(ctx context.Context, tx store.EngineTx, reservationID int64, target models.ReservationStatus) (*models.Reservation, []models.StockMovement, error) {
	reservation, err := tx.GetReservationForUpdate(ctx, reservationID)
	if err != nil {
		return nil, nil, err
	}

	if !reservation.Status.CanTransitionTo(target) {
		return nil, nil, fmt.Errorf("reservation %d is %s, cannot become %s: %w",
			reservationID, reservation.Status, target, ErrIllegalTransition)
	}

	var movements []models.StockMovement
	if target == models.ReservationStatusReserved {
		reference := fmt.Sprintf("sale-%d", reservation.SaleID)
		movements, err = rs.allocator.allocateInTx(ctx, tx,
			reservation.ProductID, reservation.Quantity, reservation.BatchID, reference)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.UpdateReservationStatus(ctx, reservationID, target); err != nil {
		return nil, nil, fmt.Errorf("failed to update reservation status: %w", err)
	}
	reservation.Status = target

	util.ReservationTransitionsTotal.WithLabelValues(string(target)).Inc()
	rs.logger.Info("Reservation transitioned",
		zap.Int64("reservation_id", reservationID),
		zap.Int64("sale_id", reservation.SaleID),
		zap.String("status", string(target)))

	return reservation, movements, nil
}
