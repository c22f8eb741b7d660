package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
)

// GetReservationForUpdate locks and returns one reservation row
func (t *engineTx) GetReservationForUpdate(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	err := t.tx.GetContext(ctx, &r,
		"SELECT * FROM reservations WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReservationsBySale retrieves all reservations for a sale inside
// the transaction
func (t *engineTx) ListReservationsBySale(ctx context.Context, saleID int64) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := t.tx.SelectContext(ctx, &reservations,
		"SELECT * FROM reservations WHERE sale_id = $1 ORDER BY id", saleID)
	return reservations, err
}

// HasActiveReservation reports whether a pending or reserved row already
// exists for the (sale, product, batch) tuple. This is the duplicate
// guard that makes submit retry-safe.
func (t *engineTx) HasActiveReservation(ctx context.Context, saleID, productID int64, batchID *int64) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM reservations
			WHERE sale_id = $1 AND product_id = $2
			  AND batch_id IS NOT DISTINCT FROM $3
			  AND status IN ('PENDING', 'RESERVED'))`,
		saleID, productID, batchID)
	return exists, err
}

// InsertReservation inserts a new pending reservation
func (t *engineTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	query := `
		INSERT INTO reservations (sale_id, product_id, batch_id, quantity, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return t.tx.GetContext(ctx, r, query,
		r.SaleID, r.ProductID, r.BatchID, r.Quantity, r.Status, r.ExpiresAt)
}

// UpdateReservationStatus updates reservation status
func (t *engineTx) UpdateReservationStatus(ctx context.Context, id int64, status models.ReservationStatus) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE reservations SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	return err
}

// GetReservation retrieves a reservation by ID
func (s *Store) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.GetContext(ctx, &r, "SELECT * FROM reservations WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReservationsBySale retrieves all reservations for a sale
func (s *Store) ListReservationsBySale(ctx context.Context, saleID int64) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations,
		"SELECT * FROM reservations WHERE sale_id = $1 ORDER BY id", saleID)
	return reservations, err
}

// ListExpiredPending retrieves pending reservations whose expiry has
// passed, oldest expiry first
func (s *Store) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations, `
		SELECT * FROM reservations
		WHERE status = 'PENDING' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`, now, limit)
	return reservations, err
}
