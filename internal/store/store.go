package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrInsufficientQuantity is returned by DecrementBatchItem when the
// requested amount exceeds the quantity on hand. An expected outcome,
// not a system fault.
var ErrInsufficientQuantity = errors.New("insufficient quantity on hand")

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// EngineTx exposes the engine's mutations inside one database
// transaction. Row locks taken through it are held until the enclosing
// RunInTx call commits or rolls back.
type EngineTx interface {
	// CandidateBatchItems returns the FIFO-ordered batch items a product
	// can be allocated from, locked for update. A non-nil pinnedBatchID
	// restricts candidates to that batch only.
	CandidateBatchItems(ctx context.Context, productID int64, pinnedBatchID *int64) ([]models.BatchItem, error)
	// DecrementBatchItem subtracts amount from the item's quantity on
	// hand, failing with ErrInsufficientQuantity instead of going
	// negative. Returns the new quantity.
	DecrementBatchItem(ctx context.Context, itemID, amount int64) (int64, error)
	InsertMovement(ctx context.Context, m *models.StockMovement) error

	GetSaleForUpdate(ctx context.Context, saleID int64) (*models.Sale, error)
	UpdateSaleStatus(ctx context.Context, saleID int64, status models.SaleStatus) error
	GetSaleItems(ctx context.Context, saleID int64) ([]models.SaleItem, error)

	GetReservationForUpdate(ctx context.Context, id int64) (*models.Reservation, error)
	ListReservationsBySale(ctx context.Context, saleID int64) ([]models.Reservation, error)
	HasActiveReservation(ctx context.Context, saleID, productID int64, batchID *int64) (bool, error)
	InsertReservation(ctx context.Context, r *models.Reservation) error
	UpdateReservationStatus(ctx context.Context, id int64, status models.ReservationStatus) error
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// RunInTx runs fn inside a single transaction and commits only if fn
// returns nil. Every mutation the engine performs goes through here so
// that an allocation and its movement records, or a reservation
// transition and its allocation, land atomically.
func (s *Store) RunInTx(ctx context.Context, fn func(tx EngineTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&engineTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// engineTx implements EngineTx over a live sqlx transaction.
type engineTx struct {
	tx *sqlx.Tx
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
