package store

import (
	"context"
	"database/sql"
	"fmt"

	"fulfillment-service/internal/models"
)

const candidateColumns = `
	bi.id, bi.batch_id, bi.product_id, bi.quantity, bi.unit_cost, bi.expires_at,
	b.received_at`

// CandidateBatchItems returns batch items for a product ordered oldest
// receipt first, item id as tiebreak. The rows are locked so that
// concurrent allocations for the same product serialize on them.
func (t *engineTx) CandidateBatchItems(ctx context.Context, productID int64, pinnedBatchID *int64) ([]models.BatchItem, error) {
	var items []models.BatchItem
	var err error

	if pinnedBatchID != nil {
		err = t.tx.SelectContext(ctx, &items, `
			SELECT `+candidateColumns+`
			FROM batch_items bi
			JOIN batches b ON b.id = bi.batch_id
			WHERE bi.product_id = $1 AND bi.batch_id = $2 AND bi.quantity > 0
			ORDER BY b.received_at ASC, bi.id ASC
			FOR UPDATE OF bi`, productID, *pinnedBatchID)
	} else {
		err = t.tx.SelectContext(ctx, &items, `
			SELECT `+candidateColumns+`
			FROM batch_items bi
			JOIN batches b ON b.id = bi.batch_id
			WHERE bi.product_id = $1 AND bi.quantity > 0
			ORDER BY b.received_at ASC, bi.id ASC
			FOR UPDATE OF bi`, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select candidate batch items: %w", err)
	}
	return items, nil
}

// DecrementBatchItem is guarded by the quantity check in the UPDATE
// itself, so the on-hand count can never be driven below zero even if a
// caller skipped the candidate lock.
func (t *engineTx) DecrementBatchItem(ctx context.Context, itemID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("decrement amount must be positive, got %d", amount)
	}

	var newQuantity int64
	err := t.tx.GetContext(ctx, &newQuantity, `
		UPDATE batch_items
		SET quantity = quantity - $1
		WHERE id = $2 AND quantity >= $1
		RETURNING quantity`, amount, itemID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("batch item %d: %w", itemID, ErrInsufficientQuantity)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decrement batch item %d: %w", itemID, err)
	}
	return newQuantity, nil
}

// InsertMovement appends one audit record. Movements are never updated
// or deleted.
func (t *engineTx) InsertMovement(ctx context.Context, m *models.StockMovement) error {
	query := `
		INSERT INTO stock_movements (batch_item_id, delta, unit_cost, reference, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return t.tx.GetContext(ctx, m, query,
		m.BatchItemID, m.Delta, m.UnitCost, m.Reference, m.Note)
}

// GetBatchItem retrieves one batch item with its receipt date
func (s *Store) GetBatchItem(ctx context.Context, id int64) (*models.BatchItem, error) {
	var item models.BatchItem
	err := s.db.GetContext(ctx, &item, `
		SELECT `+candidateColumns+`
		FROM batch_items bi
		JOIN batches b ON b.id = bi.batch_id
		WHERE bi.id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListMovementsByBatchItem retrieves the movement log for a batch item
func (s *Store) ListMovementsByBatchItem(ctx context.Context, batchItemID int64) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	err := s.db.SelectContext(ctx, &movements,
		"SELECT * FROM stock_movements WHERE batch_item_id = $1 ORDER BY id", batchItemID)
	return movements, err
}

// ProductAvailability returns the total quantity on hand across all
// batches of a product
func (s *Store) ProductAvailability(ctx context.Context, productID int64) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total,
		"SELECT COALESCE(SUM(quantity), 0) FROM batch_items WHERE product_id = $1", productID)
	return total, err
}

// ProductAvailabilityRow pairs a product with its summed quantity on hand
type ProductAvailabilityRow struct {
	ProductID int64 `db:"product_id"`
	Quantity  int64 `db:"quantity"`
}

// ListProductAvailabilities returns summed on-hand quantity per product
func (s *Store) ListProductAvailabilities(ctx context.Context) ([]ProductAvailabilityRow, error) {
	var rows []ProductAvailabilityRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT product_id, COALESCE(SUM(quantity), 0) AS quantity
		FROM batch_items
		GROUP BY product_id`)
	return rows, err
}
