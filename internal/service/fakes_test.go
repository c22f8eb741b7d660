package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"

	"github.com/shopspring/decimal"
)

// memState holds everything the engine persists, as plain values so a
// transaction can snapshot and restore it wholesale.
type memState struct {
	sales         map[int64]models.Sale
	saleItems     map[int64][]models.SaleItem
	batchReceived map[int64]time.Time
	batchItems    map[int64]models.BatchItem
	reservations  map[int64]models.Reservation
	movements     []models.StockMovement
	nextResID     int64
	nextMoveID    int64
	nextItemID    int64
}

func (st *memState) clone() memState {
	c := memState{
		sales:         make(map[int64]models.Sale, len(st.sales)),
		saleItems:     make(map[int64][]models.SaleItem, len(st.saleItems)),
		batchReceived: make(map[int64]time.Time, len(st.batchReceived)),
		batchItems:    make(map[int64]models.BatchItem, len(st.batchItems)),
		reservations:  make(map[int64]models.Reservation, len(st.reservations)),
		movements:     append([]models.StockMovement(nil), st.movements...),
		nextResID:     st.nextResID,
		nextMoveID:    st.nextMoveID,
		nextItemID:    st.nextItemID,
	}
	for k, v := range st.sales {
		c.sales[k] = v
	}
	for k, v := range st.saleItems {
		c.saleItems[k] = append([]models.SaleItem(nil), v...)
	}
	for k, v := range st.batchReceived {
		c.batchReceived[k] = v
	}
	for k, v := range st.batchItems {
		c.batchItems[k] = v
	}
	for k, v := range st.reservations {
		c.reservations[k] = v
	}
	return c
}

// memStore is an in-memory Store. One mutex held for the whole of
// RunInTx mirrors the serialization the Postgres store gets from its
// row locks; a returned error restores the pre-transaction snapshot.
type memStore struct {
	mu        sync.Mutex
	state     memState
	processed map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			sales:         make(map[int64]models.Sale),
			saleItems:     make(map[int64][]models.SaleItem),
			batchReceived: make(map[int64]time.Time),
			batchItems:    make(map[int64]models.BatchItem),
			reservations:  make(map[int64]models.Reservation),
			nextResID:     1,
			nextMoveID:    1,
			nextItemID:    1,
		},
		processed: make(map[string]string),
	}
}

func (s *memStore) addSale(id int64, status models.SaleStatus) {
	s.state.sales[id] = models.Sale{ID: id, CustomerID: 1, Status: status}
}

func (s *memStore) addSaleItem(saleID, productID, quantity int64, batchID *int64) {
	item := models.SaleItem{
		ID:        s.state.nextItemID,
		SaleID:    saleID,
		ProductID: productID,
		BatchID:   batchID,
		Quantity:  quantity,
	}
	s.state.nextItemID++
	s.state.saleItems[saleID] = append(s.state.saleItems[saleID], item)
}

func (s *memStore) addBatch(id int64, receivedAt time.Time) {
	s.state.batchReceived[id] = receivedAt
}

func (s *memStore) addBatchItem(id, batchID, productID, quantity int64) {
	s.state.batchItems[id] = models.BatchItem{
		ID:         id,
		BatchID:    batchID,
		ProductID:  productID,
		Quantity:   quantity,
		UnitCost:   decimal.NewFromInt(3),
		ReceivedAt: s.state.batchReceived[batchID],
	}
}

func (s *memStore) batchItemQuantity(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.batchItems[id].Quantity
}

func (s *memStore) RunInTx(ctx context.Context, fn func(tx store.EngineTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.state.clone()
	if err := fn(&memTx{s: s}); err != nil {
		s.state = saved
		return err
	}
	return nil
}

func (s *memStore) GetSale(ctx context.Context, saleID int64) (*models.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.state.sales[saleID]
	if !ok {
		return nil, fmt.Errorf("sale %d: %w", saleID, store.ErrNotFound)
	}
	return &sale, nil
}

func (s *memStore) GetSaleItems(ctx context.Context, saleID int64) ([]models.SaleItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SaleItem(nil), s.state.saleItems[saleID]...), nil
}

func (s *memStore) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", id, store.ErrNotFound)
	}
	return &r, nil
}

func (s *memStore) ListReservationsBySale(ctx context.Context, saleID int64) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listReservationsBySale(&s.state, saleID), nil
}

func (s *memStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, r := range s.state.reservations {
		if r.Status == models.ReservationStatusPending && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListMovementsByBatchItem(ctx context.Context, batchItemID int64) ([]models.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StockMovement
	for _, m := range s.state.movements {
		if m.BatchItemID == batchItemID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) ProductAvailability(ctx context.Context, productID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, item := range s.state.batchItems {
		if item.ProductID == productID {
			total += item.Quantity
		}
	}
	return total, nil
}

func (s *memStore) ListProductAvailabilities(ctx context.Context) ([]store.ProductAvailabilityRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := make(map[int64]int64)
	for _, item := range s.state.batchItems {
		totals[item.ProductID] += item.Quantity
	}
	rows := make([]store.ProductAvailabilityRow, 0, len(totals))
	for productID, quantity := range totals {
		rows = append(rows, store.ProductAvailabilityRow{ProductID: productID, Quantity: quantity})
	}
	return rows, nil
}

func listReservationsBySale(st *memState, saleID int64) []models.Reservation {
	var out []models.Reservation
	for _, r := range st.reservations {
		if r.SaleID == saleID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memTx mutates the store state directly; the enclosing RunInTx holds
// the mutex and owns rollback.
type memTx struct {
	s *memStore
}

func (t *memTx) CandidateBatchItems(ctx context.Context, productID int64, pinnedBatchID *int64) ([]models.BatchItem, error) {
	var out []models.BatchItem
	for _, item := range t.s.state.batchItems {
		if item.ProductID != productID || item.Quantity <= 0 {
			continue
		}
		if pinnedBatchID != nil && item.BatchID != *pinnedBatchID {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) DecrementBatchItem(ctx context.Context, itemID, amount int64) (int64, error) {
	item, ok := t.s.state.batchItems[itemID]
	if !ok || item.Quantity < amount {
		return 0, fmt.Errorf("batch item %d: %w", itemID, store.ErrInsufficientQuantity)
	}
	item.Quantity -= amount
	t.s.state.batchItems[itemID] = item
	return item.Quantity, nil
}

func (t *memTx) InsertMovement(ctx context.Context, m *models.StockMovement) error {
	m.ID = t.s.state.nextMoveID
	t.s.state.nextMoveID++
	m.CreatedAt = time.Now()
	t.s.state.movements = append(t.s.state.movements, *m)
	return nil
}

func (t *memTx) GetSaleForUpdate(ctx context.Context, saleID int64) (*models.Sale, error) {
	sale, ok := t.s.state.sales[saleID]
	if !ok {
		return nil, fmt.Errorf("sale %d: %w", saleID, store.ErrNotFound)
	}
	return &sale, nil
}

func (t *memTx) UpdateSaleStatus(ctx context.Context, saleID int64, status models.SaleStatus) error {
	sale, ok := t.s.state.sales[saleID]
	if !ok {
		return fmt.Errorf("sale %d: %w", saleID, store.ErrNotFound)
	}
	sale.Status = status
	t.s.state.sales[saleID] = sale
	return nil
}

func (t *memTx) GetSaleItems(ctx context.Context, saleID int64) ([]models.SaleItem, error) {
	return append([]models.SaleItem(nil), t.s.state.saleItems[saleID]...), nil
}

func (t *memTx) GetReservationForUpdate(ctx context.Context, id int64) (*models.Reservation, error) {
	r, ok := t.s.state.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", id, store.ErrNotFound)
	}
	return &r, nil
}

func (t *memTx) ListReservationsBySale(ctx context.Context, saleID int64) ([]models.Reservation, error) {
	return listReservationsBySale(&t.s.state, saleID), nil
}

func (t *memTx) HasActiveReservation(ctx context.Context, saleID, productID int64, batchID *int64) (bool, error) {
	for _, r := range t.s.state.reservations {
		if r.SaleID != saleID || r.ProductID != productID {
			continue
		}
		if !sameBatch(r.BatchID, batchID) {
			continue
		}
		if r.Status == models.ReservationStatusPending || r.Status == models.ReservationStatusReserved {
			return true, nil
		}
	}
	return false, nil
}

func sameBatch(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (t *memTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	r.ID = t.s.state.nextResID
	t.s.state.nextResID++
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	t.s.state.reservations[r.ID] = *r
	return nil
}

func (t *memTx) UpdateReservationStatus(ctx context.Context, id int64, status models.ReservationStatus) error {
	r, ok := t.s.state.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %d: %w", id, store.ErrNotFound)
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	t.s.state.reservations[id] = r
	return nil
}

// fakePublisher records published events instead of writing to kafka.
type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) record(eventType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *fakePublisher) PublishSaleSubmitted(ctx context.Context, event *models.SaleSubmittedEvent) error {
	p.record(event.EventType)
	return nil
}

func (p *fakePublisher) PublishSaleStatusChanged(ctx context.Context, event *models.SaleStatusChangedEvent) error {
	p.record(event.EventType)
	return nil
}

func (p *fakePublisher) PublishReservationTransitioned(ctx context.Context, event *models.ReservationTransitionedEvent) error {
	p.record(event.EventType)
	return nil
}

func (p *fakePublisher) PublishStockAllocated(ctx context.Context, event *models.StockAllocatedEvent) error {
	p.record(event.EventType)
	return nil
}

// fakeCache is a map-backed availability cache.
type fakeCache struct {
	mu     sync.Mutex
	values map[int64]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[int64]int64)}
}

func (c *fakeCache) GetAvailability(ctx context.Context, productID int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[productID]
	return v, ok, nil
}

func (c *fakeCache) SetAvailability(ctx context.Context, productID, quantity int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[productID] = quantity
	return nil
}

func (c *fakeCache) DecrementAvailability(ctx context.Context, productID, quantity int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[productID]; ok {
		c.values[productID] -= quantity
	}
	return nil
}
