package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
)

// EventLog tracks which consumed events have already been applied.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// DecisionWorker consumes reservation decision events from operator
// tooling and applies them through the fulfillment orchestrator.
type DecisionWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	fulfillment  *service.FulfillmentService
	eventLog     EventLog
}

// NewDecisionWorker creates a new decision worker
func NewDecisionWorker(
	consumer *broker.Consumer,
	fulfillment *service.FulfillmentService,
	eventLog EventLog,
) *DecisionWorker {
	w := &DecisionWorker{
		consumer:    consumer,
		fulfillment: fulfillment,
		eventLog:    eventLog,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnReservationDecision(w.handleDecision)
	w.eventHandler = eventHandler

	return w
}

func (w *DecisionWorker) handleDecision(ctx context.Context, event *models.ReservationDecisionEvent) error {
	processed, err := w.eventLog.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		log.Printf("Decision event already processed: %s", event.EventID)
		return nil
	}

	_, err = w.fulfillment.Decide(ctx, event.ReservationID, service.Decision(event.Decision))
	if err != nil {
		// Expected outcomes must not poison the consumer: the event is
		// acknowledged, only storage failures are retried.
		if errors.Is(err, service.ErrIllegalTransition) || service.IsInsufficientStock(err) {
			log.Printf("Decision event %s not applied: %v", event.EventID, err)
		} else {
			return err
		}
	}

	return w.eventLog.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

// Start starts the worker
func (w *DecisionWorker) Start(ctx context.Context) error {
	log.Println("Starting decision worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *DecisionWorker) Stop() error {
	log.Println("Stopping decision worker...")
	return w.consumer.Close()
}

// ExpirySweeper periodically cancels expired pending reservations
// through the same transition contract an external scheduler would use.
type ExpirySweeper struct {
	fulfillment *service.FulfillmentService
	interval    time.Duration
	batchSize   int
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(fulfillment *service.FulfillmentService, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		fulfillment: fulfillment,
		interval:    interval,
		batchSize:   100,
	}
}

// Start runs the sweep loop until the context is cancelled
func (s *ExpirySweeper) Start(ctx context.Context) error {
	log.Printf("Starting expiry sweeper, interval=%s", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Expiry sweeper stopping...")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.fulfillment.CancelExpired(ctx, time.Now(), s.batchSize); err != nil {
				log.Printf("Expiry sweep failed: %v", err)
			}
		}
	}
}
