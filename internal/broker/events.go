package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"fulfillment-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSaleSubmitted publishes SaleSubmitted event
func (ep *EventPublisher) PublishSaleSubmitted(ctx context.Context, event *models.SaleSubmittedEvent) error {
	key := fmt.Sprintf("sale-%d", event.SaleID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishSaleStatusChanged publishes a sale status projection change
func (ep *EventPublisher) PublishSaleStatusChanged(ctx context.Context, event *models.SaleStatusChangedEvent) error {
	key := fmt.Sprintf("sale-%d", event.SaleID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishReservationTransitioned publishes a reservation status change
func (ep *EventPublisher) PublishReservationTransitioned(ctx context.Context, event *models.ReservationTransitionedEvent) error {
	key := fmt.Sprintf("sale-%d", event.SaleID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishStockAllocated publishes the movements of a committed allocation
func (ep *EventPublisher) PublishStockAllocated(ctx context.Context, event *models.StockAllocatedEvent) error {
	key := fmt.Sprintf("sale-%d", event.SaleID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onReservationDecision func(context.Context, *models.ReservationDecisionEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnReservationDecision registers a handler for decision events
func (eh *EventHandler) OnReservationDecision(handler func(context.Context, *models.ReservationDecisionEvent) error) {
	eh.onReservationDecision = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeReservationDecision:
		if eh.onReservationDecision != nil {
			var event models.ReservationDecisionEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReservationDecision event: %w", err)
			}
			return eh.onReservationDecision(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
