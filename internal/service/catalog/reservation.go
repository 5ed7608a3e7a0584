package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"storefront/internal/eventbus"
	"storefront/internal/events"
	"storefront/internal/repository"
	"storefront/pkg/log"
)

// Reservation outcomes
const (
	OutcomeReserved   = "reserved"
	OutcomeOutOfStock = "out_of_stock"
	OutcomeMalformed  = "malformed"
	OutcomeIgnored    = "ignored"
	OutcomeError      = "error"
)

// ReservationRecorder receives reservation outcomes
type ReservationRecorder interface {
	RecordReservation(outcome string)
}

// ReservationHandler consumes order.created and answers on stock-events
type ReservationHandler struct {
	products  repository.ProductRepository
	publisher eventbus.Publisher
	catalog   CatalogService
	metrics   ReservationRecorder
}

// NewReservationHandler creates a reservation handler; catalog and metrics may be nil
func NewReservationHandler(products repository.ProductRepository, publisher eventbus.Publisher, catalog CatalogService, metrics ReservationRecorder) *ReservationHandler {
	return &ReservationHandler{
		products:  products,
		publisher: publisher,
		catalog:   catalog,
		metrics:   metrics,
	}
}

// Handle processes one message. A nil return acknowledges it; an error asks for redelivery.
func (h *ReservationHandler) Handle(ctx context.Context, msg *eventbus.Message) error {
	decoded, err := events.Decode(msg)
	if err != nil {
		log.WithFields(logrus.Fields{
			"id":    msg.ID,
			"error": err.Error(),
		}).Warn("Dropping malformed message")
		h.record(OutcomeMalformed)
		return nil
	}

	ev, ok := decoded.Event.(events.OrderCreated)
	if !ok {
		log.WithField("eventType", decoded.Event.EventType()).Debug("Ignoring event")
		h.record(OutcomeIgnored)
		return nil
	}

	correlationID := decoded.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	logger := log.WithFields(logrus.Fields{
		"orderId":       ev.OrderID,
		"correlationId": correlationID,
		"attempt":       msg.DeliveryAttempt,
	})

	quantities := ev.Quantities()
	ok, err = h.available(ctx, quantities)
	if err != nil {
		h.record(OutcomeError)
		return err
	}
	if !ok {
		logger.Info("Order cannot be reserved")
		return h.reject(ctx, ev.OrderID, correlationID)
	}

	if err := h.products.Reserve(ctx, quantities); err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			// another order took the stock between validation and decrement
			logger.WithError(err).Info("Reservation lost a race")
			return h.reject(ctx, ev.OrderID, correlationID)
		}
		h.record(OutcomeError)
		return fmt.Errorf("reserve stock for order %s: %w", ev.OrderID, err)
	}

	if h.catalog != nil {
		ids := make([]string, 0, len(quantities))
		for id := range quantities {
			ids = append(ids, id)
		}
		h.catalog.Invalidate(ids...)
	}

	if err := h.publish(ctx, events.StockReserved{OrderID: ev.OrderID}, correlationID); err != nil {
		h.record(OutcomeError)
		return err
	}

	logger.Info("Stock reserved")
	h.record(OutcomeReserved)
	return nil
}

// available checks every product exists with enough stock
func (h *ReservationHandler) available(ctx context.Context, quantities map[string]int) (bool, error) {
	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}

	products, err := h.products.GetByIDs(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("load products: %w", err)
	}

	for id, qty := range quantities {
		p, ok := products[id]
		if !ok || !p.HasStock(qty) {
			return false, nil
		}
	}
	return true, nil
}

func (h *ReservationHandler) reject(ctx context.Context, orderID, correlationID string) error {
	ev := events.StockReservationFailed{OrderID: orderID, Reason: events.ReasonOutOfStock}
	if err := h.publish(ctx, ev, correlationID); err != nil {
		h.record(OutcomeError)
		return err
	}
	h.record(OutcomeOutOfStock)
	return nil
}

func (h *ReservationHandler) publish(ctx context.Context, ev events.Event, correlationID string) error {
	msg, err := events.Encode(ev, correlationID)
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(ctx, events.TopicStockEvents, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.EventType(), err)
	}
	return nil
}

func (h *ReservationHandler) record(outcome string) {
	if h.metrics != nil {
		h.metrics.RecordReservation(outcome)
	}
}
