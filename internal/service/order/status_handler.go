package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"storefront/internal/eventbus"
	"storefront/internal/events"
	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/pkg/log"
)

// Status update results
const (
	StatusUpdated  = "updated"
	StatusNoop     = "noop"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// StatusHandler consumes stock-events and finalizes orders
type StatusHandler struct {
	orders  repository.OrderRepository
	metrics Recorder
}

// NewStatusHandler creates a status handler; metrics may be nil
func NewStatusHandler(orders repository.OrderRepository, metrics Recorder) *StatusHandler {
	return &StatusHandler{orders: orders, metrics: metrics}
}

// Handle maps stock.reserved to Confirmed and stock.reservation_failed to Rejected.
// Everything else, including malformed messages, is acknowledged without effect.
func (h *StatusHandler) Handle(ctx context.Context, msg *eventbus.Message) error {
	decoded, err := events.Decode(msg)
	if err != nil {
		log.WithFields(logrus.Fields{
			"id":    msg.ID,
			"error": err.Error(),
		}).Warn("Dropping malformed message")
		return nil
	}

	var (
		orderID string
		status  model.OrderStatus
	)
	switch ev := decoded.Event.(type) {
	case events.StockReserved:
		orderID, status = ev.OrderID, model.OrderStatusConfirmed
	case events.StockReservationFailed:
		orderID, status = ev.OrderID, model.OrderStatusRejected
	default:
		log.WithField("eventType", decoded.Event.EventType()).Debug("Ignoring event")
		return nil
	}

	logger := log.WithFields(logrus.Fields{
		"orderId":       orderID,
		"correlationId": decoded.CorrelationID,
		"status":        status,
	})

	order, err := h.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("Status event for unknown order")
			h.record(status, StatusNotFound)
			return nil
		}
		h.record(status, StatusError)
		return fmt.Errorf("load order %s: %w", orderID, err)
	}

	if !order.IsOpen() {
		if order.Status == status {
			logger.Debug("Order already in target status")
		} else {
			logger.WithField("current", order.Status).Warn("Ignoring conflicting status event for final order")
		}
		h.record(status, StatusNoop)
		return nil
	}

	updated, err := h.orders.TransitionStatus(ctx, orderID, status)
	if err != nil {
		h.record(status, StatusError)
		return fmt.Errorf("update order %s: %w", orderID, err)
	}
	if !updated {
		// finalized concurrently by another delivery
		logger.Debug("Order finalized concurrently")
		h.record(status, StatusNoop)
		return nil
	}

	logger.Info("Order status updated")
	h.record(status, StatusUpdated)
	return nil
}

func (h *StatusHandler) record(status model.OrderStatus, result string) {
	if h.metrics != nil {
		h.metrics.RecordOrderStatusUpdate(string(status), result)
	}
}
