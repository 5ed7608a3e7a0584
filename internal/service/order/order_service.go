package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"storefront/internal/eventbus"
	"storefront/internal/events"
	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/pkg/log"
	"storefront/pkg/utils"
)

// Ingress results
const (
	ResultCreated  = "created"
	ResultReplayed = "replayed"
	ResultInvalid  = "invalid"
	ResultError    = "error"
)

// Recorder receives order metrics
type Recorder interface {
	RecordOrderCreated(result string)
	RecordOrderStatusUpdate(status, result string)
}

// LineInput requested order line
type LineInput struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// CreateOrderInput order ingress request
type CreateOrderInput struct {
	UserID         string      `json:"userId"`
	Items          []LineInput `json:"items"`
	IdempotencyKey string      `json:"idempotencyKey"`
}

// CreateOrderResult created or replayed order
type CreateOrderResult struct {
	Order *model.Order
	// Replayed is set when the idempotency key matched an existing order
	Replayed bool
}

// OrderService order service interface
type OrderService interface {
	// Create order and publish order.created
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error)

	// Get order by ID
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// List orders
	ListOrders(ctx context.Context) ([]*model.Order, error)
}

// orderService order service implementation
type orderService struct {
	orders    repository.OrderRepository
	publisher eventbus.Publisher
	metrics   Recorder
	now       func() time.Time
}

// NewOrderService creates an order service; metrics may be nil
func NewOrderService(orders repository.OrderRepository, publisher eventbus.Publisher, metrics Recorder) OrderService {
	return &orderService{
		orders:    orders,
		publisher: publisher,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Validate checks the request before anything is persisted
func (in CreateOrderInput) Validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return utils.NewError(utils.CodeInvalidParam, "userId is required")
	}
	if len(in.Items) == 0 {
		return utils.NewError(utils.CodeInvalidParam, "Order must contain at least one item")
	}
	for _, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return utils.NewError(utils.CodeInvalidParam, "productId is required")
		}
		if it.Quantity <= 0 {
			return utils.NewError(utils.CodeInvalidParam, "quantity must be positive")
		}
		if it.UnitPrice.IsNegative() {
			return utils.NewError(utils.CodeInvalidParam, "unitPrice must not be negative")
		}
	}
	return nil
}

// CreateOrder persists a Pending order and publishes order.created
func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if err := in.Validate(); err != nil {
		s.recordCreated(ResultInvalid)
		return nil, err
	}

	if in.IdempotencyKey != "" {
		existing, err := s.orders.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if err == nil {
			s.recordCreated(ResultReplayed)
			return &CreateOrderResult{Order: existing, Replayed: true}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			s.recordCreated(ResultError)
			return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to look up idempotency key")
		}
	}

	order := s.newOrder(in)

	if err := s.orders.Create(ctx, order); err != nil {
		if in.IdempotencyKey != "" && errors.Is(err, repository.ErrDuplicateKey) {
			// a concurrent request with the same key won
			existing, getErr := s.orders.GetByIdempotencyKey(ctx, in.IdempotencyKey)
			if getErr == nil {
				s.recordCreated(ResultReplayed)
				return &CreateOrderResult{Order: existing, Replayed: true}, nil
			}
			err = getErr
		}
		s.recordCreated(ResultError)
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to create order")
	}

	correlationID := uuid.NewString()
	logger := log.WithFields(logrus.Fields{
		"orderId":       order.ID,
		"userId":        order.UserID,
		"correlationId": correlationID,
	})

	if err := s.publishCreated(ctx, order, correlationID); err != nil {
		// the order row stays Pending; nothing retries the publish
		logger.WithError(err).Error("Failed to publish order.created")
		s.recordCreated(ResultError)
		return nil, utils.WrapError(err, utils.CodeBusError, "failed to publish order event")
	}

	logger.WithField("total", order.Total.StringFixed(2)).Info("Order created")
	s.recordCreated(ResultCreated)
	return &CreateOrderResult{Order: order}, nil
}

func (s *orderService) newOrder(in CreateOrderInput) *model.Order {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")

	items := make([]model.OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, model.OrderItem{
			OrderID:   id,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	order := &model.Order{
		ID:        id,
		UserID:    in.UserID,
		CreatedAt: s.now(),
		Items:     items,
		Total:     model.ComputeTotal(items),
		Status:    model.OrderStatusPending,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		order.IdempotencyKey = &key
	}
	return order
}

func (s *orderService) publishCreated(ctx context.Context, order *model.Order, correlationID string) error {
	lines := make([]events.LineItem, 0, len(order.Items))
	for _, it := range order.Items {
		lines = append(lines, events.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	msg, err := events.Encode(events.OrderCreated{
		OrderID: order.ID,
		UserID:  order.UserID,
		Total:   order.Total,
		Items:   lines,
	}, correlationID)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, events.TopicOrderCreated, msg)
}

// GetOrder gets an order
func (s *orderService) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, utils.ErrOrderNotFound
		}
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to get order")
	}
	return order, nil
}

// ListOrders lists orders
func (s *orderService) ListOrders(ctx context.Context) ([]*model.Order, error) {
	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to list orders")
	}
	return orders, nil
}

func (s *orderService) recordCreated(result string) {
	if s.metrics != nil {
		s.metrics.RecordOrderCreated(result)
	}
}
