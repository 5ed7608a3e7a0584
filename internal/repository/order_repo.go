package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"storefront/internal/model"
)

// OrderRepository order repository interface
type OrderRepository interface {
	// Create order with its items. Returns ErrDuplicateKey when the idempotency key is taken.
	Create(ctx context.Context, order *model.Order) error

	// Get order by ID
	GetByID(ctx context.Context, id string) (*model.Order, error)

	// Get order by idempotency key
	GetByIdempotencyKey(ctx context.Context, key string) (*model.Order, error)

	// List orders, newest first
	List(ctx context.Context) ([]*model.Order, error)

	// TransitionStatus moves an open order (Created or Pending) to status.
	// Returns false when the order is missing or already terminal.
	TransitionStatus(ctx context.Context, id string, status model.OrderStatus) (bool, error)
}

// orderRepository order repository implementation
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates an order
func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return translate(r.db.WithContext(ctx).Create(order).Error)
}

// GetByID gets an order by ID
func (r *orderRepository) GetByID(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

// GetByIdempotencyKey gets an order by idempotency key
func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Preload("Items").Where("idempotency_key = ?", key).First(&order).Error
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

// List lists orders
func (r *orderRepository) List(ctx context.Context) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).Preload("Items").Order("created_at DESC").Find(&orders).Error
	return orders, err
}

// TransitionStatus conditionally updates status
func (r *orderRepository) TransitionStatus(ctx context.Context, id string, status model.OrderStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status IN ?", id, model.OpenOrderStatuses).
		Update("status", status)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// memoryOrderRepository in-memory order repository
type memoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
	byKey  map[string]string
}

// NewMemoryOrderRepository creates an in-memory order repository
func NewMemoryOrderRepository() OrderRepository {
	return &memoryOrderRepository{
		orders: make(map[string]*model.Order),
		byKey:  make(map[string]string),
	}
}

func (r *memoryOrderRepository) Create(_ context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return fmt.Errorf("order %s: %w", order.ID, ErrDuplicateKey)
	}
	if order.IdempotencyKey != nil {
		if _, exists := r.byKey[*order.IdempotencyKey]; exists {
			return fmt.Errorf("idempotency key %s: %w", *order.IdempotencyKey, ErrDuplicateKey)
		}
		r.byKey[*order.IdempotencyKey] = order.ID
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memoryOrderRepository) GetByID(_ context.Context, id string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *memoryOrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.Order, error) {
	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *memoryOrderRepository) List(_ context.Context) ([]*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]*model.Order, 0, len(r.orders))
	for _, o := range r.orders {
		orders = append(orders, cloneOrder(o))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (r *memoryOrderRepository) TransitionStatus(_ context.Context, id string, status model.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.Status.IsTerminal() {
		return false, nil
	}
	o.Status = status
	return true, nil
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.OrderItem(nil), o.Items...)
	if o.IdempotencyKey != nil {
		key := *o.IdempotencyKey
		c.IdempotencyKey = &key
	}
	return &c
}
