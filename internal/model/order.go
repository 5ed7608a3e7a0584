package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus order lifecycle state
type OrderStatus string

// OrderStatus const
const (
	OrderStatusCreated   OrderStatus = "Created"
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusConfirmed OrderStatus = "Confirmed"
	OrderStatusRejected  OrderStatus = "Rejected"
)

// IsTerminal reports whether no further transition is allowed
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusRejected
}

// OpenOrderStatuses statuses an order can still leave
var OpenOrderStatuses = []OrderStatus{OrderStatusCreated, OrderStatusPending}

// Order order model
type Order struct {
	ID             string          `gorm:"primaryKey;type:varchar(32);comment:order ID" json:"id"`
	UserID         string          `gorm:"type:varchar(64);not null;index;comment:user ID" json:"userId"`
	CreatedAt      time.Time       `gorm:"not null;index;comment:created at (UTC)" json:"createdAt"`
	Items          []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	Total          decimal.Decimal `gorm:"type:decimal(18,2);not null;comment:sum of quantity x unit price" json:"total"`
	Status         OrderStatus     `gorm:"type:varchar(64);not null;index;comment:Created/Pending/Confirmed/Rejected" json:"status"`
	IdempotencyKey *string         `gorm:"type:varchar(128);uniqueIndex;comment:caller idempotency key" json:"idempotencyKey,omitempty"`
}

// TableName set name
func (Order) TableName() string {
	return "orders"
}

// OrderItem order line
type OrderItem struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID   string          `gorm:"type:varchar(32);not null;index" json:"-"`
	ProductID string          `gorm:"type:varchar(36);not null" json:"productId"`
	Quantity  int             `gorm:"type:int;not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unitPrice"`
}

// TableName set name
func (OrderItem) TableName() string {
	return "order_items"
}

// ComputeTotal returns the sum of quantity x unit price over items
func ComputeTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// IsOpen check order can still be confirmed or rejected
func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal()
}
