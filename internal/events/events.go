package events

import (
	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Event types carried in the eventType attribute and envelope field
const (
	TypeOrderCreated           = "order.created"
	TypeStockReserved          = "stock.reserved"
	TypeStockReservationFailed = "stock.reservation_failed"
)

// Topics and subscriptions of the reservation flow
const (
	TopicOrderCreated = "order.created"
	TopicStockEvents  = "stock-events"

	SubscriptionCatalogOrders = "catalog-orders-sub"
	SubscriptionStockEvents   = "stock-events-sub"
)

// Message attribute keys
const (
	AttrEventType     = "eventType"
	AttrCorrelationID = "correlationId"
)

// ReasonOutOfStock is the only failure reason emitted by the catalog
const ReasonOutOfStock = "OUT_OF_STOCK"

// Event is one of OrderCreated, StockReserved, StockReservationFailed or Unknown
type Event interface {
	EventType() string
	sealed()
}

// LineItem requested product and quantity
type LineItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderCreated is published by the order service after an order is persisted
type OrderCreated struct {
	OrderID string          `json:"orderId"`
	UserID  string          `json:"userId"`
	Total   decimal.Decimal `json:"total"`
	Items   []LineItem      `json:"items"`
}

// StockReserved reports that every line of the order was decremented
type StockReserved struct {
	OrderID string `json:"orderId"`
}

// StockReservationFailed reports that nothing was reserved for the order
type StockReservationFailed struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// Unknown is any event type outside the reservation flow
type Unknown struct {
	Type string
}

func (OrderCreated) EventType() string           { return TypeOrderCreated }
func (StockReserved) EventType() string          { return TypeStockReserved }
func (StockReservationFailed) EventType() string { return TypeStockReservationFailed }
func (u Unknown) EventType() string              { return u.Type }

func (OrderCreated) sealed()           {}
func (StockReserved) sealed()          {}
func (StockReservationFailed) sealed() {}
func (Unknown) sealed()                {}

// Quantities sums the requested quantity per product id
func (e OrderCreated) Quantities() map[string]int {
	q := make(map[string]int, len(e.Items))
	for _, it := range e.Items {
		q[it.ProductID] += it.Quantity
	}
	return q
}
