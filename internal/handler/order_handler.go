package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/middleware"
	"storefront/internal/service/order"
	"storefront/pkg/utils"
)

// OrderHandler order handler
type OrderHandler struct {
	orderService order.OrderService
}

// NewOrderHandler creates an order handler
func NewOrderHandler(orderService order.OrderService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
	}
}

// CreateOrder accepts an order. 201 on creation, 200 when the idempotency key replays an order.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var in order.CreateOrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.Error(c, utils.CodeInvalidParam, "Invalid request body")
		return
	}

	// the header wins over the body field
	if key := c.GetHeader(middleware.IdempotencyKeyHeader); key != "" {
		in.IdempotencyKey = key
	}
	if in.UserID == "" {
		in.UserID, _ = middleware.GetUserID(c)
	}

	res, err := h.orderService.CreateOrder(c.Request.Context(), in)
	if err != nil {
		utils.AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	} else {
		c.Header("Location", "/api/v1/orders/"+res.Order.ID)
	}
	c.JSON(status, res.Order)
}

// GetOrder gets an order by id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	o, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// ListOrders lists orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	orders, err := h.orderService.ListOrders(c.Request.Context())
	if err != nil {
		utils.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}
