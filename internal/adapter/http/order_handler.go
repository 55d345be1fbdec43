package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jamesnjugunah/vendorshop/internal/adapter/http/middleware"
	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/usecase"
	"github.com/shopspring/decimal"
)

type orderCreator interface {
	Execute(ctx context.Context, in usecase.CreateOrderInput) (*domain.Order, error)
}

type orderReader interface {
	Execute(ctx context.Context, in usecase.GetOrderInput) (*domain.Order, error)
	Status(ctx context.Context, in usecase.GetOrderInput) (domain.Status, error)
}

type orderLister interface {
	Mine(ctx context.Context, in usecase.ListOrdersInput) ([]*domain.Order, error)
	All(ctx context.Context, in usecase.ListOrdersInput) ([]*domain.Order, error)
}

type orderCanceller interface {
	Execute(ctx context.Context, in usecase.CancelOrderInput) (*domain.Order, error)
}

type OrderHandler struct {
	create orderCreator
	get    orderReader
	list   orderLister
	cancel orderCanceller
}

func NewOrderHandler(create orderCreator, get orderReader, list orderLister, cancel orderCanceller) *OrderHandler {
	return &OrderHandler{create: create, get: get, list: list, cancel: cancel}
}

type createOrderReq struct {
	Branch           string           `json:"branch" binding:"required"`
	DeliveryAddress  string           `json:"delivery_address"`
	DeliveryLocation *domain.Location `json:"delivery_location"`
	Items            []struct {
		ProductID string          `json:"product_id" binding:"required"`
		Quantity  int             `json:"quantity" binding:"required,gt=0"`
		Price     decimal.Decimal `json:"price"`
	} `json:"items" binding:"required,min=1,dive"`
}

type orderResp struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	Branch            string           `json:"branch"`
	Total             decimal.Decimal  `json:"total"`
	DeliveryAddress   string           `json:"delivery_address,omitempty"`
	DeliveryLocation  *domain.Location `json:"delivery_location,omitempty"`
	Status            domain.Status    `json:"status"`
	CheckoutRequestID string           `json:"checkout_request_id,omitempty"`
	ReceiptCode       string           `json:"mpesa_code,omitempty"`
	Items             []itemResp       `json:"items,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type itemResp struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func toOrderResp(o *domain.Order) orderResp {
	var items []itemResp
	for _, it := range o.Items {
		items = append(items, itemResp{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	return orderResp{
		ID:                o.ID,
		UserID:            o.UserID,
		Branch:            o.Branch,
		Total:             o.Total,
		DeliveryAddress:   o.DeliveryAddress,
		DeliveryLocation:  o.DeliveryLocation,
		Status:            o.Status,
		CheckoutRequestID: o.CheckoutRequestID,
		ReceiptCode:       o.ReceiptCode,
		Items:             items,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

// CreateOrder places a pending order for the caller.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	in := usecase.CreateOrderInput{
		UserID:           middleware.UserID(c),
		IdempotencyKey:   c.GetHeader("X-Idempotency-Key"),
		Branch:           req.Branch,
		DeliveryAddress:  req.DeliveryAddress,
		DeliveryLocation: req.DeliveryLocation,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	o, err := h.create.Execute(ctx, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": toOrderResp(o)})
}

// ListMine returns the caller's order history, newest first.
func (h *OrderHandler) ListMine(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	orders, err := h.list.Mine(ctx, usecase.ListOrdersInput{
		UserID: middleware.UserID(c),
		Limit:  queryInt(c, "limit"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": toOrderResps(orders)})
}

// ListAll is the admin view over every order, filtered by ?status= and
// ?branch=.
func (h *OrderHandler) ListAll(c *gin.Context) {
	in := usecase.ListOrdersInput{
		UserID:  middleware.UserID(c),
		IsAdmin: middleware.IsAdmin(c),
		Branch:  c.Query("branch"),
		Limit:   queryInt(c, "limit"),
	}
	if v := c.Query("status"); v != "" {
		st, err := domain.ParseStatus(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in.Status = st
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	orders, err := h.list.All(ctx, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": toOrderResps(orders)})
}

func toOrderResps(orders []*domain.Order) []orderResp {
	out := make([]orderResp, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResp(o))
	}
	return out
}

// queryInt reads an optional integer parameter; anything unparsable is 0.
func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	o, err := h.get.Execute(ctx, h.getInput(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": toOrderResp(o)})
}

// GetStatus is the polling endpoint web clients hit after a push.
func (h *OrderHandler) GetStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	st, err := h.get.Status(ctx, h.getInput(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": st})
}

type updateStatusReq struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus only supports self-service cancellation.
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if domain.Status(req.Status) != domain.StatusCancelled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only cancellation is supported"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	o, err := h.cancel.Execute(ctx, usecase.CancelOrderInput{
		OrderID: c.Param("id"),
		UserID:  middleware.UserID(c),
		IsAdmin: middleware.IsAdmin(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": toOrderResp(o)})
}

func (h *OrderHandler) getInput(c *gin.Context) usecase.GetOrderInput {
	return usecase.GetOrderInput{
		OrderID: c.Param("id"),
		UserID:  middleware.UserID(c),
		IsAdmin: middleware.IsAdmin(c),
	}
}
