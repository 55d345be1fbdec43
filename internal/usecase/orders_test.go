package usecase

import (
	"context"
	"testing"
	"time"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/infrastructure/mpesa"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder_ComputesTotal(t *testing.T) {
	store := newMemStore()
	uc := NewCreateOrder(store, newMemIdem())

	o, err := uc.Execute(context.Background(), CreateOrderInput{
		UserID: "u1",
		Branch: "westlands",
		Items: []domain.OrderItem{
			{ProductID: "tusker", Quantity: 2, Price: decimal.RequireFromString("49.99")},
			{ProductID: "soda", Quantity: 1, Price: decimal.RequireFromString("50.01")},
		},
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("149.99").Equal(o.Total), "got %s", o.Total)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.NotEmpty(t, o.ID)

	stored, err := store.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.UserID)
}

func TestCreateOrder_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		in   CreateOrderInput
	}{
		{"no branch", CreateOrderInput{UserID: "u1", Items: []domain.OrderItem{{ProductID: "p", Quantity: 1, Price: decimal.NewFromInt(1)}}}},
		{"no items", CreateOrderInput{UserID: "u1", Branch: "b"}},
		{"zero quantity", CreateOrderInput{UserID: "u1", Branch: "b", Items: []domain.OrderItem{{ProductID: "p", Quantity: 0, Price: decimal.NewFromInt(1)}}}},
		{"free item", CreateOrderInput{UserID: "u1", Branch: "b", Items: []domain.OrderItem{{ProductID: "p", Quantity: 1, Price: decimal.Zero}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCreateOrder(newMemStore(), newMemIdem()).Execute(context.Background(), tt.in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestCreateOrder_IdempotencyKeyReturnsSameOrder(t *testing.T) {
	store := newMemStore()
	uc := NewCreateOrder(store, newMemIdem())
	in := CreateOrderInput{
		UserID: "u1", Branch: "b", IdempotencyKey: "k",
		Items: []domain.OrderItem{{ProductID: "p", Quantity: 1, Price: decimal.NewFromInt(100)}},
	}

	first, err := uc.Execute(context.Background(), in)
	require.NoError(t, err)
	second, err := uc.Execute(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.orders, 1)
}

func TestCancelOrder(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.Status
		in      CancelOrderInput
		wantErr error
		want    domain.Status
	}{
		{"owner cancels pending", domain.StatusPending, CancelOrderInput{OrderID: "O1", UserID: "u1"}, nil, domain.StatusCancelled},
		{"admin cancels pending", domain.StatusPending, CancelOrderInput{OrderID: "O1", UserID: "ops", IsAdmin: true}, nil, domain.StatusCancelled},
		{"already cancelled", domain.StatusCancelled, CancelOrderInput{OrderID: "O1", UserID: "u1"}, nil, domain.StatusCancelled},
		{"stranger", domain.StatusPending, CancelOrderInput{OrderID: "O1", UserID: "u2"}, ErrNotFound, domain.StatusPending},
		{"push in flight", domain.StatusProcessing, CancelOrderInput{OrderID: "O1", UserID: "u1"}, ErrInvalidState, domain.StatusProcessing},
		{"paid", domain.StatusPaid, CancelOrderInput{OrderID: "O1", UserID: "u1"}, ErrInvalidState, domain.StatusPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := pendingOrder("O1", "u1", "100")
			o.Status = tt.status
			store := newMemStore(o)

			got, err := NewCancelOrder(store).Execute(context.Background(), tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got.Status)
			}
			assert.Equal(t, tt.want, store.status("O1"))
		})
	}
}

func TestGetOrder_HidesOtherUsersOrders(t *testing.T) {
	store := newMemStore(pendingOrder("O1", "u1", "100"))
	uc := NewGetOrder(store, nil)

	_, err := uc.Execute(context.Background(), GetOrderInput{OrderID: "O1", UserID: "u2"})
	assert.ErrorIs(t, err, ErrNotFound)

	o, err := uc.Execute(context.Background(), GetOrderInput{OrderID: "O1", UserID: "admin", IsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, "O1", o.ID)
}

func TestGetOrder_StatusIsCacheFirst(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(pendingOrder("O1", "u1", "100"))
	cache := newMemCache()
	uc := NewGetOrder(store, cache)
	in := GetOrderInput{OrderID: "O1", UserID: "u1"}

	st, err := uc.Status(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, st)
	assert.Zero(t, cache.Hits)

	// The projector writes newer state into the cache.
	require.NoError(t, cache.SetStatus(ctx, "u1", "O1", domain.StatusPaid))
	st, err = uc.Status(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, st)
	assert.Equal(t, 1, cache.Hits)

	// Cache keys are per owner; a stranger misses and is refused by the store check.
	_, err = uc.Status(ctx, GetOrderInput{OrderID: "O1", UserID: "u2"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryPayment(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(processingOrder("O1", "u1", "ws_2"))
	store.attempts["ws_1"] = &attemptRow{PaymentAttempt: domain.PaymentAttempt{CheckoutRequestID: "ws_1", OrderID: "O1"}}
	zero := 0
	gw := &mockGateway{QueryFunc: func(_ context.Context, id string) (mpesa.QueryResult, error) {
		return mpesa.QueryResult{CheckoutRequestID: id, ResultCode: &zero, ResultDesc: "ok"}, nil
	}}
	uc := NewQueryPayment(store, store, gw)

	res, err := uc.Execute(ctx, QueryPaymentInput{CheckoutRequestID: "ws_2", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	// Superseded ids still resolve to their owner.
	_, err = uc.Execute(ctx, QueryPaymentInput{CheckoutRequestID: "ws_1", UserID: "u1"})
	require.NoError(t, err)

	_, err = uc.Execute(ctx, QueryPaymentInput{CheckoutRequestID: "ws_2", UserID: "u2"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = uc.Execute(ctx, QueryPaymentInput{CheckoutRequestID: "ws_missing", UserID: "u1"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 2, gw.QueryCalls)
	assert.Equal(t, domain.StatusProcessing, store.status("O1"))
}

func TestCreateOrder_KeepsLineItems(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	items := []domain.OrderItem{
		{ProductID: "tusker", Quantity: 2, Price: decimal.RequireFromString("49.99")},
		{ProductID: "soda", Quantity: 1, Price: decimal.RequireFromString("50.01")},
	}

	o, err := NewCreateOrder(store, newMemIdem()).Execute(ctx, CreateOrderInput{UserID: "u1", Branch: "westlands", Items: items})
	require.NoError(t, err)

	got, err := NewGetOrder(store, nil).Execute(ctx, GetOrderInput{OrderID: o.ID, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, items, got.Items)
}

func TestListOrders_Mine(t *testing.T) {
	ctx := context.Background()
	older := pendingOrder("O1", "u1", "100")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	older.Items = []domain.OrderItem{{ProductID: "soda", Quantity: 1, Price: decimal.NewFromInt(100)}}
	newer := pendingOrder("O2", "u1", "50")
	other := pendingOrder("O3", "u2", "70")
	uc := NewListOrders(newMemStore(older, newer, other))

	got, err := uc.Mine(ctx, ListOrdersInput{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "O2", got[0].ID, "newest first")
	assert.Equal(t, "O1", got[1].ID)
	assert.Len(t, got[1].Items, 1)

	_, err = uc.Mine(ctx, ListOrdersInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListOrders_AllIsAdminOnly(t *testing.T) {
	ctx := context.Background()
	paid := pendingOrder("O1", "u1", "100")
	paid.Status = domain.StatusPaid
	cbd := pendingOrder("O2", "u2", "100")
	cbd.Branch = "cbd"
	uc := NewListOrders(newMemStore(paid, cbd, pendingOrder("O3", "u3", "10")))

	_, err := uc.All(ctx, ListOrdersInput{UserID: "u1"})
	assert.ErrorIs(t, err, ErrForbidden)

	all, err := uc.All(ctx, ListOrdersInput{UserID: "ops", IsAdmin: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := uc.All(ctx, ListOrdersInput{IsAdmin: true, Status: domain.StatusPaid})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "O1", got[0].ID)

	got, err = uc.All(ctx, ListOrdersInput{IsAdmin: true, Branch: "cbd"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "O2", got[0].ID)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultListLimit, clampLimit(0))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, maxListLimit, clampLimit(10_000))
}
