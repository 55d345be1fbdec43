package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jamesnjugunah/vendorshop/configs"
	"github.com/jamesnjugunah/vendorshop/internal/adapter/http/middleware"
	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/infrastructure/mpesa"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
	"github.com/jamesnjugunah/vendorshop/internal/usecase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeInitiate struct {
	in  usecase.InitiatePaymentInput
	out usecase.InitiatePaymentOutput
	err error
}

func (f *fakeInitiate) Execute(_ context.Context, in usecase.InitiatePaymentInput) (usecase.InitiatePaymentOutput, error) {
	f.in = in
	return f.out, f.err
}

type fakeCallback struct {
	calls   int
	in      usecase.CallbackInput
	outcome usecase.CallbackOutcome
	err     error
}

func (f *fakeCallback) Execute(_ context.Context, in usecase.CallbackInput) (usecase.CallbackOutcome, error) {
	f.calls++
	f.in = in
	return f.outcome, f.err
}

type fakeQuery struct {
	in  usecase.QueryPaymentInput
	res mpesa.QueryResult
	err error
}

func (f *fakeQuery) Execute(_ context.Context, in usecase.QueryPaymentInput) (mpesa.QueryResult, error) {
	f.in = in
	return f.res, f.err
}

type fakeOrders struct {
	created usecase.CreateOrderInput
	order   *domain.Order
	status  domain.Status
	err     error
	cancel  usecase.CancelOrderInput
}

func (f *fakeOrders) Execute(_ context.Context, in usecase.GetOrderInput) (*domain.Order, error) {
	return f.order, f.err
}

func (f *fakeOrders) Status(_ context.Context, in usecase.GetOrderInput) (domain.Status, error) {
	return f.status, f.err
}

type fakeCreate struct{ *fakeOrders }

func (f fakeCreate) Execute(_ context.Context, in usecase.CreateOrderInput) (*domain.Order, error) {
	f.created = in
	return f.order, f.err
}

type fakeCancel struct{ *fakeOrders }

func (f fakeCancel) Execute(_ context.Context, in usecase.CancelOrderInput) (*domain.Order, error) {
	f.fakeOrders.cancel = in
	return f.order, f.err
}

type fakeList struct {
	in     usecase.ListOrdersInput
	orders []*domain.Order
}

func (f *fakeList) Mine(_ context.Context, in usecase.ListOrdersInput) ([]*domain.Order, error) {
	f.in = in
	return f.orders, nil
}

func (f *fakeList) All(_ context.Context, in usecase.ListOrdersInput) ([]*domain.Order, error) {
	f.in = in
	if !in.IsAdmin {
		return nil, usecase.ErrForbidden
	}
	return f.orders, nil
}

type harness struct {
	r        *gin.Engine
	initiate *fakeInitiate
	callback *fakeCallback
	query    *fakeQuery
	orders   *fakeOrders
	list     *fakeList
}

const testSecret = "handler-secret"

func newHarness(t *testing.T) *harness {
	t.Helper()
	var cfg configs.Config
	cfg.Security.JWTSecret = testSecret
	cfg.Security.AdminRole = "admin"

	guard, err := middleware.NewCallbackGuard("", nil)
	require.NoError(t, err)

	h := &harness{
		initiate: &fakeInitiate{},
		callback: &fakeCallback{outcome: usecase.OutcomePaid},
		query:    &fakeQuery{},
		orders:   &fakeOrders{},
		list:     &fakeList{},
	}
	h.r = NewRouter(RouterDeps{
		Orders:   NewOrderHandler(fakeCreate{h.orders}, h.orders, h.list, fakeCancel{h.orders}),
		Payments: NewPaymentHandler(h.initiate, h.callback, h.query),
		Authz:    middleware.NewAuthz(cfg),
		Guard:    guard,
		Logger:   logging.Discard(),
	})
	return h
}

func bearer(t *testing.T, sub string, admin bool) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if admin {
		claims["role"] = "admin"
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

func (h *harness) do(t *testing.T, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	return w
}

func TestSTKPush_Accepted(t *testing.T) {
	h := newHarness(t)
	h.initiate.out = usecase.InitiatePaymentOutput{
		Message:           "Payment initiated. Please check your phone.",
		CheckoutRequestID: "ws_CO_1",
		MerchantRequestID: "29115-1",
	}

	w := h.do(t, http.MethodPost, "/api/payments/mpesa/stk-push", bearer(t, "u1", false),
		`{"order_id":"ORDER-3f2a9c1b","phone":"0712345678"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Payment initiated. Please check your phone.","checkoutRequestId":"ws_CO_1","merchantRequestId":"29115-1"}`, w.Body.String())
	assert.Equal(t, "u1", h.initiate.in.UserID)
	assert.Equal(t, "ORDER-3f2a9c1b", h.initiate.in.OrderID)
	assert.Equal(t, "0712345678", h.initiate.in.Phone)
}

func TestSTKPush_RequiresJWT(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/payments/mpesa/stk-push", "", `{"order_id":"O","phone":"0712345678"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSTKPush_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"invalid phone", fmt.Errorf("initiate push: %w", &mpesa.Error{Kind: mpesa.ErrInvalidPhone, Op: "stk_push"}), 400, ""},
		{"invalid state", fmt.Errorf("%w: order is paid", usecase.ErrInvalidState), 400, ""},
		{"not found", usecase.ErrNotFound, 404, "not found"},
		{"credentials", &mpesa.Error{Kind: mpesa.ErrCredential, Op: "token"}, 401, "payment provider rejected our credentials"},
		{"provider", &mpesa.Error{Kind: mpesa.ErrProvider, Op: "stk_push", Status: 400}, 502, ""},
		{"network", &mpesa.Error{Kind: mpesa.ErrNetwork, Op: "stk_push"}, 503, ""},
		{"duplicate", usecase.ErrDuplicate, 409, ""},
		{"unknown", errors.New("boom"), 500, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.initiate.err = tt.err
			w := h.do(t, http.MethodPost, "/api/payments/mpesa/stk-push", bearer(t, "u1", false),
				`{"order_id":"O1","phone":"0712345678"}`)

			assert.Equal(t, tt.wantCode, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["error"])
			}
		})
	}
}

func TestSTKPush_MalformedBody(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/payments/mpesa/stk-push", bearer(t, "u1", false), `{"order_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

const paidCallback = `{"Body":{"stkCallback":{
	"MerchantRequestID":"29115-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,
	"ResultDesc":"The service request is processed successfully.",
	"CallbackMetadata":{"Item":[
		{"Name":"Amount","Value":250},
		{"Name":"MpesaReceiptNumber","Value":"ABC123"},
		{"Name":"PhoneNumber","Value":254712345678}]}}}}`

func TestCallback_Accepted(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/payments/mpesa/callback", "", paidCallback)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
	assert.Equal(t, "ws_CO_1", h.callback.in.CheckoutRequestID)
	assert.Equal(t, 0, h.callback.in.ResultCode)
	assert.Equal(t, "ABC123", usecase.ReceiptFrom(h.callback.in.Items))
	require.Len(t, h.callback.in.Items, 3)
	assert.Equal(t, json.Number("254712345678"), h.callback.in.Items[2].Value)
}

func TestCallback_FailureResult(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/payments/mpesa/callback", "",
		`{"Body":{"stkCallback":{"MerchantRequestID":"m","CheckoutRequestID":"ws_CO_2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
	assert.Equal(t, 1032, h.callback.in.ResultCode)
	assert.Empty(t, h.callback.in.Items)
}

func TestCallback_UnmatchedStillAccepted(t *testing.T) {
	h := newHarness(t)
	h.callback.outcome = usecase.OutcomeUnmatched
	w := h.do(t, http.MethodPost, "/api/payments/mpesa/callback", "", paidCallback)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
}

func TestCallback_FailedAcks(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		err       error
		wantCalls int
	}{
		{"not json", `not json`, nil, 0},
		{"missing envelope", `{"Body":{}}`, nil, 0},
		{"missing result code", `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1"}}}`, nil, 0},
		{"store failure", paidCallback, errors.New("db down"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.callback.err = tt.err
			w := h.do(t, http.MethodPost, "/api/payments/mpesa/callback", "", tt.body)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"ResultCode":1,"ResultDesc":"Failed"}`, w.Body.String())
			assert.Equal(t, tt.wantCalls, h.callback.calls)
		})
	}
}

func TestQuery_ReturnsProviderJSON(t *testing.T) {
	h := newHarness(t)
	code := 0
	h.query.res = mpesa.QueryResult{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        &code,
		Raw:               json.RawMessage(`{"ResultCode":"0","ResultDesc":"ok"}`),
	}

	w := h.do(t, http.MethodGet, "/api/payments/mpesa/query/ws_CO_1", bearer(t, "ops", true), "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":{"ResultCode":"0","ResultDesc":"ok"}}`, w.Body.String())
	assert.Equal(t, "ws_CO_1", h.query.in.CheckoutRequestID)
	assert.True(t, h.query.in.IsAdmin)
}

func TestCreateOrder(t *testing.T) {
	h := newHarness(t)
	h.orders.order = &domain.Order{
		ID: "o1", UserID: "u1", Branch: "westlands",
		Total: decimal.RequireFromString("149.99"), Status: domain.StatusPending,
	}

	w := h.do(t, http.MethodPost, "/api/orders", bearer(t, "u1", false),
		`{"branch":"westlands","items":[{"product_id":"p1","quantity":1,"price":"149.99"}]}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var body struct {
		Order orderResp `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "o1", body.Order.ID)
	assert.Equal(t, domain.StatusPending, body.Order.Status)
	assert.True(t, decimal.RequireFromString("149.99").Equal(body.Order.Total))
	assert.Equal(t, "u1", h.orders.created.UserID)
	require.Len(t, h.orders.created.Items, 1)
	assert.Equal(t, "p1", h.orders.created.Items[0].ProductID)
}

func TestCreateOrder_RejectsEmptyItems(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/orders", bearer(t, "u1", false), `{"branch":"westlands","items":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderStatus(t *testing.T) {
	h := newHarness(t)
	h.orders.status = domain.StatusPaid
	w := h.do(t, http.MethodGet, "/api/orders/o1/status", bearer(t, "u1", false), "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"o1","status":"paid"}`, w.Body.String())
}

func TestGetOrder_NotFound(t *testing.T) {
	h := newHarness(t)
	h.orders.err = usecase.ErrNotFound
	w := h.do(t, http.MethodGet, "/api/orders/o1", bearer(t, "stranger", false), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateStatus(t *testing.T) {
	t.Run("cancel", func(t *testing.T) {
		h := newHarness(t)
		h.orders.order = &domain.Order{ID: "o1", UserID: "u1", Status: domain.StatusCancelled}
		w := h.do(t, http.MethodPatch, "/api/orders/o1/status", bearer(t, "u1", false), `{"status":"cancelled"}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "o1", h.orders.cancel.OrderID)
		assert.Equal(t, "u1", h.orders.cancel.UserID)
	})
	t.Run("other status refused", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(t, http.MethodPatch, "/api/orders/o1/status", bearer(t, "u1", false), `{"status":"paid"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, h.orders.cancel.OrderID)
	})
	t.Run("processing order", func(t *testing.T) {
		h := newHarness(t)
		h.orders.err = fmt.Errorf("%w: order is processing", usecase.ErrInvalidState)
		w := h.do(t, http.MethodPatch, "/api/orders/o1/status", bearer(t, "u1", false), `{"status":"cancelled"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListMine(t *testing.T) {
	h := newHarness(t)
	h.list.orders = []*domain.Order{
		{ID: "O2", UserID: "u1", Status: domain.StatusPending, Total: decimal.NewFromInt(80)},
		{ID: "O1", UserID: "u1", Status: domain.StatusPaid, Total: decimal.NewFromInt(120), ReceiptCode: "ABC123",
			Items: []domain.OrderItem{{ProductID: "tusker", Quantity: 2, Price: decimal.NewFromInt(60)}}},
	}

	w := h.do(t, http.MethodGet, "/api/orders?limit=10", bearer(t, "u1", false), "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Orders []struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			MpesaCode string `json:"mpesa_code"`
			Items     []struct {
				ProductID string `json:"product_id"`
				Quantity  int    `json:"quantity"`
			} `json:"items"`
		} `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Orders, 2)
	assert.Equal(t, "O2", body.Orders[0].ID)
	assert.Equal(t, "ABC123", body.Orders[1].MpesaCode)
	require.Len(t, body.Orders[1].Items, 1)
	assert.Equal(t, 2, body.Orders[1].Items[0].Quantity)
	assert.Equal(t, "u1", h.list.in.UserID)
	assert.Equal(t, 10, h.list.in.Limit)
}

func TestListMine_EmptyIsArray(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/orders", bearer(t, "u1", false), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orders":[]}`, w.Body.String())
}

func TestListAll(t *testing.T) {
	t.Run("admin with filters", func(t *testing.T) {
		h := newHarness(t)
		h.list.orders = []*domain.Order{{ID: "O1", UserID: "u9", Branch: "cbd", Status: domain.StatusPaid}}

		w := h.do(t, http.MethodGet, "/api/orders/admin/all?status=paid&branch=cbd", bearer(t, "ops", true), "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"id":"O1"`)
		assert.Equal(t, domain.StatusPaid, h.list.in.Status)
		assert.Equal(t, "cbd", h.list.in.Branch)
		assert.True(t, h.list.in.IsAdmin)
	})

	t.Run("customer is refused", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(t, http.MethodGet, "/api/orders/admin/all", bearer(t, "u1", false), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown status", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(t, http.MethodGet, "/api/orders/admin/all?status=shipped", bearer(t, "ops", true), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("does not shadow order lookup", func(t *testing.T) {
		h := newHarness(t)
		h.orders.order = &domain.Order{ID: "admin", UserID: "u1", Status: domain.StatusPending}
		w := h.do(t, http.MethodGet, "/api/orders/admin", bearer(t, "u1", false), "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"id":"admin"`)
	})
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
