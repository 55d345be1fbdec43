// Package apiclient is a small client for the checkout API, used by the
// operator CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jamesnjugunah/vendorshop/internal/infrastructure/mpesa"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: http %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	hc      *http.Client
}

func New(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 100 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, hc: hc}
}

type PushResult struct {
	Message           string `json:"message"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	MerchantRequestID string `json:"merchantRequestId"`
}

// Pay asks the API to send a payment prompt for orderID to phone.
func (c *Client) Pay(ctx context.Context, orderID, phone, idempotencyKey string) (PushResult, error) {
	var out PushResult
	hdr := http.Header{}
	if idempotencyKey != "" {
		hdr.Set("X-Idempotency-Key", idempotencyKey)
	}
	err := c.do(ctx, http.MethodPost, "/api/payments/mpesa/stk-push", hdr,
		map[string]string{"order_id": orderID, "phone": phone}, &out)
	return out, err
}

type queryBody struct {
	ResultCode    json.RawMessage `json:"ResultCode"`
	ResultDesc    string          `json:"ResultDesc"`
	ReceiptNumber string          `json:"MpesaReceiptNumber"`
	ErrorMessage  string          `json:"errorMessage"`
}

// QueryStatus returns the provider's view of a push. It satisfies
// reconcile.Querier so the CLI can poll through the API.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (mpesa.QueryResult, error) {
	var out struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/payments/mpesa/query/"+url.PathEscape(checkoutRequestID), nil, nil, &out); err != nil {
		return mpesa.QueryResult{}, err
	}

	res := mpesa.QueryResult{CheckoutRequestID: checkoutRequestID, Raw: out.Result}
	var qb queryBody
	if len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, &qb); err != nil {
			return mpesa.QueryResult{}, fmt.Errorf("decode query result: %w", err)
		}
	}
	res.ResultDesc = qb.ResultDesc
	res.ReceiptNumber = qb.ReceiptNumber
	if res.ResultDesc == "" {
		res.ResultDesc = qb.ErrorMessage
	}
	if code, ok := mpesa.ParseResultCode(qb.ResultCode); ok {
		res.ResultCode = &code
	}
	return res, nil
}

type Order struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Total       string    `json:"total"`
	ReceiptCode string    `json:"mpesa_code"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListOrders returns the caller's order history, newest first.
func (c *Client) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	path := "/api/orders"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Orders []Order `json:"orders"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, nil, &out)
	return out.Orders, err
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var out struct {
		Order Order `json:"order"`
	}
	err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(orderID), nil, nil, &out)
	return out.Order, err
}

func (c *Client) Cancel(ctx context.Context, orderID string) (Order, error) {
	var out struct {
		Order Order `json:"order"`
	}
	err := c.do(ctx, http.MethodPatch, "/api/orders/"+url.PathEscape(orderID)+"/status", nil,
		map[string]string{"status": "cancelled"}, &out)
	return out.Order, err
}

func (c *Client) do(ctx context.Context, method, path string, hdr http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
