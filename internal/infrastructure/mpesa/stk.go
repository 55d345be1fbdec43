package mpesa

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type PushRequest struct {
	Phone     string
	Amount    decimal.Decimal
	OrderID   string
	Reference string
}

type PushResult struct {
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type pushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// InitiatePush sends an STK push prompt to the payer's phone. The returned
// CheckoutRequestID is the key the callback and status queries use.
func (c *Client) InitiatePush(ctx context.Context, in PushRequest) (PushResult, error) {
	const op = "stk_push"

	phone, err := NormalizePhone(in.Phone)
	if err != nil {
		return PushResult{}, err
	}
	amount, err := WholeAmount(in.Amount)
	if err != nil {
		return PushResult{}, err
	}
	ref := in.Reference
	if ref == "" {
		ref = AccountReference(in.OrderID)
	}

	password, timestamp := Password(c.cfg.Shortcode, c.cfg.Passkey, c.now())
	payload := pushPayload{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  ref,
		TransactionDesc:   "Payment for Order " + in.OrderID,
	}

	status, body, err := c.postJSON(ctx, op, pathPush, c.pushTimeout, payload)
	if err != nil {
		return PushResult{}, err
	}
	if status < 200 || status > 299 {
		if strings.Contains(strings.ToLower(providerMessage(body)), "invalid access token") {
			c.invalidateToken()
			return PushResult{}, newError(ErrCredential, op, status, providerMessage(body), nil)
		}
		return PushResult{}, newError(ErrProvider, op, status, providerMessage(body), nil)
	}

	var out PushResult
	if err := json.Unmarshal(body, &out); err != nil {
		return PushResult{}, newError(ErrProvider, op, status, "malformed response", err)
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		return PushResult{}, newError(ErrProvider, op, status, out.ResponseDescription, nil)
	}

	c.log.Info("stk push accepted",
		"order_id", in.OrderID,
		"checkout_request_id", out.CheckoutRequestID,
		"merchant_request_id", out.MerchantRequestID,
		"amount", amount)
	return out, nil
}

// QueryResult is the provider's view of one STK transaction. ResultCode is
// nil while the payer has not yet answered the prompt.
type QueryResult struct {
	CheckoutRequestID string
	ResultCode        *int
	ResultDesc        string

	// ReceiptNumber is set only when the provider includes one.
	ReceiptNumber string
	Raw           json.RawMessage
}

func (r QueryResult) Pending() bool   { return r.ResultCode == nil }
func (r QueryResult) Succeeded() bool { return r.ResultCode != nil && *r.ResultCode == 0 }

type queryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type queryResp struct {
	ResponseCode      string          `json:"ResponseCode"`
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	ResultCode        json.RawMessage `json:"ResultCode"`
	ResultDesc        string          `json:"ResultDesc"`
	ReceiptNumber     string          `json:"MpesaReceiptNumber"`
}

// errorCode the provider returns while a transaction is still in flight.
const errCodeInFlight = "500.001.1001"

// QueryStatus asks the provider for the current state of a push.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResult, error) {
	const op = "stk_query"

	password, timestamp := Password(c.cfg.Shortcode, c.cfg.Passkey, c.now())
	status, body, err := c.postJSON(ctx, op, pathQuery, c.queryTimeout, queryPayload{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	})
	if err != nil {
		return QueryResult{}, err
	}

	res := QueryResult{CheckoutRequestID: checkoutRequestID, Raw: json.RawMessage(body)}
	if status < 200 || status > 299 {
		var pe providerError
		if json.Unmarshal(body, &pe) == nil && pe.ErrorCode == errCodeInFlight {
			res.ResultDesc = pe.ErrorMessage
			return res, nil
		}
		return QueryResult{}, newError(ErrProvider, op, status, providerMessage(body), nil)
	}

	var qr queryResp
	if err := json.Unmarshal(body, &qr); err != nil {
		return QueryResult{}, newError(ErrProvider, op, status, "malformed response", err)
	}
	res.ResultDesc = qr.ResultDesc
	res.ReceiptNumber = qr.ReceiptNumber
	if code, ok := ParseResultCode(qr.ResultCode); ok {
		res.ResultCode = &code
	}
	return res, nil
}

// ParseResultCode reads a result code sent as either "0" or 0; the provider
// is not consistent. ok is false while no result exists.
func ParseResultCode(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}
