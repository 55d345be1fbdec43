package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jamesnjugunah/vendorshop/internal/adapter/http/middleware"
	"github.com/jamesnjugunah/vendorshop/internal/infrastructure/mpesa"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
	"github.com/jamesnjugunah/vendorshop/internal/usecase"
)

type paymentInitiator interface {
	Execute(ctx context.Context, in usecase.InitiatePaymentInput) (usecase.InitiatePaymentOutput, error)
}

type callbackHandler interface {
	Execute(ctx context.Context, in usecase.CallbackInput) (usecase.CallbackOutcome, error)
}

type paymentQuerier interface {
	Execute(ctx context.Context, in usecase.QueryPaymentInput) (mpesa.QueryResult, error)
}

type PaymentHandler struct {
	initiate paymentInitiator
	callback callbackHandler
	query    paymentQuerier
}

func NewPaymentHandler(initiate paymentInitiator, callback callbackHandler, query paymentQuerier) *PaymentHandler {
	return &PaymentHandler{initiate: initiate, callback: callback, query: query}
}

type stkPushReq struct {
	OrderID string `json:"order_id"`
	Phone   string `json:"phone"`
}

// STKPush sends a payment prompt to the payer's phone for one of the
// caller's pending orders.
func (h *PaymentHandler) STKPush(c *gin.Context) {
	var req stkPushReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	// token fetch and push each have their own provider timeout
	ctx, cancel := context.WithTimeout(c.Request.Context(), 95*time.Second)
	defer cancel()

	out, err := h.initiate.Execute(ctx, usecase.InitiatePaymentInput{
		OrderID:        req.OrderID,
		Phone:          req.Phone,
		UserID:         middleware.UserID(c),
		IdempotencyKey: c.GetHeader("X-Idempotency-Key"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type callbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

var (
	ackAccepted = gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}
	ackFailed   = gin.H{"ResultCode": 1, "ResultDesc": "Failed"}
)

// Callback receives the provider's result notification. The provider only
// understands the acknowledgement body, so every answer is a 200.
func (h *PaymentHandler) Callback(c *gin.Context) {
	log := logging.From(c)

	in, err := decodeCallback(c)
	if err != nil {
		log.Warn("malformed mpesa callback", "error", err)
		c.JSON(http.StatusOK, ackFailed)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	outcome, err := h.callback.Execute(ctx, in)
	if err != nil {
		log.Error("mpesa callback not applied", "checkout_request_id", in.CheckoutRequestID, "error", err)
		c.JSON(http.StatusOK, ackFailed)
		return
	}
	log.Info("mpesa callback", "checkout_request_id", in.CheckoutRequestID, "outcome", outcome)
	c.JSON(http.StatusOK, ackAccepted)
}

func decodeCallback(c *gin.Context) (usecase.CallbackInput, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return usecase.CallbackInput{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return usecase.CallbackInput{}, err
	}
	cb := env.Body.StkCallback
	if cb == nil {
		return usecase.CallbackInput{}, errMissingCallback
	}
	code, err := cb.ResultCode.Int64()
	if err != nil {
		return usecase.CallbackInput{}, err
	}

	in := usecase.CallbackInput{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        int(code),
		ResultDesc:        cb.ResultDesc,
	}
	for _, it := range cb.CallbackMetadata.Item {
		in.Items = append(in.Items, usecase.CallbackItem{Name: it.Name, Value: it.Value})
	}
	return in, nil
}

// Query asks the provider for the live state of a push the caller owns.
func (h *PaymentHandler) Query(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 65*time.Second)
	defer cancel()

	res, err := h.query.Execute(ctx, usecase.QueryPaymentInput{
		CheckoutRequestID: c.Param("checkoutRequestId"),
		UserID:            middleware.UserID(c),
		IsAdmin:           middleware.IsAdmin(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res.Raw})
}
