package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/infrastructure/mpesa"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
)

type InitiatePaymentInput struct {
	OrderID, Phone, UserID, IdempotencyKey string
}

type InitiatePaymentOutput struct {
	Message           string `json:"message"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	MerchantRequestID string `json:"merchantRequestId"`
}

type InitiatePayment struct {
	repo OrderRepo
	gw   PaymentGateway
	idem IdempotencyStore
	now  func() time.Time
}

func NewInitiatePayment(repo OrderRepo, gw PaymentGateway, idem IdempotencyStore) *InitiatePayment {
	return &InitiatePayment{repo: repo, gw: gw, idem: idem, now: time.Now}
}

const scopeInitiate = "stk_push"

func (uc *InitiatePayment) Execute(ctx context.Context, in InitiatePaymentInput) (InitiatePaymentOutput, error) {
	if strings.TrimSpace(in.OrderID) == "" || strings.TrimSpace(in.Phone) == "" {
		return InitiatePaymentOutput{}, fmt.Errorf("%w: order id and phone number are required", ErrInvalidInput)
	}

	scope := scopeInitiate + ":" + in.UserID
	if in.IdempotencyKey != "" {
		if raw, ok, _ := uc.idem.Recall(ctx, scope, in.IdempotencyKey); ok {
			var out InitiatePaymentOutput
			if err := json.Unmarshal([]byte(raw), &out); err == nil {
				return out, nil
			}
		}
		ok, err := uc.idem.TryLock(ctx, scope, in.IdempotencyKey)
		if err != nil {
			return InitiatePaymentOutput{}, err
		}
		if !ok {
			return InitiatePaymentOutput{}, ErrDuplicate
		}
	}

	out, err := uc.initiate(ctx, in)
	if in.IdempotencyKey != "" {
		if err != nil {
			_ = uc.idem.Release(ctx, scope, in.IdempotencyKey)
		} else if b, mErr := json.Marshal(out); mErr == nil {
			_ = uc.idem.Remember(ctx, scope, in.IdempotencyKey, string(b))
		}
	}
	initiations.WithLabelValues(initiationOutcome(err)).Inc()
	return out, err
}

func (uc *InitiatePayment) initiate(ctx context.Context, in InitiatePaymentInput) (InitiatePaymentOutput, error) {
	log := logging.FromCtx(ctx).With("order_id", in.OrderID)

	order, err := uc.repo.GetByID(ctx, in.OrderID)
	if err != nil {
		return InitiatePaymentOutput{}, err
	}
	// Non-owners get the same answer as a missing order.
	if order.UserID != in.UserID {
		return InitiatePaymentOutput{}, ErrNotFound
	}
	if _, err := domain.Transition(order.Status, domain.StatusProcessing, domain.ActorInitiator); err != nil {
		return InitiatePaymentOutput{}, fmt.Errorf("%w: order is %s, not pending payment", ErrInvalidState, order.Status)
	}

	res, err := uc.gw.InitiatePush(ctx, mpesa.PushRequest{
		Phone:     in.Phone,
		Amount:    order.Total,
		OrderID:   order.ID,
		Reference: mpesa.AccountReference(order.ID),
	})
	if err != nil {
		log.Warn("stk push failed", "error", err)
		return InitiatePaymentOutput{}, fmt.Errorf("initiate push: %w", err)
	}

	ok, err := uc.repo.StartAttempt(ctx, order.ID, domain.PaymentAttempt{
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		OrderID:           order.ID,
		InitiatedAt:       uc.now().UTC(),
	})
	if err != nil {
		log.Error("store payment attempt failed", "checkout_request_id", res.CheckoutRequestID, "error", err)
		return InitiatePaymentOutput{}, fmt.Errorf("store attempt: %w", err)
	}
	if !ok {
		// The order left pending (reaper or owner) while the push was in
		// flight; the prompt is already on the phone and its callback will
		// find no order.
		log.Warn("order left pending during stk push; correlation id orphaned",
			"checkout_request_id", res.CheckoutRequestID)
		return InitiatePaymentOutput{}, fmt.Errorf("%w: order is no longer pending", ErrInvalidState)
	}

	log.Info("payment initiated", "checkout_request_id", res.CheckoutRequestID)
	return InitiatePaymentOutput{
		Message:           "Payment initiated. Please check your phone.",
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
	}, nil
}

func initiationOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, mpesa.ErrInvalidPhone), errors.Is(err, mpesa.ErrInvalidAmount):
		return "invalid_input"
	case errors.Is(err, mpesa.ErrCredential):
		return "credential_error"
	case errors.Is(err, mpesa.ErrNetwork):
		return "network_error"
	case errors.Is(err, mpesa.ErrProvider):
		return "provider_error"
	default:
		return "error"
	}
}
