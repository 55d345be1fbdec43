package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
)

type CallbackItem struct {
	Name  string
	Value any
}

// CallbackInput is the provider's result notification, already unwrapped
// from its Body.stkCallback envelope.
type CallbackInput struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Items             []CallbackItem
}

type CallbackOutcome string

const (
	OutcomePaid       CallbackOutcome = "paid"
	OutcomeFailed     CallbackOutcome = "failed"
	OutcomeDuplicate  CallbackOutcome = "duplicate"
	OutcomeUnmatched  CallbackOutcome = "unmatched"
	OutcomeSuperseded CallbackOutcome = "superseded"
	OutcomeIgnored    CallbackOutcome = "ignored"
	OutcomeError      CallbackOutcome = "error"
)

const receiptItemName = "MpesaReceiptNumber"

type HandleCallback struct {
	repo     OrderRepo
	attempts AttemptRepo
}

func NewHandleCallback(repo OrderRepo, attempts AttemptRepo) *HandleCallback {
	return &HandleCallback{repo: repo, attempts: attempts}
}

// Execute reconciles one notification. It is safe to call any number of
// times with the same input. A nil error means the notification should be
// acknowledged as accepted, including when no order matches.
func (uc *HandleCallback) Execute(ctx context.Context, in CallbackInput) (CallbackOutcome, error) {
	outcome, err := uc.handle(ctx, in)
	if err != nil {
		outcome = OutcomeError
	}
	callbacks.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (uc *HandleCallback) handle(ctx context.Context, in CallbackInput) (CallbackOutcome, error) {
	if strings.TrimSpace(in.CheckoutRequestID) == "" {
		return OutcomeError, fmt.Errorf("%w: missing CheckoutRequestID", ErrInvalidInput)
	}
	log := logging.FromCtx(ctx).With(
		"checkout_request_id", in.CheckoutRequestID,
		"result_code", in.ResultCode,
		"result_desc", in.ResultDesc,
	)

	order, err := uc.repo.GetByCheckoutRequestID(ctx, in.CheckoutRequestID)
	if errors.Is(err, ErrNotFound) {
		return uc.unmatched(ctx, log, in)
	}
	if err != nil {
		return OutcomeError, fmt.Errorf("lookup order: %w", err)
	}
	log = log.With("order_id", order.ID)

	if err := uc.attempts.RecordAttemptResult(ctx, in.CheckoutRequestID, in.ResultCode, in.ResultDesc); err != nil {
		log.Warn("record attempt result failed", "error", err)
	}

	target, receipt := domain.StatusFailed, ""
	if in.ResultCode == 0 {
		target, receipt = domain.StatusPaid, ReceiptFrom(in.Items)
	}

	if _, err := domain.Transition(order.Status, target, domain.ActorCallback); err != nil {
		if errors.Is(err, domain.ErrAlreadyApplied) {
			if receipt != "" && order.ReceiptCode != "" && receipt != order.ReceiptCode {
				log.Warn("duplicate callback carries a different receipt", "stored_receipt", order.ReceiptCode, "receipt", receipt)
			}
			log.Info("duplicate callback", "status", order.Status)
			return OutcomeDuplicate, nil
		}
		log.Warn("callback does not apply to order state", "status", order.Status, "target", target)
		return OutcomeIgnored, nil
	}

	ok, err := uc.repo.UpdateStatusIf(ctx, order.ID, StatusChange{
		From: order.Status, To: target, ReceiptCode: receipt, Actor: domain.ActorCallback,
	})
	if err != nil {
		return OutcomeError, fmt.Errorf("update order status: %w", err)
	}
	if !ok {
		// Someone moved the order between our read and write.
		cur, err := uc.repo.GetByID(ctx, order.ID)
		if err != nil {
			return OutcomeError, fmt.Errorf("reload order: %w", err)
		}
		if cur.Status == target {
			log.Info("duplicate callback raced", "status", cur.Status)
			return OutcomeDuplicate, nil
		}
		log.Warn("order moved before callback applied", "status", cur.Status, "target", target)
		return OutcomeIgnored, nil
	}

	if target == domain.StatusPaid {
		log.Info("order paid", "receipt", receipt)
		return OutcomePaid, nil
	}
	log.Info("order payment failed")
	return OutcomeFailed, nil
}

// unmatched handles a notification whose correlation id is not stored on any
// order: unknown, expired, or superseded by a later retry. It never changes
// order status.
func (uc *HandleCallback) unmatched(ctx context.Context, log *slog.Logger, in CallbackInput) (CallbackOutcome, error) {
	a, err := uc.attempts.GetAttempt(ctx, in.CheckoutRequestID)
	if err != nil || a == nil {
		log.Warn("no order for callback")
		return OutcomeUnmatched, nil
	}
	if err := uc.attempts.RecordAttemptResult(ctx, in.CheckoutRequestID, in.ResultCode, in.ResultDesc); err != nil {
		log.Warn("record superseded attempt result failed", "error", err)
	}
	log.Warn("callback for superseded payment attempt; order status unchanged",
		"order_id", a.OrderID,
		"receipt", ReceiptFrom(in.Items))
	return OutcomeSuperseded, nil
}

// ReceiptFrom extracts the receipt code from the callback metadata list.
func ReceiptFrom(items []CallbackItem) string {
	for _, it := range items {
		if it.Name != receiptItemName {
			continue
		}
		switch v := it.Value.(type) {
		case string:
			return v
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}
