package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jamesnjugunah/vendorshop/internal/infrastructure/mpesa"
)

type QueryPaymentInput struct {
	CheckoutRequestID, UserID string
	IsAdmin                   bool
}

// QueryPayment is a passthrough to the provider's status query, limited to
// correlation ids that belong to the caller.
type QueryPayment struct {
	repo     OrderRepo
	attempts AttemptRepo
	gw       PaymentGateway
}

func NewQueryPayment(repo OrderRepo, attempts AttemptRepo, gw PaymentGateway) *QueryPayment {
	return &QueryPayment{repo: repo, attempts: attempts, gw: gw}
}

func (uc *QueryPayment) Execute(ctx context.Context, in QueryPaymentInput) (mpesa.QueryResult, error) {
	if strings.TrimSpace(in.CheckoutRequestID) == "" {
		return mpesa.QueryResult{}, fmt.Errorf("%w: checkout request id is required", ErrInvalidInput)
	}
	owner, err := uc.ownerOf(ctx, in.CheckoutRequestID)
	if err != nil {
		return mpesa.QueryResult{}, err
	}
	if owner != in.UserID && !in.IsAdmin {
		return mpesa.QueryResult{}, ErrNotFound
	}

	res, err := uc.gw.QueryStatus(ctx, in.CheckoutRequestID)
	if err != nil {
		return mpesa.QueryResult{}, fmt.Errorf("query status: %w", err)
	}
	return res, nil
}

// ownerOf resolves the user behind a correlation id, falling back to the
// attempt history for ids that have since been superseded.
func (uc *QueryPayment) ownerOf(ctx context.Context, checkoutRequestID string) (string, error) {
	o, err := uc.repo.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err == nil {
		return o.UserID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	a, err := uc.attempts.GetAttempt(ctx, checkoutRequestID)
	if err != nil {
		return "", err
	}
	o, err = uc.repo.GetByID(ctx, a.OrderID)
	if err != nil {
		return "", err
	}
	return o.UserID, nil
}
