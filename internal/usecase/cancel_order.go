package usecase

import (
	"context"
	"fmt"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
)

type CancelOrderInput struct {
	OrderID, UserID string
	IsAdmin         bool
}

type CancelOrder struct {
	repo OrderRepo
}

func NewCancelOrder(repo OrderRepo) *CancelOrder {
	return &CancelOrder{repo: repo}
}

// Execute cancels an order that has not reached a terminal state. Only the
// owner or an admin may cancel; everyone else sees ErrNotFound.
func (uc *CancelOrder) Execute(ctx context.Context, in CancelOrderInput) (*domain.Order, error) {
	o, err := uc.repo.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != in.UserID && !in.IsAdmin {
		return nil, ErrNotFound
	}
	if o.Status == domain.StatusCancelled {
		return o, nil
	}
	if _, err := domain.Transition(o.Status, domain.StatusCancelled, domain.ActorOwner); err != nil {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}

	ok, err := uc.repo.UpdateStatusIf(ctx, o.ID, StatusChange{
		From: o.Status, To: domain.StatusCancelled, Actor: domain.ActorOwner,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if !ok {
		cur, err := uc.repo.GetByID(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		if cur.Status == domain.StatusCancelled {
			return cur, nil
		}
		return nil, fmt.Errorf("%w: order moved to %s", ErrInvalidState, cur.Status)
	}

	logging.FromCtx(ctx).Info("order cancelled by user", "order_id", o.ID, "from", o.Status)
	o.Status = domain.StatusCancelled
	return o, nil
}
