package usecase

import (
	"context"
	"fmt"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
)

type GetOrderInput struct {
	OrderID, UserID string
	IsAdmin         bool
}

type GetOrder struct {
	repo  OrderRepo
	cache OrderCache
}

func NewGetOrder(repo OrderRepo, cache OrderCache) *GetOrder {
	return &GetOrder{repo: repo, cache: cache}
}

// Execute returns the order with its line items to its owner or an admin.
func (uc *GetOrder) Execute(ctx context.Context, in GetOrderInput) (*domain.Order, error) {
	o, err := uc.owned(ctx, in)
	if err != nil {
		return nil, err
	}
	items, err := uc.repo.ListItems(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	o.Items = items[o.ID]
	return o, nil
}

func (uc *GetOrder) owned(ctx context.Context, in GetOrderInput) (*domain.Order, error) {
	o, err := uc.repo.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != in.UserID && !in.IsAdmin {
		return nil, ErrNotFound
	}
	return o, nil
}

// Status answers the hot polling path. The per-owner cache is tried first;
// on a miss the order is read from the store and the cache is filled.
func (uc *GetOrder) Status(ctx context.Context, in GetOrderInput) (domain.Status, error) {
	log := logging.FromCtx(ctx)
	if uc.cache != nil && !in.IsAdmin {
		st, ok, err := uc.cache.GetStatus(ctx, in.UserID, in.OrderID)
		if err != nil {
			log.Warn("status cache read failed", "order_id", in.OrderID, "error", err)
		} else if ok {
			return st, nil
		}
	}

	o, err := uc.owned(ctx, in)
	if err != nil {
		return "", err
	}
	if uc.cache != nil {
		if err := uc.cache.SetStatus(ctx, o.UserID, o.ID, o.Status); err != nil {
			log.Warn("status cache write failed", "order_id", o.ID, "error", err)
		}
	}
	return o.Status, nil
}
