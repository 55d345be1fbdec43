package usecase

import (
	"context"
	"fmt"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type ListOrdersInput struct {
	UserID  string
	IsAdmin bool
	Status  domain.Status
	Branch  string
	Limit   int
}

type ListOrders struct {
	repo OrderRepo
}

func NewListOrders(repo OrderRepo) *ListOrders {
	return &ListOrders{repo: repo}
}

// Mine returns the caller's order history, newest first.
func (uc *ListOrders) Mine(ctx context.Context, in ListOrdersInput) ([]*domain.Order, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	return uc.list(ctx, OrderFilter{UserID: in.UserID, Limit: clampLimit(in.Limit)})
}

// All lists every order for admins, optionally narrowed by status and branch.
func (uc *ListOrders) All(ctx context.Context, in ListOrdersInput) ([]*domain.Order, error) {
	if !in.IsAdmin {
		return nil, ErrForbidden
	}
	return uc.list(ctx, OrderFilter{Status: in.Status, Branch: in.Branch, Limit: clampLimit(in.Limit)})
}

func (uc *ListOrders) list(ctx context.Context, f OrderFilter) ([]*domain.Order, error) {
	orders, err := uc.repo.ListOrders(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := uc.repo.ListItems(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	for _, o := range orders {
		o.Items = items[o.ID]
	}
	return orders, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	default:
		return n
	}
}
