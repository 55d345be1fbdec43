package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/shopspring/decimal"
)

type CreateOrderInput struct {
	UserID, IdempotencyKey, Branch, DeliveryAddress string
	DeliveryLocation                                *domain.Location
	Items                                           []domain.OrderItem
}

type CreateOrder struct {
	repo OrderRepo
	idem IdempotencyStore
	now  func() time.Time
}

func NewCreateOrder(repo OrderRepo, idem IdempotencyStore) *CreateOrder {
	return &CreateOrder{repo: repo, idem: idem, now: time.Now}
}

const scopeCreateOrder = "create_order"

// Execute places a new order in pending. The total is computed server side
// from the submitted line items.
func (uc *CreateOrder) Execute(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if strings.TrimSpace(in.Branch) == "" || len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: branch and items are required", ErrInvalidInput)
	}
	total := decimal.Zero
	for _, it := range in.Items {
		if it.ProductID == "" || it.Quantity <= 0 || !it.Price.IsPositive() {
			return nil, fmt.Errorf("%w: bad line item %q", ErrInvalidInput, it.ProductID)
		}
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	scope := scopeCreateOrder + ":" + in.UserID
	if in.IdempotencyKey != "" {
		// Fast path: idempotency recall
		if id, ok, _ := uc.idem.Recall(ctx, scope, in.IdempotencyKey); ok {
			return uc.repo.GetByID(ctx, id)
		}
		ok, err := uc.idem.TryLock(ctx, scope, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrDuplicate
		}
	}

	now := uc.now().UTC()
	o := &domain.Order{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		Branch:           in.Branch,
		Total:            total,
		DeliveryAddress:  in.DeliveryAddress,
		DeliveryLocation: in.DeliveryLocation,
		Status:           domain.StatusPending,
		Items:            in.Items,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := uc.repo.Create(ctx, o); err != nil {
		if in.IdempotencyKey != "" {
			_ = uc.idem.Release(ctx, scope, in.IdempotencyKey)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	if in.IdempotencyKey != "" {
		_ = uc.idem.Remember(ctx, scope, in.IdempotencyKey, o.ID)
	}
	return o, nil
}
