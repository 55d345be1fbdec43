package cache

import (
	"context"
	"time"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
	"github.com/jamesnjugunah/vendorshop/internal/usecase"
)

// StatusWriteThrough wraps an OrderRepo and pushes every applied status write
// into the status cache. It stands in for the event projector when no broker
// is configured, so cached reads follow the store. Cache failures are logged
// and never fail the write.
type StatusWriteThrough struct {
	usecase.OrderRepo
	cache usecase.OrderCache
}

func NewStatusWriteThrough(repo usecase.OrderRepo, cache usecase.OrderCache) *StatusWriteThrough {
	return &StatusWriteThrough{OrderRepo: repo, cache: cache}
}

func (w *StatusWriteThrough) StartAttempt(ctx context.Context, orderID string, a domain.PaymentAttempt) (bool, error) {
	ok, err := w.OrderRepo.StartAttempt(ctx, orderID, a)
	if err == nil && ok {
		w.refresh(ctx, orderID)
	}
	return ok, err
}

func (w *StatusWriteThrough) UpdateStatusIf(ctx context.Context, id string, ch usecase.StatusChange) (bool, error) {
	ok, err := w.OrderRepo.UpdateStatusIf(ctx, id, ch)
	if err == nil && ok {
		w.refresh(ctx, id)
	}
	return ok, err
}

func (w *StatusWriteThrough) CancelStalePending(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := w.OrderRepo.CancelStalePending(ctx, cutoff)
	for _, id := range ids {
		w.refresh(ctx, id)
	}
	return ids, err
}

// refresh re-reads the order so the owner is known and the cached value is
// whatever the store holds now.
func (w *StatusWriteThrough) refresh(ctx context.Context, orderID string) {
	log := logging.FromCtx(ctx)
	o, err := w.OrderRepo.GetByID(ctx, orderID)
	if err != nil {
		log.Warn("status cache refresh: reload failed", "order_id", orderID, "error", err)
		return
	}
	if err := w.cache.SetStatus(ctx, o.UserID, o.ID, o.Status); err != nil {
		log.Warn("status cache refresh failed", "order_id", orderID, "error", err)
	}
}

var _ usecase.OrderRepo = (*StatusWriteThrough)(nil)
