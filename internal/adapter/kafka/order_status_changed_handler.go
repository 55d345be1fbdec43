package kafka

import (
	"context"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/usecase"
)

// OrderStatusChangedHandler projects status events into the per-owner status
// cache. MySQL stays the source of truth; the projection only serves reads.
type OrderStatusChangedHandler struct {
	Cache usecase.OrderCache
}

func NewOrderStatusChangedHandler(cache usecase.OrderCache) *OrderStatusChangedHandler {
	return &OrderStatusChangedHandler{Cache: cache}
}

func (h *OrderStatusChangedHandler) Handle(ctx context.Context, ev usecase.OrderStatusChangedMsg) error {
	st, err := domain.ParseStatus(ev.Status)
	if err != nil || ev.OrderID == "" || ev.UserID == "" {
		// Nothing useful to project; skip rather than block the partition.
		return nil
	}
	return h.Cache.SetStatus(ctx, ev.UserID, ev.OrderID, st)
}
