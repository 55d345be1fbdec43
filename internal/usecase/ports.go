package usecase

import (
	"context"
	"time"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/infrastructure/mpesa"
)

// StatusChange describes one conditional status write. Only the fields that
// are set are written alongside the status. Actor is recorded on the status
// event emitted with the write.
type StatusChange struct {
	From        domain.Status
	To          domain.Status
	ReceiptCode string
	Actor       domain.Actor
}

// OrderFilter narrows ListOrders. Empty fields match everything.
type OrderFilter struct {
	UserID string
	Status domain.Status
	Branch string
	Limit  int
}

type OrderRepo interface {
	// Create stores the order together with its line items.
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Order, error)
	// ListOrders returns matching orders, newest first, without items.
	ListOrders(ctx context.Context, f OrderFilter) ([]*domain.Order, error)
	ListItems(ctx context.Context, orderIDs ...string) (map[string][]domain.OrderItem, error)

	// StartAttempt moves a pending order to processing, stores the new
	// correlation id and supersedes earlier attempts, atomically. It reports
	// false when the order was no longer pending; the attempt is then kept
	// as superseded so a late callback can be attributed.
	StartAttempt(ctx context.Context, orderID string, a domain.PaymentAttempt) (bool, error)
	// UpdateStatusIf applies ch only while the order is still in ch.From.
	UpdateStatusIf(ctx context.Context, id string, ch StatusChange) (bool, error)
	// CancelStalePending cancels every pending order created before cutoff
	// and returns the ids it cancelled.
	CancelStalePending(ctx context.Context, cutoff time.Time) ([]string, error)
}

type AttemptRepo interface {
	GetAttempt(ctx context.Context, checkoutRequestID string) (*domain.PaymentAttempt, error)
	RecordAttemptResult(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc string) error
}

type PaymentGateway interface {
	InitiatePush(ctx context.Context, in mpesa.PushRequest) (mpesa.PushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (mpesa.QueryResult, error)
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
	Release(ctx context.Context, scope, key string) error
}

// OrderCache keeps a per-owner projection of order status. Keys include the
// owner, so a hit also proves ownership. SetStatus never moves an entry to a
// lower lifecycle rank than the one it holds.
type OrderCache interface {
	SetStatus(ctx context.Context, userID, orderID string, status domain.Status) error
	GetStatus(ctx context.Context, userID, orderID string) (domain.Status, bool, error)
}

// OutboxRepo feeds the relay. Rows are written by OrderRepo in the same
// transaction as the status change they describe.
type OutboxRepo interface {
	FetchDue(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, cause error, next time.Time) error
}
