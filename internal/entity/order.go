package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Actor identifies which writer is asking for a transition.
type Actor string

const (
	ActorInitiator Actor = "initiator"
	ActorCallback  Actor = "callback"
	ActorReaper    Actor = "reaper"
	ActorOwner     Actor = "owner"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrAlreadyApplied is returned when the order already sits in the target
	// state and the actor is allowed to re-apply it (duplicate callbacks).
	ErrAlreadyApplied = errors.New("transition already applied")
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusPaid, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCancelled
}

// Rank orders statuses along the lifecycle. Every legal transition moves to
// a strictly higher rank, so a projection can refuse anything that does not.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusPaid, StatusFailed, StatusCancelled:
		return 2
	}
	return -1
}

type edge struct {
	from, to Status
}

var transitions = map[edge][]Actor{
	{StatusPending, StatusProcessing}: {ActorInitiator},
	{StatusProcessing, StatusPaid}:    {ActorCallback},
	{StatusProcessing, StatusFailed}:  {ActorCallback},
	{StatusPending, StatusCancelled}:  {ActorReaper, ActorOwner},
}

// Transition is the only place order status changes are decided. It returns
// the target status when actor may move an order from -> to, ErrAlreadyApplied
// for an idempotent re-application, and ErrIllegalTransition otherwise.
func Transition(from, to Status, actor Actor) (Status, error) {
	if from == to && actor == ActorCallback && (to == StatusPaid || to == StatusFailed) {
		return to, ErrAlreadyApplied
	}
	for _, a := range transitions[edge{from, to}] {
		if a == actor {
			return to, nil
		}
	}
	return from, fmt.Errorf("%w: %s -> %s by %s", ErrIllegalTransition, from, to, actor)
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Order struct {
	ID                string
	UserID            string
	Branch            string
	Total             decimal.Decimal // KES
	DeliveryAddress   string
	DeliveryLocation  *Location
	CheckoutRequestID string
	ReceiptCode       string
	Status            Status
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderItem is one line of an order, priced at the time it was placed.
type OrderItem struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

func (o *Order) Validate() error {
	if !o.Total.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// PaymentAttempt joins an order to one accepted STK push.
type PaymentAttempt struct {
	CheckoutRequestID string
	MerchantRequestID string
	OrderID           string
	InitiatedAt       time.Time
	SupersededAt      *time.Time
}
