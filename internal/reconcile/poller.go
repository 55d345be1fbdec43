// Package reconcile polls the provider for the outcome of a payment when the
// callback is slow or lost.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jamesnjugunah/vendorshop/internal/infrastructure/mpesa"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
)

const (
	DefaultInterval    = 3 * time.Second
	DefaultMaxAttempts = 20
)

// ErrTimeout means the attempt budget ran out without the provider reporting
// any result. It says nothing about whether the customer paid, so the caller
// is sent to the order history rather than told to pay again.
var ErrTimeout = errors.New("payment status unknown: check your order history before paying again")

// FailedError is returned as soon as the provider reports a nonzero result.
type FailedError struct {
	Code int
	Desc string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("payment failed: %s (code %d)", e.Desc, e.Code)
}

type Querier interface {
	QueryStatus(ctx context.Context, checkoutRequestID string) (mpesa.QueryResult, error)
}

type Result struct {
	CheckoutRequestID string

	// ReceiptCode is the provider receipt when the query carried one, else
	// the checkout request id, which the customer can quote to support.
	ReceiptCode string
	ResultDesc  string
	Attempts    int
}

// Poller never writes order state. Callers read the order afterwards to get
// the receipt stored by the callback.
type Poller struct {
	q           Querier
	interval    time.Duration
	maxAttempts int
	log         *slog.Logger
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.log = l }
}

func New(q Querier, opts ...Option) *Poller {
	p := &Poller{q: q, interval: DefaultInterval, maxAttempts: DefaultMaxAttempts}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = logging.New("reconcile")
	}
	return p
}

// Wait sleeps one interval before each query. A query error counts as a
// pending attempt. It returns ctx.Err() on cancellation, *FailedError on a
// nonzero result and ErrTimeout when every attempt came back pending.
func (p *Poller) Wait(ctx context.Context, checkoutRequestID string) (Result, error) {
	t := time.NewTimer(p.interval)
	defer t.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-t.C:
		}

		res, err := p.q.QueryStatus(ctx, checkoutRequestID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			p.log.Warn("status query failed; will retry",
				"checkout_request_id", checkoutRequestID, "attempt", attempt, "error", err)
		case res.Succeeded():
			receipt := res.ReceiptNumber
			if receipt == "" {
				receipt = checkoutRequestID
			}
			return Result{
				CheckoutRequestID: checkoutRequestID,
				ReceiptCode:       receipt,
				ResultDesc:        res.ResultDesc,
				Attempts:          attempt,
			}, nil
		case !res.Pending():
			return Result{}, &FailedError{Code: *res.ResultCode, Desc: res.ResultDesc}
		}

		t.Reset(p.interval)
	}
	return Result{}, ErrTimeout
}
