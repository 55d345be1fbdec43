// Package reaper cancels orders that were never paid for.
package reaper

import (
	"context"
	"log/slog"
	"time"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
	"github.com/jamesnjugunah/vendorshop/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultMaxAge   = 10 * time.Minute
	DefaultEvery    = 5 * time.Minute
	DefaultLeaseTTL = 4 * time.Minute

	leaseName = "reaper:stale-orders"
)

var (
	cancelledOrders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reaper_cancelled_orders_total",
		Help: "Pending orders cancelled for age",
	})
	sweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reaper_sweeps_total",
		Help: "Reaper sweeps by outcome",
	}, []string{"outcome"})
)

// Store cancels every order still pending and created before cutoff, in one
// conditional statement, returning the ids it cancelled.
type Store interface {
	CancelStalePending(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Lease is a cross-replica mutex with expiry.
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
}

type Config struct {
	MaxAge   time.Duration
	Every    time.Duration
	LeaseTTL time.Duration
}

type Reaper struct {
	store Store
	lease Lease
	cfg   Config
	now   func() time.Time
	log   *slog.Logger
}

// New builds a reaper. lease may be nil for single-replica deployments.
func New(store Store, lease Lease, cfg Config) *Reaper {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Every <= 0 {
		cfg.Every = DefaultEvery
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	return &Reaper{store: store, lease: lease, cfg: cfg, now: time.Now, log: logging.New("reaper")}
}

// Sweep runs one pass and returns how many orders it cancelled. When another
// replica holds the lease the pass is skipped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	if r.lease != nil {
		ok, err := r.lease.Acquire(ctx, leaseName, r.cfg.LeaseTTL)
		if err != nil {
			sweeps.WithLabelValues("error").Inc()
			return 0, err
		}
		if !ok {
			sweeps.WithLabelValues("skipped").Inc()
			r.log.Debug("sweep skipped; lease held elsewhere")
			return 0, nil
		}
	}

	if _, err := domain.Transition(domain.StatusPending, domain.StatusCancelled, domain.ActorReaper); err != nil {
		sweeps.WithLabelValues("error").Inc()
		return 0, err
	}
	cutoff := r.now().UTC().Add(-r.cfg.MaxAge)
	ids, err := r.store.CancelStalePending(ctx, cutoff)
	if err != nil {
		sweeps.WithLabelValues("error").Inc()
		return 0, err
	}
	sweeps.WithLabelValues("ok").Inc()
	if len(ids) > 0 {
		cancelledOrders.Add(float64(len(ids)))
		r.log.Info("cancelled stale pending orders", "count", len(ids), "cutoff", cutoff, "order_ids", ids)
	}
	return len(ids), nil
}

// Start sweeps once right away, then on every tick of s. Errors are logged
// and the next tick retries.
func (r *Reaper) Start(ctx context.Context, s *scheduler.Scheduler) error {
	r.run(ctx)
	return s.Every("reaper", r.cfg.Every, r.run)
}

func (r *Reaper) run(ctx context.Context) {
	if _, err := r.Sweep(ctx); err != nil {
		r.log.Error("sweep failed", "error", err)
	}
}
