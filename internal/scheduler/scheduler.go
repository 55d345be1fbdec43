// Package scheduler runs periodic background jobs on robfig/cron. Every job
// is wrapped so a panic is logged instead of killing the process and a run
// that is still going makes the next tick a no-op.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	c   *cron.Cron
	log *slog.Logger
	ctx context.Context
}

func New(log *slog.Logger) *Scheduler {
	cl := cronLogger{log}
	return &Scheduler{
		c: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		log: log,
		ctx: context.Background(),
	}
}

// Every registers job to run on a fixed interval. The job receives the
// context passed to Start.
func (s *Scheduler) Every(name string, every time.Duration, job func(ctx context.Context)) error {
	if every <= 0 {
		return fmt.Errorf("scheduler: %s: interval must be positive", name)
	}
	_, err := s.c.AddFunc(fmt.Sprintf("@every %s", every), func() {
		start := time.Now()
		job(s.ctx)
		s.log.Debug("job finished", "job", name, "took_ms", time.Since(start).Milliseconds())
	})
	if err != nil {
		return fmt.Errorf("scheduler: %s: %w", name, err)
	}
	return nil
}

// Start must be called after every job is registered.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.c.Start()
}

// Stop prevents new runs and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug("cron: "+msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}
