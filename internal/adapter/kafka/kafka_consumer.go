package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
	"github.com/jamesnjugunah/vendorshop/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultHandlerAttempts = 5
	DefaultHandlerBackoff  = 200 * time.Millisecond
	maxHandlerBackoff      = 5 * time.Second
)

var consumedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "status_events_consumed_total",
	Help: "Status events read by the projector, by outcome",
}, []string{"outcome"})

// HandlerFunc processes a decoded status event.
type HandlerFunc func(ctx context.Context, ev usecase.OrderStatusChangedMsg) error

// Consumer drives a consumer group over the status topic. A failing handler
// is retried with exponential backoff; once Attempts runs out the event is
// logged, counted and committed so its partition keeps moving.
type Consumer struct {
	Group    sarama.ConsumerGroup
	Topics   []string
	Handle   HandlerFunc
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger
}

func NewConsumer(group sarama.ConsumerGroup, topics []string, h HandlerFunc) *Consumer {
	return &Consumer{
		Group:    group,
		Topics:   topics,
		Handle:   h,
		Attempts: DefaultHandlerAttempts,
		Backoff:  DefaultHandlerBackoff,
		Logger:   logging.New("status-projector"),
	}
}

// Start blocks until ctx is cancelled or the group fails.
func (c *Consumer) Start(ctx context.Context) error {
	handler := &cgHandler{handle: c.Handle, attempts: c.Attempts, backoff: c.Backoff, logger: c.Logger}
	for {
		if err := c.Group.Consume(ctx, c.Topics, handler); err != nil {
			return err
		}
		// Consume returns on rebalance or when ctx is cancelled.
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type cgHandler struct {
	handle   HandlerFunc
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

func (h *cgHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *cgHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var ev usecase.OrderStatusChangedMsg
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			consumedEvents.WithLabelValues("undecodable").Inc()
			h.logger.Warn("undecodable status event", "error", err, "topic", msg.Topic,
				"partition", msg.Partition, "offset", msg.Offset)
			sess.MarkMessage(msg, "")
			continue
		}

		err := h.handleWithRetry(sess.Context(), ev)
		if sess.Context().Err() != nil {
			// Session is ending; leave the offset so the next owner replays it.
			return nil
		}
		if err != nil {
			consumedEvents.WithLabelValues("dropped").Inc()
			h.logger.Error("giving up on status event", "error", err, "order_id", ev.OrderID,
				"status", ev.Status, "partition", msg.Partition, "offset", msg.Offset, "attempts", h.attempts)
		} else {
			consumedEvents.WithLabelValues("applied").Inc()
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

// handleWithRetry calls the handler up to h.attempts times, doubling the wait
// between tries. It stops early when ctx ends.
func (h *cgHandler) handleWithRetry(ctx context.Context, ev usecase.OrderStatusChangedMsg) error {
	attempts := h.attempts
	if attempts < 1 {
		attempts = 1
	}
	wait := h.backoff
	var err error
	for i := 1; ; i++ {
		if err = h.handle(ctx, ev); err == nil {
			return nil
		}
		if i >= attempts {
			return err
		}
		h.logger.Warn("status event handler failed; retrying", "error", err, "order_id", ev.OrderID,
			"attempt", i, "wait", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait *= 2
		if wait > maxHandlerBackoff {
			wait = maxHandlerBackoff
		}
	}
}
