package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
	"github.com/jamesnjugunah/vendorshop/internal/scheduler"
	"github.com/jamesnjugunah/vendorshop/internal/usecase"
)

const (
	relayBatch     = 100
	relayLeaseName = "outbox-relay"
	maxBackoff     = 5 * time.Minute
)

// Lease keeps replicas from relaying the same rows at once.
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
}

// OutboxRelay publishes outbox rows to Kafka. Rows are written in the same
// transaction as the status change, so delivery is at least once.
type OutboxRelay struct {
	outbox   usecase.OutboxRepo
	producer sarama.SyncProducer
	topic    string
	lease    Lease
	leaseTTL time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewOutboxRelay builds a relay. lease may be nil for a single replica.
func NewOutboxRelay(outbox usecase.OutboxRepo, producer sarama.SyncProducer, topic string, lease Lease) *OutboxRelay {
	return &OutboxRelay{
		outbox:   outbox,
		producer: producer,
		topic:    topic,
		lease:    lease,
		leaseTTL: 5 * time.Second,
		now:      time.Now,
		log:      logging.New("outbox-relay"),
	}
}

// Flush publishes one batch of due rows and returns how many were sent.
func (r *OutboxRelay) Flush(ctx context.Context) (int, error) {
	if r.lease != nil {
		ok, err := r.lease.Acquire(ctx, relayLeaseName, r.leaseTTL)
		if err != nil || !ok {
			return 0, err
		}
	}

	msgs, err := r.outbox.FetchDue(ctx, relayBatch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, m := range msgs {
		_, _, err := r.producer.SendMessage(&sarama.ProducerMessage{
			Topic: r.topic,
			Key:   sarama.StringEncoder(m.Key),
			Value: sarama.ByteEncoder(m.Payload),
			Headers: []sarama.RecordHeader{
				{Key: []byte("event-type"), Value: []byte(m.Channel)},
			},
		})
		if err != nil {
			next := r.now().UTC().Add(backoff(m.RetryCount))
			r.log.Warn("publish failed", "outbox_id", m.ID, "retry", m.RetryCount, "error", err)
			if mErr := r.outbox.MarkRetry(ctx, m.ID, err, next); mErr != nil {
				return sent, mErr
			}
			// Keep per-order ordering: stop at the first failure.
			break
		}
		if err := r.outbox.MarkSent(ctx, m.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (r *OutboxRelay) Start(s *scheduler.Scheduler, every time.Duration) error {
	r.leaseTTL = every
	return s.Every("outbox-relay", every, func(ctx context.Context) {
		if n, err := r.Flush(ctx); err != nil {
			r.log.Error("outbox flush failed", "error", err)
		} else if n > 0 {
			r.log.Debug("outbox flushed", "sent", n)
		}
	})
}

func backoff(retries int) time.Duration {
	if retries > 8 {
		return maxBackoff
	}
	d := time.Second << retries
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
