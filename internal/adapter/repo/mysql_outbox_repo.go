package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jamesnjugunah/vendorshop/internal/usecase"
)

// After this many failed relays a row is parked as FAILED.
const maxOutboxRetries = 10

type MySQLOutboxRepo struct{ db *sql.DB }

func NewMySQLOutboxRepo(db *sql.DB) *MySQLOutboxRepo { return &MySQLOutboxRepo{db: db} }

// emitStatus appends an order.status_changed row inside tx. The row is read
// back after the update so the event carries the stored receipt and
// correlation id.
func (r *MySQLOrderRepo) emitStatus(ctx context.Context, tx *sql.Tx, orderID string, ch usecase.StatusChange, now time.Time) error {
	var (
		userID            string
		checkout, receipt sql.NullString
	)
	if err := tx.QueryRowContext(ctx, `
SELECT user_id,mpesa_checkout_request_id,mpesa_code FROM orders WHERE id=?`, orderID).
		Scan(&userID, &checkout, &receipt); err != nil {
		return err
	}
	payload, err := json.Marshal(usecase.OrderStatusChangedMsg{
		OrderID:           orderID,
		UserID:            userID,
		From:              string(ch.From),
		Status:            string(ch.To),
		CheckoutRequestID: checkout.String,
		ReceiptCode:       receipt.String,
		Actor:             string(ch.Actor),
		OccurredAt:        now,
	})
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO outbox (channel,msg_key,payload,status,retry_count,next_attempt_at,created_at)
VALUES (?, ?, ?, 'PENDING', 0, ?, ?)`, usecase.EventOrderStatusChanged, orderID, payload, now, now)
	return err
}

// FetchDue returns relayable rows in id order. A row is held back while an
// earlier row for the same key is still unsent, including one parked as
// FAILED, so events for one order never reach the broker out of order.
func (r *MySQLOutboxRepo) FetchDue(ctx context.Context, limit int) ([]usecase.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,channel,msg_key,payload,retry_count FROM outbox
WHERE status='PENDING' AND next_attempt_at <= ?
AND NOT EXISTS (
  SELECT 1 FROM outbox o2
  WHERE o2.msg_key=outbox.msg_key AND o2.id<outbox.id AND o2.status<>'SENT'
)
ORDER BY id LIMIT ?`, time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []usecase.OutboxMessage
	for rows.Next() {
		var m usecase.OutboxMessage
		if err := rows.Scan(&m.ID, &m.Channel, &m.Key, &m.Payload, &m.RetryCount); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MySQLOutboxRepo) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE outbox SET status='SENT', sent_at=? WHERE id=?`, time.Now().UTC(), id)
	return err
}

func (r *MySQLOutboxRepo) MarkRetry(ctx context.Context, id int64, cause error, next time.Time) error {
	msg := cause.Error()
	if len(msg) > 255 {
		msg = msg[:255]
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE outbox
SET retry_count = retry_count + 1,
    last_error = ?,
    next_attempt_at = ?,
    status = IF(retry_count >= ?, 'FAILED', 'PENDING')
WHERE id=?`, msg, next, maxOutboxRetries, id)
	return err
}

var _ usecase.OutboxRepo = (*MySQLOutboxRepo)(nil)
