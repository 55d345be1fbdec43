package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/usecase"
)

// Upper bound on orders cancelled by one reaper statement.
const reapBatch = 500

type MySQLOrderRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLOrderRepo(db *sql.DB) *MySQLOrderRepo {
	return &MySQLOrderRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const orderColumns = `id,user_id,branch,total,delivery_address,delivery_lat,delivery_lng,
mpesa_checkout_request_id,mpesa_code,status,created_at,updated_at`

// Create stores the order and its line items in one transaction.
func (r *MySQLOrderRepo) Create(ctx context.Context, o *domain.Order) error {
	var lat, lng sql.NullFloat64
	if o.DeliveryLocation != nil {
		lat = sql.NullFloat64{Float64: o.DeliveryLocation.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: o.DeliveryLocation.Lng, Valid: true}
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO orders (id,user_id,branch,total,delivery_address,delivery_lat,delivery_lng,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			o.ID, o.UserID, o.Branch, o.Total, o.DeliveryAddress, lat, lng, o.Status, o.CreatedAt, o.UpdatedAt); err != nil {
			return err
		}
		if len(o.Items) == 0 {
			return nil
		}
		args := make([]any, 0, 4*len(o.Items))
		for _, it := range o.Items {
			args = append(args, o.ID, it.ProductID, it.Quantity, it.Price)
		}
		values := strings.TrimSuffix(strings.Repeat("(?,?,?,?),", len(o.Items)), ",")
		_, err := tx.ExecContext(ctx, `
INSERT INTO order_items (order_id,product_id,quantity,price) VALUES `+values, args...)
		return err
	})
}

func (r *MySQLOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
}

func (r *MySQLOrderRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE mpesa_checkout_request_id=?`, checkoutRequestID)
}

func (r *MySQLOrderRepo) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, usecase.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders returns the orders matching f, newest first.
func (r *MySQLOrderRepo) ListOrders(ctx context.Context, f usecase.OrderFilter) ([]*domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if f.Branch != "" {
		where = append(where, "branch=?")
		args = append(args, f.Branch)
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListItems returns the line items of the given orders, keyed by order id.
func (r *MySQLOrderRepo) ListItems(ctx context.Context, orderIDs ...string) (map[string][]domain.OrderItem, error) {
	out := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orderIDs)), ",")
	rows, err := r.db.QueryContext(ctx, `
SELECT order_id,product_id,quantity,price FROM order_items
WHERE order_id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      domain.OrderItem
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o                 domain.Order
		lat, lng          sql.NullFloat64
		checkout, receipt sql.NullString
		status            string
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.Branch, &o.Total, &o.DeliveryAddress, &lat, &lng,
		&checkout, &receipt, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	o.Status = st
	o.CheckoutRequestID = checkout.String
	o.ReceiptCode = receipt.String
	if lat.Valid && lng.Valid {
		o.DeliveryLocation = &domain.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &o, nil
}

// StartAttempt records the accepted push and, if the order is still pending,
// moves it to processing and supersedes earlier attempts. When the order has
// already left pending the attempt is stored as superseded so its callback can
// still be attributed, and false is returned.
func (r *MySQLOrderRepo) StartAttempt(ctx context.Context, orderID string, a domain.PaymentAttempt) (bool, error) {
	if _, err := domain.Transition(domain.StatusPending, domain.StatusProcessing, domain.ActorInitiator); err != nil {
		return false, err
	}
	now := r.now()
	var started bool
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE orders SET status='processing', mpesa_checkout_request_id=?, updated_at=?
WHERE id=? AND status='pending'`, a.CheckoutRequestID, now, orderID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		started = n > 0

		var superseded sql.NullTime
		if started {
			if _, err := tx.ExecContext(ctx, `
UPDATE payment_attempts SET superseded_at=? WHERE order_id=? AND superseded_at IS NULL`, now, orderID); err != nil {
				return err
			}
		} else {
			superseded = sql.NullTime{Time: now, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO payment_attempts (checkout_request_id,merchant_request_id,order_id,initiated_at,superseded_at)
VALUES (?,?,?,?,?)`, a.CheckoutRequestID, a.MerchantRequestID, orderID, a.InitiatedAt, superseded); err != nil {
			return err
		}
		if !started {
			return nil
		}
		return r.emitStatus(ctx, tx, orderID, usecase.StatusChange{
			From: domain.StatusPending, To: domain.StatusProcessing, Actor: domain.ActorInitiator,
		}, now)
	})
	return started, err
}

func (r *MySQLOrderRepo) UpdateStatusIf(ctx context.Context, id string, ch usecase.StatusChange) (bool, error) {
	now := r.now()
	var applied bool
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var receipt sql.NullString
		if ch.ReceiptCode != "" {
			receipt = sql.NullString{String: ch.ReceiptCode, Valid: true}
		}
		res, err := tx.ExecContext(ctx, `
UPDATE orders SET status=?, mpesa_code=COALESCE(?, mpesa_code), updated_at=?
WHERE id=? AND status=?`, ch.To, receipt, now, id, ch.From)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		// rows == 0: not found or status moved on
		if rows == 0 {
			return nil
		}
		applied = true
		return r.emitStatus(ctx, tx, id, ch, now)
	})
	return applied, err
}

// CancelStalePending locks the stale pending rows, then cancels them with a
// single statement that re-checks status, so an order that moved to
// processing in the meantime is never touched.
func (r *MySQLOrderRepo) CancelStalePending(ctx context.Context, cutoff time.Time) ([]string, error) {
	now := r.now()
	var cancelled []string
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id FROM orders WHERE status='pending' AND created_at < ?
ORDER BY created_at LIMIT ? FOR UPDATE`, cutoff, reapBatch)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		args := make([]any, 0, len(ids)+1)
		args = append(args, now)
		for _, id := range ids {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		if _, err := tx.ExecContext(ctx, `
UPDATE orders SET status='cancelled', updated_at=?
WHERE status='pending' AND id IN (`+placeholders+`)`, args...); err != nil {
			return err
		}
		for _, id := range ids {
			if err := r.emitStatus(ctx, tx, id, usecase.StatusChange{
				From: domain.StatusPending, To: domain.StatusCancelled, Actor: domain.ActorReaper,
			}, now); err != nil {
				return err
			}
		}
		cancelled = ids
		return nil
	})
	return cancelled, err
}

func (r *MySQLOrderRepo) GetAttempt(ctx context.Context, checkoutRequestID string) (*domain.PaymentAttempt, error) {
	var (
		a          domain.PaymentAttempt
		superseded sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
SELECT checkout_request_id,merchant_request_id,order_id,initiated_at,superseded_at
FROM payment_attempts WHERE checkout_request_id=?`, checkoutRequestID).
		Scan(&a.CheckoutRequestID, &a.MerchantRequestID, &a.OrderID, &a.InitiatedAt, &superseded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, usecase.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if superseded.Valid {
		t := superseded.Time
		a.SupersededAt = &t
	}
	return &a, nil
}

// RecordAttemptResult keeps the first result the provider sent for an attempt.
func (r *MySQLOrderRepo) RecordAttemptResult(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc string) error {
	if len(resultDesc) > 255 {
		resultDesc = resultDesc[:255]
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE payment_attempts SET result_code=?, result_desc=?, resolved_at=?
WHERE checkout_request_id=? AND resolved_at IS NULL`, resultCode, resultDesc, r.now(), checkoutRequestID)
	return err
}

func (r *MySQLOrderRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

var (
	_ usecase.OrderRepo   = (*MySQLOrderRepo)(nil)
	_ usecase.AttemptRepo = (*MySQLOrderRepo)(nil)
)
