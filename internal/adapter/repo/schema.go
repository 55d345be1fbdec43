package repo

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS orders (
  id                        CHAR(36)      NOT NULL PRIMARY KEY,
  user_id                   VARCHAR(64)   NOT NULL,
  branch                    VARCHAR(64)   NOT NULL,
  total                     DECIMAL(12,2) NOT NULL,
  delivery_address          VARCHAR(255)  NOT NULL DEFAULT '',
  delivery_lat              DOUBLE        NULL,
  delivery_lng              DOUBLE        NULL,
  mpesa_checkout_request_id VARCHAR(64)   NULL,
  mpesa_code                VARCHAR(32)   NULL,
  status                    ENUM('pending','processing','paid','failed','cancelled') NOT NULL,
  created_at                DATETIME(3)   NOT NULL,
  updated_at                DATETIME(3)   NOT NULL,
  UNIQUE KEY uq_orders_checkout (mpesa_checkout_request_id),
  INDEX idx_orders_status_created (status, created_at),
  INDEX idx_orders_user (user_id, created_at),
  INDEX idx_orders_branch (branch, created_at)
)`, `
CREATE TABLE IF NOT EXISTS order_items (
  id         BIGINT        NOT NULL AUTO_INCREMENT PRIMARY KEY,
  order_id   CHAR(36)      NOT NULL,
  product_id VARCHAR(64)   NOT NULL,
  quantity   INT           NOT NULL,
  price      DECIMAL(12,2) NOT NULL,
  INDEX idx_items_order (order_id)
)`, `
CREATE TABLE IF NOT EXISTS payment_attempts (
  checkout_request_id VARCHAR(64)  NOT NULL PRIMARY KEY,
  merchant_request_id VARCHAR(64)  NOT NULL DEFAULT '',
  order_id            CHAR(36)     NOT NULL,
  initiated_at        DATETIME(3)  NOT NULL,
  superseded_at       DATETIME(3)  NULL,
  result_code         INT          NULL,
  result_desc         VARCHAR(255) NULL,
  resolved_at         DATETIME(3)  NULL,
  INDEX idx_attempts_order (order_id)
)`, `
CREATE TABLE IF NOT EXISTS outbox (
  id              BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
  channel         VARCHAR(64)  NOT NULL,
  msg_key         VARCHAR(64)  NOT NULL,
  payload         JSON         NOT NULL,
  status          ENUM('PENDING','SENT','FAILED') NOT NULL,
  retry_count     INT          NOT NULL DEFAULT 0,
  last_error      VARCHAR(255) NULL,
  next_attempt_at DATETIME(3)  NOT NULL,
  created_at      DATETIME(3)  NOT NULL,
  sent_at         DATETIME(3)  NULL,
  INDEX idx_outbox_due (status, next_attempt_at)
)`}

// Migrate creates the tables the service needs if they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
