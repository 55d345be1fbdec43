package usecase

import "time"

// Published on Kafka (via the outbox) whenever an order changes status.
type OrderStatusChangedMsg struct {
	OrderID           string    `json:"orderId"`
	UserID            string    `json:"userId"`
	From              string    `json:"from"`
	Status            string    `json:"status"`
	CheckoutRequestID string    `json:"checkoutRequestId,omitempty"`
	ReceiptCode       string    `json:"receiptCode,omitempty"`
	Actor             string    `json:"actor"`
	OccurredAt        time.Time `json:"occurredAt"`
}

const EventOrderStatusChanged = "order.status_changed.v1"

// OutboxMessage is one row waiting to be relayed to the broker.
type OutboxMessage struct {
	ID         int64
	Channel    string
	Key        string
	Payload    []byte
	RetryCount int
}
