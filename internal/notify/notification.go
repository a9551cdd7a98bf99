// Package notify hands payment notifications to the delivery pipeline. The API
// process enqueues tasks on Redis through asynq; the worker process retries them
// with exponential backoff and publishes each one to Kafka for the notification
// service. Tasks that exhaust their retries are archived by asynq, which is the
// terminal FAILED state.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TypeNotification is the asynq task type for every payment notification.
const TypeNotification = "payments:notification"

// Notification kinds.
const (
	KindPaymentCaptured = "payment.captured"
	KindPaymentFailed   = "payment.failed"
	KindRefundIssued    = "refund.issued"
)

// Recipient roles.
const (
	RecipientBuyer  = "buyer"
	RecipientSeller = "seller"
)

// Notification is the task payload and the Kafka message body.
type Notification struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	RecipientRole  string    `json:"recipient_role"`
	RecipientID    string    `json:"recipient_id"`
	PaymentID      string    `json:"payment_id"`
	GatewayOrderID string    `json:"gateway_order_id"`
	ProductID      string    `json:"product_id,omitempty"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	RefundID       string    `json:"refund_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Key partitions Kafka messages so one recipient's notifications stay ordered.
func (n Notification) Key() string {
	return n.RecipientRole + ":" + n.RecipientID
}

func newTask(n Notification, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	return asynq.NewTask(TypeNotification, payload, opts...), nil
}

func parseTask(t *asynq.Task) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return n, fmt.Errorf("invalid notification payload: %w", err)
	}
	return n, nil
}
