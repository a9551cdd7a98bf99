package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-payments/internal/payments"
)

// TaskClient is the part of *asynq.Client the Enqueuer uses.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueuerConfig controls how notification tasks are scheduled.
type EnqueuerConfig struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Enqueuer implements payments.Notifier by enqueueing one task per recipient.
type Enqueuer struct {
	client TaskClient
	cfg    EnqueuerConfig
	logger *zap.Logger
}

var _ payments.Notifier = (*Enqueuer)(nil)

// NewEnqueuer creates an Enqueuer.
func NewEnqueuer(client TaskClient, cfg EnqueuerConfig, logger *zap.Logger) *Enqueuer {
	if cfg.Queue == "" {
		cfg.Queue = "notifications"
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Enqueuer{client: client, cfg: cfg, logger: logger}
}

func (e *Enqueuer) PaymentCaptured(ctx context.Context, p *payments.Payment) error {
	base := fromPayment(KindPaymentCaptured, p)
	return e.enqueue(ctx,
		base.to(RecipientBuyer, p.BuyerID),
		base.to(RecipientSeller, p.SellerID),
	)
}

func (e *Enqueuer) PaymentFailed(ctx context.Context, p *payments.Payment, reason string) error {
	base := fromPayment(KindPaymentFailed, p)
	base.Reason = reason
	return e.enqueue(ctx, base.to(RecipientBuyer, p.BuyerID))
}

func (e *Enqueuer) RefundIssued(ctx context.Context, p *payments.Payment, r *payments.Refund) error {
	base := fromPayment(KindRefundIssued, p)
	base.Amount = r.Amount.StringFixed(2)
	base.RefundID = r.GatewayRefundID
	base.Reason = r.Reason
	return e.enqueue(ctx,
		base.to(RecipientBuyer, p.BuyerID),
		base.to(RecipientSeller, p.SellerID),
	)
}

func (e *Enqueuer) enqueue(ctx context.Context, notifications ...Notification) error {
	var errs []error
	for _, n := range notifications {
		task, err := newTask(n,
			asynq.Queue(e.cfg.Queue),
			asynq.MaxRetry(e.cfg.MaxRetry),
			asynq.Timeout(e.cfg.Timeout),
			asynq.TaskID(n.ID),
		)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, err = e.client.EnqueueContext(ctx, task)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			e.logger.Debug("📨 [NOTIFY] notification already enqueued",
				zap.String("kind", n.Kind), zap.String("recipient", n.Key()), zap.String("task_id", n.ID))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s for %s: %w", n.Kind, n.Key(), err))
			continue
		}
		e.logger.Debug("📨 [NOTIFY] notification enqueued",
			zap.String("kind", n.Kind), zap.String("recipient", n.Key()), zap.String("payment_id", n.PaymentID))
	}
	return errors.Join(errs...)
}

func fromPayment(kind string, p *payments.Payment) Notification {
	return Notification{
		Kind:           kind,
		PaymentID:      p.ID,
		GatewayOrderID: p.GatewayOrderID,
		ProductID:      p.ProductID,
		Amount:         p.Amount.StringFixed(2),
		Currency:       p.Currency,
		OccurredAt:     time.Now().UTC(),
	}
}

// to addresses the notification. The id is derived from what the notification is
// about, so re-enqueueing the same event for the same recipient hits asynq's
// task id conflict instead of sending twice.
func (n Notification) to(role, id string) Notification {
	n.RecipientRole = role
	n.RecipientID = id
	n.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(
		"notification:"+n.Kind+"/"+n.PaymentID+"/"+n.RefundID+"/"+role+"/"+id,
	)).String()
	return n
}
