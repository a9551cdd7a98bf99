package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-payments/internal/database"
	"github.com/matheusmosca/marketplace-payments/internal/gateway"
	"github.com/matheusmosca/marketplace-payments/internal/money"
)

// Webhook event types handled by HandleWebhook.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventRefundCreated     = "refund.created"
	EventRefundProcessed   = "refund.processed"
	EventRefundFailed      = "refund.failed"
)

// WebhookEvent is the gateway's webhook envelope.
type WebhookEvent struct {
	Event     string         `json:"event"`
	Payload   WebhookPayload `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

// WebhookPayload carries whichever entities the event concerns.
type WebhookPayload struct {
	Payment *PaymentWrapper `json:"payment,omitempty"`
	Refund  *RefundWrapper  `json:"refund,omitempty"`
	Dispute *DisputeWrapper `json:"dispute,omitempty"`
}

type PaymentWrapper struct {
	Entity gateway.PaymentEntity `json:"entity"`
}

type RefundWrapper struct {
	Entity gateway.RefundEntity `json:"entity"`
}

type DisputeWrapper struct {
	Entity gateway.DisputeEntity `json:"entity"`
}

// HandleWebhook authenticates a raw webhook body and reconciles local state with it.
// Every handler is idempotent, so redeliveries and events racing the client-side
// verification converge on the same state. When eventID is set, events already
// processed are acknowledged without being applied again.
func (s *Service) HandleWebhook(ctx context.Context, rawPayload []byte, signature, eventID string) error {
	ctx, span := s.tracer.Start(ctx, "payments.HandleWebhook")
	defer span.End()

	if !s.gateway.VerifyWebhookSignature(rawPayload, signature) {
		s.logger.Warn("❌ [WEBHOOK] invalid signature", zap.String("event_id", eventID))
		return ErrInvalidWebhookSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(rawPayload, &event); err != nil {
		return &Error{Kind: KindValidation, Code: "INVALID_PAYLOAD", Message: "malformed webhook payload", Err: err}
	}
	if event.Event == "" {
		return validationError("INVALID_PAYLOAD", "webhook event type is missing")
	}
	span.SetAttributes(attribute.String("event", event.Event), attribute.String("event_id", eventID))

	if eventID != "" {
		processed, err := s.repository.RecordWebhookEvent(ctx, eventID, event.Event, rawPayload)
		if err != nil {
			return err
		}
		if processed {
			s.logger.Info("ℹ️ [IDEMPOTENCY] webhook event already processed",
				zap.String("event_id", eventID), zap.String("event", event.Event))
			return nil
		}
	}

	if err := s.dispatch(ctx, &event); err != nil {
		span.RecordError(err)
		s.logger.Error("❌ [WEBHOOK] failed to apply event",
			zap.String("event", event.Event), zap.String("event_id", eventID), zap.Error(err))
		return err
	}

	if eventID != "" {
		if err := s.repository.MarkWebhookEventProcessed(ctx, eventID); err != nil {
			s.logger.Warn("⚠️ [WEBHOOK] failed to mark event processed", zap.String("event_id", eventID), zap.Error(err))
		}
	}
	s.count(ctx, s.webhookCounter, attribute.String("event", event.Event))
	return nil
}

func (s *Service) dispatch(ctx context.Context, event *WebhookEvent) error {
	switch event.Event {
	case EventPaymentAuthorized, EventPaymentCaptured, EventPaymentFailed:
		if event.Payload.Payment == nil {
			return validationError("INVALID_PAYLOAD", "payment entity is missing")
		}
		entity := event.Payload.Payment.Entity
		switch event.Event {
		case EventPaymentAuthorized:
			return s.onPaymentAuthorized(ctx, entity)
		case EventPaymentCaptured:
			return s.onPaymentCaptured(ctx, entity)
		default:
			return s.onPaymentFailed(ctx, entity)
		}

	case EventRefundCreated, EventRefundProcessed, EventRefundFailed:
		if event.Payload.Refund == nil {
			return validationError("INVALID_PAYLOAD", "refund entity is missing")
		}
		return s.onRefund(ctx, event.Event, event.Payload.Refund.Entity)
	}

	if strings.HasPrefix(event.Event, "dispute.") {
		fields := []zap.Field{zap.String("event", event.Event)}
		if event.Payload.Dispute != nil {
			d := event.Payload.Dispute.Entity
			fields = append(fields,
				zap.String("dispute_id", d.ID),
				zap.String("gateway_payment_id", d.PaymentID),
				zap.String("amount", money.FromMinor(d.Amount).StringFixed(2)),
				zap.String("phase", d.Phase),
			)
		}
		s.logger.Warn("⚠️ [WEBHOOK] dispute event requires manual review", fields...)
		return nil
	}

	s.logger.Debug("[WEBHOOK] ignoring unhandled event", zap.String("event", event.Event))
	return nil
}

// ignoreUnknown acknowledges events for payments this service never created.
func (s *Service) ignoreUnknown(err error, event, ref string) error {
	if errors.Is(err, ErrPaymentNotFound) {
		s.logger.Warn("⚠️ [WEBHOOK] event for unknown payment", zap.String("event", event), zap.String("ref", ref))
		return nil
	}
	return err
}

func (s *Service) onPaymentAuthorized(ctx context.Context, entity gateway.PaymentEntity) error {
	tx, err := s.repository.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	payment, err := s.repository.LockPaymentByOrderID(ctx, tx, entity.OrderID)
	if err != nil {
		return s.ignoreUnknown(err, EventPaymentAuthorized, entity.OrderID)
	}
	if payment.Status != StatusCreated {
		return nil
	}
	if _, err := s.repository.MarkAuthorized(ctx, tx, payment.ID, entity.ID, entity.Method); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Info("✅ [WEBHOOK] payment authorized",
		zap.String("order_id", entity.OrderID), zap.String("gateway_payment_id", entity.ID))
	return nil
}

func (s *Service) onPaymentCaptured(ctx context.Context, entity gateway.PaymentEntity) error {
	capturedAt := time.Now().UTC()
	_, _, err := s.applyCapture(ctx, entity.OrderID, CaptureRecord{
		GatewayPaymentID: entity.ID,
		Method:           entity.Method,
		CapturedAt:       capturedAt,
	}, sourceWebhook)
	if err != nil {
		return s.ignoreUnknown(err, EventPaymentCaptured, entity.OrderID)
	}
	return nil
}

func (s *Service) onPaymentFailed(ctx context.Context, entity gateway.PaymentEntity) error {
	tx, err := s.repository.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	payment, err := s.repository.LockPaymentByOrderID(ctx, tx, entity.OrderID)
	if err != nil {
		return s.ignoreUnknown(err, EventPaymentFailed, entity.OrderID)
	}
	if payment.IsTerminal() {
		s.logger.Info("ℹ️ [IDEMPOTENCY] payment already terminal, ignoring failure",
			zap.String("order_id", entity.OrderID), zap.String("status", payment.Status))
		return nil
	}

	ok, err := s.repository.MarkFailed(ctx, tx, payment.ID, entity.ID, entity.Method)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if !ok {
		return nil
	}

	payment.Status = StatusFailed
	if payment.GatewayPaymentID == "" {
		payment.GatewayPaymentID = entity.ID
	}
	reason := entity.ErrorDescription
	if reason == "" {
		reason = entity.ErrorCode
	}
	s.logger.Info("❌ [WEBHOOK] payment failed",
		zap.String("order_id", entity.OrderID), zap.String("reason", reason))
	s.notify("payment.failed", func(n Notifier) error { return n.PaymentFailed(ctx, payment, reason) })
	return nil
}

// onRefund keeps the local refund in step with the gateway. Only refund.processed
// debits the seller, and only if no debit exists yet for that refund.
func (s *Service) onRefund(ctx context.Context, event string, entity gateway.RefundEntity) error {
	now := time.Now().UTC()
	incoming := &Refund{
		ID:              uuid.NewString(),
		GatewayRefundID: entity.ID,
		Amount:          money.FromMinor(entity.Amount),
		Currency:        strings.ToUpper(entity.Currency),
		Status:          refundStatusFromGateway(entity.Status),
		SpeedRequested:  entity.SpeedRequested,
		SpeedProcessed:  entity.SpeedProcessed,
		IdempotencyKey:  entity.Notes["idempotency_key"],
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	switch event {
	case EventRefundProcessed:
		incoming.Status = RefundProcessed
		incoming.ProcessedAt = &now
	case EventRefundFailed:
		incoming.Status = RefundFailed
	}

	out, err := s.withLockedPayment(ctx, entity.PaymentID, func(tx database.Tx, payment *Payment) (*refundOutcome, error) {
		incoming.PaymentID = payment.ID
		if incoming.Currency == "" {
			incoming.Currency = payment.Currency
		}
		out, err := s.recordRefund(ctx, tx, payment, incoming, event == EventRefundProcessed)
		if err != nil {
			return nil, err
		}
		if event == EventRefundFailed {
			debited, err := s.ledger.HasRefundDebit(ctx, tx, entity.ID)
			if err != nil {
				return nil, err
			}
			if debited {
				s.logger.Error("🚨 [WEBHOOK] refund failed at gateway after seller was debited; manual credit required",
					zap.String("gateway_refund_id", entity.ID), zap.String("seller_id", payment.SellerID))
			}
		}
		return out, nil
	})
	if err != nil {
		return s.ignoreUnknown(err, event, entity.PaymentID)
	}

	s.afterRefund(ctx, out, sourceWebhook)
	return nil
}
