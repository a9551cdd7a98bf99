package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-payments/internal/database"
	"github.com/matheusmosca/marketplace-payments/internal/gateway"
	"github.com/matheusmosca/marketplace-payments/internal/ledger"
	"github.com/matheusmosca/marketplace-payments/internal/money"
)

// InitiateRefund refunds part or all of a captured payment at the gateway, records
// the refund and debits the seller's share of it.
//
// When the seller's available balance cannot cover the debit, the refund stays
// recorded (the buyer has been refunded), an UNRECOVERED ledger entry is written
// and ErrInsufficientBalance is returned alongside the refund.
func (s *Service) InitiateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	ctx, span := s.tracer.Start(ctx, "payments.InitiateRefund")
	defer span.End()
	span.SetAttributes(attribute.String("payment_id", req.PaymentID), attribute.String("amount", req.Amount))

	// 1. Validate request
	if strings.TrimSpace(req.PaymentID) == "" {
		return nil, validationError("MISSING_FIELDS", "payment_id is required")
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return nil, validationError("INVALID_AMOUNT", err.Error())
	}
	speed := strings.ToLower(strings.TrimSpace(req.Speed))
	if speed == "" {
		speed = gateway.SpeedNormal
	}
	if speed != gateway.SpeedNormal && speed != gateway.SpeedOptimum {
		return nil, validationError("INVALID_SPEED", "speed must be normal or optimum")
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	now := time.Now().UTC()
	requested := &Refund{
		ID:             uuid.NewString(),
		Amount:         amount,
		Status:         RefundPending,
		Reason:         req.Reason,
		SpeedRequested: speed,
		InitiatedBy:    req.InitiatedBy,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// 2. Reserve the amount under the payment lock
	reserved, err := s.withLockedPayment(ctx, req.PaymentID, func(tx database.Tx, locked *Payment) (*refundOutcome, error) {
		return s.reserveRefund(ctx, tx, locked, requested)
	})
	if err != nil {
		return nil, err
	}
	if reserved.refund.GatewayRefundID != "" {
		return reserved.refund, nil
	}
	payment, reservation := reserved.payment, reserved.refund

	// 3. Refund at the gateway
	notes := map[string]string{"payment_id": payment.ID, "idempotency_key": key}
	if req.Reason != "" {
		notes["reason"] = req.Reason
	}
	if req.InitiatedBy != "" {
		notes["initiated_by"] = req.InitiatedBy
	}
	gwRefund, err := s.gateway.Refund(ctx, payment.GatewayPaymentID, money.ToMinor(amount), speed, key, notes)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("❌ [REFUND] gateway refund failed",
			zap.String("gateway_payment_id", payment.GatewayPaymentID), zap.Error(err))
		if _, relErr := s.repository.FailPendingRefund(ctx, nil, reservation.ID); relErr != nil {
			s.logger.Error("❌ [REFUND] failed to release reservation",
				zap.String("refund_id", reservation.ID), zap.Error(relErr))
		}
		return nil, gatewayError(err)
	}

	// 4. Record refund and debit
	processedAt := time.Now().UTC()
	incoming := &Refund{
		ID:              uuid.NewString(),
		PaymentID:       payment.ID,
		GatewayRefundID: gwRefund.ID,
		Amount:          amount,
		Currency:        payment.Currency,
		Status:          refundStatusFromGateway(gwRefund.Status),
		Reason:          req.Reason,
		SpeedRequested:  speed,
		SpeedProcessed:  gwRefund.SpeedProcessed,
		InitiatedBy:     req.InitiatedBy,
		IdempotencyKey:  key,
		CreatedAt:       processedAt,
		UpdatedAt:       processedAt,
	}
	if incoming.Status == RefundProcessed {
		incoming.ProcessedAt = &processedAt
	}

	out, err := s.withLockedPayment(ctx, payment.GatewayPaymentID, func(tx database.Tx, locked *Payment) (*refundOutcome, error) {
		return s.recordRefund(ctx, tx, locked, incoming, true)
	})
	if err != nil {
		s.logger.Error("🚨 [REFUND] refunded at gateway but not recorded; awaiting webhook reconciliation",
			zap.String("gateway_refund_id", gwRefund.ID), zap.Error(err))
		return nil, err
	}

	s.afterRefund(ctx, out, sourceClient)
	if out.unrecovered {
		return out.refund, ErrInsufficientBalance
	}
	return out.refund, nil
}

// reserveRefund checks the refundable bounds and stores a PENDING refund without a
// gateway id, so concurrent requests see the amount as taken. A request repeating
// an idempotency key gets its earlier refund back instead of a new reservation.
func (s *Service) reserveRefund(ctx context.Context, tx database.Tx, payment *Payment, requested *Refund) (*refundOutcome, error) {
	out := &refundOutcome{payment: payment}

	existing, err := s.repository.GetRefundByIdempotencyKey(ctx, tx, payment.ID, requested.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load refund: %w", err)
	}
	if existing != nil && !existing.Amount.Equal(requested.Amount) {
		return nil, validationError("IDEMPOTENCY_KEY_REUSED", "idempotency key was already used for a different amount")
	}
	if existing != nil && (existing.GatewayRefundID != "" || existing.Status == RefundPending) {
		out.refund = existing
		return out, nil
	}

	if !payment.IsCaptured() {
		return nil, ErrNotRefundable
	}
	if requested.Amount.GreaterThan(payment.Amount) {
		return nil, ErrRefundExceedsAmount
	}
	refunded, err := s.repository.SumRefunded(ctx, tx, payment.ID)
	if err != nil {
		return nil, err
	}
	remaining := payment.Amount.Sub(refunded)
	if requested.Amount.GreaterThan(remaining) {
		return nil, &Error{
			Kind:    KindBusiness,
			Code:    ErrRefundExceedsRemaining.Code,
			Message: fmt.Sprintf("refund amount exceeds remaining refundable amount %s", remaining.StringFixed(2)),
		}
	}

	if existing != nil {
		// the gateway never took this key; retry it
		existing.Status = RefundPending
		if err := s.repository.UpdateRefund(ctx, tx, existing); err != nil {
			return nil, err
		}
		out.refund = existing
		return out, nil
	}

	requested.PaymentID = payment.ID
	requested.Currency = payment.Currency
	if err := s.repository.CreateRefund(ctx, tx, requested); err != nil {
		return nil, err
	}
	out.refund = requested
	return out, nil
}

// refundOutcome describes what recordRefund changed.
type refundOutcome struct {
	payment       *Payment
	refund        *Refund
	created       bool
	debited       bool
	unrecovered   bool
	share         decimal.Decimal
	fullyRefunded bool
}

// withLockedPayment runs fn in a transaction holding the payment row lock.
func (s *Service) withLockedPayment(ctx context.Context, gatewayPaymentID string, fn func(database.Tx, *Payment) (*refundOutcome, error)) (*refundOutcome, error) {
	tx, err := s.repository.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payment, err := s.repository.LockPaymentByGatewayPaymentID(ctx, tx, gatewayPaymentID)
	if err != nil {
		return nil, err
	}

	out, err := fn(tx, payment)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit refund: %w", err)
	}
	return out, nil
}

// recordRefund upserts the refund by gateway refund id and settles it. A refund
// carrying the idempotency key of an open reservation fills that reservation in.
// Runs with the payment locked.
func (s *Service) recordRefund(ctx context.Context, tx database.Tx, payment *Payment, incoming *Refund, debit bool) (*refundOutcome, error) {
	out := &refundOutcome{payment: payment}

	existing, err := s.repository.GetRefundByGatewayID(ctx, tx, incoming.GatewayRefundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load refund: %w", err)
	}
	reservation, err := s.openReservation(ctx, tx, payment.ID, incoming.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	switch {
	case existing == nil && reservation != nil:
		// reservation state is local; the gateway's view replaces it
		reservation.Status = RefundPending
		existing = reservation
		out.created = true
	case existing != nil && reservation != nil:
		// recorded earlier from a delivery without the key
		if err := s.repository.DeleteRefund(ctx, tx, reservation.ID); err != nil {
			return nil, err
		}
	}

	if existing == nil {
		if err := s.repository.CreateRefund(ctx, tx, incoming); err != nil {
			return nil, err
		}
		out.refund = incoming
		out.created = true
	} else {
		existing.GatewayRefundID = incoming.GatewayRefundID
		mergeRefund(existing, incoming)
		if err := s.repository.UpdateRefund(ctx, tx, existing); err != nil {
			return nil, err
		}
		out.refund = existing
	}

	if err := s.settleRefund(ctx, tx, payment, out, debit); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) openReservation(ctx context.Context, tx database.Tx, paymentID, key string) (*Refund, error) {
	if key == "" {
		return nil, nil
	}
	rf, err := s.repository.GetRefundByIdempotencyKey(ctx, tx, paymentID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load refund reservation: %w", err)
	}
	if rf == nil || rf.GatewayRefundID != "" {
		return nil, nil
	}
	return rf, nil
}

// settleRefund debits the seller once per gateway refund and marks the payment
// REFUNDED when it is fully covered.
func (s *Service) settleRefund(ctx context.Context, tx database.Tx, payment *Payment, out *refundOutcome, debit bool) error {
	if debit && out.refund.Status != RefundFailed {
		done, err := s.ledger.HasRefundDebit(ctx, tx, out.refund.GatewayRefundID)
		if err != nil {
			return fmt.Errorf("failed to check refund debit: %w", err)
		}
		if !done {
			if err := s.debitRefund(ctx, tx, payment, out); err != nil {
				return err
			}
		}
	}

	total, err := s.repository.SumGatewayRefunds(ctx, tx, payment.ID)
	if err != nil {
		return err
	}
	if payment.IsCaptured() && total.GreaterThanOrEqual(payment.Amount) {
		now := time.Now().UTC()
		ok, err := s.repository.MarkRefunded(ctx, tx, payment.ID, now)
		if err != nil {
			return err
		}
		if ok {
			payment.Status = StatusRefunded
			payment.RefundedAt = &now
			out.fullyRefunded = true
		}
	}
	return nil
}

func (s *Service) debitRefund(ctx context.Context, tx database.Tx, payment *Payment, out *refundOutcome) error {
	share := money.SellerShare(out.refund.Amount, s.cfg.PlatformFeePercent)
	status := ledger.StatusCompleted

	if err := s.ledger.Debit(ctx, tx, payment.SellerID, share); err != nil {
		if !errors.Is(err, ledger.ErrInsufficientAvailable) {
			return fmt.Errorf("failed to debit seller: %w", err)
		}
		status = ledger.StatusUnrecovered
		out.unrecovered = true
	}

	entry := ledger.NewRefundDebit(uuid.NewString(), payment.ID, out.refund.GatewayRefundID, payment.SellerID, share, status,
		fmt.Sprintf("Refund %s for order %s", out.refund.GatewayRefundID, payment.GatewayOrderID))
	if err := s.ledger.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("failed to append refund debit: %w", err)
	}
	out.debited = true
	out.share = share
	return nil
}

// mergeRefund folds a newer view of a refund into the stored one. Final
// statuses (PROCESSED, FAILED) are never overwritten.
func mergeRefund(stored, incoming *Refund) {
	if stored.Status == RefundPending {
		stored.Status = incoming.Status
	}
	if incoming.ProcessedAt != nil && stored.ProcessedAt == nil {
		stored.ProcessedAt = incoming.ProcessedAt
	}
	if stored.Reason == "" {
		stored.Reason = incoming.Reason
	}
	if stored.SpeedRequested == "" {
		stored.SpeedRequested = incoming.SpeedRequested
	}
	if incoming.SpeedProcessed != "" {
		stored.SpeedProcessed = incoming.SpeedProcessed
	}
	if stored.InitiatedBy == "" {
		stored.InitiatedBy = incoming.InitiatedBy
	}
	if stored.IdempotencyKey == "" {
		stored.IdempotencyKey = incoming.IdempotencyKey
	}
}

func (s *Service) afterRefund(ctx context.Context, out *refundOutcome, source string) {
	if !out.created && !out.debited && !out.fullyRefunded {
		return
	}

	outcome := "debited"
	switch {
	case out.unrecovered:
		outcome = "unrecovered"
	case !out.debited:
		outcome = "recorded"
	}
	s.count(ctx, s.refundCounter, attribute.String("outcome", outcome), attribute.String("source", source))

	if out.unrecovered {
		if s.shortfallAmount != nil {
			s.shortfallAmount.Add(ctx, out.share.InexactFloat64())
		}
		s.logger.Error("🚨 [REFUND] seller balance could not cover refund debit",
			zap.String("seller_id", out.payment.SellerID),
			zap.String("gateway_refund_id", out.refund.GatewayRefundID),
			zap.String("amount", out.share.StringFixed(2)),
		)
	}

	s.logger.Info("✅ [REFUND] refund recorded",
		zap.String("payment_id", out.payment.ID),
		zap.String("gateway_refund_id", out.refund.GatewayRefundID),
		zap.String("amount", out.refund.Amount.StringFixed(2)),
		zap.String("refund_status", out.refund.Status),
		zap.Bool("fully_refunded", out.fullyRefunded),
		zap.String("source", source),
	)

	if out.created || out.debited {
		payment, refund := out.payment, out.refund
		s.notify("refund.issued", func(n Notifier) error { return n.RefundIssued(ctx, payment, refund) })
	}
}
