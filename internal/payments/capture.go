package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-payments/internal/gateway"
	"github.com/matheusmosca/marketplace-payments/internal/ledger"
	"github.com/matheusmosca/marketplace-payments/internal/money"
)

const (
	sourceClient  = "client"
	sourceWebhook = "webhook"
)

// VerifyAndCapture checks the checkout signature, captures the payment at the
// gateway and records the capture together with the seller's sale credit.
//
// A bad signature is not an error: the buyer gets a FAILED result and nothing
// is mutated. Payments already in a terminal state are returned unchanged.
func (s *Service) VerifyAndCapture(ctx context.Context, req VerifyPaymentRequest) (*VerificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "payments.VerifyAndCapture")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", req.OrderID), attribute.String("payment_id", req.PaymentID))

	s.logger.Info("➡️ [CAPTURE] verifying payment",
		zap.String("order_id", req.OrderID), zap.String("payment_id", req.PaymentID))

	// 1. Signature
	if !s.gateway.VerifySignature(req.OrderID, req.PaymentID, req.Signature) {
		s.logger.Warn("❌ [CAPTURE] signature mismatch",
			zap.String("order_id", req.OrderID), zap.String("payment_id", req.PaymentID))
		return &VerificationResult{
			Status:  StatusFailed,
			Code:    "INVALID_SIGNATURE",
			Message: "payment signature verification failed",
		}, nil
	}

	// 2. Load payment
	payment, err := s.repository.GetPaymentByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	// 3. Idempotency
	if payment.IsTerminal() {
		s.logger.Info("ℹ️ [IDEMPOTENCY] payment already processed",
			zap.String("order_id", req.OrderID), zap.String("status", payment.Status))
		return resultFor(payment, "payment already processed"), nil
	}

	// 4. Capture at the gateway, outside any database transaction
	capture, err := s.captureAtGateway(ctx, payment, req.PaymentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// 5. Persist capture and credit
	payment, _, err = s.applyCapture(ctx, req.OrderID, CaptureRecord{
		GatewayPaymentID: capture.PaymentID,
		Signature:        req.Signature,
		Method:           capture.Method,
		CapturedAt:       capture.CapturedAt,
	}, sourceClient)
	if err != nil {
		s.logger.Error("🚨 [CAPTURE] captured at gateway but not recorded; awaiting webhook reconciliation",
			zap.String("order_id", req.OrderID), zap.String("payment_id", req.PaymentID), zap.Error(err))
		return nil, err
	}

	return resultFor(payment, "payment captured"), nil
}

func resultFor(payment *Payment, message string) *VerificationResult {
	if payment.Status == StatusFailed {
		message = "payment failed"
	}
	return &VerificationResult{Status: payment.Status, Message: message, Payment: payment}
}

// captureAtGateway captures paymentID for the stored amount. A payment the gateway
// reports as already captured is confirmed with a fetch and treated as captured.
func (s *Service) captureAtGateway(ctx context.Context, payment *Payment, paymentID string) (*gateway.Capture, error) {
	capture, err := s.gateway.Capture(ctx, paymentID, money.ToMinor(payment.Amount), payment.Currency)
	if err == nil {
		if !strings.EqualFold(capture.Status, gateway.StatusCaptured) {
			return nil, gatewayError(fmt.Errorf("unexpected capture status %q", capture.Status))
		}
		return capture, nil
	}
	if !gateway.IsAlreadyCaptured(err) {
		s.logger.Error("❌ [CAPTURE] gateway capture failed",
			zap.String("order_id", payment.GatewayOrderID), zap.String("payment_id", paymentID), zap.Error(err))
		return nil, gatewayError(err)
	}

	details, fetchErr := s.gateway.FetchPayment(ctx, paymentID)
	if fetchErr != nil {
		return nil, gatewayError(fetchErr)
	}
	if !details.Captured && !strings.EqualFold(details.Status, gateway.StatusCaptured) {
		return nil, gatewayError(err)
	}
	if details.OrderID != "" && details.OrderID != payment.GatewayOrderID {
		return nil, gatewayError(fmt.Errorf("payment %s belongs to order %s", paymentID, details.OrderID))
	}

	s.logger.Info("ℹ️ [CAPTURE] payment was already captured at gateway",
		zap.String("order_id", payment.GatewayOrderID), zap.String("payment_id", paymentID))
	return &gateway.Capture{
		PaymentID:  details.ID,
		Status:     gateway.StatusCaptured,
		Method:     details.Method,
		Amount:     details.Amount,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// applyCapture is the single place a capture is recorded. It locks the payment,
// skips when both the CAPTURED status and the sale credit already exist, and
// otherwise completes whichever of the two is missing in one transaction.
// The bool result reports whether anything was written.
func (s *Service) applyCapture(ctx context.Context, orderID string, rec CaptureRecord, source string) (*Payment, bool, error) {
	tx, err := s.repository.BeginTx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	payment, err := s.repository.LockPaymentByOrderID(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}

	credited, err := s.ledger.HasCredit(ctx, tx, payment.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check sale credit: %w", err)
	}
	if payment.IsCaptured() && credited {
		s.logger.Info("ℹ️ [IDEMPOTENCY] capture already recorded",
			zap.String("order_id", orderID), zap.String("source", source))
		return payment, false, nil
	}
	if payment.Status == StatusRefunded {
		s.logger.Info("ℹ️ [IDEMPOTENCY] payment already refunded, ignoring capture",
			zap.String("order_id", orderID), zap.String("source", source))
		return payment, false, nil
	}

	if !payment.IsCaptured() {
		// The gateway has confirmed the capture, so it supersedes an earlier failed attempt.
		ok, err := s.repository.MarkCaptured(ctx, tx, payment.ID, rec, StatusCreated, StatusAuthorized, StatusFailed)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, ErrPaymentStateConflict
		}
		capturedAt := rec.CapturedAt
		payment.Status = StatusCaptured
		payment.GatewayPaymentID = rec.GatewayPaymentID
		payment.CapturedAt = &capturedAt
		if rec.Signature != "" {
			payment.GatewaySignature = rec.Signature
		}
		if rec.Method != "" {
			payment.PaymentMethod = rec.Method
		}
	}

	if !credited {
		share := money.SellerShare(payment.Amount, s.cfg.PlatformFeePercent)
		if err := s.ledger.RecordSale(ctx, tx, payment.SellerID, share); err != nil {
			return nil, false, fmt.Errorf("failed to record sale: %w", err)
		}
		entry := ledger.NewCredit(uuid.NewString(), payment.ID, payment.SellerID, share,
			fmt.Sprintf("Sale of product %s (order %s)", payment.ProductID, payment.GatewayOrderID))
		if err := s.ledger.Append(ctx, tx, entry); err != nil {
			return nil, false, fmt.Errorf("failed to append sale credit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit capture: %w", err)
	}

	s.count(ctx, s.captureCounter, attribute.String("source", source))
	s.logger.Info("✅ [CAPTURE] payment captured",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", orderID),
		zap.String("gateway_payment_id", payment.GatewayPaymentID),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("source", source),
	)
	s.notify("payment.captured", func(n Notifier) error { return n.PaymentCaptured(ctx, payment) })

	return payment, true, nil
}
