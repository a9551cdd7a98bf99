package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-payments/internal/money"
)

const maxReceiptLength = 40

// CreateOrder validates the request, registers an order with the gateway and
// persists a CREATED payment carrying the gateway order id.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Payment, error) {
	ctx, span := s.tracer.Start(ctx, "payments.CreateOrder")
	defer span.End()

	// 1. Validate request
	if strings.TrimSpace(req.ProductID) == "" || strings.TrimSpace(req.SellerID) == "" || strings.TrimSpace(req.BuyerID) == "" {
		return nil, validationError("MISSING_FIELDS", "product_id, seller_id and buyer_id are required")
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return nil, validationError("INVALID_AMOUNT", err.Error())
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, validationError("INVALID_CURRENCY", "currency must be a 3-letter code")
	}
	span.SetAttributes(
		attribute.String("seller_id", req.SellerID),
		attribute.String("buyer_id", req.BuyerID),
		attribute.String("amount", amount.StringFixed(2)),
	)

	// 2. Seller, product and buyer must exist
	if err := s.checkCatalog(ctx, req); err != nil {
		return nil, err
	}

	// 3. Register the order with the gateway
	receipt, err := newReceipt(time.Now())
	if err != nil {
		return nil, err
	}
	notes := map[string]string{}
	for k, v := range req.Notes {
		notes[k] = v
	}
	notes["product_id"] = req.ProductID
	notes["seller_id"] = req.SellerID
	notes["buyer_id"] = req.BuyerID

	order, err := s.gateway.CreateOrder(ctx, money.ToMinor(amount), currency, receipt, notes)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("❌ [ORDER] gateway rejected order",
			zap.String("receipt", receipt), zap.Error(err))
		return nil, gatewayError(err)
	}

	// 4. Persist
	now := time.Now().UTC()
	payment := &Payment{
		ID:             uuid.NewString(),
		GatewayOrderID: order.ID,
		ProductID:      req.ProductID,
		SellerID:       req.SellerID,
		BuyerID:        req.BuyerID,
		Amount:         amount,
		Currency:       currency,
		Status:         StatusCreated,
		Receipt:        receipt,
		Notes:          notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repository.CreatePayment(ctx, payment); err != nil {
		// The gateway order is orphaned; no money has moved, it expires on its own.
		s.logger.Error("❌ [ORDER] failed to persist payment for gateway order",
			zap.String("gateway_order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to persist payment: %w", err)
	}

	s.count(ctx, s.ordersCounter, attribute.String("currency", currency))
	s.logger.Info("✅ [ORDER] payment order created",
		zap.String("payment_id", payment.ID),
		zap.String("gateway_order_id", order.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("currency", currency),
	)
	return payment, nil
}

func (s *Service) checkCatalog(ctx context.Context, req CreateOrderRequest) error {
	if s.catalog == nil {
		return nil
	}

	ok, err := s.catalog.SellerExists(ctx, req.SellerID)
	if err != nil {
		return fmt.Errorf("failed to look up seller: %w", err)
	}
	if !ok {
		return ErrSellerNotFound
	}

	ok, err = s.catalog.ProductExists(ctx, req.ProductID, req.SellerID)
	if err != nil {
		return fmt.Errorf("failed to look up product: %w", err)
	}
	if !ok {
		return ErrProductNotFound
	}

	ok, err = s.catalog.BuyerExists(ctx, req.BuyerID)
	if err != nil {
		return fmt.Errorf("failed to look up buyer: %w", err)
	}
	if !ok {
		return ErrBuyerNotFound
	}
	return nil
}

// newReceipt builds a unique, gateway-acceptable receipt: rcpt_<unix ms base36>_<8 hex>.
func newReceipt(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate receipt: %w", err)
	}
	receipt := "rcpt_" + strconv.FormatInt(now.UnixMilli(), 36) + "_" + hex.EncodeToString(suffix)
	if len(receipt) > maxReceiptLength {
		receipt = receipt[:maxReceiptLength]
	}
	return receipt, nil
}
