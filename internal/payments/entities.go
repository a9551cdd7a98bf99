package payments

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-payments/internal/gateway"
	"github.com/matheusmosca/marketplace-payments/internal/ledger"
)

// Payment statuses.
const (
	StatusCreated    = "CREATED"
	StatusAuthorized = "AUTHORIZED"
	StatusCaptured   = "CAPTURED"
	StatusCompleted  = "COMPLETED"
	StatusRefunded   = "REFUNDED"
	StatusFailed     = "FAILED"
)

// Refund statuses.
const (
	RefundPending   = "PENDING"
	RefundProcessed = "PROCESSED"
	RefundFailed    = "FAILED"
)

const DefaultCurrency = "INR"

// Payment is one payment-order attempt. GatewayOrderID and Amount never change after creation.
type Payment struct {
	ID               string            `json:"id"`
	GatewayOrderID   string            `json:"gateway_order_id"`
	GatewayPaymentID string            `json:"gateway_payment_id,omitempty"`
	GatewaySignature string            `json:"-"`
	ProductID        string            `json:"product_id"`
	SellerID         string            `json:"seller_id"`
	BuyerID          string            `json:"buyer_id"`
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	PaymentMethod    string            `json:"payment_method,omitempty"`
	Receipt          string            `json:"receipt"`
	Notes            map[string]string `json:"notes,omitempty"`
	CapturedAt       *time.Time        `json:"captured_at,omitempty"`
	RefundedAt       *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IsCaptured reports a terminal-success status.
func (p *Payment) IsCaptured() bool {
	return p.Status == StatusCaptured || p.Status == StatusCompleted
}

// IsTerminal reports whether the client verification flow must leave the payment alone.
func (p *Payment) IsTerminal() bool {
	return p.IsCaptured() || p.Status == StatusRefunded || p.Status == StatusFailed
}

// Refund is one refund operation against a payment.
type Refund struct {
	ID              string          `json:"id"`
	PaymentID       string          `json:"payment_id"`
	GatewayRefundID string          `json:"gateway_refund_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	SpeedRequested  string          `json:"speed_requested,omitempty"`
	SpeedProcessed  string          `json:"speed_processed,omitempty"`
	InitiatedBy     string          `json:"initiated_by,omitempty"`
	IdempotencyKey  string          `json:"-"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CreateOrderRequest asks for a new payment order.
type CreateOrderRequest struct {
	ProductID string            `json:"product_id" binding:"required"`
	SellerID  string            `json:"seller_id" binding:"required"`
	BuyerID   string            `json:"buyer_id" binding:"required"`
	Amount    string            `json:"amount" binding:"required"`
	Currency  string            `json:"currency"`
	Notes     map[string]string `json:"notes"`
}

// VerifyPaymentRequest is what the checkout posts back after the buyer pays.
type VerifyPaymentRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// VerificationResult is the buyer-facing outcome of a verification.
type VerificationResult struct {
	Status  string   `json:"status"`
	Code    string   `json:"code,omitempty"`
	Message string   `json:"message"`
	Payment *Payment `json:"payment,omitempty"`
}

// RefundRequest asks to refund part or all of a captured payment.
type RefundRequest struct {
	PaymentID      string `json:"payment_id" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	Reason         string `json:"reason"`
	Speed          string `json:"speed"`
	InitiatedBy    string `json:"initiated_by"`
	IdempotencyKey string `json:"idempotency_key"`
}

// PaymentDetails is a payment with everything hanging off it.
type PaymentDetails struct {
	Payment      *Payment             `json:"payment"`
	Refunds      []Refund             `json:"refunds"`
	Transactions []ledger.Transaction `json:"transactions,omitempty"`
}

// refundStatusFromGateway maps a gateway refund status onto ours.
func refundStatusFromGateway(status string) string {
	switch strings.ToLower(status) {
	case gateway.RefundStatusProcessed:
		return RefundProcessed
	case gateway.RefundStatusFailed:
		return RefundFailed
	default:
		return RefundPending
	}
}
