package payments

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-payments/internal/database"
	"github.com/matheusmosca/marketplace-payments/internal/gateway"
	"github.com/matheusmosca/marketplace-payments/internal/ledger"
)

// Gateway is the subset of the gateway client the service depends on.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*gateway.Order, error)
	VerifySignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(rawPayload []byte, signatureHeader string) bool
	Capture(ctx context.Context, paymentID string, amountMinor int64, currency string) (*gateway.Capture, error)
	Refund(ctx context.Context, paymentID string, amountMinor int64, speed, idempotencyKey string, notes map[string]string) (*gateway.Refund, error)
	FetchPayment(ctx context.Context, paymentID string) (*gateway.PaymentDetails, error)
}

// BalanceLedger is the part of the ledger the capture and refund paths write through.
// All writes run inside the caller's unit of work.
type BalanceLedger interface {
	RecordSale(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error
	Debit(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error
	Append(ctx context.Context, tx database.Tx, entry *ledger.Transaction) error
	HasCredit(ctx context.Context, tx database.Tx, paymentID string) (bool, error)
	HasRefundDebit(ctx context.Context, tx database.Tx, refundID string) (bool, error)
	PaymentTransactions(ctx context.Context, paymentID string) ([]ledger.Transaction, error)
}

// CatalogDirectory answers existence questions owned by the catalog and account services.
type CatalogDirectory interface {
	ProductExists(ctx context.Context, productID, sellerID string) (bool, error)
	SellerExists(ctx context.Context, sellerID string) (bool, error)
	BuyerExists(ctx context.Context, buyerID string) (bool, error)
}

// Notifier hands buyer/seller notifications to the delivery subsystem. Implementations
// must not block on delivery; failures are logged by the caller and never undo payment state.
type Notifier interface {
	PaymentCaptured(ctx context.Context, payment *Payment) error
	PaymentFailed(ctx context.Context, payment *Payment, reason string) error
	RefundIssued(ctx context.Context, payment *Payment, refund *Refund) error
}
