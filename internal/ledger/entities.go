package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types. Credits are positive amounts, debits negative.
const (
	TypeCredit = "CREDIT"
	TypeDebit  = "DEBIT"
)

// Transaction statuses.
const (
	StatusCompleted = "COMPLETED"
	// StatusUnrecovered marks a refund debit the seller's available balance could
	// not cover. The amount is owed by the seller; the balance was not touched.
	StatusUnrecovered = "UNRECOVERED"
)

var (
	ErrInvalidAmount         = errors.New("ledger amount must be greater than 0")
	ErrInsufficientPending   = errors.New("insufficient pending balance")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrBalanceNotFound       = errors.New("seller balance not found")
)

// SellerBalance is the per-seller aggregate.
type SellerBalance struct {
	SellerID         string          `json:"seller_id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	TotalEarnings    decimal.Decimal `json:"total_earnings"`
	LastPayoutAt     *time.Time      `json:"last_payout_at,omitempty"`
	NextPayoutDate   *time.Time      `json:"next_payout_date,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Transaction is an append-only ledger entry. PaymentID is nil only for manual adjustments.
type Transaction struct {
	ID          string          `json:"id"`
	PaymentID   *string         `json:"payment_id,omitempty"`
	RefundID    *string         `json:"refund_id,omitempty"`
	SellerID    string          `json:"seller_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewCredit builds a completed credit entry for a captured payment.
func NewCredit(id, paymentID, sellerID string, amount decimal.Decimal, description string) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:          id,
		PaymentID:   &paymentID,
		SellerID:    sellerID,
		Amount:      amount.Abs(),
		Type:        TypeCredit,
		Status:      StatusCompleted,
		Description: description,
		CompletedAt: &now,
		CreatedAt:   now,
	}
}

// NewRefundDebit builds a debit entry for a refund. status is StatusCompleted when
// the balance was debited and StatusUnrecovered otherwise.
func NewRefundDebit(id, paymentID, refundID, sellerID string, amount decimal.Decimal, status, description string) *Transaction {
	now := time.Now().UTC()
	tx := &Transaction{
		ID:          id,
		PaymentID:   &paymentID,
		RefundID:    &refundID,
		SellerID:    sellerID,
		Amount:      amount.Abs().Neg(),
		Type:        TypeDebit,
		Status:      status,
		Description: description,
		CreatedAt:   now,
	}
	if status == StatusCompleted {
		tx.CompletedAt = &now
	}
	return tx
}
