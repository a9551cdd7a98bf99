// Package ledger keeps seller balances (available vs pending) and the append-only
// transaction log behind them.
//
// Balance operations never read-then-write: each is one conditional statement,
// so concurrent captures, refunds and settlements on the same seller serialize
// in the database without an explicit lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-payments/internal/database"
)

// Ledger exposes the guarded balance operations.
type Ledger struct {
	repository Repository
	logger     *zap.Logger
	rejections metric.Int64Counter
}

// New creates a Ledger.
func New(repository Repository, logger *zap.Logger) *Ledger {
	rejections, _ := otel.Meter("ledger").Int64Counter(
		"ledger_rejections_total",
		metric.WithDescription("Conditional balance updates rejected for insufficient funds"),
	)
	return &Ledger{
		repository: repository,
		logger:     logger,
		rejections: rejections,
	}
}

// Credit adds to the available balance and total earnings, creating the balance if needed.
func (l *Ledger) Credit(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return l.repository.AddAvailable(ctx, tx, sellerID, amount)
}

// RecordSale adds a sale to the pending balance and total earnings. Pending funds
// are not withdrawable until MovePendingToAvailable releases them.
func (l *Ledger) RecordSale(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return l.repository.AddPending(ctx, tx, sellerID, amount)
}

// MovePendingToAvailable releases held funds. It fails with ErrInsufficientPending
// rather than letting pending go negative.
func (l *Ledger) MovePendingToAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	affected, err := l.repository.MovePendingToAvailable(ctx, tx, sellerID, amount)
	if err != nil {
		return err
	}
	if affected == 0 {
		l.reject(ctx, "move_pending", sellerID, amount)
		return ErrInsufficientPending
	}
	return nil
}

// Debit subtracts from the available balance. It either fully applies or fails
// with ErrInsufficientAvailable; available never goes below zero.
func (l *Ledger) Debit(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	affected, err := l.repository.SubtractAvailable(ctx, tx, sellerID, amount)
	if err != nil {
		return err
	}
	if affected == 0 {
		l.reject(ctx, "debit", sellerID, amount)
		return ErrInsufficientAvailable
	}
	return nil
}

// Append writes a ledger entry. Entries are never updated afterwards.
func (l *Ledger) Append(ctx context.Context, tx database.Tx, entry *Transaction) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return l.repository.InsertTransaction(ctx, tx, entry)
}

// HasCredit reports whether a payment already produced its sale credit.
func (l *Ledger) HasCredit(ctx context.Context, tx database.Tx, paymentID string) (bool, error) {
	return l.repository.CreditExists(ctx, tx, paymentID)
}

// HasRefundDebit reports whether a refund already produced its debit entry.
func (l *Ledger) HasRefundDebit(ctx context.Context, tx database.Tx, refundID string) (bool, error) {
	return l.repository.RefundDebitExists(ctx, tx, refundID)
}

// Balance returns a seller's balance; a seller with no sales has a zero balance.
func (l *Ledger) Balance(ctx context.Context, sellerID string) (*SellerBalance, error) {
	b, err := l.repository.GetBalance(ctx, sellerID)
	if errors.Is(err, ErrBalanceNotFound) {
		return &SellerBalance{SellerID: sellerID}, nil
	}
	return b, err
}

// Transactions lists a seller's most recent ledger entries.
func (l *Ledger) Transactions(ctx context.Context, sellerID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.repository.ListTransactions(ctx, sellerID, limit)
}

// PaymentTransactions lists the ledger entries produced by one payment.
func (l *Ledger) PaymentTransactions(ctx context.Context, paymentID string) ([]Transaction, error) {
	return l.repository.ListPaymentTransactions(ctx, paymentID)
}

// Release settles held funds in its own unit of work.
func (l *Ledger) Release(ctx context.Context, sellerID string, amount decimal.Decimal) error {
	tx, err := l.repository.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := l.MovePendingToAvailable(ctx, tx, sellerID, amount); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit release: %w", err)
	}

	l.logger.Info("✅ [RELEASE] pending funds released",
		zap.String("seller_id", sellerID), zap.String("amount", amount.StringFixed(2)))
	return nil
}

// Adjust applies a manual credit and records it in the log without a payment reference.
func (l *Ledger) Adjust(ctx context.Context, sellerID string, amount decimal.Decimal, description string) (*Transaction, error) {
	tx, err := l.repository.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := l.Credit(ctx, tx, sellerID, amount); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &Transaction{
		ID:          uuid.NewString(),
		SellerID:    sellerID,
		Amount:      amount,
		Type:        TypeCredit,
		Status:      StatusCompleted,
		Description: description,
		CompletedAt: &now,
		CreatedAt:   now,
	}
	if err := l.Append(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}

	l.logger.Info("✅ [ADJUST] manual credit applied",
		zap.String("seller_id", sellerID), zap.String("amount", amount.StringFixed(2)))
	return entry, nil
}

func (l *Ledger) reject(ctx context.Context, op, sellerID string, amount decimal.Decimal) {
	l.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	l.logger.Warn("❌ [LEDGER] conditional update rejected",
		zap.String("operation", op),
		zap.String("seller_id", sellerID),
		zap.String("amount", amount.StringFixed(2)),
	)
}
