package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/matheusmosca/marketplace-payments/internal/database"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) BeginTx(ctx context.Context) (database.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(database.Tx), args.Error(1)
}

func (m *MockRepository) AddAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error {
	return m.Called(ctx, tx, sellerID, amount).Error(0)
}

func (m *MockRepository) AddPending(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error {
	return m.Called(ctx, tx, sellerID, amount).Error(0)
}

func (m *MockRepository) MovePendingToAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) (int64, error) {
	args := m.Called(ctx, tx, sellerID, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) SubtractAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) (int64, error) {
	args := m.Called(ctx, tx, sellerID, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) InsertTransaction(ctx context.Context, tx database.Tx, entry *Transaction) error {
	return m.Called(ctx, tx, entry).Error(0)
}

func (m *MockRepository) CreditExists(ctx context.Context, tx database.Tx, paymentID string) (bool, error) {
	args := m.Called(ctx, tx, paymentID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) RefundDebitExists(ctx context.Context, tx database.Tx, refundID string) (bool, error) {
	args := m.Called(ctx, tx, refundID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) GetBalance(ctx context.Context, sellerID string) (*SellerBalance, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SellerBalance), args.Error(1)
}

func (m *MockRepository) ListTransactions(ctx context.Context, sellerID string, limit int) ([]Transaction, error) {
	args := m.Called(ctx, sellerID, limit)
	return args.Get(0).([]Transaction), args.Error(1)
}

func (m *MockRepository) ListPaymentTransactions(ctx context.Context, paymentID string) ([]Transaction, error) {
	args := m.Called(ctx, paymentID)
	return args.Get(0).([]Transaction), args.Error(1)
}

// MockTx records whether the unit of work was committed.
type MockTx struct {
	committed  bool
	rolledBack bool
}

func (t *MockTx) Commit() error {
	t.committed = true
	return nil
}

func (t *MockTx) Rollback() error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
