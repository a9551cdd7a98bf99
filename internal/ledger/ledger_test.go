package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func amountEq(raw string) interface{} {
	want := decimal.RequireFromString(raw)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

func TestDebitRejectsOverdraft(t *testing.T) {
	repo := new(MockRepository)
	l := New(repo, zap.NewNop())
	tx := &MockTx{}
	ctx := context.Background()

	repo.On("SubtractAvailable", ctx, tx, "seller-1", amountEq("100.00")).Return(int64(0), nil)

	err := l.Debit(ctx, tx, "seller-1", decimal.RequireFromString("100.00"))

	assert.ErrorIs(t, err, ErrInsufficientAvailable)
	repo.AssertExpectations(t)
}

func TestDebitApplies(t *testing.T) {
	repo := new(MockRepository)
	l := New(repo, zap.NewNop())
	tx := &MockTx{}
	ctx := context.Background()

	repo.On("SubtractAvailable", ctx, tx, "seller-1", amountEq("40")).Return(int64(1), nil)

	require.NoError(t, l.Debit(ctx, tx, "seller-1", decimal.NewFromInt(40)))
	repo.AssertExpectations(t)
}

func TestOperationsRejectNonPositiveAmounts(t *testing.T) {
	repo := new(MockRepository)
	l := New(repo, zap.NewNop())
	tx := &MockTx{}
	ctx := context.Background()

	assert.ErrorIs(t, l.Credit(ctx, tx, "s", decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, l.RecordSale(ctx, tx, "s", decimal.NewFromInt(-1)), ErrInvalidAmount)
	assert.ErrorIs(t, l.Debit(ctx, tx, "s", decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, l.MovePendingToAvailable(ctx, tx, "s", decimal.Zero), ErrInvalidAmount)
	repo.AssertNotCalled(t, "SubtractAvailable", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordSaleGoesToPending(t *testing.T) {
	repo := new(MockRepository)
	l := New(repo, zap.NewNop())
	tx := &MockTx{}
	ctx := context.Background()

	repo.On("AddPending", ctx, tx, "seller-1", amountEq("474.05")).Return(nil)

	require.NoError(t, l.RecordSale(ctx, tx, "seller-1", decimal.RequireFromString("474.05")))
	repo.AssertNotCalled(t, "AddAvailable", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestReleaseCommitsOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient pending", func(t *testing.T) {
		repo := new(MockRepository)
		l := New(repo, zap.NewNop())
		tx := &MockTx{}
		repo.On("BeginTx", ctx).Return(tx, nil)
		repo.On("MovePendingToAvailable", ctx, tx, "seller-1", amountEq("10")).Return(int64(0), nil)

		err := l.Release(ctx, "seller-1", decimal.NewFromInt(10))

		assert.ErrorIs(t, err, ErrInsufficientPending)
		assert.False(t, tx.committed)
		assert.True(t, tx.rolledBack)
	})

	t.Run("released", func(t *testing.T) {
		repo := new(MockRepository)
		l := New(repo, zap.NewNop())
		tx := &MockTx{}
		repo.On("BeginTx", ctx).Return(tx, nil)
		repo.On("MovePendingToAvailable", ctx, tx, "seller-1", amountEq("10")).Return(int64(1), nil)

		require.NoError(t, l.Release(ctx, "seller-1", decimal.NewFromInt(10)))
		assert.True(t, tx.committed)
	})
}

func TestAdjustRecordsUnlinkedCredit(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	l := New(repo, zap.NewNop())
	tx := &MockTx{}

	repo.On("BeginTx", ctx).Return(tx, nil)
	repo.On("AddAvailable", ctx, tx, "seller-1", amountEq("25")).Return(nil)
	repo.On("InsertTransaction", ctx, tx, mock.MatchedBy(func(e *Transaction) bool {
		return e.Type == TypeCredit && e.PaymentID == nil && e.Amount.Equal(decimal.NewFromInt(25))
	})).Return(nil)

	entry, err := l.Adjust(ctx, "seller-1", decimal.NewFromInt(25), "goodwill")

	require.NoError(t, err)
	assert.Equal(t, "goodwill", entry.Description)
	assert.True(t, tx.committed)
	repo.AssertExpectations(t)
}

func TestBalanceDefaultsToZero(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	l := New(repo, zap.NewNop())

	repo.On("GetBalance", ctx, "new-seller").Return(nil, ErrBalanceNotFound)
	repo.On("GetBalance", ctx, "broken").Return(nil, errors.New("boom"))

	b, err := l.Balance(ctx, "new-seller")
	require.NoError(t, err)
	assert.True(t, b.AvailableBalance.IsZero())
	assert.True(t, b.PendingBalance.IsZero())

	_, err = l.Balance(ctx, "broken")
	assert.Error(t, err)
}

func TestNewRefundDebitIsNegative(t *testing.T) {
	entry := NewRefundDebit("id", "pay", "rfnd_1", "seller", decimal.RequireFromString("300.00"), StatusUnrecovered, "refund")

	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("-300")))
	assert.Equal(t, TypeDebit, entry.Type)
	assert.Nil(t, entry.CompletedAt)

	credit := NewCredit("id", "pay", "seller", decimal.RequireFromString("-5"), "sale")
	assert.True(t, credit.Amount.IsPositive())
	assert.NotNil(t, credit.CompletedAt)
}
