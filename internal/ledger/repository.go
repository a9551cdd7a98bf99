package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-payments/internal/database"
)

// Repository is the storage behind the ledger. Every balance mutation is a single
// statement; the conditional ones report the number of rows they touched.
type Repository interface {
	BeginTx(ctx context.Context) (database.Tx, error)

	// AddAvailable creates the balance row if absent and adds to available + total earnings.
	AddAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error
	// AddPending creates the balance row if absent and adds to pending + total earnings.
	AddPending(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error
	// MovePendingToAvailable only applies while pending >= amount.
	MovePendingToAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) (int64, error)
	// SubtractAvailable only applies while available >= amount.
	SubtractAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) (int64, error)

	InsertTransaction(ctx context.Context, tx database.Tx, entry *Transaction) error
	CreditExists(ctx context.Context, tx database.Tx, paymentID string) (bool, error)
	RefundDebitExists(ctx context.Context, tx database.Tx, refundID string) (bool, error)

	GetBalance(ctx context.Context, sellerID string) (*SellerBalance, error)
	ListTransactions(ctx context.Context, sellerID string, limit int) ([]Transaction, error)
	ListPaymentTransactions(ctx context.Context, paymentID string) ([]Transaction, error)
}

// PostgresRepository implements Repository with pgx.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) BeginTx(ctx context.Context) (database.Tx, error) {
	return database.Begin(ctx, r.db)
}

func (r *PostgresRepository) AddAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error {
	pgTx := database.PgxTx(tx)

	_, err := pgTx.Exec(ctx, `
		INSERT INTO seller_balances (seller_id, available_balance, total_earnings)
		VALUES ($1, $2::numeric, $2::numeric)
		ON CONFLICT (seller_id) DO UPDATE
		SET available_balance = seller_balances.available_balance + EXCLUDED.available_balance,
		    total_earnings = seller_balances.total_earnings + EXCLUDED.total_earnings,
		    updated_at = NOW()
	`, sellerID, amount.String())
	if err != nil {
		return fmt.Errorf("failed to credit available balance: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddPending(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error {
	pgTx := database.PgxTx(tx)

	_, err := pgTx.Exec(ctx, `
		INSERT INTO seller_balances (seller_id, pending_balance, total_earnings)
		VALUES ($1, $2::numeric, $2::numeric)
		ON CONFLICT (seller_id) DO UPDATE
		SET pending_balance = seller_balances.pending_balance + EXCLUDED.pending_balance,
		    total_earnings = seller_balances.total_earnings + EXCLUDED.total_earnings,
		    updated_at = NOW()
	`, sellerID, amount.String())
	if err != nil {
		return fmt.Errorf("failed to record pending sale: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MovePendingToAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) (int64, error) {
	pgTx := database.PgxTx(tx)

	tag, err := pgTx.Exec(ctx, `
		UPDATE seller_balances
		SET pending_balance = pending_balance - $2::numeric,
		    available_balance = available_balance + $2::numeric,
		    updated_at = NOW()
		WHERE seller_id = $1
		  AND pending_balance >= $2::numeric
	`, sellerID, amount.String())
	if err != nil {
		return 0, fmt.Errorf("failed to move pending balance: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) SubtractAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) (int64, error) {
	pgTx := database.PgxTx(tx)

	tag, err := pgTx.Exec(ctx, `
		UPDATE seller_balances
		SET available_balance = available_balance - $2::numeric,
		    updated_at = NOW()
		WHERE seller_id = $1
		  AND available_balance >= $2::numeric
	`, sellerID, amount.String())
	if err != nil {
		return 0, fmt.Errorf("failed to debit available balance: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) InsertTransaction(ctx context.Context, tx database.Tx, entry *Transaction) error {
	pgTx := database.PgxTx(tx)

	_, err := pgTx.Exec(ctx, `
		INSERT INTO payment_transactions
			(id, payment_id, refund_id, seller_id, amount, type, status, description, completed_at, created_at)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5::numeric, $6, $7, $8, $9, $10)
	`, entry.ID, entry.PaymentID, entry.RefundID, entry.SellerID, entry.Amount.String(),
		entry.Type, entry.Status, entry.Description, entry.CompletedAt, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreditExists(ctx context.Context, tx database.Tx, paymentID string) (bool, error) {
	pgTx := database.PgxTx(tx)

	var exists bool
	err := pgTx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payment_transactions
			WHERE payment_id = $1::uuid AND type = 'CREDIT'
		)
	`, paymentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check credit: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) RefundDebitExists(ctx context.Context, tx database.Tx, refundID string) (bool, error) {
	pgTx := database.PgxTx(tx)

	var exists bool
	err := pgTx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payment_transactions
			WHERE refund_id = $1 AND type = 'DEBIT'
		)
	`, refundID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check refund debit: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) GetBalance(ctx context.Context, sellerID string) (*SellerBalance, error) {
	var (
		b                           SellerBalance
		available, pending, earning string
	)
	err := r.db.QueryRow(ctx, `
		SELECT seller_id, available_balance::text, pending_balance::text, total_earnings::text,
		       last_payout_at, next_payout_date::timestamptz, updated_at
		FROM seller_balances
		WHERE seller_id = $1
	`, sellerID).Scan(&b.SellerID, &available, &pending, &earning, &b.LastPayoutAt, &b.NextPayoutDate, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to get seller balance: %w", err)
	}

	b.AvailableBalance = decimal.RequireFromString(available)
	b.PendingBalance = decimal.RequireFromString(pending)
	b.TotalEarnings = decimal.RequireFromString(earning)
	return &b, nil
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, sellerID string, limit int) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, selectTransactions+`
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sellerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list seller transactions: %w", err)
	}
	return scanTransactions(rows)
}

func (r *PostgresRepository) ListPaymentTransactions(ctx context.Context, paymentID string) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, selectTransactions+`
		WHERE payment_id = $1::uuid
		ORDER BY created_at
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment transactions: %w", err)
	}
	return scanTransactions(rows)
}

const selectTransactions = `
	SELECT id::text, payment_id::text, refund_id, seller_id, amount::text, type, status,
	       COALESCE(description, ''), completed_at, created_at
	FROM payment_transactions`

func scanTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			t      Transaction
			amount string
			done   *time.Time
		)
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.RefundID, &t.SellerID, &amount, &t.Type, &t.Status,
			&t.Description, &done, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger transaction: %w", err)
		}
		t.Amount = decimal.RequireFromString(amount)
		t.CompletedAt = done
		out = append(out, t)
	}
	return out, rows.Err()
}
