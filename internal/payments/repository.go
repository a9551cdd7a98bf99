package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-payments/internal/database"
)

// Repository persists payments, refunds and the webhook event log.
// Read methods taking a Tx run on the pool when tx is nil.
type Repository interface {
	BeginTx(ctx context.Context) (database.Tx, error)

	CreatePayment(ctx context.Context, payment *Payment) error
	GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error)
	GetPaymentByGatewayPaymentID(ctx context.Context, paymentID string) (*Payment, error)
	LockPaymentByOrderID(ctx context.Context, tx database.Tx, orderID string) (*Payment, error)
	LockPaymentByGatewayPaymentID(ctx context.Context, tx database.Tx, paymentID string) (*Payment, error)

	// MarkCaptured moves the payment to CAPTURED only from one of the from statuses.
	MarkCaptured(ctx context.Context, tx database.Tx, id string, capture CaptureRecord, from ...string) (bool, error)
	MarkAuthorized(ctx context.Context, tx database.Tx, id, gatewayPaymentID, method string) (bool, error)
	MarkFailed(ctx context.Context, tx database.Tx, id, gatewayPaymentID, method string) (bool, error)
	MarkRefunded(ctx context.Context, tx database.Tx, id string, refundedAt time.Time) (bool, error)

	CreateRefund(ctx context.Context, tx database.Tx, refund *Refund) error
	UpdateRefund(ctx context.Context, tx database.Tx, refund *Refund) error
	GetRefundByGatewayID(ctx context.Context, tx database.Tx, gatewayRefundID string) (*Refund, error)
	GetRefundByIdempotencyKey(ctx context.Context, tx database.Tx, paymentID, key string) (*Refund, error)
	DeleteRefund(ctx context.Context, tx database.Tx, id string) error
	// FailPendingRefund releases a reservation the gateway never acknowledged.
	FailPendingRefund(ctx context.Context, tx database.Tx, id string) (bool, error)
	// SumRefunded totals refunds that are not FAILED, open reservations included.
	SumRefunded(ctx context.Context, tx database.Tx, paymentID string) (decimal.Decimal, error)
	// SumGatewayRefunds totals non-FAILED refunds the gateway has acknowledged.
	SumGatewayRefunds(ctx context.Context, tx database.Tx, paymentID string) (decimal.Decimal, error)
	ListRefunds(ctx context.Context, paymentID string) ([]Refund, error)

	// RecordWebhookEvent stores the event if new and reports whether it was already processed.
	RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID string) error
}

// CaptureRecord is what a successful capture writes onto the payment.
type CaptureRecord struct {
	GatewayPaymentID string
	Signature        string
	Method           string
	CapturedAt       time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
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

func (r *PostgresRepository) q(tx database.Tx) querier {
	if tx == nil {
		return r.db
	}
	return database.PgxTx(tx)
}

const paymentColumns = `
	id::text, gateway_order_id, COALESCE(gateway_payment_id, ''), COALESCE(gateway_signature, ''),
	product_id, seller_id, buyer_id, amount::text, currency, status, COALESCE(payment_method, ''),
	receipt, notes, captured_at, refunded_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p      Payment
		amount string
	)
	err := row.Scan(
		&p.ID, &p.GatewayOrderID, &p.GatewayPaymentID, &p.GatewaySignature,
		&p.ProductID, &p.SellerID, &p.BuyerID, &amount, &p.Currency, &p.Status, &p.PaymentMethod,
		&p.Receipt, &p.Notes, &p.CapturedAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	return &p, nil
}

func (r *PostgresRepository) CreatePayment(ctx context.Context, p *Payment) error {
	notes := p.Notes
	if notes == nil {
		notes = map[string]string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO payments (id, gateway_order_id, product_id, seller_id, buyer_id, amount, currency,
		                      status, receipt, notes, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $11)
	`, p.ID, p.GatewayOrderID, p.ProductID, p.SellerID, p.BuyerID, p.Amount.String(), p.Currency,
		p.Status, p.Receipt, notes, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1`, orderID))
}

func (r *PostgresRepository) GetPaymentByGatewayPaymentID(ctx context.Context, paymentID string) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_id = $1`, paymentID))
}

func (r *PostgresRepository) LockPaymentByOrderID(ctx context.Context, tx database.Tx, orderID string) (*Payment, error) {
	return scanPayment(r.q(tx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1 FOR UPDATE`, orderID))
}

func (r *PostgresRepository) LockPaymentByGatewayPaymentID(ctx context.Context, tx database.Tx, paymentID string) (*Payment, error) {
	return scanPayment(r.q(tx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_id = $1 FOR UPDATE`, paymentID))
}

func (r *PostgresRepository) MarkCaptured(ctx context.Context, tx database.Tx, id string, c CaptureRecord, from ...string) (bool, error) {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    gateway_payment_id = $3,
		    gateway_signature = COALESCE(NULLIF($4, ''), gateway_signature),
		    payment_method = COALESCE(NULLIF($5, ''), payment_method),
		    captured_at = $6,
		    updated_at = NOW()
		WHERE id = $1::uuid AND status = ANY($7)
	`, id, StatusCaptured, c.GatewayPaymentID, c.Signature, c.Method, c.CapturedAt, from)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment captured: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) MarkAuthorized(ctx context.Context, tx database.Tx, id, gatewayPaymentID, method string) (bool, error) {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    gateway_payment_id = COALESCE(NULLIF($3, ''), gateway_payment_id),
		    payment_method = COALESCE(NULLIF($4, ''), payment_method),
		    updated_at = NOW()
		WHERE id = $1::uuid AND status = $5
	`, id, StatusAuthorized, gatewayPaymentID, method, StatusCreated)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment authorized: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, tx database.Tx, id, gatewayPaymentID, method string) (bool, error) {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    gateway_payment_id = COALESCE(gateway_payment_id, NULLIF($3, '')),
		    payment_method = COALESCE(NULLIF($4, ''), payment_method),
		    updated_at = NOW()
		WHERE id = $1::uuid AND status IN ($5, $6)
	`, id, StatusFailed, gatewayPaymentID, method, StatusCreated, StatusAuthorized)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) MarkRefunded(ctx context.Context, tx database.Tx, id string, refundedAt time.Time) (bool, error) {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE payments
		SET status = $2, refunded_at = $3, updated_at = NOW()
		WHERE id = $1::uuid AND status IN ($4, $5)
	`, id, StatusRefunded, refundedAt, StatusCaptured, StatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment refunded: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const refundColumns = `
	id::text, payment_id::text, COALESCE(gateway_refund_id, ''), amount::text, currency, status,
	COALESCE(reason, ''), COALESCE(speed_requested, ''), COALESCE(speed_processed, ''),
	COALESCE(initiated_by, ''), COALESCE(idempotency_key, ''), processed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRefund(row scanner) (*Refund, error) {
	var (
		rf     Refund
		amount string
	)
	err := row.Scan(
		&rf.ID, &rf.PaymentID, &rf.GatewayRefundID, &amount, &rf.Currency, &rf.Status,
		&rf.Reason, &rf.SpeedRequested, &rf.SpeedProcessed,
		&rf.InitiatedBy, &rf.IdempotencyKey, &rf.ProcessedAt, &rf.CreatedAt, &rf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rf.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored refund amount %q: %w", amount, err)
	}
	return &rf, nil
}

func (r *PostgresRepository) CreateRefund(ctx context.Context, tx database.Tx, rf *Refund) error {
	_, err := r.q(tx).Exec(ctx, `
		INSERT INTO refunds (id, payment_id, gateway_refund_id, amount, currency, status, reason,
		                     speed_requested, speed_processed, initiated_by, idempotency_key,
		                     processed_at, created_at, updated_at)
		VALUES ($1::uuid, $2::uuid, NULLIF($3, ''), $4::numeric, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''),
		        NULLIF($10, ''), NULLIF($11, ''), $12, $13, $13)
	`, rf.ID, rf.PaymentID, rf.GatewayRefundID, rf.Amount.String(), rf.Currency, rf.Status, rf.Reason,
		rf.SpeedRequested, rf.SpeedProcessed, rf.InitiatedBy, rf.IdempotencyKey, rf.ProcessedAt, rf.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateRefund(ctx context.Context, tx database.Tx, rf *Refund) error {
	_, err := r.q(tx).Exec(ctx, `
		UPDATE refunds
		SET status = $2,
		    gateway_refund_id = COALESCE(NULLIF($9, ''), gateway_refund_id),
		    reason = COALESCE(NULLIF($3, ''), reason),
		    speed_requested = COALESCE(NULLIF($4, ''), speed_requested),
		    speed_processed = COALESCE(NULLIF($5, ''), speed_processed),
		    initiated_by = COALESCE(NULLIF($6, ''), initiated_by),
		    idempotency_key = COALESCE(NULLIF($7, ''), idempotency_key),
		    processed_at = COALESCE($8, processed_at),
		    updated_at = NOW()
		WHERE id = $1::uuid
	`, rf.ID, rf.Status, rf.Reason, rf.SpeedRequested, rf.SpeedProcessed, rf.InitiatedBy, rf.IdempotencyKey, rf.ProcessedAt,
		rf.GatewayRefundID)
	if err != nil {
		return fmt.Errorf("failed to update refund: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetRefundByGatewayID(ctx context.Context, tx database.Tx, gatewayRefundID string) (*Refund, error) {
	if gatewayRefundID == "" {
		return nil, nil
	}
	rf, err := scanRefund(r.q(tx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE gateway_refund_id = $1`, gatewayRefundID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rf, err
}

func (r *PostgresRepository) GetRefundByIdempotencyKey(ctx context.Context, tx database.Tx, paymentID, key string) (*Refund, error) {
	rf, err := scanRefund(r.q(tx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE payment_id = $1::uuid AND idempotency_key = $2`, paymentID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rf, err
}

func (r *PostgresRepository) DeleteRefund(ctx context.Context, tx database.Tx, id string) error {
	if _, err := r.q(tx).Exec(ctx, `DELETE FROM refunds WHERE id = $1::uuid`, id); err != nil {
		return fmt.Errorf("failed to delete refund: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FailPendingRefund(ctx context.Context, tx database.Tx, id string) (bool, error) {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE refunds SET status = $2, updated_at = NOW()
		WHERE id = $1::uuid AND status = $3 AND gateway_refund_id IS NULL
	`, id, RefundFailed, RefundPending)
	if err != nil {
		return false, fmt.Errorf("failed to release refund reservation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) SumRefunded(ctx context.Context, tx database.Tx, paymentID string) (decimal.Decimal, error) {
	var total string
	err := r.q(tx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM refunds WHERE payment_id = $1::uuid AND status <> $2
	`, paymentID, RefundFailed).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum refunds: %w", err)
	}
	return decimal.RequireFromString(total), nil
}

func (r *PostgresRepository) SumGatewayRefunds(ctx context.Context, tx database.Tx, paymentID string) (decimal.Decimal, error) {
	var total string
	err := r.q(tx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM refunds
		WHERE payment_id = $1::uuid AND status <> $2 AND gateway_refund_id IS NOT NULL
	`, paymentID, RefundFailed).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum refunds: %w", err)
	}
	return decimal.RequireFromString(total), nil
}

func (r *PostgresRepository) ListRefunds(ctx context.Context, paymentID string) ([]Refund, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE payment_id = $1::uuid ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer rows.Close()

	refunds := []Refund{}
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, *rf)
	}
	return refunds, rows.Err()
}

func (r *PostgresRepository) RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO webhook_events (event_id, event_type, payload)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, string(payload))
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}

	var processed bool
	err = r.db.QueryRow(ctx,
		`SELECT processed_at IS NOT NULL FROM webhook_events WHERE event_id = $1`, eventID).Scan(&processed)
	if err != nil {
		return false, fmt.Errorf("failed to read webhook event: %w", err)
	}
	return processed, nil
}

func (r *PostgresRepository) MarkWebhookEventProcessed(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `UPDATE webhook_events SET processed_at = NOW() WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// PostgresCatalog answers CatalogDirectory questions from the marketplace tables
// owned by the catalog and account services.
type PostgresCatalog struct {
	db *pgxpool.Pool
}

func NewPostgresCatalog(db *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := c.db.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (c *PostgresCatalog) ProductExists(ctx context.Context, productID, sellerID string) (bool, error) {
	return c.exists(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id::text = $1 AND seller_id::text = $2)`, productID, sellerID)
}

func (c *PostgresCatalog) SellerExists(ctx context.Context, sellerID string) (bool, error) {
	return c.exists(ctx, `SELECT EXISTS(SELECT 1 FROM sellers WHERE id::text = $1)`, sellerID)
}

func (c *PostgresCatalog) BuyerExists(ctx context.Context, buyerID string) (bool, error) {
	return c.exists(ctx, `SELECT EXISTS(SELECT 1 FROM buyers WHERE id::text = $1)`, buyerID)
}
