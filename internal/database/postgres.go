// Package database owns the Postgres pool and the unit-of-work abstraction
// shared by the payments and ledger repositories.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config describes how to reach Postgres.
type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	MaxConns int32
	MinConns int32
}

// DSN renders the connection string understood by both pgx and lib/pq.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// Connect opens a pool and waits for the database to accept connections.
func Connect(ctx context.Context, cfg Config, log *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			log.Info("✅ connected to payments database", zap.String("host", cfg.Host), zap.String("db", cfg.Name))
			return pool, nil
		}
		log.Info("⏳ waiting for database", zap.Int("attempt", i+1))
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

// Tx is a unit of work. Rollback after Commit is a no-op so callers can always defer it.
type Tx interface {
	Commit() error
	Rollback() error
}

// PostgresTx implements Tx over pgx.
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// Begin starts a unit of work on pool.
func Begin(ctx context.Context, pool *pgxpool.Pool) (Tx, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return WrapTx(tx), nil
}

// WrapTx adopts a pgx transaction as a unit of work.
func WrapTx(tx pgx.Tx) Tx {
	return &PostgresTx{tx: tx}
}

// PgxTx unwraps a Tx started by Begin or WrapTx. Repositories call it; passing a foreign
// Tx implementation to a Postgres repository is a programming error.
func PgxTx(tx Tx) pgx.Tx {
	return tx.(*PostgresTx).tx
}
