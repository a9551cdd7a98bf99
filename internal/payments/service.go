// Package payments owns the payment order lifecycle: order creation, client-side
// verification and capture, gateway webhook reconciliation and refunds.
package payments

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds the business knobs of the service.
type Config struct {
	// PlatformFeePercent is withheld from every sale before crediting the seller.
	PlatformFeePercent decimal.Decimal
	DefaultCurrency    string
}

// Service implements the payment operations.
type Service struct {
	repository Repository
	gateway    Gateway
	ledger     BalanceLedger
	catalog    CatalogDirectory
	notifier   Notifier
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer

	ordersCounter   metric.Int64Counter
	captureCounter  metric.Int64Counter
	refundCounter   metric.Int64Counter
	webhookCounter  metric.Int64Counter
	shortfallAmount metric.Float64Counter
}

// NewService creates a Service.
func NewService(
	repository Repository,
	gateway Gateway,
	ledger BalanceLedger,
	catalog CatalogDirectory,
	notifier Notifier,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = DefaultCurrency
	}

	meter := otel.Meter("payments")
	ordersCounter, _ := meter.Int64Counter("payment_orders_total",
		metric.WithDescription("Payment orders created"))
	captureCounter, _ := meter.Int64Counter("payment_captures_total",
		metric.WithDescription("Captures applied, by source"))
	refundCounter, _ := meter.Int64Counter("payment_refunds_total",
		metric.WithDescription("Refunds recorded, by ledger outcome"))
	webhookCounter, _ := meter.Int64Counter("payment_webhooks_total",
		metric.WithDescription("Webhook events handled, by type"))
	shortfallAmount, _ := meter.Float64Counter("payment_refund_shortfall_amount",
		metric.WithDescription("Refund amounts that could not be debited from sellers"))

	return &Service{
		repository:      repository,
		gateway:         gateway,
		ledger:          ledger,
		catalog:         catalog,
		notifier:        notifier,
		cfg:             cfg,
		logger:          logger,
		tracer:          otel.Tracer("payments"),
		ordersCounter:   ordersCounter,
		captureCounter:  captureCounter,
		refundCounter:   refundCounter,
		webhookCounter:  webhookCounter,
		shortfallAmount: shortfallAmount,
	}
}

func (s *Service) count(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// notify runs a notifier call and only logs failures. Payment state is already
// committed by the time anything is sent.
func (s *Service) notify(event string, fn func(Notifier) error) {
	if s.notifier == nil {
		return
	}
	if err := fn(s.notifier); err != nil {
		s.logger.Warn("⚠️ [NOTIFY] failed to enqueue notification", zap.String("event", event), zap.Error(err))
	}
}
