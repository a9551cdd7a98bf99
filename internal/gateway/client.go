// Package gateway is a thin client for the payment gateway's order, capture,
// refund and fetch REST API. Amounts crossing this boundary are minor units.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IdempotencyHeader is sent with refunds so the gateway can de-duplicate retries.
const IdempotencyHeader = "Idempotency-Key"

// Client talks to the gateway over HTTP Basic auth.
type Client struct {
	cfg    Config
	http   *resty.Client
	tracer trace.Tracer
}

// NewClient builds a client from an explicit configuration.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(cfg.FetchRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryOnlyReads)

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		tracer: otel.Tracer("gateway-client"),
	}
}

// retryOnlyReads overrides resty's default of retrying every transport error:
// a POST may have reached the gateway, so only GETs are retried.
func retryOnlyReads(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return true
	}
	return resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests
}

// CreateOrder creates a payment order for amountMinor.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*Order, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("receipt", receipt), attribute.Int64("amount_minor", amountMinor))

	var out orderEntity
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(orderBody{Amount: amountMinor, Currency: currency, Receipt: receipt, Notes: notes}).
		SetResult(&out).
		SetError(&errorBody{}).
		Post("/orders")
	if err := c.check("create_order", resp, err, span); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &Error{Op: "create_order", StatusCode: resp.StatusCode(), Code: "MALFORMED_RESPONSE", Description: "order id missing"}
	}

	return &Order{
		ID:        out.ID,
		Status:    out.Status,
		Amount:    out.Amount,
		Currency:  out.Currency,
		Receipt:   out.Receipt,
		CreatedAt: unixOrNow(out.CreatedAt),
	}, nil
}

// Capture captures an authorized payment.
func (c *Client) Capture(ctx context.Context, paymentID string, amountMinor int64, currency string) (*Capture, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.Capture")
	defer span.End()
	span.SetAttributes(attribute.String("payment_id", paymentID), attribute.Int64("amount_minor", amountMinor))

	var out PaymentEntity
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", paymentID).
		SetBody(captureBody{Amount: amountMinor, Currency: currency}).
		SetResult(&out).
		SetError(&errorBody{}).
		Post("/payments/{id}/capture")
	if err := c.check("capture", resp, err, span); err != nil {
		return nil, err
	}

	return &Capture{
		PaymentID:  out.ID,
		Status:     out.Status,
		Method:     out.Method,
		Amount:     out.Amount,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// Refund refunds amountMinor of a captured payment.
func (c *Client) Refund(ctx context.Context, paymentID string, amountMinor int64, speed, idempotencyKey string, notes map[string]string) (*Refund, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.Refund")
	defer span.End()
	span.SetAttributes(attribute.String("payment_id", paymentID), attribute.Int64("amount_minor", amountMinor))

	var out RefundEntity
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", paymentID).
		SetBody(refundBody{Amount: amountMinor, Speed: speed, Receipt: idempotencyKey, Notes: notes}).
		SetResult(&out).
		SetError(&errorBody{})
	if idempotencyKey != "" {
		req.SetHeader(IdempotencyHeader, idempotencyKey)
	}

	resp, err := req.Post("/payments/{id}/refund")
	if err := c.check("refund", resp, err, span); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &Error{Op: "refund", StatusCode: resp.StatusCode(), Code: "MALFORMED_RESPONSE", Description: "refund id missing"}
	}

	return &Refund{
		ID:             out.ID,
		PaymentID:      out.PaymentID,
		Status:         out.Status,
		Amount:         out.Amount,
		SpeedRequested: out.SpeedRequested,
		SpeedProcessed: out.SpeedProcessed,
		CreatedAt:      unixOrNow(out.CreatedAt),
	}, nil
}

// FetchPayment returns the gateway's current view of a payment.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*PaymentDetails, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.FetchPayment")
	defer span.End()
	span.SetAttributes(attribute.String("payment_id", paymentID))

	var out PaymentEntity
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", paymentID).
		SetResult(&out).
		SetError(&errorBody{}).
		Get("/payments/{id}")
	if err := c.check("fetch_payment", resp, err, span); err != nil {
		return nil, err
	}

	return out.details(), nil
}

func (c *Client) check(op string, resp *resty.Response, err error, span trace.Span) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" transport error")
		return &Error{Op: op, Code: "TRANSPORT_ERROR", Description: err.Error()}
	}
	if resp.IsError() {
		gwErr := &Error{Op: op, StatusCode: resp.StatusCode()}
		if body, ok := resp.Error().(*errorBody); ok && body.Error.Code != "" {
			gwErr.Code = body.Error.Code
			gwErr.Description = body.Error.Description
		} else {
			gwErr.Code = "UNEXPECTED_RESPONSE"
			gwErr.Description = fmt.Sprintf("unexpected status %s", resp.Status())
		}
		span.RecordError(gwErr)
		span.SetStatus(codes.Error, op+" rejected")
		return gwErr
	}
	if !resp.IsSuccess() {
		gwErr := &Error{Op: op, StatusCode: resp.StatusCode(), Code: "UNEXPECTED_RESPONSE", Description: resp.Status()}
		span.RecordError(gwErr)
		return gwErr
	}
	return nil
}
