package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:       srv.URL,
		KeyID:         "rzp_test_key",
		KeySecret:     "key_secret",
		WebhookSecret: "webhook_secret",
		Timeout:       2 * time.Second,
		FetchRetries:  2,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestCreateOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "key_secret", pass)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)

		var body orderBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(49900), body.Amount)
		assert.Equal(t, "INR", body.Currency)
		assert.Equal(t, "rcpt_1", body.Receipt)
		assert.Equal(t, "p-1", body.Notes["product_id"])

		writeJSON(w, http.StatusOK, map[string]any{
			"id": "order_abc", "amount": 49900, "currency": "INR",
			"receipt": "rcpt_1", "status": "created", "created_at": 1700000000,
		})
	})

	order, err := client.CreateOrder(context.Background(), 49900, "INR", "rcpt_1", map[string]string{"product_id": "p-1"})

	require.NoError(t, err)
	assert.Equal(t, "order_abc", order.ID)
	assert.Equal(t, StatusCreated, order.Status)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), order.CreatedAt)
}

func TestCreateOrderGatewayError(t *testing.T) {
	var hits int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"code": "BAD_REQUEST_ERROR", "description": "amount must be at least INR 1.00"},
		})
	})

	_, err := client.CreateOrder(context.Background(), 50, "INR", "rcpt_1", nil)

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	assert.Equal(t, "BAD_REQUEST_ERROR", gwErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestWritesAreNotRetried(t *testing.T) {
	var hits int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": map[string]string{"code": "SERVER_ERROR", "description": "try later"},
		})
	})

	_, err := client.Capture(context.Background(), "pay_1", 49900, "INR")
	require.Error(t, err)
	_, err = client.Refund(context.Background(), "pay_1", 100, SpeedNormal, "key-1", nil)
	require.Error(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetchPaymentRetriesServerErrors(t *testing.T) {
	var hits int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			writeJSON(w, http.StatusBadGateway, map[string]any{})
			return
		}
		assert.Equal(t, "/payments/pay_1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "pay_1", "order_id": "order_abc", "amount": 49900, "currency": "INR",
			"status": "captured", "method": "upi", "captured": true,
		})
	})

	details, err := client.FetchPayment(context.Background(), "pay_1")

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, StatusCaptured, details.Status)
	assert.Equal(t, "order_abc", details.OrderID)
	assert.True(t, details.Captured)
}

func TestCapture(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/pay_1/capture", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "pay_1", "amount": 49900, "status": "captured", "method": "card",
		})
	})

	capture, err := client.Capture(context.Background(), "pay_1", 49900, "INR")

	require.NoError(t, err)
	assert.Equal(t, StatusCaptured, capture.Status)
	assert.Equal(t, "card", capture.Method)
	assert.False(t, capture.CapturedAt.IsZero())
}

func TestCaptureAlreadyCaptured(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"code": "BAD_REQUEST_ERROR", "description": "This payment has already been captured"},
		})
	})

	_, err := client.Capture(context.Background(), "pay_1", 49900, "INR")

	assert.True(t, IsAlreadyCaptured(err))
	assert.False(t, IsAlreadyCaptured(context.Canceled))
}

func TestRefundSendsIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/pay_1/refund", r.URL.Path)
		assert.Equal(t, "refund-key-1", r.Header.Get(IdempotencyHeader))

		var body refundBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(30000), body.Amount)
		assert.Equal(t, SpeedOptimum, body.Speed)

		writeJSON(w, http.StatusOK, map[string]any{
			"id": "rfnd_1", "payment_id": "pay_1", "amount": 30000,
			"status": "processed", "speed_requested": "optimum", "speed_processed": "instant",
		})
	})

	refund, err := client.Refund(context.Background(), "pay_1", 30000, SpeedOptimum, "refund-key-1", nil)

	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", refund.ID)
	assert.Equal(t, RefundStatusProcessed, refund.Status)
	assert.Equal(t, "instant", refund.SpeedProcessed)
}
