package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-payments/internal/gateway"
	"github.com/matheusmosca/marketplace-payments/internal/ledger"
)

const (
	testKeySecret     = "key_secret"
	testWebhookSecret = "whsec_test"
	testSeller        = "seller-1"
)

// MockGateway mocks the HTTP calls; signatures are checked with the real HMAC helpers.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*gateway.Order, error) {
	args := m.Called(ctx, amountMinor, currency, receipt, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Order), args.Error(1)
}

func (m *MockGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return signature != "" && signature == gateway.PaymentSignature(testKeySecret, orderID, paymentID)
}

func (m *MockGateway) VerifyWebhookSignature(rawPayload []byte, signatureHeader string) bool {
	return signatureHeader != "" && signatureHeader == gateway.Sign(testWebhookSecret, rawPayload)
}

func (m *MockGateway) Capture(ctx context.Context, paymentID string, amountMinor int64, currency string) (*gateway.Capture, error) {
	args := m.Called(ctx, paymentID, amountMinor, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Capture), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, paymentID string, amountMinor int64, speed, idempotencyKey string, notes map[string]string) (*gateway.Refund, error) {
	args := m.Called(ctx, paymentID, amountMinor, speed, idempotencyKey, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Refund), args.Error(1)
}

func (m *MockGateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.PaymentDetails, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentDetails), args.Error(1)
}

type recordingNotifier struct {
	mu       sync.Mutex
	captured []string
	failed   []string
	refunded []string
}

func (n *recordingNotifier) PaymentCaptured(ctx context.Context, p *Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.captured = append(n.captured, p.ID)
	return nil
}

func (n *recordingNotifier) PaymentFailed(ctx context.Context, p *Payment, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, reason)
	return nil
}

func (n *recordingNotifier) RefundIssued(ctx context.Context, p *Payment, r *Refund) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunded = append(n.refunded, r.GatewayRefundID)
	return nil
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch kind {
	case "captured":
		return len(n.captured)
	case "failed":
		return len(n.failed)
	default:
		return len(n.refunded)
	}
}

type stubCatalog struct {
	products map[string]string
	sellers  map[string]bool
	buyers   map[string]bool
}

func (c *stubCatalog) ProductExists(ctx context.Context, productID, sellerID string) (bool, error) {
	return c.products[productID] == sellerID, nil
}

func (c *stubCatalog) SellerExists(ctx context.Context, sellerID string) (bool, error) {
	return c.sellers[sellerID], nil
}

func (c *stubCatalog) BuyerExists(ctx context.Context, buyerID string) (bool, error) {
	return c.buyers[buyerID], nil
}

type fixture struct {
	store    *memStore
	gateway  *MockGateway
	ledger   *ledger.Ledger
	notifier *recordingNotifier
	service  *Service
}

// newFixture wires a Service over the in-memory store with a 5% platform fee.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	gw := new(MockGateway)
	l := ledger.New(store, zap.NewNop())
	notifier := &recordingNotifier{}
	svc := NewService(store, gw, l, nil, notifier, Config{PlatformFeePercent: decimal.NewFromInt(5)}, zap.NewNop())
	return &fixture{store: store, gateway: gw, ledger: l, notifier: notifier, service: svc}
}

// seedPayment stores a CREATED payment of amount INR for order orderID.
func (f *fixture) seedPayment(orderID, amount string) *Payment {
	now := time.Now().UTC()
	p := &Payment{
		ID:             "pay-" + orderID,
		GatewayOrderID: orderID,
		ProductID:      "product-1",
		SellerID:       testSeller,
		BuyerID:        "buyer-1",
		Amount:         decimal.RequireFromString(amount),
		Currency:       "INR",
		Status:         StatusCreated,
		Receipt:        "rcpt_test",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.store.CreatePayment(context.Background(), p); err != nil {
		panic(err)
	}
	return p
}

// seedCaptured stores a payment already captured as gatewayPaymentID, with its sale credit.
func (f *fixture) seedCaptured(orderID, gatewayPaymentID, amount string) *Payment {
	p := f.seedPayment(orderID, amount)
	f.gateway.On("Capture", mock.Anything, gatewayPaymentID, mock.Anything, "INR").Return(&gateway.Capture{
		PaymentID:  gatewayPaymentID,
		Status:     gateway.StatusCaptured,
		Method:     "card",
		CapturedAt: time.Now().UTC(),
	}, nil).Once()

	result, err := f.service.VerifyAndCapture(context.Background(), VerifyPaymentRequest{
		OrderID:   orderID,
		PaymentID: gatewayPaymentID,
		Signature: gateway.PaymentSignature(testKeySecret, orderID, gatewayPaymentID),
	})
	if err != nil || result.Status != StatusCaptured {
		panic("seed capture failed")
	}
	return p
}

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}
