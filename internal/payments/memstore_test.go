package payments

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-payments/internal/database"
	"github.com/matheusmosca/marketplace-payments/internal/ledger"
)

// memStore implements both Repository and ledger.Repository in memory. A Tx holds
// the store lock until it is committed or rolled back, which serializes units of
// work the way row locks do in Postgres. Calls made with a nil Tx take the lock
// for themselves, so they must never run while the same goroutine holds a Tx.
type memStore struct {
	mu sync.Mutex
	memState
}

type memState struct {
	payments     map[string]Payment
	refunds      map[string]Refund
	transactions []ledger.Transaction
	balances     map[string]ledger.SellerBalance
	events       map[string]bool
}

func newMemStore() *memStore {
	return &memStore{memState: memState{
		payments: map[string]Payment{},
		refunds:  map[string]Refund{},
		balances: map[string]ledger.SellerBalance{},
		events:   map[string]bool{},
	}}
}

func (st memState) clone() memState {
	c := memState{
		payments:     make(map[string]Payment, len(st.payments)),
		refunds:      make(map[string]Refund, len(st.refunds)),
		transactions: append([]ledger.Transaction(nil), st.transactions...),
		balances:     make(map[string]ledger.SellerBalance, len(st.balances)),
		events:       make(map[string]bool, len(st.events)),
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	for k, v := range st.refunds {
		c.refunds[k] = v
	}
	for k, v := range st.balances {
		c.balances[k] = v
	}
	for k, v := range st.events {
		c.events[k] = v
	}
	return c
}

type memTx struct {
	store    *memStore
	snapshot memState
	done     bool
}

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("transaction already closed")
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.memState = t.snapshot
	t.store.mu.Unlock()
	return nil
}

func (s *memStore) BeginTx(ctx context.Context) (database.Tx, error) {
	s.mu.Lock()
	return &memTx{store: s, snapshot: s.memState.clone()}, nil
}

func (s *memStore) guard(tx database.Tx) func() {
	if tx != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// payments.Repository

func (s *memStore) CreatePayment(ctx context.Context, p *Payment) error {
	defer s.guard(nil)()
	for _, existing := range s.payments {
		if existing.GatewayOrderID == p.GatewayOrderID {
			return errors.New("duplicate gateway order id")
		}
	}
	s.payments[p.ID] = *p
	return nil
}

func (s *memStore) findPayment(match func(Payment) bool) (*Payment, error) {
	for _, p := range s.payments {
		if match(p) {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *memStore) GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	defer s.guard(nil)()
	return s.findPayment(func(p Payment) bool { return p.GatewayOrderID == orderID })
}

func (s *memStore) GetPaymentByGatewayPaymentID(ctx context.Context, paymentID string) (*Payment, error) {
	defer s.guard(nil)()
	return s.findPayment(func(p Payment) bool { return p.GatewayPaymentID == paymentID && paymentID != "" })
}

func (s *memStore) LockPaymentByOrderID(ctx context.Context, tx database.Tx, orderID string) (*Payment, error) {
	defer s.guard(tx)()
	return s.findPayment(func(p Payment) bool { return p.GatewayOrderID == orderID })
}

func (s *memStore) LockPaymentByGatewayPaymentID(ctx context.Context, tx database.Tx, paymentID string) (*Payment, error) {
	defer s.guard(tx)()
	return s.findPayment(func(p Payment) bool { return p.GatewayPaymentID == paymentID && paymentID != "" })
}

func (s *memStore) transition(id string, from []string, apply func(*Payment)) bool {
	p, ok := s.payments[id]
	if !ok {
		return false
	}
	for _, status := range from {
		if p.Status == status {
			apply(&p)
			p.UpdatedAt = time.Now().UTC()
			s.payments[id] = p
			return true
		}
	}
	return false
}

func (s *memStore) MarkCaptured(ctx context.Context, tx database.Tx, id string, c CaptureRecord, from ...string) (bool, error) {
	defer s.guard(tx)()
	return s.transition(id, from, func(p *Payment) {
		p.Status = StatusCaptured
		p.GatewayPaymentID = c.GatewayPaymentID
		if c.Signature != "" {
			p.GatewaySignature = c.Signature
		}
		if c.Method != "" {
			p.PaymentMethod = c.Method
		}
		at := c.CapturedAt
		p.CapturedAt = &at
	}), nil
}

func (s *memStore) MarkAuthorized(ctx context.Context, tx database.Tx, id, gatewayPaymentID, method string) (bool, error) {
	defer s.guard(tx)()
	return s.transition(id, []string{StatusCreated}, func(p *Payment) {
		p.Status = StatusAuthorized
		if gatewayPaymentID != "" {
			p.GatewayPaymentID = gatewayPaymentID
		}
		if method != "" {
			p.PaymentMethod = method
		}
	}), nil
}

func (s *memStore) MarkFailed(ctx context.Context, tx database.Tx, id, gatewayPaymentID, method string) (bool, error) {
	defer s.guard(tx)()
	return s.transition(id, []string{StatusCreated, StatusAuthorized}, func(p *Payment) {
		p.Status = StatusFailed
		if p.GatewayPaymentID == "" {
			p.GatewayPaymentID = gatewayPaymentID
		}
		if method != "" {
			p.PaymentMethod = method
		}
	}), nil
}

func (s *memStore) MarkRefunded(ctx context.Context, tx database.Tx, id string, refundedAt time.Time) (bool, error) {
	defer s.guard(tx)()
	return s.transition(id, []string{StatusCaptured, StatusCompleted}, func(p *Payment) {
		p.Status = StatusRefunded
		p.RefundedAt = &refundedAt
	}), nil
}

func (s *memStore) CreateRefund(ctx context.Context, tx database.Tx, rf *Refund) error {
	defer s.guard(tx)()
	for _, existing := range s.refunds {
		if rf.GatewayRefundID != "" && existing.GatewayRefundID == rf.GatewayRefundID {
			return errors.New("duplicate gateway refund id")
		}
		if rf.IdempotencyKey != "" && existing.PaymentID == rf.PaymentID && existing.IdempotencyKey == rf.IdempotencyKey {
			return errors.New("duplicate refund idempotency key")
		}
	}
	s.refunds[rf.ID] = *rf
	return nil
}

func (s *memStore) UpdateRefund(ctx context.Context, tx database.Tx, rf *Refund) error {
	defer s.guard(tx)()
	s.refunds[rf.ID] = *rf
	return nil
}

func (s *memStore) findRefund(match func(Refund) bool) *Refund {
	for _, rf := range s.refunds {
		if match(rf) {
			cp := rf
			return &cp
		}
	}
	return nil
}

func (s *memStore) GetRefundByIdempotencyKey(ctx context.Context, tx database.Tx, paymentID, key string) (*Refund, error) {
	defer s.guard(tx)()
	return s.findRefund(func(rf Refund) bool { return rf.PaymentID == paymentID && rf.IdempotencyKey == key }), nil
}

func (s *memStore) DeleteRefund(ctx context.Context, tx database.Tx, id string) error {
	defer s.guard(tx)()
	delete(s.refunds, id)
	return nil
}

func (s *memStore) FailPendingRefund(ctx context.Context, tx database.Tx, id string) (bool, error) {
	defer s.guard(tx)()
	rf, ok := s.refunds[id]
	if !ok || rf.Status != RefundPending || rf.GatewayRefundID != "" {
		return false, nil
	}
	rf.Status = RefundFailed
	s.refunds[id] = rf
	return true, nil
}

func (s *memStore) GetRefundByGatewayID(ctx context.Context, tx database.Tx, gatewayRefundID string) (*Refund, error) {
	defer s.guard(tx)()
	for _, rf := range s.refunds {
		if gatewayRefundID != "" && rf.GatewayRefundID == gatewayRefundID {
			cp := rf
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) SumRefunded(ctx context.Context, tx database.Tx, paymentID string) (decimal.Decimal, error) {
	defer s.guard(tx)()
	total := decimal.Zero
	for _, rf := range s.refunds {
		if rf.PaymentID == paymentID && rf.Status != RefundFailed {
			total = total.Add(rf.Amount)
		}
	}
	return total, nil
}

func (s *memStore) SumGatewayRefunds(ctx context.Context, tx database.Tx, paymentID string) (decimal.Decimal, error) {
	defer s.guard(tx)()
	total := decimal.Zero
	for _, rf := range s.refunds {
		if rf.PaymentID == paymentID && rf.Status != RefundFailed && rf.GatewayRefundID != "" {
			total = total.Add(rf.Amount)
		}
	}
	return total, nil
}

func (s *memStore) ListRefunds(ctx context.Context, paymentID string) ([]Refund, error) {
	defer s.guard(nil)()
	out := []Refund{}
	for _, rf := range s.refunds {
		if rf.PaymentID == paymentID {
			out = append(out, rf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	defer s.guard(nil)()
	processed, seen := s.events[eventID]
	if !seen {
		s.events[eventID] = false
	}
	return processed, nil
}

func (s *memStore) MarkWebhookEventProcessed(ctx context.Context, eventID string) error {
	defer s.guard(nil)()
	s.events[eventID] = true
	return nil
}

// ledger.Repository

func (s *memStore) AddAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error {
	defer s.guard(tx)()
	b := s.balances[sellerID]
	b.SellerID = sellerID
	b.AvailableBalance = b.AvailableBalance.Add(amount)
	b.TotalEarnings = b.TotalEarnings.Add(amount)
	s.balances[sellerID] = b
	return nil
}

func (s *memStore) AddPending(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) error {
	defer s.guard(tx)()
	b := s.balances[sellerID]
	b.SellerID = sellerID
	b.PendingBalance = b.PendingBalance.Add(amount)
	b.TotalEarnings = b.TotalEarnings.Add(amount)
	s.balances[sellerID] = b
	return nil
}

func (s *memStore) MovePendingToAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) (int64, error) {
	defer s.guard(tx)()
	b, ok := s.balances[sellerID]
	if !ok || b.PendingBalance.LessThan(amount) {
		return 0, nil
	}
	b.PendingBalance = b.PendingBalance.Sub(amount)
	b.AvailableBalance = b.AvailableBalance.Add(amount)
	s.balances[sellerID] = b
	return 1, nil
}

func (s *memStore) SubtractAvailable(ctx context.Context, tx database.Tx, sellerID string, amount decimal.Decimal) (int64, error) {
	defer s.guard(tx)()
	b, ok := s.balances[sellerID]
	if !ok || b.AvailableBalance.LessThan(amount) {
		return 0, nil
	}
	b.AvailableBalance = b.AvailableBalance.Sub(amount)
	s.balances[sellerID] = b
	return 1, nil
}

func (s *memStore) InsertTransaction(ctx context.Context, tx database.Tx, entry *ledger.Transaction) error {
	defer s.guard(tx)()
	for _, t := range s.transactions {
		if entry.Type == ledger.TypeCredit && t.Type == ledger.TypeCredit &&
			entry.PaymentID != nil && t.PaymentID != nil && *t.PaymentID == *entry.PaymentID {
			return errors.New("duplicate credit for payment")
		}
		if entry.Type == ledger.TypeDebit && t.Type == ledger.TypeDebit &&
			entry.RefundID != nil && t.RefundID != nil && *t.RefundID == *entry.RefundID {
			return errors.New("duplicate debit for refund")
		}
	}
	s.transactions = append(s.transactions, *entry)
	return nil
}

func (s *memStore) CreditExists(ctx context.Context, tx database.Tx, paymentID string) (bool, error) {
	defer s.guard(tx)()
	for _, t := range s.transactions {
		if t.Type == ledger.TypeCredit && t.PaymentID != nil && *t.PaymentID == paymentID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) RefundDebitExists(ctx context.Context, tx database.Tx, refundID string) (bool, error) {
	defer s.guard(tx)()
	for _, t := range s.transactions {
		if t.Type == ledger.TypeDebit && t.RefundID != nil && *t.RefundID == refundID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) GetBalance(ctx context.Context, sellerID string) (*ledger.SellerBalance, error) {
	defer s.guard(nil)()
	b, ok := s.balances[sellerID]
	if !ok {
		return nil, ledger.ErrBalanceNotFound
	}
	return &b, nil
}

func (s *memStore) ListTransactions(ctx context.Context, sellerID string, limit int) ([]ledger.Transaction, error) {
	defer s.guard(nil)()
	var out []ledger.Transaction
	for _, t := range s.transactions {
		if t.SellerID == sellerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) ListPaymentTransactions(ctx context.Context, paymentID string) ([]ledger.Transaction, error) {
	defer s.guard(nil)()
	var out []ledger.Transaction
	for _, t := range s.transactions {
		if t.PaymentID != nil && *t.PaymentID == paymentID {
			out = append(out, t)
		}
	}
	return out, nil
}

// test helpers reading state outside any Tx

func (s *memStore) payment(id string) Payment {
	defer s.guard(nil)()
	return s.payments[id]
}

func (s *memStore) balance(sellerID string) ledger.SellerBalance {
	defer s.guard(nil)()
	return s.balances[sellerID]
}

func (s *memStore) entries(typ string) []ledger.Transaction {
	defer s.guard(nil)()
	var out []ledger.Transaction
	for _, t := range s.transactions {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) setAvailable(sellerID string, amount decimal.Decimal) {
	defer s.guard(nil)()
	b := s.balances[sellerID]
	b.SellerID = sellerID
	b.AvailableBalance = amount
	s.balances[sellerID] = b
}
