package payments

import (
	"context"
	"fmt"
)

// GetPaymentDetails returns a payment, looked up by gateway payment id, with its refunds.
func (s *Service) GetPaymentDetails(ctx context.Context, gatewayPaymentID string) (*PaymentDetails, error) {
	payment, err := s.repository.GetPaymentByGatewayPaymentID(ctx, gatewayPaymentID)
	if err != nil {
		return nil, err
	}

	refunds, err := s.repository.ListRefunds(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentDetails{Payment: payment, Refunds: refunds}, nil
}

// GetOrderPayments returns the payment behind a gateway order id with its refunds
// and ledger entries.
func (s *Service) GetOrderPayments(ctx context.Context, orderID string) (*PaymentDetails, error) {
	payment, err := s.repository.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	refunds, err := s.repository.ListRefunds(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	transactions, err := s.ledger.PaymentTransactions(ctx, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	return &PaymentDetails{Payment: payment, Refunds: refunds, Transactions: transactions}, nil
}
