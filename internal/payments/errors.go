package payments

import "fmt"

// ErrorKind classifies failures for callers and the HTTP layer.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindSecurity   ErrorKind = "security"
	KindGateway    ErrorKind = "gateway"
	KindBusiness   ErrorKind = "business"
)

// Error is a classified payments failure. Message is safe to show to external
// callers; Err may carry gateway or database detail and is only logged.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so sentinel errors work with errors.Is after wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrPaymentNotFound          = &Error{Kind: KindNotFound, Code: "PAYMENT_NOT_FOUND", Message: "payment not found"}
	ErrProductNotFound          = &Error{Kind: KindNotFound, Code: "PRODUCT_NOT_FOUND", Message: "product not found"}
	ErrSellerNotFound           = &Error{Kind: KindNotFound, Code: "SELLER_NOT_FOUND", Message: "seller not found"}
	ErrBuyerNotFound            = &Error{Kind: KindNotFound, Code: "BUYER_NOT_FOUND", Message: "buyer not found"}
	ErrInvalidWebhookSignature  = &Error{Kind: KindSecurity, Code: "INVALID_WEBHOOK_SIGNATURE", Message: "webhook signature verification failed"}
	ErrNotRefundable            = &Error{Kind: KindBusiness, Code: "NOT_REFUNDABLE", Message: "payment is not in a refundable state"}
	ErrRefundExceedsAmount      = &Error{Kind: KindBusiness, Code: "REFUND_EXCEEDS_AMOUNT", Message: "refund amount exceeds payment amount"}
	ErrRefundExceedsRemaining   = &Error{Kind: KindBusiness, Code: "REFUND_EXCEEDS_REMAINING", Message: "refund amount exceeds remaining refundable amount"}
	ErrInsufficientBalance      = &Error{Kind: KindBusiness, Code: "INSUFFICIENT_BALANCE", Message: "seller balance insufficient for refund debit"}
	ErrPaymentStateConflict     = &Error{Kind: KindBusiness, Code: "PAYMENT_STATE_CONFLICT", Message: "payment changed state concurrently"}
	ErrGatewayUnavailable       = &Error{Kind: KindGateway, Code: "GATEWAY_ERROR", Message: "payment gateway request failed"}
)

func validationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func gatewayError(err error) *Error {
	return &Error{Kind: KindGateway, Code: ErrGatewayUnavailable.Code, Message: ErrGatewayUnavailable.Message, Err: err}
}
