package gateway

import "time"

// Gateway-side payment statuses.
const (
	StatusCreated    = "created"
	StatusAuthorized = "authorized"
	StatusCaptured   = "captured"
	StatusFailed     = "failed"
	StatusRefunded   = "refunded"
)

// Gateway-side refund statuses.
const (
	RefundStatusPending   = "pending"
	RefundStatusProcessed = "processed"
	RefundStatusFailed    = "failed"
)

// Refund speeds.
const (
	SpeedNormal  = "normal"
	SpeedOptimum = "optimum"
)

// Order is the result of creating a payment order.
type Order struct {
	ID        string
	Status    string
	Amount    int64
	Currency  string
	Receipt   string
	CreatedAt time.Time
}

// Capture is the result of capturing an authorized payment.
type Capture struct {
	PaymentID  string
	Status     string
	Method     string
	Amount     int64
	CapturedAt time.Time
}

// Refund is the result of a refund request.
type Refund struct {
	ID             string
	PaymentID      string
	Status         string
	Amount         int64
	SpeedRequested string
	SpeedProcessed string
	CreatedAt      time.Time
}

// PaymentDetails is a payment as the gateway currently sees it.
type PaymentDetails struct {
	ID               string
	OrderID          string
	Status           string
	Method           string
	Amount           int64
	AmountRefunded   int64
	Currency         string
	Captured         bool
	ErrorCode        string
	ErrorDescription string
	CreatedAt        time.Time
}

type orderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderEntity struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type captureBody struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type refundBody struct {
	Amount  int64             `json:"amount"`
	Speed   string            `json:"speed,omitempty"`
	Receipt string            `json:"receipt,omitempty"`
	Notes   map[string]string `json:"notes,omitempty"`
}

// PaymentEntity mirrors the gateway's payment JSON. Webhook payloads embed the same shape.
type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	AmountRefunded   int64  `json:"amount_refunded"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	Captured         bool   `json:"captured"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	CreatedAt        int64  `json:"created_at"`
}

// RefundEntity mirrors the gateway's refund JSON.
type RefundEntity struct {
	ID             string `json:"id"`
	PaymentID      string `json:"payment_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	SpeedRequested string `json:"speed_requested"`
	SpeedProcessed string `json:"speed_processed"`
	CreatedAt      int64  `json:"created_at"`
	// Notes echoes what the refund was created with.
	Notes map[string]string `json:"notes"`
}

// DisputeEntity mirrors the gateway's dispute JSON.
type DisputeEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	Phase     string `json:"phase"`
}

func (p PaymentEntity) details() *PaymentDetails {
	return &PaymentDetails{
		ID:               p.ID,
		OrderID:          p.OrderID,
		Status:           p.Status,
		Method:           p.Method,
		Amount:           p.Amount,
		AmountRefunded:   p.AmountRefunded,
		Currency:         p.Currency,
		Captured:         p.Captured,
		ErrorCode:        p.ErrorCode,
		ErrorDescription: p.ErrorDescription,
		CreatedAt:        unixOrNow(p.CreatedAt),
	}
}

func unixOrNow(ts int64) time.Time {
	if ts <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(ts, 0).UTC()
}
