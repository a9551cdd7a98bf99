package payments

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	signatureHeader = "X-Razorpay-Signature"
	eventIDHeader   = "X-Razorpay-Event-Id"

	maxWebhookBody = 1 << 20
)

// Handler serves the payment and webhook endpoints.
type Handler struct {
	service *Service
	keyID   string
	logger  *zap.Logger
}

// NewHandler creates a new Handler. keyID is the public gateway key returned to
// checkout clients with a new order.
func NewHandler(service *Service, keyID string, logger *zap.Logger) *Handler {
	return &Handler{service: service, keyID: keyID, logger: logger}
}

// Register mounts the payment routes.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/payments/orders", h.CreateOrder)
	api.POST("/payments/verify", h.VerifyPayment)
	api.POST("/payments/refunds", h.InitiateRefund)
	api.GET("/payments/:paymentId", h.GetPayment)
	api.GET("/orders/:orderId/payments", h.GetOrderPayments)
	api.POST("/webhooks/gateway", h.Webhook)
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "code": "INVALID_REQUEST", "message": "invalid request body"})
		return
	}

	payment, err := h.service.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment_id": payment.ID,
		"order_id":   payment.GatewayOrderID,
		"amount":     payment.Amount.StringFixed(2),
		"currency":   payment.Currency,
		"receipt":    payment.Receipt,
		"status":     payment.Status,
		"key_id":     h.keyID,
	})
}

func (h *Handler) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "code": "INVALID_REQUEST", "message": "invalid request body"})
		return
	}

	result, err := h.service.VerifyAndCapture(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if result.Status == StatusFailed {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) InitiateRefund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "code": "INVALID_REQUEST", "message": "invalid request body"})
		return
	}

	refund, err := h.service.InitiateRefund(c.Request.Context(), req)
	if err != nil {
		if refund != nil && errors.Is(err, ErrInsufficientBalance) {
			c.JSON(http.StatusConflict, gin.H{
				"status":  "error",
				"code":    ErrInsufficientBalance.Code,
				"message": ErrInsufficientBalance.Message,
				"refund":  refund,
			})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

func (h *Handler) GetPayment(c *gin.Context) {
	details, err := h.service.GetPaymentDetails(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handler) GetOrderPayments(c *gin.Context) {
	details, err := h.service.GetOrderPayments(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// Webhook needs the body byte-for-byte as sent; the signature covers the raw payload.
func (h *Handler) Webhook(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "code": "INVALID_PAYLOAD", "message": "unreadable body"})
		return
	}

	err = h.service.HandleWebhook(c.Request.Context(), raw, c.GetHeader(signatureHeader), c.GetHeader(eventIDHeader))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps classified errors onto HTTP. Unclassified errors are logged and
// reported as a generic 500 so no database or gateway detail leaks out.
func (h *Handler) writeError(c *gin.Context, err error) {
	var pErr *Error
	if !errors.As(err, &pErr) {
		h.logger.Error("payment request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "code": "INTERNAL_ERROR", "message": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch pErr.Kind {
	case KindValidation:
		status = http.StatusBadRequest
	case KindNotFound:
		status = http.StatusNotFound
	case KindSecurity:
		status = http.StatusUnauthorized
	case KindGateway:
		status = http.StatusBadGateway
	case KindBusiness:
		status = http.StatusUnprocessableEntity
		if pErr.Code == ErrInsufficientBalance.Code || pErr.Code == ErrPaymentStateConflict.Code {
			status = http.StatusConflict
		}
	}
	if pErr.Err != nil {
		h.logger.Warn("payment request rejected", zap.String("code", pErr.Code), zap.Error(pErr.Err))
	}
	c.JSON(status, gin.H{"status": "error", "code": pErr.Code, "message": pErr.Message})
}
