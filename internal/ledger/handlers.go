package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-payments/internal/money"
)

// Handler serves the seller balance endpoints.
type Handler struct {
	ledger *Ledger
	logger *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(ledger *Ledger, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// Register mounts the routes under /api/sellers.
func (h *Handler) Register(r gin.IRouter) {
	sellers := r.Group("/api/sellers/:sellerId")
	sellers.GET("/balance", h.GetBalance)
	sellers.GET("/transactions", h.ListTransactions)
	sellers.POST("/balance/release", h.Release)
	sellers.POST("/balance/credit", h.Credit)
}

type amountRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
}

func (h *Handler) GetBalance(c *gin.Context) {
	sellerID := c.Param("sellerId")

	balance, err := h.ledger.Balance(c.Request.Context(), sellerID)
	if err != nil {
		h.logger.Error("failed to load balance", zap.String("seller_id", sellerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to load balance"})
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	sellerID := c.Param("sellerId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.ledger.Transactions(c.Request.Context(), sellerID, limit)
	if err != nil {
		h.logger.Error("failed to list transactions", zap.String("seller_id", sellerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to list transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"seller_id": sellerID, "transactions": entries})
}

func (h *Handler) Release(c *gin.Context) {
	ctx, span := otel.Tracer("ledger").Start(c.Request.Context(), "ledger.Release")
	defer span.End()

	sellerID := c.Param("sellerId")
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid request body"})
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("seller_id", sellerID), attribute.String("amount", amount.StringFixed(2)))

	if err := h.ledger.Release(ctx, sellerID, amount); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "seller_id": sellerID, "released": amount.StringFixed(2)})
}

func (h *Handler) Credit(c *gin.Context) {
	sellerID := c.Param("sellerId")
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid request body"})
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if req.Description == "" {
		req.Description = "manual adjustment"
	}

	entry, err := h.ledger.Adjust(c.Request.Context(), sellerID, amount, req.Description)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInsufficientPending), errors.Is(err, ErrInsufficientAvailable):
		c.JSON(http.StatusConflict, gin.H{"status": "error", "code": "INSUFFICIENT_BALANCE", "message": err.Error()})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	default:
		h.logger.Error("ledger operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "ledger operation failed"})
	}
}
