package escrow

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/rekberpay/internal/auth"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/ledger"
	"github.com/mbd888/rekberpay/internal/logging"
	"github.com/mbd888/rekberpay/internal/pagination"
	"github.com/mbd888/rekberpay/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up escrow routes. All require auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.GET("/escrows", h.ListEscrows)
	r.GET("/escrows/:id", h.GetEscrow)
	r.POST("/escrows/:id/initiate-payment", h.InitiatePayment)
	r.POST("/escrows/:id/confirm-payment", h.transitionHandler(h.service.ConfirmPayment))
	r.POST("/escrows/:id/start", h.transitionHandler(h.service.MarkInProgress))
	r.POST("/escrows/:id/release", h.transitionHandler(h.service.Release))
	r.POST("/escrows/:id/cancel", h.transitionHandler(h.service.Cancel))
	r.POST("/escrows/:id/refund", h.transitionHandler(h.service.Refund))
	r.GET("/escrows/:id/wallet", h.GetWallet)
	r.GET("/escrows/:id/transactions", h.ListTransactions)
}

// CreateEscrow handles POST /v1/escrows
func (h *Handler) CreateEscrow(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.service.Create(ctx, actor, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"escrow": e})
}

// ListEscrows handles GET /v1/escrows?role=buyer|seller
func (h *Handler) ListEscrows(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	role := PartyRole(c.DefaultQuery("role", string(RoleBuyer)))
	page := pagination.FromQuery(c, 20, 100)

	escrows, err := h.service.ListMine(ctx, actor, role, page.Limit, page.Offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"escrows": escrows,
		"count":   len(escrows),
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	e, err := h.service.Get(ctx, actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// InitiatePaymentRequest is the body of POST /v1/escrows/:id/initiate-payment.
type InitiatePaymentRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

// InitiatePayment handles POST /v1/escrows/:id/initiate-payment
func (h *Handler) InitiatePayment(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	session, err := h.service.InitiatePayment(ctx, actor, c.Param("id"), req.PaymentMethod)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

type transitionFunc func(ctx context.Context, actor identity.Actor, id string) (*Escrow, error)

// transitionHandler serves the body-less lifecycle endpoints.
func (h *Handler) transitionHandler(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, actor, ok := auth.Context(c)
		if !ok {
			return
		}

		e, err := fn(ctx, actor, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"escrow": e})
	}
}

// GetWallet handles GET /v1/escrows/:id/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	w, err := h.service.Wallet(ctx, actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// ListTransactions handles GET /v1/escrows/:id/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	txns, err := h.service.Transactions(ctx, actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txns,
		"count":        len(txns),
	})
}

// respondError maps engine errors onto the API error envelope.
func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	message := err.Error()

	var verrs validation.ValidationErrors
	switch {
	case errors.Is(err, ErrEscrowNotFound), errors.Is(err, ledger.ErrWalletNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrAccountRestricted):
		status, code = http.StatusForbidden, "account_restricted"
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
			"details": verrs,
		})
		return
	case errors.Is(err, ErrSameParty), errors.Is(err, ErrPartyNotFound), errors.Is(err, ErrInvalidAmount):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ledger.ErrInsufficientBalance):
		status, code = http.StatusConflict, "invalid_state"
	}

	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("escrow request failed", "path", c.FullPath(), "error", err)
		message = "Internal server error"
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}
