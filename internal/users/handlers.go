package users

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/rekberpay/internal/auth"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/logging"
	"github.com/mbd888/rekberpay/internal/validation"
)

// Handler provides HTTP endpoints for account operations.
type Handler struct {
	service *Service
	issuer  *auth.Issuer
}

// NewHandler creates a new user handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithIssuer enables POST /auth/dev-login, which mints tokens without an
// identity provider. Only wire it outside production.
func (h *Handler) WithIssuer(i *auth.Issuer) *Handler {
	h.issuer = i
	return h
}

// RegisterRoutes sets up unauthenticated routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	if h.issuer != nil {
		r.POST("/auth/dev-login", h.DevLogin)
	}
}

// RegisterProtectedRoutes sets up routes on the caller's own account.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/users/me", h.Me)
	r.PATCH("/users/me", h.UpdateMe)
	r.POST("/users/me/kyc", h.SubmitKYC)
	r.GET("/users/me/payment-methods", h.ListPaymentMethods)
	r.POST("/users/me/payment-methods", h.AddPaymentMethod)
}

// DevLogin handles POST /v1/auth/dev-login
func (h *Handler) DevLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.LoginMethod == "" {
		req.LoginMethod = "dev"
	}

	u, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	token, expiresAt, err := h.issuer.Issue(u.Actor())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":      u,
		"token":     token,
		"expiresAt": expiresAt,
	})
}

// Me handles GET /v1/users/me
func (h *Handler) Me(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	u, err := h.service.Profile(ctx, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// UpdateMe handles PATCH /v1/users/me
func (h *Handler) UpdateMe(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	var req ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	u, err := h.service.UpdateProfile(ctx, actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// SubmitKYC handles POST /v1/users/me/kyc
func (h *Handler) SubmitKYC(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	var req KYCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	k, err := h.service.SubmitKYC(ctx, actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"kyc": k})
}

// ListPaymentMethods handles GET /v1/users/me/payment-methods
func (h *Handler) ListPaymentMethods(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	methods, err := h.service.PaymentMethods(ctx, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paymentMethods": methods, "count": len(methods)})
}

// AddPaymentMethod handles POST /v1/users/me/payment-methods
func (h *Handler) AddPaymentMethod(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	var req PaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	m, err := h.service.AddPaymentMethod(ctx, actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"paymentMethod": m})
}

// RespondError writes the error envelope for a users service error.
// Exported for the admin handlers that front the same service.
func RespondError(c *gin.Context, err error) { respondError(c, err) }

func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	message := err.Error()

	var verrs validation.ValidationErrors
	switch {
	case errors.Is(err, identity.ErrUserNotFound), errors.Is(err, ErrBlacklistNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
			"details": verrs,
		})
		return
	case errors.Is(err, ErrAlreadyFrozen), errors.Is(err, ErrNotFrozen), errors.Is(err, ErrKYCPending),
		errors.Is(err, ErrUserExists):
		status, code = http.StatusConflict, "invalid_state"
	}

	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("user request failed", "path", c.FullPath(), "error", err)
		message = "Internal server error"
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}
