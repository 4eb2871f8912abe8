package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/rekberpay/internal/auth"
	"github.com/mbd888/rekberpay/internal/escrow"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/ledger"
	"github.com/mbd888/rekberpay/internal/logging"
	"github.com/mbd888/rekberpay/internal/validation"
)

// Handler provides HTTP endpoints for the dispute workflow.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up dispute routes. All require auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/disputes", h.OpenDispute)
	r.GET("/disputes/:id", h.GetDispute)
	r.GET("/escrows/:id/dispute", h.GetEscrowDispute)
	r.POST("/disputes/:id/messages", h.AddMessage)
	r.GET("/disputes/:id/messages", h.ListMessages)
	r.POST("/disputes/:id/evidence", h.SubmitEvidence)
	r.POST("/disputes/:id/mediator", h.AssignMediator)
	r.POST("/disputes/:id/status", h.UpdateStatus)
	r.POST("/disputes/:id/resolve", h.Resolve)
	r.POST("/disputes/:id/close", h.Close)
}

// OpenDispute handles POST /v1/disputes
func (h *Handler) OpenDispute(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}
	var req OpenRequest
	if !bind(c, &req) {
		return
	}

	d, err := h.service.Open(ctx, actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	d, err := h.service.Get(ctx, actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// GetEscrowDispute handles GET /v1/escrows/:id/dispute
func (h *Handler) GetEscrowDispute(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	d, err := h.service.GetByEscrow(ctx, actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// AddMessage handles POST /v1/disputes/:id/messages
func (h *Handler) AddMessage(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}
	var req MessageRequest
	if !bind(c, &req) {
		return
	}

	m, err := h.service.AddMessage(ctx, actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

// ListMessages handles GET /v1/disputes/:id/messages
func (h *Handler) ListMessages(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	msgs, err := h.service.Messages(ctx, actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

// SubmitEvidence handles POST /v1/disputes/:id/evidence
func (h *Handler) SubmitEvidence(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}
	var req EvidenceRequest
	if !bind(c, &req) {
		return
	}

	d, err := h.service.SubmitEvidence(ctx, actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// AssignMediatorRequest is the body of POST /v1/disputes/:id/mediator.
type AssignMediatorRequest struct {
	MediatorID int64 `json:"mediatorId"`
}

// AssignMediator handles POST /v1/disputes/:id/mediator
func (h *Handler) AssignMediator(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}
	var req AssignMediatorRequest
	if !bind(c, &req) {
		return
	}
	if errs := validation.Validate(validation.Positive("mediatorId", req.MediatorID)); len(errs) > 0 {
		validation.Abort(c, errs)
		return
	}

	d, err := h.service.AssignMediator(ctx, actor, c.Param("id"), req.MediatorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// UpdateStatusRequest is the body of POST /v1/disputes/:id/status.
type UpdateStatusRequest struct {
	Status Status `json:"status"`
}

// UpdateStatus handles POST /v1/disputes/:id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if !bind(c, &req) {
		return
	}

	d, err := h.service.UpdateStatus(ctx, actor, c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// Resolve handles POST /v1/disputes/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}
	var req ResolveRequest
	if !bind(c, &req) {
		return
	}

	d, err := h.service.Resolve(ctx, actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// Close handles POST /v1/disputes/:id/close
func (h *Handler) Close(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}

	d, err := h.service.Close(ctx, actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return false
	}
	return true
}

func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	message := err.Error()

	var verrs validation.ValidationErrors
	switch {
	case errors.Is(err, ErrDisputeNotFound), errors.Is(err, escrow.ErrEscrowNotFound),
		errors.Is(err, identity.ErrUserNotFound), errors.Is(err, ledger.ErrWalletNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrForbidden), errors.Is(err, escrow.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
			"details": verrs,
		})
		return
	case errors.Is(err, ErrNotMediator), errors.Is(err, escrow.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrDisputeExists), errors.Is(err, ErrInvalidStatus), errors.Is(err, escrow.ErrInvalidStatus):
		status, code = http.StatusConflict, "invalid_state"
	}

	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("dispute request failed", "path", c.FullPath(), "error", err)
		message = "Internal server error"
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}
