package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/rekberpay/internal/audit"
	"github.com/mbd888/rekberpay/internal/auth"
	"github.com/mbd888/rekberpay/internal/dispute"
	"github.com/mbd888/rekberpay/internal/fees"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/logging"
	"github.com/mbd888/rekberpay/internal/pagination"
	"github.com/mbd888/rekberpay/internal/users"
	"github.com/mbd888/rekberpay/internal/validation"
)

// Handler provides admin HTTP endpoints. Any dependency left nil makes
// its routes answer 503.
type Handler struct {
	users      UserService
	escrows    EscrowService
	disputes   DisputeService
	audit      AuditLog
	fees       FeeSchedule
	reconciler Reconciler
}

// NewHandler creates a new admin handler.
func NewHandler(u UserService, e EscrowService, d DisputeService) *Handler {
	return &Handler{users: u, escrows: e, disputes: d}
}

// WithAuditLog enables GET /admin/audit-logs.
func (h *Handler) WithAuditLog(a AuditLog) *Handler {
	h.audit = a
	return h
}

// WithFeeSchedule enables the fee endpoints.
func (h *Handler) WithFeeSchedule(f FeeSchedule) *Handler {
	h.fees = f
	return h
}

// WithReconciler enables POST /admin/reconcile.
func (h *Handler) WithReconciler(r Reconciler) *Handler {
	h.reconciler = r
	return h
}

// RegisterRoutes sets up admin routes. The group must already require
// the admin role.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/users", h.ListUsers)
	r.POST("/admin/users/:id/freeze", h.FreezeUser)
	r.POST("/admin/users/:id/unfreeze", h.UnfreezeUser)
	r.GET("/admin/escrows", h.ListEscrows)
	r.GET("/admin/disputes", h.ListDisputes)
	r.GET("/admin/stats", h.Stats)
	r.GET("/admin/audit-logs", h.AuditLogs)
	r.GET("/admin/fees", h.ListFees)
	r.POST("/admin/fees", h.UpsertFee)
	r.GET("/admin/blacklist", h.ListBlacklist)
	r.POST("/admin/blacklist", h.AddBlacklist)
	r.DELETE("/admin/blacklist/:id", h.RemoveBlacklist)
	r.POST("/admin/reconcile", h.Reconcile)
	r.GET("/admin/reconcile", h.LastReconciliation)
}

// ListUsers handles GET /v1/admin/users
func (h *Handler) ListUsers(c *gin.Context) {
	page := pagination.FromQuery(c, 50, 200)
	list, err := h.users.List(c.Request.Context(), page.Limit, page.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": list, "count": len(list)})
}

type freezeRequest struct {
	Reason string `json:"reason"`
}

// FreezeUser handles POST /v1/admin/users/:id/freeze
func (h *Handler) FreezeUser(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}
	userID, ok := userParam(c)
	if !ok {
		return
	}
	var req freezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "Invalid request body")
		return
	}

	u, err := h.users.Freeze(ctx, actor, userID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// UnfreezeUser handles POST /v1/admin/users/:id/unfreeze
func (h *Handler) UnfreezeUser(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}
	userID, ok := userParam(c)
	if !ok {
		return
	}

	u, err := h.users.Unfreeze(ctx, actor, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// ListEscrows handles GET /v1/admin/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
	page := pagination.FromQuery(c, 50, 200)
	list, err := h.escrows.ListAll(c.Request.Context(), page.Limit, page.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrows": list, "count": len(list)})
}

// ListDisputes handles GET /v1/admin/disputes?status=
func (h *Handler) ListDisputes(c *gin.Context) {
	page := pagination.FromQuery(c, 50, 200)
	status := dispute.Status(c.Query("status"))
	list, err := h.disputes.List(c.Request.Context(), status, page.Limit, page.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": list, "count": len(list)})
}

// Stats handles GET /v1/admin/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.escrows.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// AuditLogs handles GET /v1/admin/audit-logs?entityType=&entityId=
func (h *Handler) AuditLogs(c *gin.Context) {
	if h.audit == nil {
		notConfigured(c, "audit log")
		return
	}
	page := pagination.FromQuery(c, 100, 500)
	entries, err := h.audit.List(c.Request.Context(), audit.Filter{
		EntityType: c.Query("entityType"),
		EntityID:   c.Query("entityId"),
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auditLogs": entries, "count": len(entries)})
}

// ListFees handles GET /v1/admin/fees
func (h *Handler) ListFees(c *gin.Context) {
	if h.fees == nil {
		notConfigured(c, "fee schedule")
		return
	}
	configs, err := h.fees.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fees": configs, "count": len(configs)})
}

// UpsertFee handles POST /v1/admin/fees
func (h *Handler) UpsertFee(c *gin.Context) {
	if h.fees == nil {
		notConfigured(c, "fee schedule")
		return
	}
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}
	var req fees.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "Invalid request body")
		return
	}

	cfg, err := h.fees.Upsert(ctx, actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee": cfg})
}

// ListBlacklist handles GET /v1/admin/blacklist
func (h *Handler) ListBlacklist(c *gin.Context) {
	page := pagination.FromQuery(c, 50, 200)
	entries, err := h.users.ListBlacklist(c.Request.Context(), page.Limit, page.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// AddBlacklist handles POST /v1/admin/blacklist
func (h *Handler) AddBlacklist(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}
	var req users.BlacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "Invalid request body")
		return
	}

	entry, err := h.users.AddBlacklist(ctx, actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

// RemoveBlacklist handles DELETE /v1/admin/blacklist/:id
func (h *Handler) RemoveBlacklist(c *gin.Context) {
	ctx, actor, ok := auth.Context(c)
	if !ok {
		return
	}
	if err := h.users.RemoveBlacklist(ctx, actor, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true, "id": c.Param("id")})
}

// Reconcile handles POST /v1/admin/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	if h.reconciler == nil {
		notConfigured(c, "reconciliation")
		return
	}
	report, err := h.reconciler.RunAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// LastReconciliation handles GET /v1/admin/reconcile
func (h *Handler) LastReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		notConfigured(c, "reconciliation")
		return
	}
	report := h.reconciler.Last()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No reconciliation has run yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func userParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		invalidRequest(c, "User id must be a positive integer")
		return 0, false
	}
	return id, true
}

func invalidRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}

func notConfigured(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": what + " not configured"})
}

func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	message := err.Error()

	var verrs validation.ValidationErrors
	switch {
	case errors.Is(err, identity.ErrUserNotFound), errors.Is(err, users.ErrBlacklistNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, users.ErrForbidden), errors.Is(err, fees.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
			"details": verrs,
		})
		return
	case errors.Is(err, users.ErrAlreadyFrozen), errors.Is(err, users.ErrNotFrozen):
		status, code = http.StatusConflict, "invalid_state"
	}

	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("admin request failed", "path", c.FullPath(), "error", err)
		message = "Internal server error"
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}
