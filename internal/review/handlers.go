package review

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/rekberpay/internal/auth"
	"github.com/mbd888/rekberpay/internal/escrow"
	"github.com/mbd888/rekberpay/internal/logging"
	"github.com/mbd888/rekberpay/internal/pagination"
	"github.com/mbd888/rekberpay/internal/validation"
)

// Handler provides HTTP endpoints for reviews.
type Handler struct {
	service *Service
}

// NewHandler creates a new review handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up review routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/reviews", h.Create)
	r.GET("/users/:id/reviews", h.ListForUser)
	r.GET("/users/:id/reviews/summary", h.Summary)
}

// Create handles POST /v1/reviews
func (h *Handler) Create(c *gin.Context) {
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

	r, err := h.service.Create(ctx, actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"review": r})
}

// ListForUser handles GET /v1/users/:id/reviews
func (h *Handler) ListForUser(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	page := pagination.FromQuery(c, 20, 100)

	reviews, err := h.service.ListForUser(c.Request.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews, "count": len(reviews)})
}

// Summary handles GET /v1/users/:id/reviews/summary
func (h *Handler) Summary(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}

	sum, err := h.service.Summary(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}

func userParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid user id",
		})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	message := err.Error()

	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
			"details": verrs,
		})
		return
	case errors.Is(err, escrow.ErrEscrowNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrNotParty):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrWrongReviewee):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrEscrowIncomplete), errors.Is(err, ErrReviewExists):
		status, code = http.StatusConflict, "invalid_state"
	}

	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("review request failed", "path", c.FullPath(), "error", err)
		message = "Internal server error"
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}
