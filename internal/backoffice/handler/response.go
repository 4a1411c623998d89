package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/evetabi/betledger/internal/api/middleware"
	"github.com/evetabi/betledger/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard admin response helpers (mirrors internal/api/handler/response.go)
// ──────────────────────────────────────────────────────────────────────────────

func respondSuccess(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

func respondList(c *gin.Context, items any, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

// respondServiceError classifies err by the domain predicates. Operators see
// the underlying message; the back office is not public.
func respondServiceError(c *gin.Context, err error) {
	var short *domain.InsufficientFundsError
	switch {
	case errors.As(err, &short):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"success":   false,
			"error":     err.Error(),
			"code":      "ERR_INSUFFICIENT_FUNDS",
			"shortfall": short.Shortfall(),
		})
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, "ERR_CONFLICT", err.Error())
	case errors.Is(err, domain.ErrTimeout):
		respondError(c, http.StatusGatewayTimeout, "ERR_TIMEOUT", err.Error())
	case errors.Is(err, domain.ErrExternalService):
		respondError(c, http.StatusBadGateway, "ERR_EXTERNAL_SERVICE", err.Error())
	default:
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
	}
}

// adminPagination reads page/limit query params with sane defaults for admin views.
func adminPagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return
}

func eventIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid event id")
		return uuid.Nil, false
	}
	return id, true
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid user id")
		return 0, false
	}
	return id, true
}

// actor names the operator in audit logs and ledger descriptions.
func actor(c *gin.Context) string {
	if s := middleware.GetSubject(c); s != "" {
		return s
	}
	return "operator"
}
