package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/evetabi/betledger/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items any, count, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"count": count,
			"page":  page,
			"limit": limit,
		},
	})
}

// errorCodes maps each domain sentinel to its HTTP status and wire code.
// The first match wins, so typed errors go before the sentinels they wrap.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired, "ERR_INSUFFICIENT_FUNDS"},
	{domain.ErrEventNotFound, http.StatusNotFound, "ERR_EVENT_NOT_FOUND"},
	{domain.ErrOptionNotFound, http.StatusNotFound, "ERR_OPTION_NOT_FOUND"},
	{domain.ErrResolutionNotFound, http.StatusNotFound, "ERR_RESOLUTION_NOT_FOUND"},
	{domain.ErrChargeNotFound, http.StatusNotFound, "ERR_CHARGE_NOT_FOUND"},
	{domain.ErrUserNotFound, http.StatusNotFound, "ERR_USER_NOT_FOUND"},
	{domain.ErrDialogueNotFound, http.StatusNotFound, "ERR_NO_DIALOGUE"},
	{domain.ErrEventNotActive, http.StatusConflict, "ERR_EVENT_NOT_ACTIVE"},
	{domain.ErrAlreadyResolved, http.StatusConflict, "ERR_ALREADY_RESOLVED"},
	{domain.ErrChargeNotPending, http.StatusConflict, "ERR_CHARGE_NOT_PENDING"},
	{domain.ErrIllegalTransition, http.StatusConflict, "ERR_ILLEGAL_TRANSITION"},
	{domain.ErrLockNotAcquired, http.StatusConflict, "ERR_LOCKED"},
	{domain.ErrAmountOutOfRange, http.StatusBadRequest, "ERR_AMOUNT_OUT_OF_RANGE"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "ERR_INVALID_AMOUNT"},
	{domain.ErrExternalPaymentUnsupported, http.StatusBadRequest, "ERR_EXTERNAL_PAYMENT_UNSUPPORTED"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "ERR_VALIDATION"},
	{domain.ErrUserInactive, http.StatusForbidden, "ERR_ACCOUNT_DISABLED"},
	{domain.ErrForbidden, http.StatusForbidden, "ERR_FORBIDDEN"},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "ERR_INVALID_CREDENTIALS"},
	{domain.ErrTokenExpired, http.StatusUnauthorized, "ERR_TOKEN_EXPIRED"},
	{domain.ErrTokenInvalid, http.StatusUnauthorized, "ERR_INVALID_TOKEN"},
	{domain.ErrTimeout, http.StatusGatewayTimeout, "ERR_TIMEOUT"},
	{domain.ErrExternalService, http.StatusBadGateway, "ERR_EXTERNAL_SERVICE"},
}

// respondServiceError maps a service error onto the response envelope.
// Unknown errors become a 500 with fallback as the message so internals do
// not leak.
func respondServiceError(c *gin.Context, err error, fallback string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			if e.status == http.StatusPaymentRequired {
				var short *domain.InsufficientFundsError
				if errors.As(err, &short) {
					c.AbortWithStatusJSON(e.status, gin.H{
						"success":   false,
						"error":     short.Error(),
						"code":      e.code,
						"shortfall": short.Shortfall(),
					})
					return
				}
			}
			respondError(c, e.status, e.code, err.Error())
			return
		}
	}
	_ = c.Error(err)
	respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", fallback)
}

// ──────────────────────────────────────────────────────────────────────────────
// Request helpers
// ──────────────────────────────────────────────────────────────────────────────

// parsePagination reads ?page=&limit= with defaults 1 and 20, limit capped at 100.
func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// parseIDParam parses the :id path parameter, writing a 400 on failure.
func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
