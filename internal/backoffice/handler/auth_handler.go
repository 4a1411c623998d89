package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/service"
)

// AuthHandler issues operator tokens.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Token godoc
// POST /admin/auth/token
// Body: {"api_key":"..."}
func (h *AuthHandler) Token(c *gin.Context) {
	var body struct {
		APIKey string `json:"api_key" binding:"required,max=256"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	token, exp, err := h.auth.OperatorLogin(body.APIKey)
	if err != nil {
		if domain.IsAuthError(err) {
			respondError(c, http.StatusUnauthorized, "ERR_INVALID_CREDENTIALS", err.Error())
			return
		}
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"access_token": token,
		"expires_at":   exp,
		"role":         domain.RoleAdmin,
	})
}
