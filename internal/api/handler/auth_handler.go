package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/evetabi/betledger/internal/api/middleware"
	"github.com/evetabi/betledger/internal/repository"
	"github.com/evetabi/betledger/internal/service"
)

// AuthHandler handles Telegram login, token refresh and the profile endpoint.
type AuthHandler struct {
	authSvc *service.AuthService
	users   repository.Reader
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(authSvc *service.AuthService, users repository.Reader) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, users: users}
}

// LoginTelegram godoc
// POST /api/auth/telegram
// Body: {"init_data":"<Telegram.WebApp.initData>"}
func (h *AuthHandler) LoginTelegram(c *gin.Context) {
	var body struct {
		InitData string `json:"init_data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	resp, err := h.authSvc.LoginTelegram(c.Request.Context(), body.InitData)
	if err != nil {
		respondServiceError(c, err, "login failed")
		return
	}
	respondSuccess(c, http.StatusOK, resp)
}

// Refresh godoc
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var body struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	access, refresh, err := h.authSvc.RefreshToken(c.Request.Context(), body.RefreshToken)
	if err != nil {
		respondServiceError(c, err, "refresh failed")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

// Me godoc
// GET /api/me [JWT required]
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondServiceError(c, err, "could not fetch profile")
		return
	}
	respondSuccess(c, http.StatusOK, user)
}
