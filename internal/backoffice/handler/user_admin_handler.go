package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/service"
)

// UserDirectory is the slice of the store the user admin needs.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*domain.User, int, error)
	SetUserActive(ctx context.Context, id int64, active bool) error
}

// UserAdminHandler serves /admin/users endpoints.
type UserAdminHandler struct {
	users  UserDirectory
	ledger *service.LedgerService
	logger *slog.Logger
}

// NewUserAdminHandler creates a UserAdminHandler.
func NewUserAdminHandler(users UserDirectory, ledger *service.LedgerService, logger *slog.Logger) *UserAdminHandler {
	return &UserAdminHandler{users: users, ledger: ledger, logger: logger.With("component", "backoffice.users")}
}

// List godoc
// GET /admin/users?page=1&limit=50
func (h *UserAdminHandler) List(c *gin.Context) {
	page, limit := adminPagination(c)
	offset := (page - 1) * limit

	users, total, err := h.users.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondList(c, users, total, page, limit)
}

// Detail godoc
// GET /admin/users/:id
func (h *UserAdminHandler) Detail(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	user, err := h.users.GetUser(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	acc, err := h.ledger.Balance(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	txns, _ := h.ledger.History(ctx, id, 50, 0)

	respondSuccess(c, http.StatusOK, gin.H{
		"user":         user,
		"account":      acc,
		"transactions": txns,
	})
}

// Suspend godoc
// POST /admin/users/:id/suspend
func (h *UserAdminHandler) Suspend(c *gin.Context) { h.setActive(c, false) }

// Activate godoc
// POST /admin/users/:id/activate
func (h *UserAdminHandler) Activate(c *gin.Context) { h.setActive(c, true) }

func (h *UserAdminHandler) setActive(c *gin.Context, active bool) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	if err := h.users.SetUserActive(c.Request.Context(), id, active); err != nil {
		respondServiceError(c, err)
		return
	}
	h.logger.Info("user active flag changed", "user_id", id, "is_active", active, "actor", actor(c))
	respondSuccess(c, http.StatusOK, gin.H{"user_id": id, "is_active": active})
}

// Balance godoc
// GET /admin/users/:id/balance
func (h *UserAdminHandler) Balance(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	acc, err := h.ledger.Balance(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, acc)
}

// Transactions godoc
// GET /admin/users/:id/transactions?page=1&limit=50
func (h *UserAdminHandler) Transactions(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	page, limit := adminPagination(c)
	txns, err := h.ledger.History(c.Request.Context(), id, limit, (page-1)*limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondList(c, txns, len(txns), page, limit)
}

// AdjustBalance godoc
// POST /admin/users/:id/balance
// Body: {"amount":"500","note":"bonus"}; a negative amount debits and fails
// when the balance does not cover it.
func (h *UserAdminHandler) AdjustBalance(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	var body struct {
		Amount string `json:"amount" binding:"required"`
		Note   string `json:"note"   binding:"max=512"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil || amount.IsZero() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a non-zero decimal string")
		return
	}

	note := body.Note
	if note == "" {
		note = "Admin balance adjustment"
	}
	entry := domain.LedgerEntry{
		UserID:      id,
		Amount:      amount.Abs(),
		Type:        domain.TxBonus,
		Reference:   "admin:" + actor(c),
		Description: note,
	}

	var balance decimal.Decimal
	if amount.IsNegative() {
		entry.Type = domain.TxAdjustment
		balance, err = h.ledger.Debit(c.Request.Context(), entry)
	} else {
		balance, err = h.ledger.Credit(c.Request.Context(), entry)
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.logger.Info("balance adjusted", "user_id", id, "amount", amount, "actor", actor(c))
	respondSuccess(c, http.StatusOK, gin.H{
		"user_id":     id,
		"amount":      amount,
		"new_balance": balance,
	})
}
