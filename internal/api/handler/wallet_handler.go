package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/api/middleware"
	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/service"
)

// WalletHandler serves balance, ledger history and top-up endpoints.
type WalletHandler struct {
	ledger *service.LedgerService
	bets   *service.BetService
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(ledger *service.LedgerService, bets *service.BetService) *WalletHandler {
	return &WalletHandler{ledger: ledger, bets: bets}
}

// GetBalance godoc
// GET /api/wallet/balance [JWT]
// A user who was never credited gets a zero account.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	acc, err := h.ledger.Balance(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondServiceError(c, err, "could not fetch balance")
		return
	}
	respondSuccess(c, http.StatusOK, acc)
}

// GetTransactions godoc
// GET /api/wallet/transactions?page=1&limit=20 [JWT]
// Newest first.
func (h *WalletHandler) GetTransactions(c *gin.Context) {
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	txns, err := h.ledger.History(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		respondServiceError(c, err, "could not fetch transactions")
		return
	}
	respondList(c, txns, len(txns), page, limit)
}

// TopUp godoc
// POST /api/wallet/topup [JWT]
// Body: {"amount":"100"}
// Answers with the pending charge; the balance is credited when the payment
// confirmation arrives.
func (h *WalletHandler) TopUp(c *gin.Context) {
	var body struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil || !amount.IsPositive() || !amount.IsInteger() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", domain.ErrInvalidAmount.Error())
		return
	}

	charge, err := h.bets.RequestTopUp(c.Request.Context(), service.TopUpRequest{
		UserID:   middleware.GetUserID(c),
		Amount:   amount,
		Currency: domain.CurrencyStars,
	})
	if err != nil {
		respondServiceError(c, err, "could not create invoice")
		return
	}
	respondSuccess(c, http.StatusCreated, charge)
}
