package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/api/middleware"
	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/service"
)

// BetHandler serves bet placement and bet history endpoints.
type BetHandler struct {
	betSvc *service.BetService
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(betSvc *service.BetService) *BetHandler {
	return &BetHandler{betSvc: betSvc}
}

// PlaceBet godoc
// POST /api/bets [JWT]
// Body: {"event_id":"uuid","option_id":"X","amount":"50","source":"balance"}
// An externally funded bet answers 201 with the pending charge and its
// invoice link next to the bet.
func (h *BetHandler) PlaceBet(c *gin.Context) {
	var body struct {
		EventID  string `json:"event_id"  binding:"required"`
		OptionID string `json:"option_id" binding:"required,max=64"`
		Amount   string `json:"amount"    binding:"required"`
		Source   string `json:"source"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	eventID, err := uuid.Parse(body.EventID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_EVENT_ID", "invalid event_id format")
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", domain.ErrInvalidAmount.Error())
		return
	}
	source := domain.SourceBalance
	if body.Source != "" {
		source = domain.BetSource(body.Source)
	}

	res, err := h.betSvc.PlaceBet(c.Request.Context(), domain.PlaceBetRequest{
		EventID:  eventID,
		OptionID: body.OptionID,
		UserID:   middleware.GetUserID(c),
		Amount:   amount,
		Source:   source,
	})
	if err != nil {
		respondServiceError(c, err, "could not place bet")
		return
	}
	respondSuccess(c, http.StatusCreated, res)
}

// GetMyBets godoc
// GET /api/bets/my?page=1&limit=20 [JWT]
func (h *BetHandler) GetMyBets(c *gin.Context) {
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	bets, err := h.betSvc.ListMyBets(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		respondServiceError(c, err, "could not fetch bets")
		return
	}
	respondList(c, bets, len(bets), page, limit)
}
