package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/repository"
	"github.com/evetabi/betledger/internal/service"
)

// EventAdminHandler serves /admin/events endpoints.
type EventAdminHandler struct {
	events     *service.EventService
	settlement *service.SettlementService
	oracle     *service.OracleService
	reader     repository.Reader
	logger     *slog.Logger
}

// NewEventAdminHandler creates an EventAdminHandler.
func NewEventAdminHandler(
	events *service.EventService,
	settlement *service.SettlementService,
	oracle *service.OracleService,
	reader repository.Reader,
	logger *slog.Logger,
) *EventAdminHandler {
	return &EventAdminHandler{
		events:     events,
		settlement: settlement,
		oracle:     oracle,
		reader:     reader,
		logger:     logger.With("component", "backoffice.events"),
	}
}

// List godoc
// GET /admin/events?status=active&chat_id=-100&page=1&limit=50
func (h *EventAdminHandler) List(c *gin.Context) {
	page, limit := adminPagination(c)
	f := repository.EventFilter{
		Status: domain.EventStatus(c.Query("status")),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if raw := c.Query("chat_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "chat_id must be an integer")
			return
		}
		f.ChatID = id
	}

	events, err := h.events.ListEvents(c.Request.Context(), f)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondList(c, events, len(events), page, limit)
}

// Detail godoc
// GET /admin/events/:id
// Returns the event, its options, every bet and the resolution if any.
func (h *EventAdminHandler) Detail(c *gin.Context) {
	id, ok := eventIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	detail, err := h.events.GetEvent(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	bets, err := h.reader.ListBetsByEvent(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	var resolution *domain.Resolution
	if detail.Event.Status == domain.EventStatusResolved {
		resolution, _ = h.events.GetResolution(ctx, id)
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"event":      detail.Event,
		"options":    detail.Options,
		"bets":       bets,
		"resolution": resolution,
	})
}

// Create godoc
// POST /admin/events
// Body: {"title":"...","deadline":"RFC3339","options":[{"id":"X","text":"..."}], ...}
func (h *EventAdminHandler) Create(c *gin.Context) {
	var body struct {
		Title          string              `json:"title"           binding:"required,max=256"`
		Description    string              `json:"description"     binding:"max=4096"`
		ChatID         int64               `json:"chat_id"`
		CreatorID      int64               `json:"creator_id"`
		Deadline       time.Time           `json:"deadline"        binding:"required"`
		ResolutionDate time.Time           `json:"resolution_date"`
		MinStake       decimal.Decimal     `json:"min_stake"`
		MaxStake       decimal.Decimal     `json:"max_stake"`
		Currency       domain.Currency     `json:"currency"`
		AutoResolve    bool                `json:"auto_resolve"`
		Options        []domain.OptionSpec `json:"options"         binding:"required,min=2,dive"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	detail, err := h.events.CreateEvent(c.Request.Context(), domain.CreateEventRequest{
		Title:          body.Title,
		Description:    body.Description,
		ChatID:         body.ChatID,
		CreatorID:      body.CreatorID,
		Deadline:       body.Deadline,
		ResolutionDate: body.ResolutionDate,
		MinStake:       body.MinStake,
		MaxStake:       body.MaxStake,
		Currency:       body.Currency,
		AutoResolve:    body.AutoResolve,
		Options:        body.Options,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.logger.Info("event created", "event_id", detail.Event.ID, "actor", actor(c))
	respondSuccess(c, http.StatusCreated, detail)
}

// Resolve godoc
// POST /admin/events/:id/resolve
// Body: {"winning_option_ids":["X"],"note":"..."}; an empty list refunds everyone.
func (h *EventAdminHandler) Resolve(c *gin.Context) {
	id, ok := eventIDParam(c)
	if !ok {
		return
	}
	var body struct {
		WinningOptionIDs []string `json:"winning_option_ids"`
		Note             string   `json:"note" binding:"max=1024"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	data, _ := json.Marshal(gin.H{"actor": actor(c), "note": body.Note})

	res, err := h.settlement.Resolve(c.Request.Context(), domain.ResolveRequest{
		EventID:          id,
		WinningOptionIDs: body.WinningOptionIDs,
		Source:           domain.ResolutionManual,
		Data:             data,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.logger.Info("event resolved manually", "event_id", id, "actor", actor(c), "winners", res.TotalWinners)
	respondSuccess(c, http.StatusOK, res)
}

// AutoResolve godoc
// POST /admin/events/:id/auto-resolve
// Blocks until the decision service answers or the oracle timeout elapses.
func (h *EventAdminHandler) AutoResolve(c *gin.Context) {
	id, ok := eventIDParam(c)
	if !ok {
		return
	}
	if h.oracle == nil {
		respondServiceError(c, fmt.Errorf("%w: oracle not configured", domain.ErrExternalService))
		return
	}
	res, err := h.oracle.AutoResolve(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.logger.Info("event auto-resolved", "event_id", id, "actor", actor(c))
	respondSuccess(c, http.StatusOK, res)
}

// Cancel godoc
// POST /admin/events/:id/cancel
// Body: {"reason":"..."}; every paid active bet is refunded, unpaid stakes are voided.
func (h *EventAdminHandler) Cancel(c *gin.Context) {
	id, ok := eventIDParam(c)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason" binding:"required,max=512"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	refunded, err := h.events.CancelEvent(c.Request.Context(), id, body.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.logger.Info("event cancelled", "event_id", id, "actor", actor(c), "refunded", refunded)
	respondSuccess(c, http.StatusOK, gin.H{"event_id": id, "refunded_bets": refunded})
}
