package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/repository"
	"github.com/evetabi/betledger/internal/service"
)

// EventHandler serves public event queries.
type EventHandler struct {
	eventSvc *service.EventService
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(eventSvc *service.EventService) *EventHandler {
	return &EventHandler{eventSvc: eventSvc}
}

// GetActive godoc
// GET /api/events/active
// Served from the active-event cache; pools may lag by the cache TTL.
func (h *EventHandler) GetActive(c *gin.Context) {
	events, err := h.eventSvc.ActiveEvents(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "could not fetch active events")
		return
	}
	respondList(c, events, len(events), 1, len(events))
}

// ListEvents godoc
// GET /api/events?status=active&chat_id=123&page=1&limit=20
func (h *EventHandler) ListEvents(c *gin.Context) {
	page, limit := parsePagination(c)
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

	events, err := h.eventSvc.ListEvents(c.Request.Context(), f)
	if err != nil {
		respondServiceError(c, err, "could not list events")
		return
	}
	respondList(c, events, len(events), page, limit)
}

// GetByID godoc
// GET /api/events/:id
func (h *EventHandler) GetByID(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	detail, err := h.eventSvc.GetEvent(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err, "could not fetch event")
		return
	}
	respondSuccess(c, http.StatusOK, detail)
}

// GetResolution godoc
// GET /api/events/:id/resolution
func (h *EventHandler) GetResolution(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	res, err := h.eventSvc.GetResolution(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err, "could not fetch resolution")
		return
	}
	respondSuccess(c, http.StatusOK, res)
}
