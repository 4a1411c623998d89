package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/evetabi/betledger/internal/api/middleware"
	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/service"
)

// DialogueHandler exposes the bet-entry conversation to the Mini App.
type DialogueHandler struct {
	dialogue *service.DialogueService
}

// NewDialogueHandler creates a DialogueHandler.
func NewDialogueHandler(dialogue *service.DialogueService) *DialogueHandler {
	return &DialogueHandler{dialogue: dialogue}
}

// stepView is the wire shape of a dialogue step.
type stepView struct {
	State  domain.DialogueKind  `json:"state"`
	Detail domain.DialogueState `json:"detail,omitempty"`
	Prompt string               `json:"prompt,omitempty"`
	Event  *domain.EventDetail  `json:"event,omitempty"`
	Bet    *domain.Bet          `json:"bet,omitempty"`
	Charge *domain.Charge       `json:"charge,omitempty"`
}

func viewOf(step *service.DialogueStep) stepView {
	v := stepView{
		State:  step.State.Kind(),
		Prompt: step.Prompt,
		Event:  step.Event,
		Bet:    step.Bet,
		Charge: step.Charge,
	}
	if v.State != domain.KindIdle {
		v.Detail = step.State
	}
	return v
}

// Start godoc
// POST /api/dialogue/start [JWT]
// Body: {"event_id":"uuid","option_id":"X"}; option_id is optional.
func (h *DialogueHandler) Start(c *gin.Context) {
	var body struct {
		EventID  string `json:"event_id"  binding:"required"`
		OptionID string `json:"option_id" binding:"max=64"`
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

	step, err := h.dialogue.StartBetSelection(c.Request.Context(), middleware.GetUserID(c), eventID, body.OptionID)
	if err != nil {
		respondServiceError(c, err, "could not start dialogue")
		return
	}
	respondSuccess(c, http.StatusOK, viewOf(step))
}

// SelectOption godoc
// POST /api/dialogue/option [JWT]
// Body: {"option_id":"X"}
func (h *DialogueHandler) SelectOption(c *gin.Context) {
	var body struct {
		OptionID string `json:"option_id" binding:"required,max=64"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	step, err := h.dialogue.SelectOption(c.Request.Context(), middleware.GetUserID(c), body.OptionID)
	if err != nil {
		respondServiceError(c, err, "could not select option")
		return
	}
	respondSuccess(c, http.StatusOK, viewOf(step))
}

// SubmitAmount godoc
// POST /api/dialogue/amount [JWT]
// Body: {"text":"50"}; the raw user input, parsed by the dialogue.
func (h *DialogueHandler) SubmitAmount(c *gin.Context) {
	var body struct {
		Text string `json:"text" binding:"required,max=32"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	step, err := h.dialogue.SubmitAmount(c.Request.Context(), middleware.GetUserID(c), body.Text)
	if err != nil {
		respondServiceError(c, err, "could not place bet")
		return
	}
	respondSuccess(c, http.StatusOK, viewOf(step))
}

// Cancel godoc
// POST /api/dialogue/cancel [JWT]
func (h *DialogueHandler) Cancel(c *gin.Context) {
	if err := h.dialogue.Cancel(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		respondServiceError(c, err, "could not cancel dialogue")
		return
	}
	respondSuccess(c, http.StatusOK, stepView{State: domain.KindIdle})
}

// Current godoc
// GET /api/dialogue [JWT]
func (h *DialogueHandler) Current(c *gin.Context) {
	st, err := h.dialogue.Current(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondServiceError(c, err, "could not fetch dialogue")
		return
	}
	respondSuccess(c, http.StatusOK, viewOf(&service.DialogueStep{State: st}))
}
