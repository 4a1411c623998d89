package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/repository"
	"github.com/evetabi/betledger/internal/service"
)

// RiskHandler serves /admin/risk endpoints: pool imbalance on live events
// and operational alerts.
type RiskHandler struct {
	events    *service.EventService
	reader    repository.Reader
	chargeTTL time.Duration
	now       func() time.Time
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(events *service.EventService, reader repository.Reader, chargeTTL time.Duration) *RiskHandler {
	return &RiskHandler{
		events:    events,
		reader:    reader,
		chargeTTL: chargeTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// eventRisk summarises one live event.
type eventRisk struct {
	EventID       string                     `json:"event_id"`
	Title         string                     `json:"title"`
	Currency      domain.Currency            `json:"currency"`
	TotalPool     decimal.Decimal            `json:"total_pool"`
	Shares        map[string]decimal.Decimal `json:"shares"`
	DominantShare decimal.Decimal            `json:"dominant_share"`
	RiskIndicator string                     `json:"risk_indicator"`
	TimeLeftSec   int64                      `json:"time_left_sec"`
}

func assessEvent(d *domain.EventDetail, now time.Time) eventRisk {
	shares := optionShares(d)
	dominant := decimal.Zero
	for _, s := range shares {
		if s.GreaterThan(dominant) {
			dominant = s
		}
	}
	left := int64(d.Event.Deadline.Sub(now).Seconds())
	if left < 0 {
		left = 0
	}
	return eventRisk{
		EventID:       d.Event.ID.String(),
		Title:         d.Event.Title,
		Currency:      d.Event.Currency,
		TotalPool:     d.Event.TotalPool,
		Shares:        shares,
		DominantShare: dominant,
		RiskIndicator: riskIndicator(dominant),
		TimeLeftSec:   left,
	}
}

// optionShares returns each option's percentage of the staked total.
func optionShares(d *domain.EventDetail) map[string]decimal.Decimal {
	staked := d.StakedTotal()
	out := make(map[string]decimal.Decimal, len(d.Options))
	for _, o := range d.Options {
		if staked.IsZero() {
			out[o.ID] = decimal.Zero
			continue
		}
		out[o.ID] = o.TotalAmount.Mul(decimal.NewFromInt(100)).Div(staked).RoundDown(2)
	}
	return out
}

// Live godoc
// GET /admin/risk/live
func (h *RiskHandler) Live(c *gin.Context) {
	active, err := h.events.ActiveEvents(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	now := h.now()
	out := make([]eventRisk, 0, len(active))
	for _, d := range active {
		out = append(out, assessEvent(d, now))
	}
	respondSuccess(c, http.StatusOK, gin.H{"events": out})
}

// Alert is one operational warning.
type Alert struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	EventID string `json:"event_id,omitempty"`
}

// Alerts godoc
// GET /admin/risk/alerts
func (h *RiskHandler) Alerts(c *gin.Context) {
	ctx := c.Request.Context()
	now := h.now()

	active, err := h.events.ActiveEvents(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	alerts := []Alert{}
	for _, d := range active {
		ev := d.Event
		if r := assessEvent(d, now); r.RiskIndicator == "RED" {
			alerts = append(alerts, Alert{"YELLOW", "pool dominated by one option (" + r.DominantShare.String() + "%)", r.EventID})
		}
		if !ev.ResolutionDate.After(now) {
			msg := "resolution date passed, awaiting manual resolution"
			if ev.AutoResolve {
				msg = "resolution date passed, auto-resolve pending"
			}
			alerts = append(alerts, Alert{"RED", msg, ev.ID.String()})
		}
	}

	stale, err := h.reader.ListPendingCharges(ctx, now.Add(-h.chargeTTL))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if len(stale) > 0 {
		alerts = append(alerts, Alert{Level: "YELLOW", Message: strconv.Itoa(len(stale)) + " pending charges older than the charge TTL"})
	}
	respondSuccess(c, http.StatusOK, gin.H{"alerts": alerts})
}

// riskIndicator returns GREEN/YELLOW/RED based on the dominant option share.
func riskIndicator(dominant decimal.Decimal) string {
	switch {
	case dominant.GreaterThan(decimal.NewFromInt(85)):
		return "RED"
	case dominant.GreaterThan(decimal.NewFromInt(70)):
		return "YELLOW"
	default:
		return "GREEN"
	}
}
