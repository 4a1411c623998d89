package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/service"
)

// ConnectionCounter reports live WebSocket viewers; *ws.Hub implements it.
type ConnectionCounter interface {
	ConnectedCount() int
}

// DashboardHandler serves the /admin/dashboard endpoint.
type DashboardHandler struct {
	events *service.EventService
	bets   *service.BetService
	hub    ConnectionCounter
}

// NewDashboardHandler creates a DashboardHandler. hub may be nil when the
// back office runs without the public server.
func NewDashboardHandler(events *service.EventService, bets *service.BetService, hub ConnectionCounter) *DashboardHandler {
	return &DashboardHandler{events: events, bets: bets, hub: hub}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now().UTC()

	// ── Active events ────────────────────────────────────────────────────────
	active, err := h.events.ActiveEvents(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	pools := make(map[domain.Currency]decimal.Decimal)
	commission := make(map[domain.Currency]decimal.Decimal)
	red := 0
	for _, d := range active {
		cur := d.Event.Currency
		pools[cur] = pools[cur].Add(d.Event.TotalPool)
		commission[cur] = commission[cur].Add(d.Event.CommissionAccrued)
		if assessEvent(d, now).RiskIndicator == "RED" {
			red++
		}
	}

	// ── Pending charges ──────────────────────────────────────────────────────
	pending, _ := h.bets.ListCharges(ctx, domain.ChargePending, 200, 0)
	pendingTotal := make(map[domain.Currency]decimal.Decimal)
	for _, p := range pending {
		pendingTotal[p.Currency] = pendingTotal[p.Currency].Add(p.Amount)
	}

	// ── WS connections ───────────────────────────────────────────────────────
	var wsConnections int
	if h.hub != nil {
		wsConnections = h.hub.ConnectedCount()
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"timestamp": now,
		"active_events": gin.H{
			"count":      len(active),
			"pool":       pools,
			"commission": commission,
			"red":        red,
		},
		"pending_charges": gin.H{
			"count": len(pending),
			"total": pendingTotal,
		},
		"ws_connections": wsConnections,
	})
}
