package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/repository"
	"github.com/evetabi/betledger/internal/service"
)

// reportPageSize bounds each ListEvents call made by Report.
const reportPageSize = 200

// FinanceHandler serves /admin/finance endpoints: payment charges and the
// pool/commission report.
type FinanceHandler struct {
	bets      *service.BetService
	reader    repository.Reader
	chargeTTL time.Duration
	logger    *slog.Logger
}

// NewFinanceHandler creates a FinanceHandler. chargeTTL is the age after
// which a pending charge is listed as stale.
func NewFinanceHandler(bets *service.BetService, reader repository.Reader, chargeTTL time.Duration, logger *slog.Logger) *FinanceHandler {
	return &FinanceHandler{
		bets:      bets,
		reader:    reader,
		chargeTTL: chargeTTL,
		logger:    logger.With("component", "backoffice.finance"),
	}
}

// Charges godoc
// GET /admin/finance/charges?status=pending&page=1&limit=50
func (h *FinanceHandler) Charges(c *gin.Context) {
	status := domain.ChargeStatus(c.DefaultQuery("status", string(domain.ChargePending)))
	page, limit := adminPagination(c)

	charges, err := h.bets.ListCharges(c.Request.Context(), status, limit, (page-1)*limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondList(c, charges, len(charges), page, limit)
}

// StaleCharges godoc
// GET /admin/finance/charges/stale
// Pending charges older than the charge TTL, waiting for manual follow-up.
func (h *FinanceHandler) StaleCharges(c *gin.Context) {
	cutoff := time.Now().UTC().Add(-h.chargeTTL)
	charges, err := h.reader.ListPendingCharges(c.Request.Context(), cutoff)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"cutoff": cutoff, "charges": charges})
}

// RefundCharge godoc
// POST /admin/finance/charges/:reference/refund
func (h *FinanceHandler) RefundCharge(c *gin.Context) {
	ref := c.Param("reference")
	charge, err := h.bets.RefundCharge(c.Request.Context(), ref)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.logger.Info("charge refunded", "reference", ref, "user_id", charge.UserID, "actor", actor(c))
	respondSuccess(c, http.StatusOK, charge)
}

// currencyTotals is one row of the finance report.
type currencyTotals struct {
	Events     int             `json:"events"`
	Pool       decimal.Decimal `json:"pool"`
	Commission decimal.Decimal `json:"commission"`
}

// Report godoc
// GET /admin/finance/report?from=2024-01-01&to=2024-01-31
// Pool and commission per status and currency for events created in range.
func (h *FinanceHandler) Report(c *gin.Context) {
	from, to, ok := reportRange(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	report := make(map[domain.EventStatus]map[domain.Currency]*currencyTotals)
	for _, status := range []domain.EventStatus{
		domain.EventStatusActive, domain.EventStatusResolved, domain.EventStatusCancelled,
	} {
		rows := make(map[domain.Currency]*currencyTotals)
		for offset := 0; ; offset += reportPageSize {
			events, err := h.reader.ListEvents(ctx, repository.EventFilter{
				Status: status, Limit: reportPageSize, Offset: offset,
			})
			if err != nil {
				respondServiceError(c, err)
				return
			}
			for _, e := range events {
				if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
					continue
				}
				row := rows[e.Currency]
				if row == nil {
					row = &currencyTotals{Pool: decimal.Zero, Commission: decimal.Zero}
					rows[e.Currency] = row
				}
				row.Events++
				row.Pool = row.Pool.Add(e.TotalPool)
				row.Commission = row.Commission.Add(e.CommissionAccrued)
			}
			if len(events) < reportPageSize {
				break
			}
		}
		report[status] = rows
	}

	respondSuccess(c, http.StatusOK, gin.H{"from": from, "to": to, "totals": report})
}

func reportRange(c *gin.Context) (from, to time.Time, ok bool) {
	var err error
	if s := c.Query("from"); s != "" {
		if from, err = time.Parse("2006-01-02", s); err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_DATE", "from must be YYYY-MM-DD")
			return from, to, false
		}
	} else {
		from = time.Now().UTC().AddDate(0, -1, 0).Truncate(24 * time.Hour) // default: last 30 days
	}
	if s := c.Query("to"); s != "" {
		if to, err = time.Parse("2006-01-02", s); err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_DATE", "to must be YYYY-MM-DD")
			return from, to, false
		}
		to = to.Add(24 * time.Hour) // inclusive
	} else {
		to = time.Now().UTC()
	}
	return from, to, true
}
