package backoffice

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evetabi/betledger/internal/api/middleware"
	"github.com/evetabi/betledger/internal/backoffice/handler"
	"github.com/evetabi/betledger/internal/config"
	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/repository"
	"github.com/evetabi/betledger/internal/service"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	Auth       *service.AuthService
	Events     *service.EventService
	Bets       *service.BetService
	Ledger     *service.LedgerService
	Settlement *service.SettlementService
	Oracle     *service.OracleService
	Store      repository.Store
	// Hub is optional; the dashboard reports zero viewers without it.
	Hub    handler.ConnectionCounter
	Cfg    *config.Config
	Logger *slog.Logger
}

// SetupBackofficeRouter creates the admin Gin engine.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestLogger("backoffice", deps.Logger))
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	chargeTTL := deps.Cfg.Payment.ChargeTTL
	if chargeTTL <= 0 {
		chargeTTL = 30 * time.Minute
	}

	authH := handler.NewAuthHandler(deps.Auth)
	dashH := handler.NewDashboardHandler(deps.Events, deps.Bets, deps.Hub)
	eventH := handler.NewEventAdminHandler(deps.Events, deps.Settlement, deps.Oracle, deps.Store, deps.Logger)
	userH := handler.NewUserAdminHandler(deps.Store, deps.Ledger, deps.Logger)
	riskH := handler.NewRiskHandler(deps.Events, deps.Store, chargeTTL)
	financeH := handler.NewFinanceHandler(deps.Bets, deps.Store, chargeTTL, deps.Logger)

	r.POST("/admin/auth/token", authH.Token)

	admin := r.Group("/admin")
	admin.Use(middleware.JWTMiddleware(deps.Auth), middleware.AdminMiddleware())
	// Read-only operators may look but not touch.
	write := middleware.RoleMiddleware(domain.RoleAdmin, domain.RoleOps)
	{
		admin.GET("/dashboard", dashH.Dashboard)

		ev := admin.Group("/events")
		{
			ev.GET("", eventH.List)
			ev.POST("", write, eventH.Create)
			ev.GET("/:id", eventH.Detail)
			ev.POST("/:id/resolve", write, eventH.Resolve)
			ev.POST("/:id/auto-resolve", write, eventH.AutoResolve)
			ev.POST("/:id/cancel", write, eventH.Cancel)
		}

		u := admin.Group("/users")
		{
			u.GET("", userH.List)
			u.GET("/:id", userH.Detail)
			u.GET("/:id/balance", userH.Balance)
			u.GET("/:id/transactions", userH.Transactions)
			u.POST("/:id/balance", write, userH.AdjustBalance)
			u.POST("/:id/suspend", write, userH.Suspend)
			u.POST("/:id/activate", write, userH.Activate)
		}

		risk := admin.Group("/risk")
		{
			risk.GET("/live", riskH.Live)
			risk.GET("/alerts", riskH.Alerts)
		}

		fin := admin.Group("/finance")
		{
			fin.GET("/charges", financeH.Charges)
			fin.GET("/charges/stale", financeH.StaleCharges)
			fin.POST("/charges/:reference/refund", write, financeH.RefundCharge)
			fin.GET("/report", financeH.Report)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_DENIED",
			})
			return
		}
		c.Next()
	}
}
