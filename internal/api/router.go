package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/evetabi/betledger/internal/api/handler"
	"github.com/evetabi/betledger/internal/api/middleware"
	"github.com/evetabi/betledger/internal/config"
	"github.com/evetabi/betledger/internal/repository"
	"github.com/evetabi/betledger/internal/service"
	"github.com/evetabi/betledger/internal/ws"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in app.New and passed to SetupRouter.
type RouterDeps struct {
	Ctx      context.Context
	Auth     *service.AuthService
	Events   *service.EventService
	Bets     *service.BetService
	Ledger   *service.LedgerService
	Dialogue *service.DialogueService
	Reader   repository.Reader
	Hub      *ws.Hub
	Cfg      *config.Config
	Logger   *slog.Logger
}

// SetupRouter creates the public Gin engine: Mini App REST routes, the
// payment webhook and the pool-update WebSocket.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx := deps.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	r := gin.New()
	r.Use(middleware.RequestLogger("api", deps.Logger))
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	authH := handler.NewAuthHandler(deps.Auth, deps.Reader)
	eventH := handler.NewEventHandler(deps.Events)
	betH := handler.NewBetHandler(deps.Bets)
	walletH := handler.NewWalletHandler(deps.Ledger, deps.Bets)
	dialogueH := handler.NewDialogueHandler(deps.Dialogue)
	paymentH := handler.NewPaymentHandler(deps.Dialogue, deps.Cfg.Payment.WebhookSecret)

	jwtMW := middleware.JWTMiddleware(deps.Auth)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	authRL := middleware.RateLimitMiddleware(ctx, 10)
	betRL := middleware.RateLimitMiddleware(ctx, 30)

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		auth.Use(authRL)
		{
			auth.POST("/telegram", authH.LoginTelegram)
			auth.POST("/refresh", authH.Refresh)
		}

		events := api.Group("/events")
		{
			events.GET("", eventH.ListEvents)
			events.GET("/active", eventH.GetActive)
			events.GET("/:id", eventH.GetByID)
			events.GET("/:id/resolution", eventH.GetResolution)
		}

		// Signed by the bot relay, no JWT.
		api.POST("/payments/confirm", paymentH.Confirm)

		authed := api.Group("")
		authed.Use(jwtMW, middleware.UserOnly())
		{
			authed.GET("/me", authH.Me)

			bets := authed.Group("/bets")
			bets.Use(betRL)
			{
				bets.POST("", betH.PlaceBet)
				bets.GET("/my", betH.GetMyBets)
			}

			wallet := authed.Group("/wallet")
			{
				wallet.GET("/balance", walletH.GetBalance)
				wallet.GET("/transactions", walletH.GetTransactions)
				wallet.POST("/topup", betRL, walletH.TopUp)
			}

			dialogue := authed.Group("/dialogue")
			dialogue.Use(betRL)
			{
				dialogue.GET("", dialogueH.Current)
				dialogue.POST("/start", dialogueH.Start)
				dialogue.POST("/option", dialogueH.SelectOption)
				dialogue.POST("/amount", dialogueH.SubmitAmount)
				dialogue.POST("/cancel", dialogueH.Cancel)
			}
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// HubAuthenticator adapts the auth service to the hub's token check.
// Invalid or operator tokens resolve to 0 (anonymous viewer).
func HubAuthenticator(auth middleware.TokenParser) ws.Authenticator {
	return func(token string) int64 {
		claims, err := auth.ParseAccessToken(token)
		if err != nil {
			return 0
		}
		return claims.UserID()
	}
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware allows any origin outside production; in production only
// Server.WSAllowedOrigins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	origins := config.SplitList(cfg.Server.WSAllowedOrigins)
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, X-Signature")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
