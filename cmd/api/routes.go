package main

import (
	"database/sql"
	"net/http"
	"time"

	"telehealth-platform/internal/audit"
	"telehealth-platform/internal/auth"
	"telehealth-platform/internal/config"
	"telehealth-platform/internal/consult"
	"telehealth-platform/internal/events"
	"telehealth-platform/internal/httpapi"
	"telehealth-platform/internal/monitor"
	"telehealth-platform/internal/mw"
	"telehealth-platform/internal/presence"
	"telehealth-platform/internal/rbac"
	"telehealth-platform/internal/reporting"
	"telehealth-platform/internal/wallet"
	"telehealth-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	cache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type routeDeps struct {
	cfg      config.Config
	auth     *auth.Manager
	sessions *consult.Service
	tracker  *presence.Tracker
	bus      *events.Bus
	wallet   *wallet.Service
	reports  *reporting.Service
	monitor  *monitor.Manager
	audit    *audit.Service
	db       *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := httpapi.Handlers{
		Auth:     d.auth,
		Sessions: d.sessions,
		Tracker:  d.tracker,
		Wallet:   d.wallet,
		Reports:  d.reports,
		Monitor:  d.monitor,
		Audit:    d.audit,
	}
	stream := httpapi.NewStream(d.sessions, d.tracker, d.bus)
	reportCache := cache.New(d.cfg.Engine.CacheTTL(), 2*d.cfg.Engine.CacheTTL())

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	// AUTH routes (token issuance).
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
	}

	// protected API group
	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(d.auth), rbac.RequireUser())
	{
		protected.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})

		// SESSION lifecycle routes
		sessions := protected.Group("/sessions")
		{
			sessions.POST("", rbac.RequireAnyRole(rbac.RoleStaff, rbac.RoleAgent), h.Schedule)
			sessions.GET("", h.ListMySessions)
			sessions.GET("/:id", h.GetSession)
			sessions.GET("/:id/readiness", h.Readiness)

			sessions.POST("/:id/start", rbac.RequireAnyRole(rbac.RolePatient, rbac.RolePhysician), h.StartSession)
			sessions.POST("/:id/end", rbac.RequireAnyRole(rbac.RolePatient, rbac.RolePhysician), h.EndSession)
			sessions.POST("/:id/cancel", rbac.RequireAnyRole(rbac.RolePatient, rbac.RolePhysician, rbac.RoleStaff), h.CancelSession)

			heartbeatLimit := mw.RateLimit(rate.Limit(d.cfg.Engine.HeartbeatRatePerSec), 3)
			sessions.POST("/:id/heartbeat", heartbeatLimit, h.Heartbeat)
			sessions.POST("/:id/leave", h.Leave)
			sessions.GET("/:id/presence", h.Presence)

			sessions.GET("/:id/stream", stream.Subscribe)
		}

		// PRESENCE directory (cross-session view for back-office)
		presenceGroup := protected.Group("/presence")
		presenceGroup.Use(rbac.RequireAnyRole(rbac.RoleStaff, rbac.RoleAgent))
		{
			presenceGroup.GET("/online", h.OnlineUsers)
			presenceGroup.GET("/users/:user_id", h.UserPresence)
		}

		// Global monitor long-poll: next session of mine to go live.
		protected.GET("/monitor/next", rbac.RequireAnyRole(rbac.RolePatient, rbac.RolePhysician), h.MonitorNext)

		// WALLET routes
		wallets := protected.Group("/wallet")
		{
			wallets.GET("/balance", h.GetMyWalletBalance)
		}

		// REPORT routes (short-TTL cached read models)
		reports := protected.Group("/reports")
		reports.Use(mw.Cache(reportCache, d.cfg.Engine.CacheTTL()))
		{
			reports.GET("/consultations", h.ConsultationSummary)
			reports.GET("/spend", h.SpendSummary)
		}

		// ADMIN routes
		admin := protected.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.POST("/wallets/manual-credit", h.AdminManualCredit)
		}
	}
}
