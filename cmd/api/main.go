package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telehealth-platform/internal/audit"
	"telehealth-platform/internal/auth"
	"telehealth-platform/internal/billing"
	"telehealth-platform/internal/config"
	"telehealth-platform/internal/consult"
	"telehealth-platform/internal/events"
	"telehealth-platform/internal/monitor"
	"telehealth-platform/internal/presence"
	"telehealth-platform/internal/readiness"
	"telehealth-platform/internal/reporting"
	"telehealth-platform/internal/wallet"
	"telehealth-platform/pkg/logger"
	"telehealth-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Core engine wiring: store -> bus -> settlement -> state machine.
	bus := events.NewBus()
	store := consult.NewPostgresStore(db)

	walletSvc := wallet.NewService(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	settlement := billing.NewSettlement(store, walletSvc, bus, auditSvc)

	windows := readiness.Windows{Pre: cfg.Engine.PreWindow(), Post: cfg.Engine.PostWindow()}
	sessions := consult.NewService(store, bus, settlement, auditSvc, windows)

	tracker := presence.NewTracker(presence.NewRedisLiveness(rdb), bus, cfg.Engine.PresenceGrace())
	sessionMonitor := monitor.NewManager(store, bus, cfg.Engine.MonitorInterval())
	reports := reporting.NewService(reportingRepo{sessions: store, wallets: walletSvc})

	// Background loops: presence sweep, expiry sweep, global monitor.
	bgCtx := logger.With(rootCtx, log)
	go tracker.Run(bgCtx, cfg.Engine.PresenceGrace()/2)
	go sessionMonitor.Run(bgCtx)
	go runExpirySweep(bgCtx, sessions, cfg.Engine.ExpireSweep())

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:      cfg,
		auth:     authManager,
		sessions: sessions,
		tracker:  tracker,
		bus:      bus,
		wallet:   walletSvc,
		reports:  reports,
		monitor:  sessionMonitor,
		audit:    auditSvc,
		db:       db,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// runExpirySweep expires overdue scheduled sessions on a fixed cadence.
func runExpirySweep(ctx context.Context, sessions *consult.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.SweepExpired(ctx)
			if err != nil {
				logger.From(ctx).Error("expiry sweep failed", "err", err)
				continue
			}
			if n > 0 {
				logger.From(ctx).Info("expiry sweep", "expired", n)
			}
		}
	}
}

// reportingRepo adapts the session store and wallet service to the reporting
// read contract.
type reportingRepo struct {
	sessions consult.Store
	wallets  *wallet.Service
}

func (r reportingRepo) ListSessions(ctx context.Context, userID string, from, to time.Time) ([]consult.Session, error) {
	rows, err := r.sessions.ListFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, s := range rows {
		if s.ScheduledFor.Before(from) || !s.ScheduledFor.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (r reportingRepo) ListWalletLedger(ctx context.Context, ownerID string, from, to time.Time, walletID string) ([]wallet.WalletLedger, error) {
	if walletID == "" {
		w, err := r.wallets.WalletFor(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		walletID = w.ID
	}
	rows, err := r.wallets.Ledger(ctx, ownerID, walletID, from)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, l := range rows {
		if !l.CreatedAt.Before(to) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}
