package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/web3-frozen/overlay-monitor/internal/aggregate"
	"github.com/web3-frozen/overlay-monitor/internal/alert"
	"github.com/web3-frozen/overlay-monitor/internal/config"
	"github.com/web3-frozen/overlay-monitor/internal/dedup"
	"github.com/web3-frozen/overlay-monitor/internal/handler"
	"github.com/web3-frozen/overlay-monitor/internal/indexer"
	"github.com/web3-frozen/overlay-monitor/internal/ledger"
	"github.com/web3-frozen/overlay-monitor/internal/metricstore"
	"github.com/web3-frozen/overlay-monitor/internal/middleware"
	"github.com/web3-frozen/overlay-monitor/internal/monitor"
	"github.com/web3-frozen/overlay-monitor/internal/resolve"
	"github.com/web3-frozen/overlay-monitor/internal/store"
	"github.com/web3-frozen/overlay-monitor/internal/telegram"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metric store, exposed on /metrics next to the process metrics
	metricStore := metricstore.New()
	prometheus.MustRegister(metricStore)

	catalog := aggregate.NewCatalog(cfg.Markets)
	agg := aggregate.New(catalog, cfg.AmountDecimals)
	logger.Info("markets loaded", "count", catalog.Len(), "labels", catalog.Labels())

	// Database (optional): notification log and poller failures
	var db *store.Store
	if cfg.DatabaseURL != "" {
		var err error
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected and migrated")
	} else {
		logger.Warn("DATABASE_URL not set, notification log disabled")
	}

	// Redis cooldown (optional; retry up to 30s for ExternalSecret to sync)
	var dd *dedup.Deduplicator
	if cfg.RedisURL != "" {
		var err error
		for i := 0; i < 6; i++ {
			dd, err = dedup.New(cfg.RedisURL, cfg.RedisPassword)
			if err == nil {
				break
			}
			logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
			time.Sleep(5 * time.Second)
		}
		if err != nil {
			logger.Error("failed to connect to redis after retries", "error", err)
			os.Exit(1)
		}
		defer dd.Close()
		logger.Info("redis connected for alert cooldown", "cooldown", cfg.AlertCooldown)
	} else {
		logger.Warn("REDIS_URL not set, every tripped rule is sent")
	}

	// Notifier
	var notifier alert.Notifier = alert.LogNotifier{Logger: logger}
	var bot *telegram.Bot
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		bot = telegram.NewBot(cfg.TelegramToken, cfg.TelegramChatID, logger)
		notifier = bot
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set, alerts are logged only")
	}

	// Alert engine
	rules, err := loadRules(cfg.AlertRulesFile)
	if err != nil {
		logger.Error("failed to load alert rules", "path", cfg.AlertRulesFile, "error", err)
		os.Exit(1)
	}
	alerts := alert.NewEngine(metricStore, notifier, rules, logger)
	if dd != nil {
		alerts.WithCooldown(dd, cfg.AlertCooldown)
	}
	if db != nil {
		alerts.WithLog(db)
	}
	logger.Info("alert rules loaded", "count", len(rules))

	// Sources
	idx := indexer.NewClient(cfg.IndexerURL, 30*time.Second, logger)

	// Monitoring engine
	engine := monitor.NewEngine(metricStore, alerts, alerts, logger, monitor.Options{
		PollInterval:  cfg.PollInterval,
		RecoveryDelay: cfg.RecoveryDelay,
	})
	if db != nil {
		engine.WithFailureLog(db)
	}
	engine.Register(monitor.NewMintJob(idx.Positions(), agg, metricStore, cfg.PageSize, logger))

	var chain *ledger.Resolver
	if cfg.RPCURL != "" {
		chain = ledger.NewResolver(cfg.RPCURL, cfg.StateContract, logger)
		defer chain.Close()
		pipeline := resolve.New(chain, agg, resolve.Options{
			BatchSize:      cfg.BatchSize,
			MaxAttempts:    cfg.RetryAttempts,
			RetryDelay:     cfg.RetryDelay,
			BatchPause:     cfg.BatchPause,
			AttemptTimeout: cfg.ResolveTimeout,
		}, logger)
		engine.Register(monitor.NewUPnLJob(idx.Builds(), agg, pipeline, metricStore, cfg.PageSize, logger))
	} else {
		logger.Warn("RPC_URL not set, upnl poller disabled")
	}

	// Start background goroutines
	if bot != nil {
		bot.WithStatus(metricStore, engine)
		go bot.Run(ctx)
	}
	go engine.Run(ctx)
	if db != nil {
		go pruneNotifications(ctx, db, cfg.NotificationRetention, logger)
	}

	// HTTP routes
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	deps := map[string]handler.Pinger{}
	if db != nil {
		deps["database"] = db
	}
	if dd != nil {
		deps["redis"] = dd
	}
	if chain != nil {
		deps["rpc"] = chain
	}
	var failures handler.FailureLister
	var notifications handler.NotificationLister
	if db != nil {
		failures = db
		notifications = db
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(engine, deps))

	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics", handler.MetricsSnapshot(metricStore))
		r.Get("/markets", handler.ListMarkets(catalog))
		r.Get("/pollers", handler.ListPollers(engine))
		r.Get("/pollers/{name}/failures", handler.ListPollerFailures(engine, failures))
		r.Get("/notifications", handler.ListNotifications(notifications))
		r.Get("/rules", handler.ListRules(alerts))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for running := true; running; {
		select {
		case <-reload:
			reloadRules(ctx, cfg.AlertRulesFile, alerts, dd, logger)
		case <-quit:
			running = false
		}
	}

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func loadRules(path string) ([]alert.Rule, error) {
	if path == "" {
		return alert.DefaultRules(), nil
	}
	return alert.LoadRules(path)
}

// reloadRules swaps in the rules file and forgets every cooldown, so the
// new rules start from a clean slate.
func reloadRules(ctx context.Context, path string, alerts *alert.Engine, dd *dedup.Deduplicator, logger *slog.Logger) {
	rules, err := loadRules(path)
	if err != nil {
		logger.Error("rules reload failed, keeping current rules", "path", path, "error", err)
		return
	}
	alerts.SetRules(rules)
	if dd != nil {
		dd.ClearByPattern(ctx, "alert:*")
	}
	logger.Info("alert rules reloaded", "count", len(rules))
}

func pruneNotifications(ctx context.Context, db *store.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		n, err := db.PruneNotifications(ctx, retention)
		if err != nil {
			logger.Error("prune notifications failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned notifications", "deleted", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
