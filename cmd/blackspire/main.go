package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blackspire-bot/internal/analytics"
	"blackspire-bot/internal/bot"
	"blackspire-bot/internal/config"
	"blackspire-bot/internal/counting"
	"blackspire-bot/internal/modules/audit"
	"blackspire-bot/internal/permissions"
	"blackspire-bot/internal/storage"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.yaml (defaults to CONFIG_PATH)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.Open(startCtx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
	cancelStart()
	if err != nil {
		logger.Fatal("storage init failed", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer store.Close()

	moderator := counting.New(counting.Config{
		Defaults: counting.Settings{
			Enabled:             cfg.Counting.Enabled,
			ResetOnWrong:        cfg.Counting.ResetOnWrong,
			AllowDoubleCounting: cfg.Counting.AllowDoubleCounting,
			Milestones:          cfg.Counting.Milestones,
		},
		Concurrency: cfg.HydrationConcurrency,
	}, store, store, logger.Named("counting"))

	auditLogger := audit.NewLogger(store, logger)
	analyticsEngine := analytics.New(store)
	checker := permissions.NewChecker(store, cfg.OwnerID, logger)

	botSvc, err := bot.New(cfg, logger, store, moderator, auditLogger, analyticsEngine, checker)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.String("driver", cfg.Database.Driver))

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if !moderator.IsReady() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("hydrating"))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
}
