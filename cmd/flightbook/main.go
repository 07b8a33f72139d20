// Package main запускает веб-клиент бронирования авиабилетов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/flightbook-web/internal/cache"
	"github.com/mmeshcher/flightbook-web/internal/checkout"
	"github.com/mmeshcher/flightbook-web/internal/config"
	"github.com/mmeshcher/flightbook-web/internal/flights"
	"github.com/mmeshcher/flightbook-web/internal/gateway"
	"github.com/mmeshcher/flightbook-web/internal/handler"
	"github.com/mmeshcher/flightbook-web/internal/history"
	"github.com/mmeshcher/flightbook-web/internal/metrics"
	"github.com/mmeshcher/flightbook-web/internal/middleware"
	"github.com/mmeshcher/flightbook-web/internal/repository"
	"github.com/mmeshcher/flightbook-web/internal/session"
	"github.com/mmeshcher/flightbook-web/internal/view"
)

// store хранит сессии и попытки оформления.
type store interface {
	session.Store
	checkout.Store
	Close() error
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo store
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is not set, sessions are kept in memory")
		repo = repository.NewMemoryRepository()
	}
	defer repo.Close()

	var optionsCache flights.OptionsCache
	if cfg.RedisAddress != "" {
		rc := cache.NewRedisCache(cfg.RedisAddress, cfg.OptionsCacheTTL)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			sugar.Warnw("redis is unavailable, option cache disabled", "addr", cfg.RedisAddress, "error", err.Error())
			_ = rc.Close()
		} else {
			optionsCache = rc
			defer rc.Close()
		}
	}

	m := metrics.New()

	manager := session.NewManager(repo, logger)
	manager.Subscribe(m.SessionListener)

	client := gateway.NewClient(cfg.APIBaseURL,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
		gateway.WithLogger(logger),
		gateway.WithObserver(m),
	)

	renderer, err := view.New()
	if err != nil {
		sugar.Fatalw("template initialization error", "error", err.Error())
	}

	h := handler.NewHandler(handler.Dependencies{
		Client:         client,
		Lookup:         flights.NewLookup(optionsCache, logger),
		Orchestrator:   checkout.NewOrchestrator(repo, logger, m),
		Viewer:         history.NewViewer(logger),
		View:           renderer,
		Sessions:       middleware.NewSessionMiddleware(cfg.SessionSecret, manager, logger),
		Metrics:        m.Handler(),
		PublishableKey: cfg.PaymentPublishableKey,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting flightbook web client", "addr", cfg.RunAddress, "api", cfg.APIBaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
