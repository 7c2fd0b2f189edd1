package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/liveshoplabs/reserve/internal/broadcast"
	"github.com/liveshoplabs/reserve/internal/clock"
	"github.com/liveshoplabs/reserve/internal/config"
	"github.com/liveshoplabs/reserve/internal/engine"
	"github.com/liveshoplabs/reserve/internal/handler"
	"github.com/liveshoplabs/reserve/internal/metrics"
	"github.com/liveshoplabs/reserve/internal/service"
	"github.com/liveshoplabs/reserve/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Open storage.
	db, err := store.OpenDB(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	stockStore := store.NewStockStore(db)
	reservationStore := store.NewReservationStore(db)
	holdStore := store.NewHoldStore(db)

	// Metrics.
	registry := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(registry)

	// Broadcast fan-out.
	hub := broadcast.NewHub()
	broadcaster := broadcast.NewBroadcaster(hub, logger)

	// Engine.
	clk := clock.NewSystem()

	// Notification sink (no-op delivery when NOTIFY_URL is unset).
	notifier := service.NewNotifierService(cfg.NotifyURL, cfg.NotifyTimeout, clk, logger)

	ledger := engine.NewStockLedger(stockStore, clk, broadcaster, logger)
	scheduler := engine.NewCartHoldScheduler(
		holdStore,
		reservationStore,
		ledger,
		clk,
		cfg.PromotionWindow,
		cfg.CartTimeout,
		cfg.ScanInterval,
		notifier,
		broadcaster,
		logger,
	)
	coordinator := engine.NewWaitlistCoordinator(
		ledger,
		reservationStore,
		holdStore,
		scheduler,
		clk,
		notifier,
		broadcaster,
		logger,
	)
	scheduler.SetPromoter(coordinator)

	// Services.
	reservationSvc := service.NewReservationService(coordinator)
	cartSvc := service.NewCartService(ledger, scheduler, holdStore, clk, logger)

	// Handlers that bypass the service layer.
	productH := handler.NewProductHandler(stockStore, broadcaster, coordinator, clk, logger)
	streamH := handler.NewStreamHandler(hub, stockStore, logger)

	// Router.
	router := handler.NewRouter(reservationSvc, cartSvc, productH, streamH, registry, logger)

	// Reconcile persisted holds before the scan loop starts, so holds
	// that expired while the process was down are settled immediately.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scheduler.Reconcile(ctx); err != nil {
		logger.Error("startup reconcile failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	scheduler.Start(ctx)

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, cancel context (stops scan loop).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
}
