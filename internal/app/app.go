package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/api"
	"github.com/paymentvault/wallet-service/internal/api/middleware"
	"github.com/paymentvault/wallet-service/internal/config"
	"github.com/paymentvault/wallet-service/internal/db"
	"github.com/paymentvault/wallet-service/internal/idempotency"
	"github.com/paymentvault/wallet-service/internal/ingest"
	"github.com/paymentvault/wallet-service/internal/notifier"
	"github.com/paymentvault/wallet-service/internal/observability"
	"github.com/paymentvault/wallet-service/internal/otp"
	"github.com/paymentvault/wallet-service/internal/provider"
	"github.com/paymentvault/wallet-service/internal/reconcile"
	"github.com/paymentvault/wallet-service/internal/settlement"
	"github.com/paymentvault/wallet-service/internal/snapshot"
	"github.com/paymentvault/wallet-service/internal/wallet"
	"github.com/paymentvault/wallet-service/internal/worker"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := db.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	notify := notifier.NewLoggerNotifier(logger)

	ledger := wallet.NewLedger(wallet.NewPostgresStore(pool), notify)
	snapshots := snapshot.NewPostgresStore(pool)
	reconciler := reconcile.New(snapshots)
	otpSvc := otp.NewService(redisClient, notify)
	settlementProvider := provider.NewMockProvider()
	tracker := settlement.NewTracker(settlement.NewPostgresStore(pool), ledger, otpSvc, settlementProvider)
	ingestor := ingest.NewIngestor(tracker, snapshots)
	idemStore := idempotency.NewStore(redisClient, cfg.IdempotencyTTL)

	dispatchWorker := worker.NewDispatchWorker(tracker).
		WithPollInterval(cfg.DispatchPollInterval).
		WithBatchSize(cfg.DispatchBatchSize)
	sweepWorker := worker.NewSweepWorker(tracker).
		WithInterval(cfg.SweepInterval).
		WithBatchSize(cfg.SweepBatchSize)

	stopDispatch := dispatchWorker.Run(ctx)
	stopSweep := sweepWorker.Run(ctx)
	logger.Info("workers started",
		zap.Duration("dispatch_interval", cfg.DispatchPollInterval),
		zap.Int32("dispatch_batch", cfg.DispatchBatchSize),
		zap.Duration("sweep_interval", cfg.SweepInterval),
	)

	router := api.NewRouter(cfg, logger, pool, redisClient, ledger, reconciler, tracker, otpSvc, ingestor, idemStore)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopDispatch()
	stopSweep()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
