package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"mlsrelay/internal/config"
	"mlsrelay/internal/domain"
	"mlsrelay/internal/observability/logging"
	"mlsrelay/internal/observability/metrics"
	"mlsrelay/internal/service"
	"mlsrelay/internal/store"
	transport "mlsrelay/internal/transport/http"
	"mlsrelay/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "relay",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("relay")

	logger.Info("starting service")

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	st := store.New(db)
	if err := st.AutoMigrate(context.Background(), domain.Models()...); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	svc := service.New(st,
		service.WithKeyPackageBatchCap(cfg.KeyPackageBatchCap),
		service.WithFederation(cfg.FederationEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.FederationEnabled {
		pub := worker.NewHTTPPublisher(cfg.FederationBaseURL, &http.Client{Timeout: cfg.PublishTimeout})
		wrk := worker.New(st, pub, worker.Config{
			Interval:       cfg.WorkerInterval,
			BatchSize:      cfg.WorkerBatchSize,
			MaxAttempts:    cfg.WorkerMaxAttempts,
			BaseDelay:      cfg.WorkerBaseDelay,
			MaxDelay:       cfg.WorkerMaxDelay,
			Lease:          cfg.WorkerLease,
			PublishTimeout: cfg.PublishTimeout,
		})
		go wrk.Run(ctx)
		logger.Info("delivery worker started", "interval", cfg.WorkerInterval)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           transport.NewRouter(svc, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("relay listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
