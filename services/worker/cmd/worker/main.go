package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/pancham-xcelerate/rapid-photo-upload/internal/util"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/notify"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/queue"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/store"
	"github.com/pancham-xcelerate/rapid-photo-upload/services/worker/internal/app"
	"github.com/pancham-xcelerate/rapid-photo-upload/services/worker/internal/config"
)

func main() {
	_ = godotenv.Load()

	path := config.ConfigPath
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	readInterval, err := config.ParseDuration("readInterval", cfg.ReadInterval)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	claimMinIdle, err := config.ParseDuration("claimMinIdle", cfg.ClaimMinIdle)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	claimInterval, err := config.ParseDuration("claimInterval", cfg.ClaimInterval)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// Every pool worker may hold a connection; leave headroom for the
	// read and claim loops.
	db, err := store.NewGormStore(cfg.DatabaseURL, store.WithPool(cfg.WorkerPool+10, cfg.DBMaxIdle))
	if err != nil {
		log.Fatalf("failed to init database: %v", err)
	}

	hub := notify.NewHub()

	proc, err := app.New(app.Config{
		Store:  db,
		Hub:    hub,
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("failed to init processor: %v", err)
	}

	consumer, err := queue.NewConsumer(queue.ConsumerConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		Stream:        cfg.QueueStream,
		Group:         cfg.QueueGroup,
		Consumer:      cfg.ConsumerName,
		ReadCount:     cfg.ReadCount,
		ReadInterval:  readInterval,
		ClaimCount:    cfg.ClaimCount,
		ClaimMinIdle:  claimMinIdle,
		ClaimInterval: claimInterval,
		Workers:       cfg.WorkerPool,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("failed to init queue consumer: %v", err)
	}
	defer consumer.Close()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	healthSrv := &http.Server{
		Addr:              ":" + cfg.HealthPort,
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("worker consuming",
			"stream", cfg.QueueStream,
			"group", cfg.QueueGroup,
			"consumer", cfg.ConsumerName,
			"workers", cfg.WorkerPool)
		consumer.Start(ctx, proc.Handler())
		return nil
	})
	g.Go(func() error {
		slog.Info("health server listening", "addr", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
