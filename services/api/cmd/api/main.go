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

	"github.com/pancham-xcelerate/rapid-photo-upload/internal/util"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/notify"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/queue"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/storage"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/store"
	"github.com/pancham-xcelerate/rapid-photo-upload/services/api/internal/app"
	"github.com/pancham-xcelerate/rapid-photo-upload/services/api/internal/config"
	"github.com/pancham-xcelerate/rapid-photo-upload/services/api/internal/server"
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

	db, err := store.NewGormStore(cfg.DatabaseURL, store.WithPool(cfg.DBMaxOpenConns, cfg.DBMaxIdleConns))
	if err != nil {
		log.Fatalf("failed to init database: %v", err)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	for _, bucket := range []string{cfg.PhotoBucket, cfg.ThumbnailBucket} {
		if err := objects.EnsureBucket(bootCtx, bucket); err != nil {
			log.Fatalf("failed to ensure bucket %s: %v", bucket, err)
		}
	}
	cancelBoot()

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueStream,
		Group:    cfg.QueueGroup,
	})
	if err != nil {
		log.Fatalf("failed to init queue producer: %v", err)
	}
	defer producer.Close()

	hub := notify.NewHub()

	appCore, err := app.New(app.Config{
		Store:             db,
		Objects:           objects,
		Producer:          producer,
		Hub:               hub,
		Logger:            logger,
		PhotoBucket:       cfg.PhotoBucket,
		ThumbnailBucket:   cfg.ThumbnailBucket,
		MaxFileBytes:      cfg.MaxFileBytes,
		MaxBatchFiles:     cfg.MaxBatchFiles,
		UploadConcurrency: cfg.UploadConcurrency,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Hub:            hub,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		MaxBatchFiles:  cfg.MaxBatchFiles,
		TrustedProxies: trusted,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: httpServer.Router(),
		// No ReadTimeout: multi-gigabyte batch uploads stream at client
		// pace under the body byte cap instead of a wall clock.
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}
}
