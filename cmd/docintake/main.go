package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jo-hoe/docintake/internal/common"
	appcfg "github.com/jo-hoe/docintake/internal/config"
	"github.com/jo-hoe/docintake/internal/intake"
	"github.com/jo-hoe/docintake/internal/jobs"
	"github.com/jo-hoe/docintake/internal/notify"
	"github.com/jo-hoe/docintake/internal/server"
	"github.com/jo-hoe/docintake/internal/status"
	"github.com/jo-hoe/docintake/internal/storage"
)

func main() {
	// Logger
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load config
	cfg, err := appcfg.Load("")
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.Server.LogLevel))

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Stores
	startCtx, cancelStart := context.WithTimeout(rootCtx, cfg.Server.StartupTimeout)
	jobStore, err := openJobStore(startCtx, cfg.JobStore)
	if err != nil {
		cancelStart()
		logger.Error("open job store", "type", cfg.JobStore.Type, "err", err)
		os.Exit(1)
	}
	objects, err := openObjectStore(cfg.ObjectStore)
	if err == nil {
		err = objects.EnsureReady(startCtx)
	}
	cancelStart()
	if err != nil {
		_ = jobStore.Close()
		logger.Error("prepare object store", "provider", cfg.ObjectStore.Provider, "err", err)
		os.Exit(1)
	}
	logger.Info("stores ready", "job_store", cfg.JobStore.Type, "object_store", cfg.ObjectStore.Provider)

	// Optional upload events
	var notifier notify.Notifier
	if cfg.Notify.Enabled {
		n, err := notify.NewAMQPNotifier(cfg.Notify.RabbitMQ.URL, cfg.Notify.RabbitMQ.Queue)
		if err != nil {
			_ = objects.Close()
			_ = jobStore.Close()
			logger.Error("connect notifier", "err", err)
			os.Exit(1)
		}
		notifier = n
		logger.Info("upload events enabled", "queue", cfg.Notify.RabbitMQ.Queue)
	}

	// HTTP server
	svc := &server.Service{
		Log:    logger,
		Cfg:    cfg,
		Intake: intake.New(logger, jobStore, objects, notifier),
		Status: status.New(jobStore),
	}
	httpSrv := server.NewHTTPServer(svc)

	// Run server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.Warn("close notifier", "err", err)
		}
	}
	if err := objects.Close(); err != nil {
		logger.Warn("close object store", "err", err)
	}
	if err := jobStore.Close(); err != nil {
		logger.Warn("close job store", "err", err)
	}
	logger.Info("server stopped")
}

func openJobStore(ctx context.Context, cfg appcfg.JobStoreConfig) (jobs.Store, error) {
	switch cfg.Type {
	case common.JobStoreMongoDB:
		return jobs.NewMongoStore(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.Collection)
	case common.JobStoreSQLite:
		return jobs.NewSQLiteStore(ctx, cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported job store %q", cfg.Type)
	}
}

func openObjectStore(cfg appcfg.ObjectStoreConfig) (storage.ObjectStore, error) {
	switch cfg.Provider {
	case common.ObjectStoreAzure:
		return storage.NewAzureStore(cfg.Azure.ConnectionString, cfg.Azure.Container)
	case common.ObjectStoreMinio:
		return storage.NewMinioStore(storage.MinioOptions{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Region:    cfg.Minio.Region,
			UseSSL:    cfg.Minio.UseSSL,
		})
	case common.ObjectStoreFileSystem:
		return storage.NewFileSystemStore(cfg.FileSystem.Dir), nil
	default:
		return nil, fmt.Errorf("unsupported object store %q", cfg.Provider)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
