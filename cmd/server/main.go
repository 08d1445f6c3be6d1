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

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/auth"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/config"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/db"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/httpapi"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/keys"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/ratelimit"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/registry"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/relay"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/scheduler"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/storage"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/users"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/ws"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Error("startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	database, err := db.New(cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.RunMigrations("migrations"); err != nil {
		return err
	}

	blobStore, err := storage.NewService(cfg)
	if err != nil {
		log.Warn("blob store unavailable, file endpoints disabled", zap.Error(err))
		blobStore = nil
	}

	tokens := auth.NewTokenMinter(cfg.JWTSecret, cfg.JWTExpiresIn)
	authSvc := auth.NewService(database.Postgres, tokens, cfg.LowKeyThreshold, log)
	userSvc := users.NewService(database.Postgres)
	keySvc := keys.NewService(database.Postgres)

	reg := registry.New(log)
	relaySvc := relay.NewService(database.Postgres, reg, log)
	limiter := ratelimit.NewLimiter(database.Redis)
	socketHandler := ws.NewHandler(authSvc, reg, log)

	jobs := scheduler.New(database.Postgres, log)
	if err := jobs.Start(); err != nil {
		return err
	}
	defer jobs.Stop()

	var files storage.BlobStore
	if blobStore != nil {
		files = blobStore
	}

	server := httpapi.NewServer(
		authSvc, userSvc, keySvc, relaySvc, files, database, limiter, socketHandler, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	reg.CloseAll()
	log.Info("server exited gracefully")
	return nil
}
