package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/cheese-arena/internal/app"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(cfg.Log); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("arena_init_failed", zap.Error(err))
	}
	defer deps.Close()

	if n, err := deps.Recover(ctx); err != nil {
		logger.Warn("session_recovery_failed", zap.Error(err))
	} else {
		logger.Info("sessions_recovered", zap.Int("count", n))
	}

	go deps.Registry.Run(ctx)

	wsSrv := &http.Server{
		Addr:              cfg.WSAddr,
		Handler:           deps.Gateway.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("ws_listening", zap.String("addr", cfg.WSAddr))
		if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := deps.API.ListenAndServe(cfg.HTTPAddr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_requested")
	case err := <-errCh:
		logger.Error("listener_failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ws_shutdown_failed", zap.Error(err))
	}
	if err := deps.API.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
}
