package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrow-sync-go/internal/common"
	"escrow-sync-go/internal/config"
	"escrow-sync-go/internal/mirror"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Controller.LogDevelopment)
	defer loggerCleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Mirror.Backend == "http" {
		zap.L().Fatal("The mirror server needs a local backend (sqlite, file or postgres)")
	}

	mirrorStore, err := common.InitializeMirror(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to open mirror store", zap.Error(err))
	}
	defer mirrorStore.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MirrorPort),
		Handler:           mirror.NewServer(mirrorStore).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("Mirror server shutdown failed", zap.Error(err))
		}
	}()

	zap.L().Info("Mirror server listening",
		zap.String("addr", server.Addr),
		zap.String("backend", cfg.Mirror.Backend))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.L().Fatal("Mirror server failed", zap.Error(err))
	}
	zap.L().Info("Mirror server stopped")
}
