/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

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

	"escrow-sync-go/internal/api"
	"escrow-sync-go/internal/common"
	"escrow-sync-go/internal/config"
	"escrow-sync-go/internal/listener"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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

	zap.L().Info("Starting escrow agreement service",
		zap.String("ledger", cfg.Ledger.Backend),
		zap.String("mirror", cfg.Mirror.Backend))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	reconciler := listener.NewReconciler(listener.ReconcilerConfig{
		Controller: services.Controller,
		Interval:   cfg.Controller.ReconcileInterval,
	})
	if err := reconciler.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start reconciler", zap.Error(err))
	}
	defer reconciler.Stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.ApiPort),
		Handler:           api.NewServer(services.Controller, services.Accounts, services.Broadcaster).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("Escrow API listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("Shutdown signal received, stopping API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// Event streams stay open until their listeners are released.
		services.Broadcaster.Close()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("Escrow service stopped with error", zap.Error(err))
		return
	}
	zap.L().Info("Escrow service stopped gracefully")
}
