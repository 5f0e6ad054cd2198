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

package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"escrow-sync-go/internal/models"

	"go.uber.org/zap"
)

// Reconcilable is the part of the agreement controller the reconciler drives.
type Reconcilable interface {
	LoadAll(ctx context.Context) ([]models.Agreement, error)
	Reconcile(ctx context.Context) (int, error)
}

type ReconcilerConfig struct {
	Controller Reconcilable
	Interval   time.Duration
}

// Reconciler is the server-owned listener: it restores the controller from
// the mirror at startup and then periodically applies approvals the ledger
// reports but the mirror missed.
type Reconciler struct {
	controller Reconcilable
	interval   time.Duration
	stopChan   chan struct{}
	doneChan   chan struct{}
	stopOnce   sync.Once
	started    bool
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		controller: cfg.Controller,
		interval:   interval,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start performs startup recovery and begins the polling loop.
func (r *Reconciler) Start(ctx context.Context) error {
	zap.L().Info("Starting approval reconciler")

	if err := r.performStartupRecovery(ctx); err != nil {
		zap.L().Error("Startup recovery failed", zap.Error(err))
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	r.started = true
	go r.pollLoop(ctx)

	fmt.Printf("%s[%s] Reconciling approvals every %s%s\n",
		colorCyan, time.Now().Format("15:04:05"), r.interval, colorReset)

	zap.L().Info("Approval reconciler started", zap.Duration("interval", r.interval))
	return nil
}

// Stop gracefully stops the reconciler. Safe to call more than once.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		zap.L().Info("Stopping approval reconciler")
		close(r.stopChan)
		if r.started {
			<-r.doneChan
		}
		zap.L().Info("Approval reconciler stopped")
	})
}

func (r *Reconciler) performStartupRecovery(ctx context.Context) error {
	agreements, err := r.controller.LoadAll(ctx)
	if err != nil {
		return err
	}

	pending := 0
	for _, a := range agreements {
		if !a.IsApproved {
			pending++
		}
	}
	zap.L().Info("Loaded agreements from mirror",
		zap.Int("total", len(agreements)),
		zap.Int("pending", pending))

	// Approvals that landed while nothing was listening.
	r.reconcile(ctx)
	return nil
}

func (r *Reconciler) pollLoop(ctx context.Context) {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reconcile(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ANSI color helpers for console output.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

func (r *Reconciler) reconcile(ctx context.Context) {
	approved, err := r.controller.Reconcile(ctx)
	if err != nil {
		fmt.Printf("%s[%s] ✗ reconcile: %s%s\n", colorRed, time.Now().Format("15:04:05"), err, colorReset)
		zap.L().Error("Reconcile failed", zap.Int("approved", approved), zap.Error(err))
		return
	}
	if approved > 0 {
		fmt.Printf("%s[%s] ✓ reconciled %d approval(s)%s\n", colorGreen, time.Now().Format("15:04:05"), approved, colorReset)
		return
	}
	zap.L().Debug("Reconcile found nothing to apply")
}
