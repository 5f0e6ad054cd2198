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

package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventSource is the backend-specific feed a Watcher polls. Poll returns the
// events recorded after cursor together with the cursor to resume from.
type EventSource interface {
	Head(ctx context.Context) (uint64, error)
	Poll(ctx context.Context, cursor uint64) ([]Event, uint64, error)
}

// WatcherConfig contains configuration for Watcher
type WatcherConfig struct {
	Source          EventSource
	PollingInterval time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
}

// Watcher polls an EventSource and dispatches events to address subscriptions.
// Callbacks run on the watcher goroutine, never on the caller's.
type Watcher struct {
	source EventSource

	subscriptions map[string]map[uint64]*watcherSubscription
	nextId        uint64
	cursor        uint64

	// State management for delivered events
	deliveredIds    map[string]time.Time
	mutex           sync.RWMutex
	pollingInterval time.Duration
	cleanupInterval time.Duration
	retention       time.Duration

	// Control channels
	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	doneChan  chan struct{}
}

type watcherSubscription struct {
	id      uint64
	key     string
	event   string
	cb      Callback
	watcher *Watcher
	once    sync.Once
}

func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 5 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	return &Watcher{
		source:          cfg.Source,
		subscriptions:   make(map[string]map[uint64]*watcherSubscription),
		deliveredIds:    make(map[string]time.Time),
		pollingInterval: cfg.PollingInterval,
		cleanupInterval: cfg.CleanupInterval,
		retention:       cfg.Retention,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start positions the cursor at the current head and launches the poll loop.
func (w *Watcher) Start(ctx context.Context) error {
	var startErr error
	w.startOnce.Do(func() {
		head, err := w.source.Head(ctx)
		if err != nil {
			startErr = fmt.Errorf("failed to read ledger head: %w", err)
			close(w.doneChan)
			return
		}
		w.cursor = head

		go w.pollLoop(ctx)
		go w.cleanupLoop(ctx)

		zap.L().Info("Ledger watcher started",
			zap.Duration("polling_interval", w.pollingInterval),
			zap.Uint64("cursor", head))
	})
	return startErr
}

// Stop halts polling and waits for any in-flight dispatch to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.startOnce.Do(func() { close(w.doneChan) })
		<-w.doneChan
		zap.L().Info("Ledger watcher stopped")
	})
}

func (w *Watcher) Subscribe(address, event string, cb Callback) (Subscription, error) {
	if event != EventApproved {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event)
	}
	if cb == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}

	key := strings.ToLower(address)

	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.nextId++
	sub := &watcherSubscription{id: w.nextId, key: key, event: event, cb: cb, watcher: w}
	if w.subscriptions[key] == nil {
		w.subscriptions[key] = make(map[uint64]*watcherSubscription)
	}
	w.subscriptions[key][sub.id] = sub

	zap.L().Debug("Ledger subscription registered",
		zap.String("address", address),
		zap.String("event", event))

	return sub, nil
}

func (s *watcherSubscription) Unsubscribe() {
	s.once.Do(func() {
		w := s.watcher
		w.mutex.Lock()
		defer w.mutex.Unlock()

		delete(w.subscriptions[s.key], s.id)
		if len(w.subscriptions[s.key]) == 0 {
			delete(w.subscriptions, s.key)
		}
	})
}

// SubscriptionCount reports the number of live subscriptions for address.
func (w *Watcher) SubscriptionCount(address string) int {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return len(w.subscriptions[strings.ToLower(address)])
}

// pollLoop runs the main polling loop
func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.poll(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	events, next, err := w.source.Poll(ctx, w.cursor)
	if err != nil {
		zap.L().Error("Failed to poll ledger events",
			zap.Uint64("cursor", w.cursor),
			zap.Error(err))
		return
	}

	for _, ev := range events {
		if w.isDelivered(ev.Id) {
			continue
		}
		w.dispatch(ctx, ev)
		w.markDelivered(ev.Id)
	}
	w.cursor = next
}

func (w *Watcher) dispatch(ctx context.Context, ev Event) {
	w.mutex.RLock()
	var targets []*watcherSubscription
	for _, sub := range w.subscriptions[strings.ToLower(ev.Address)] {
		if sub.event == ev.Name {
			targets = append(targets, sub)
		}
	}
	w.mutex.RUnlock()

	for _, sub := range targets {
		if err := sub.cb(ctx, ev); err != nil {
			zap.L().Error("Ledger event callback failed",
				zap.String("address", ev.Address),
				zap.String("event", ev.Name),
				zap.String("tx_hash", ev.TxHash),
				zap.Error(err))
		}
	}
}

func (w *Watcher) isDelivered(id string) bool {
	if id == "" {
		return false
	}
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	_, exists := w.deliveredIds[id]
	return exists
}

func (w *Watcher) markDelivered(id string) {
	if id == "" {
		return
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.deliveredIds[id] = time.Now()
}

// cleanupLoop periodically forgets delivered event ids
func (w *Watcher) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.cleanupDelivered()
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) cleanupDelivered() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	cutoff := time.Now().Add(-w.retention)
	removed := 0
	for id, deliveredAt := range w.deliveredIds {
		if deliveredAt.Before(cutoff) {
			delete(w.deliveredIds, id)
			removed++
		}
	}

	if removed > 0 {
		zap.L().Debug("Cleaned up delivered ledger events",
			zap.Int("removed", removed),
			zap.Int("remaining", len(w.deliveredIds)))
	}
}
