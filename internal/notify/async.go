package notify

import (
	"context"
	"sync"
	"time"

	"escrow-sync-go/internal/models"

	"go.uber.org/zap"
)

const asyncPublishTimeout = 10 * time.Second

// Async queues events for a single delivery goroutine, so Publish never waits
// on the wrapped notifier. Order is preserved. Events are dropped once the
// queue is full.
type Async struct {
	next  Notifier
	queue chan models.AgreementEvent

	mutex  sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

func NewAsync(next Notifier, buffer int) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		next:  next,
		queue: make(chan models.AgreementEvent, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Publish(ctx context.Context, ev models.AgreementEvent) error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- ev:
		return nil
	default:
		zap.L().Warn("Notification queue full, dropping event",
			zap.String("type", ev.Type),
			zap.String("address", ev.Agreement.Address))
		return ErrQueueFull
	}
}

// Close delivers what is already queued, then closes the wrapped notifier.
func (a *Async) Close() error {
	a.once.Do(func() {
		a.mutex.Lock()
		a.closed = true
		close(a.queue)
		a.mutex.Unlock()
	})
	<-a.done
	return a.next.Close()
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		if err := a.next.Publish(ctx, ev); err != nil {
			zap.L().Warn("Failed to publish agreement event",
				zap.String("type", ev.Type),
				zap.String("address", ev.Agreement.Address),
				zap.Error(err))
		}
		cancel()
	}
}
