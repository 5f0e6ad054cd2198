package notify

import (
	"context"
	"sync"

	"escrow-sync-go/internal/models"

	"go.uber.org/zap"
)

// Broadcaster is the in-process notifier behind the event stream endpoint.
// Slow listeners lose events rather than block the publisher.
type Broadcaster struct {
	mutex     sync.RWMutex
	listeners map[uint64]chan models.AgreementEvent
	nextId    uint64
	buffer    int
	closed    bool
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		listeners: make(map[uint64]chan models.AgreementEvent),
		buffer:    buffer,
	}
}

// Listen returns a channel of future events and a function that releases it.
func (b *Broadcaster) Listen() (<-chan models.AgreementEvent, func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	ch := make(chan models.AgreementEvent, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextId++
	id := b.nextId
	b.listeners[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mutex.Lock()
			defer b.mutex.Unlock()
			if l, ok := b.listeners[id]; ok {
				delete(b.listeners, id)
				close(l)
			}
		})
	}
}

func (b *Broadcaster) Publish(ctx context.Context, ev models.AgreementEvent) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for id, ch := range b.listeners {
		select {
		case ch <- ev:
		default:
			zap.L().Warn("Dropping agreement event for slow listener",
				zap.Uint64("listener_id", id),
				zap.String("type", ev.Type),
				zap.String("address", ev.Agreement.Address))
		}
	}
	return nil
}

func (b *Broadcaster) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.closed = true
	for id, ch := range b.listeners {
		delete(b.listeners, id)
		close(ch)
	}
	return nil
}
