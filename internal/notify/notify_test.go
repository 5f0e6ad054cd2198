package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"escrow-sync-go/internal/models"
)

type recordingNotifier struct {
	events []models.AgreementEvent
	err    error
	closed bool
}

func (r *recordingNotifier) Publish(ctx context.Context, ev models.AgreementEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingNotifier) Close() error {
	r.closed = true
	return nil
}

func TestBroadcasterDeliversToListeners(t *testing.T) {
	b := NewBroadcaster(4)

	first, releaseFirst := b.Listen()
	second, releaseSecond := b.Listen()
	defer releaseSecond()

	ev := models.AgreementEvent{Type: models.EventAgreementApproved, Agreement: models.Agreement{Address: "0x01"}}
	if err := b.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for i, ch := range []<-chan models.AgreementEvent{first, second} {
		got := <-ch
		if got.Agreement.Address != "0x01" {
			t.Errorf("Listener %d: expected address 0x01, got %s", i, got.Agreement.Address)
		}
	}

	releaseFirst()
	releaseFirst()
	if _, ok := <-first; ok {
		t.Errorf("Expected released listener channel to be closed")
	}
}

func TestBroadcasterDropsForSlowListener(t *testing.T) {
	b := NewBroadcaster(1)
	ch, release := b.Listen()
	defer release()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, models.AgreementEvent{Type: models.EventAgreementCreated}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	if len(ch) != 1 {
		t.Errorf("Expected 1 buffered event, got %d", len(ch))
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(1)
	ch, release := b.Listen()

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Errorf("Expected channel closed after Close")
	}
	release()

	late, _ := b.Listen()
	if _, ok := <-late; ok {
		t.Errorf("Expected listener after Close to be closed")
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("broker down")}
	m := Multi{ok, failing}

	err := m.Publish(context.Background(), models.AgreementEvent{Type: models.EventAgreementCreated})
	if err == nil {
		t.Fatalf("Expected joined error")
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Errorf("Expected every notifier to receive the event")
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !ok.closed || !failing.closed {
		t.Errorf("Expected every notifier to be closed")
	}
}

func TestNewKafkaValidation(t *testing.T) {
	if _, err := NewKafka(nil, "topic"); err == nil {
		t.Errorf("Expected error without brokers")
	}
	if _, err := NewKafka([]string{"localhost:9092"}, ""); err == nil {
		t.Errorf("Expected error without topic")
	}
	k, err := NewKafka([]string{"localhost:9092"}, "escrow.agreements")
	if err != nil {
		t.Fatalf("NewKafka failed: %v", err)
	}
	k.Close()
}

// gatedNotifier holds every publish until release is closed.
type gatedNotifier struct {
	release chan struct{}
	mutex   sync.Mutex
	events  []models.AgreementEvent
	closed  bool
}

func (g *gatedNotifier) Publish(ctx context.Context, ev models.AgreementEvent) error {
	<-g.release
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.events = append(g.events, ev)
	return nil
}

func (g *gatedNotifier) Close() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.closed = true
	return nil
}

func TestAsyncPublishDoesNotWait(t *testing.T) {
	next := &gatedNotifier{release: make(chan struct{})}
	a := NewAsync(next, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, address := range []string{"0x01", "0x02", "0x03"} {
			ev := models.AgreementEvent{Type: models.EventAgreementApproved, Agreement: models.Agreement{Address: address}}
			if err := a.Publish(context.Background(), ev); err != nil {
				t.Errorf("Publish failed: %v", err)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish waited on a blocked notifier")
	}

	close(next.release)
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(next.events) != 3 {
		t.Fatalf("Expected 3 delivered events, got %d", len(next.events))
	}
	for i, want := range []string{"0x01", "0x02", "0x03"} {
		if got := next.events[i].Agreement.Address; got != want {
			t.Errorf("Event %d: expected %s, got %s", i, want, got)
		}
	}
	if !next.closed {
		t.Errorf("Expected wrapped notifier closed")
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	next := &gatedNotifier{release: make(chan struct{})}
	a := NewAsync(next, 1)
	ctx := context.Background()

	// At most one event is in flight and one queued.
	full := 0
	for i := 0; i < 3; i++ {
		if err := a.Publish(ctx, models.AgreementEvent{Type: models.EventAgreementCreated}); errors.Is(err, ErrQueueFull) {
			full++
		}
	}
	if full == 0 {
		t.Errorf("Expected ErrQueueFull once the queue is full")
	}

	close(next.release)
	a.Close()

	if err := a.Publish(ctx, models.AgreementEvent{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}
