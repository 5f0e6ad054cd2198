package notify

import (
	"context"
	"errors"

	"escrow-sync-go/internal/models"
)

var (
	ErrClosed    = errors.New("notifier closed")
	ErrQueueFull = errors.New("notification queue full")
)

// Notifier delivers agreement changes to presentation listeners. Delivery is
// best effort; a failed publish never rolls back the state change.
type Notifier interface {
	Publish(ctx context.Context, ev models.AgreementEvent) error
	Close() error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Publish(ctx context.Context, ev models.AgreementEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nop struct{}

func (nop) Publish(context.Context, models.AgreementEvent) error { return nil }
func (nop) Close() error                                         { return nil }

// Nop discards every event.
var Nop Notifier = nop{}
