package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"escrow-sync-go/internal/models"
)

type fakeController struct {
	mutex      sync.Mutex
	loadErr    error
	loads      int
	reconciles int
}

func (f *fakeController) LoadAll(ctx context.Context) ([]models.Agreement, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return []models.Agreement{{Address: "0x01"}, {Address: "0x02", IsApproved: true}}, nil
}

func (f *fakeController) Reconcile(ctx context.Context) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.reconciles++
	if f.reconciles == 2 {
		return 0, errors.New("mirror unavailable")
	}
	return 1, nil
}

func (f *fakeController) counts() (int, int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.loads, f.reconciles
}

func TestReconcilerRecoversAndPolls(t *testing.T) {
	controller := &fakeController{}
	r := NewReconciler(ReconcilerConfig{Controller: controller, Interval: 10 * time.Millisecond})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, reconciles := controller.counts(); reconciles >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()

	loads, reconciles := controller.counts()
	if loads != 1 {
		t.Errorf("Expected 1 load, got %d", loads)
	}
	if reconciles < 3 {
		t.Errorf("Expected reconcile to keep running after an error, got %d runs", reconciles)
	}

	time.Sleep(30 * time.Millisecond)
	if _, after := controller.counts(); after != reconciles {
		t.Errorf("Expected no reconcile after Stop, got %d more", after-reconciles)
	}
}

func TestReconcilerStartFailsWhenLoadFails(t *testing.T) {
	controller := &fakeController{loadErr: errors.New("mirror unavailable")}
	r := NewReconciler(ReconcilerConfig{Controller: controller})

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("Expected startup recovery error")
	}
	r.Stop()

	if _, reconciles := controller.counts(); reconciles != 0 {
		t.Errorf("Expected no reconcile after failed load, got %d", reconciles)
	}
}

func TestNewReconcilerDefaultsInterval(t *testing.T) {
	r := NewReconciler(ReconcilerConfig{Controller: &fakeController{}})
	if r.interval != time.Minute {
		t.Errorf("Expected 1m interval, got %s", r.interval)
	}
}
