package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"escrow-sync-go/internal/ledger"
	"escrow-sync-go/internal/models"
	"escrow-sync-go/internal/store"
)

// fakeLedger counts calls and lets tests fire Approved callbacks by hand.
type fakeLedger struct {
	mutex       sync.Mutex
	fundCalls   int
	submitCalls int
	fundErr     error
	submitErr   error
	funded      map[string]bool
	approved    map[string]bool
	callbacks   map[string][]ledger.Callback
	unsubscribe int
	next        int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		funded:    make(map[string]bool),
		approved:  make(map[string]bool),
		callbacks: make(map[string][]ledger.Callback),
	}
}

func (f *fakeLedger) Fund(ctx context.Context, depositor ledger.Signer, arbiter, beneficiary string, value *big.Int) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.fundCalls++
	if f.fundErr != nil {
		return "", f.fundErr
	}
	f.next++
	address := fmt.Sprintf("0x%040x", f.next)
	f.funded[address] = true
	return address, nil
}

func (f *fakeLedger) SubmitApproval(ctx context.Context, approver ledger.Signer, address string) (*ledger.TxHandle, error) {
	f.mutex.Lock()
	f.submitCalls++
	err := f.submitErr
	if err == nil {
		f.approved[strings.ToLower(address)] = true
	}
	n := f.submitCalls
	f.mutex.Unlock()

	if err != nil {
		return nil, err
	}
	return &ledger.TxHandle{Hash: fmt.Sprintf("0xtx%d", n), Address: address}, nil
}

type fakeSubscription struct {
	f    *fakeLedger
	once sync.Once
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.f.mutex.Lock()
		defer s.f.mutex.Unlock()
		s.f.unsubscribe++
	})
}

func (f *fakeLedger) Subscribe(address, event string, cb ledger.Callback) (ledger.Subscription, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	key := strings.ToLower(address)
	f.callbacks[key] = append(f.callbacks[key], cb)
	return &fakeSubscription{f: f}, nil
}

func (f *fakeLedger) IsApproved(ctx context.Context, address string) (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	key := strings.ToLower(address)
	if !f.funded[key] && !f.approved[key] {
		return false, fmt.Errorf("%w: %s", ledger.ErrUnknownAgreement, address)
	}
	return f.approved[key], nil
}

func (f *fakeLedger) Close() {}

// emit delivers an Approved event to every callback registered for address.
func (f *fakeLedger) emit(ctx context.Context, address string) []error {
	f.mutex.Lock()
	cbs := append([]ledger.Callback(nil), f.callbacks[strings.ToLower(address)]...)
	f.mutex.Unlock()

	var errs []error
	for _, cb := range cbs {
		if err := cb(ctx, ledger.Event{Name: ledger.EventApproved, Address: address}); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (f *fakeLedger) counts() (fund, submit, subs, unsubs int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	total := 0
	for _, cbs := range f.callbacks {
		total += len(cbs)
	}
	return f.fundCalls, f.submitCalls, total, f.unsubscribe
}

// fakeMirror is an in-memory MirrorStore with injectable failures.
type fakeMirror struct {
	mutex      sync.Mutex
	records    []models.Agreement
	appendErrs []error
	updateErr  error
	updates    int
}

func (m *fakeMirror) ListAll(ctx context.Context) ([]models.Agreement, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]models.Agreement, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *fakeMirror) Append(ctx context.Context, agreement models.Agreement) (*models.Agreement, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.appendErrs) > 0 {
		err := m.appendErrs[0]
		m.appendErrs = m.appendErrs[1:]
		return nil, err
	}
	if _, ok := store.FindByAddress(m.records, agreement.Address); ok {
		return nil, store.ErrConflict
	}
	m.records = append(m.records, agreement.Clone())
	out := agreement.Clone()
	return &out, nil
}

func (m *fakeMirror) UpdateApproval(ctx context.Context, address string, approvedAt int64) (*models.Agreement, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.updates++
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	for i := range m.records {
		if strings.EqualFold(m.records[i].Address, address) {
			if !m.records[i].IsApproved {
				at := approvedAt
				m.records[i].ApprovedAt = &at
				m.records[i].IsApproved = true
			}
			out := m.records[i].Clone()
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *fakeMirror) Close() {}

func (m *fakeMirror) get(address string) (models.Agreement, bool) {
	all, _ := m.ListAll(context.Background())
	a, ok := store.FindByAddress(all, address)
	if !ok {
		return models.Agreement{}, false
	}
	return *a, true
}

// slowNotifier blocks on approved events, like a sink with a long batch
// timeout.
type slowNotifier struct {
	delay time.Duration
}

func (s slowNotifier) Publish(ctx context.Context, ev models.AgreementEvent) error {
	if ev.Type == models.EventAgreementApproved {
		time.Sleep(s.delay)
	}
	return nil
}

func (slowNotifier) Close() error { return nil }

var errMirrorDown = errors.New("mirror unavailable")

// fakeClock advances only when told to.
type fakeClock struct {
	mutex sync.Mutex
	unix  int64
}

func (c *fakeClock) now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return time.Unix(c.unix, 0)
}

func (c *fakeClock) advance(seconds int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.unix += seconds
}
