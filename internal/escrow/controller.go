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

package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"escrow-sync-go/internal/ledger"
	"escrow-sync-go/internal/models"
	"escrow-sync-go/internal/notify"
	"escrow-sync-go/internal/store"

	"go.uber.org/zap"
)

// Config contains the collaborators of a Controller
type Config struct {
	Ledger   ledger.Client
	Mirror   store.MirrorStore
	Notifier notify.Notifier
	Clock    func() time.Time
}

// CreateAgreementParams describes a new agreement. Value is a decimal
// string in the Kind denomination.
type CreateAgreementParams struct {
	Arbiter     string
	Beneficiary string
	Value       string
	Kind        string
}

// Controller drives agreements through CREATED -> APPROVED and is the only
// writer of the mirror store. Every state-changing operation on one address
// runs inside that address's critical section.
type Controller struct {
	ledger   ledger.Client
	mirror   store.MirrorStore
	notifier notify.Notifier
	now      func() time.Time

	locks *keyedMutex

	// State container, subscription registry and pending submissions, keyed
	// by lower-cased address.
	mutex         sync.RWMutex
	agreements    map[string]*models.Agreement
	order         []string
	pending       map[string]*models.ApprovalAck
	subscriptions map[string]ledger.Subscription
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if cfg.Mirror == nil {
		return nil, fmt.Errorf("mirror store is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Controller{
		ledger:        cfg.Ledger,
		mirror:        cfg.Mirror,
		notifier:      cfg.Notifier,
		now:           cfg.Clock,
		locks:         newKeyedMutex(),
		agreements:    make(map[string]*models.Agreement),
		pending:       make(map[string]*models.ApprovalAck),
		subscriptions: make(map[string]ledger.Subscription),
	}, nil
}

// CreateAgreement funds a new agreement on the ledger and records it in the
// mirror. On a mirror failure the returned *PersistenceError carries the
// funded agreement for PersistAgreement.
func (c *Controller) CreateAgreement(ctx context.Context, signer ledger.Signer, params CreateAgreementParams) (*models.Agreement, error) {
	if signer == nil {
		return nil, &ValidationError{First: "depositor", Reason: "A signer is required"}
	}
	depositor := signer.Address()

	if err := validateParties(depositor, params.Arbiter, params.Beneficiary); err != nil {
		zap.L().Info("Rejected agreement", zap.Error(err))
		return nil, err
	}

	value, err := ToBaseUnits(params.Value, params.Kind)
	if err != nil {
		return nil, &ValidationError{First: "value", Reason: err.Error()}
	}

	zap.L().Info("Funding agreement",
		zap.String("depositor", depositor),
		zap.String("arbiter", params.Arbiter),
		zap.String("beneficiary", params.Beneficiary),
		zap.String("value", value.String()))

	address, err := c.ledger.Fund(ctx, signer, params.Arbiter, params.Beneficiary, value)
	if err != nil {
		zap.L().Error("Failed to fund agreement", zap.Error(err))
		return nil, &LedgerError{Op: "fund", Err: err}
	}

	agreement := models.Agreement{
		Address:     address,
		Arbiter:     params.Arbiter,
		Beneficiary: params.Beneficiary,
		Depositor:   depositor,
		Value:       value.String(),
		StartedAt:   c.now().Unix(),
	}

	unlock := c.locks.Lock(addressKey(address))
	stored, err := c.mirror.Append(ctx, agreement)
	if err != nil {
		unlock()
		zap.L().Error("Agreement funded but not persisted",
			zap.String("address", address),
			zap.Error(err))
		funded := agreement.Clone()
		return nil, &PersistenceError{Address: address, Agreement: &funded, Err: err}
	}
	c.track(*stored)
	unlock()

	c.publish(ctx, models.EventAgreementCreated, *stored)

	zap.L().Info("Agreement created",
		zap.String("address", stored.Address),
		zap.Int64("started_at", stored.StartedAt))

	result := stored.Clone()
	return &result, nil
}

// PersistAgreement retries the mirror write for an agreement that is already
// funded. The address must be known to the ledger and the record is always
// written as pending; an approval the ledger already holds is applied
// afterwards through the confirmation path. A record that is already present
// counts as success.
func (c *Controller) PersistAgreement(ctx context.Context, agreement models.Agreement) (*models.Agreement, error) {
	if strings.TrimSpace(agreement.Address) == "" {
		return nil, &ValidationError{First: "address", Reason: "Agreement address is required"}
	}
	if err := validateParties(agreement.Depositor, agreement.Arbiter, agreement.Beneficiary); err != nil {
		zap.L().Info("Rejected agreement persistence", zap.Error(err))
		return nil, err
	}
	agreement.IsApproved = false
	agreement.ApprovedAt = nil

	key := addressKey(agreement.Address)
	unlock := c.locks.Lock(key)

	onLedger, err := c.ledger.IsApproved(ctx, agreement.Address)
	if err != nil {
		unlock()
		if errors.Is(err, ledger.ErrUnknownAgreement) {
			zap.L().Warn("Refusing to persist agreement unknown to ledger",
				zap.String("address", agreement.Address))
			return nil, err
		}
		return nil, &LedgerError{Op: "is_approved", Err: err}
	}

	stored, created, err := c.appendOrExisting(ctx, agreement)
	if err != nil {
		unlock()
		return nil, err
	}
	c.track(*stored)

	var approved *models.Agreement
	if onLedger && !stored.IsApproved {
		approved, err = c.confirmApproval(ctx, key, stored.Address)
		if err != nil {
			zap.L().Warn("Agreement persisted but approval not yet applied",
				zap.String("address", stored.Address),
				zap.Error(err))
		}
		if approved != nil {
			stored = approved
		}
	}
	unlock()

	if created {
		c.publish(ctx, models.EventAgreementCreated, *stored)
	}
	if approved != nil {
		c.publish(ctx, models.EventAgreementApproved, *approved)
	}

	result := stored.Clone()
	return &result, nil
}

// appendOrExisting writes agreement to the mirror, falling back to the stored
// record on a conflict. Callers hold the address lock.
func (c *Controller) appendOrExisting(ctx context.Context, agreement models.Agreement) (*models.Agreement, bool, error) {
	stored, err := c.mirror.Append(ctx, agreement)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return nil, false, &PersistenceError{Address: agreement.Address, Agreement: &agreement, Err: err}
	}

	zap.L().Info("Agreement already persisted",
		zap.String("address", agreement.Address))
	all, listErr := c.mirror.ListAll(ctx)
	if listErr != nil {
		return nil, false, &PersistenceError{Address: agreement.Address, Agreement: &agreement, Err: listErr}
	}
	existing, ok := store.FindByAddress(all, agreement.Address)
	if !ok {
		return nil, false, &PersistenceError{Address: agreement.Address, Agreement: &agreement, Err: err}
	}
	existing.Normalize()
	return existing, false, nil
}

// RequestApproval submits the arbiter's approval. The mirror is not touched
// here; it changes only when the ledger confirms through OnApprovalConfirmed.
func (c *Controller) RequestApproval(ctx context.Context, signer ledger.Signer, address string) (*models.ApprovalAck, error) {
	if signer == nil {
		return nil, &ValidationError{First: "approver", Reason: "A signer is required"}
	}
	key := addressKey(address)

	unlock := c.locks.Lock(key)
	defer unlock()

	current, err := c.lookup(ctx, address)
	if err != nil {
		return nil, err
	}

	if current.IsApproved {
		zap.L().Info("Agreement already approved, nothing to submit",
			zap.String("address", current.Address))
		return &models.ApprovalAck{Address: current.Address, Agreement: current.Clone()}, nil
	}

	if ack, ok := c.pendingAck(key); ok {
		zap.L().Info("Approval already submitted, awaiting confirmation",
			zap.String("address", current.Address),
			zap.String("tx_hash", ack.TxHash))
		return ack, nil
	}

	subscribed, err := c.ensureSubscription(current.Address)
	if err != nil {
		return nil, &LedgerError{Op: "subscribe", Err: err}
	}

	handle, err := c.ledger.SubmitApproval(ctx, signer, current.Address)
	if err != nil {
		if subscribed {
			c.teardownSubscription(key)
		}
		zap.L().Error("Approval submission failed",
			zap.String("address", current.Address),
			zap.String("approver", signer.Address()),
			zap.Error(err))
		return nil, &LedgerError{Op: "approve", Err: err}
	}

	ack := &models.ApprovalAck{
		Address:   current.Address,
		TxHash:    handle.Hash,
		Submitted: true,
		Agreement: current.Clone(),
	}

	c.mutex.Lock()
	c.pending[key] = ack
	c.mutex.Unlock()

	zap.L().Info("Approval included by ledger",
		zap.String("address", current.Address),
		zap.String("tx_hash", handle.Hash))

	result := *ack
	return &result, nil
}

// OnApprovalConfirmed applies a ledger Approved notification. It may run any
// number of times for one address; only the first flips the record.
func (c *Controller) OnApprovalConfirmed(ctx context.Context, address string) error {
	key := addressKey(address)

	unlock := c.locks.Lock(key)
	updated, err := c.confirmApproval(ctx, key, address)
	unlock()

	if updated != nil {
		c.publish(ctx, models.EventAgreementApproved, *updated)
	}
	return err
}

// confirmApproval flips address to approved in the mirror and the container.
// It returns the updated record, or nil when nothing changed. Callers hold the
// address lock.
func (c *Controller) confirmApproval(ctx context.Context, key, address string) (*models.Agreement, error) {
	c.mutex.RLock()
	current, known := c.agreements[key]
	if known {
		address = current.Address
	}
	alreadyApproved := known && current.IsApproved
	c.mutex.RUnlock()

	if alreadyApproved {
		zap.L().Debug("Duplicate approval notification discarded",
			zap.String("address", address))
		c.teardownSubscription(key)
		return nil, nil
	}

	updated, err := c.mirror.UpdateApproval(ctx, address, c.now().Unix())
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("Approval confirmed for agreement missing from mirror",
			zap.String("address", address))
		return nil, nil
	}
	if err != nil {
		var snapshot *models.Agreement
		if known {
			a := current.Clone()
			snapshot = &a
		}
		return nil, &PersistenceError{Address: address, Agreement: snapshot, Err: err}
	}

	c.track(*updated)

	c.mutex.Lock()
	delete(c.pending, key)
	c.mutex.Unlock()
	c.teardownSubscription(key)

	zap.L().Info("Agreement approved",
		zap.String("address", updated.Address),
		zap.Int64p("approved_at", updated.ApprovedAt))

	return updated, nil
}

// LoadAll replaces the state container with the mirror's contents. An entry
// the container already holds as approved is never replaced by a pending one.
func (c *Controller) LoadAll(ctx context.Context) ([]models.Agreement, error) {
	c.mutex.Lock()
	all, err := c.mirror.ListAll(ctx)
	if err != nil {
		c.mutex.Unlock()
		return nil, fmt.Errorf("failed to load agreements: %w", err)
	}

	agreements := make(map[string]*models.Agreement, len(all))
	order := make([]string, 0, len(all))
	for _, a := range all {
		a.Normalize()
		key := addressKey(a.Address)
		if _, dup := agreements[key]; !dup {
			order = append(order, key)
		}
		if held, ok := c.agreements[key]; ok && held.IsApproved && !a.IsApproved {
			a = held.Clone()
		}
		stored := a.Clone()
		agreements[key] = &stored
	}

	c.agreements = agreements
	c.order = order
	c.mutex.Unlock()

	zap.L().Info("Agreements loaded from mirror", zap.Int("count", len(order)))

	return c.Agreements(), nil
}

// Agreements returns a snapshot of every known agreement in creation order.
func (c *Controller) Agreements() []models.Agreement {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]models.Agreement, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.agreements[key].Clone())
	}
	return out
}

func (c *Controller) Agreement(address string) (models.Agreement, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	a, ok := c.agreements[addressKey(address)]
	if !ok {
		return models.Agreement{}, false
	}
	return a.Clone(), true
}

// Reconcile asks the ledger about every agreement the mirror still holds as
// pending and applies approvals that were never delivered. It returns the
// number of agreements it approved.
func (c *Controller) Reconcile(ctx context.Context) (int, error) {
	var errs []error
	approved := 0

	for _, a := range c.Agreements() {
		if a.IsApproved {
			continue
		}
		if err := ctx.Err(); err != nil {
			return approved, err
		}

		onLedger, err := c.ledger.IsApproved(ctx, a.Address)
		if errors.Is(err, ledger.ErrUnknownAgreement) {
			zap.L().Warn("Mirrored agreement unknown to ledger",
				zap.String("address", a.Address))
			continue
		}
		if err != nil {
			errs = append(errs, &LedgerError{Op: "is_approved", Err: err})
			continue
		}
		if !onLedger {
			continue
		}

		if err := c.OnApprovalConfirmed(ctx, a.Address); err != nil {
			errs = append(errs, err)
			continue
		}
		approved++
	}

	if approved > 0 {
		zap.L().Info("Reconciled approvals from ledger", zap.Int("approved", approved))
	}
	return approved, errors.Join(errs...)
}

// Close tears down every ledger subscription held by the controller.
func (c *Controller) Close() {
	c.mutex.Lock()
	subs := c.subscriptions
	c.subscriptions = make(map[string]ledger.Subscription)
	c.mutex.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// SubscriptionCount reports the number of live subscriptions held.
func (c *Controller) SubscriptionCount() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.subscriptions)
}

// lookup resolves address from the container, falling back to the mirror.
// Callers hold the address lock.
func (c *Controller) lookup(ctx context.Context, address string) (models.Agreement, error) {
	if a, ok := c.Agreement(address); ok {
		return a, nil
	}

	all, err := c.mirror.ListAll(ctx)
	if err != nil {
		return models.Agreement{}, &PersistenceError{Address: address, Err: err}
	}
	found, ok := store.FindByAddress(all, address)
	if !ok {
		return models.Agreement{}, fmt.Errorf("%w: %s", store.ErrNotFound, address)
	}
	found.Normalize()
	c.track(*found)
	return *found, nil
}

func (c *Controller) track(a models.Agreement) {
	key := addressKey(a.Address)
	stored := a.Clone()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, ok := c.agreements[key]; !ok {
		c.order = append(c.order, key)
	}
	c.agreements[key] = &stored
}

func (c *Controller) pendingAck(key string) (*models.ApprovalAck, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	ack, ok := c.pending[key]
	if !ok {
		return nil, false
	}
	result := *ack
	result.Agreement = ack.Agreement.Clone()
	return &result, true
}

// ensureSubscription registers the Approved callback once per address and
// reports whether this call created it.
func (c *Controller) ensureSubscription(address string) (bool, error) {
	key := addressKey(address)

	c.mutex.RLock()
	_, exists := c.subscriptions[key]
	c.mutex.RUnlock()
	if exists {
		return false, nil
	}

	sub, err := c.ledger.Subscribe(address, ledger.EventApproved, func(ctx context.Context, ev ledger.Event) error {
		return c.OnApprovalConfirmed(ctx, ev.Address)
	})
	if err != nil {
		return false, err
	}

	c.mutex.Lock()
	c.subscriptions[key] = sub
	c.mutex.Unlock()
	return true, nil
}

func (c *Controller) teardownSubscription(key string) {
	c.mutex.Lock()
	sub, ok := c.subscriptions[key]
	delete(c.subscriptions, key)
	c.mutex.Unlock()

	if ok {
		sub.Unsubscribe()
	}
}

func (c *Controller) publish(ctx context.Context, eventType string, a models.Agreement) {
	ev := models.AgreementEvent{
		Type:       eventType,
		Agreement:  a.Clone(),
		OccurredAt: c.now().Unix(),
	}
	if err := c.notifier.Publish(ctx, ev); err != nil {
		zap.L().Warn("Failed to publish agreement event",
			zap.String("type", eventType),
			zap.String("address", a.Address),
			zap.Error(err))
	}
}
