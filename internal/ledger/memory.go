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
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Compile-time check: *Memory must satisfy Client.
var _ Client = (*Memory)(nil)

// Memory is an in-process ledger that mimics the Escrow contract: funding
// deploys an agreement at a deterministic address, approve() by the arbiter
// releases the balance and emits Approved every time it is called.
type Memory struct {
	mutex     sync.Mutex
	nonces    map[common.Address]uint64
	contracts map[string]*memoryContract
	log       []Event
	blockTime func() time.Time

	duplicateDelivery bool
	fundCalls         int
	approvalCalls     int

	watcher *Watcher
}

type memoryContract struct {
	address     common.Address
	depositor   string
	arbiter     string
	beneficiary string
	balance     *big.Int
	released    *big.Int
	isApproved  bool
}

type MemoryOption func(*Memory)

// WithDuplicateDelivery records every Approved event twice, as a replaying
// node would.
func WithDuplicateDelivery() MemoryOption {
	return func(m *Memory) {
		m.duplicateDelivery = true
	}
}

func NewMemory(ctx context.Context, pollingInterval time.Duration, opts ...MemoryOption) (*Memory, error) {
	m := &Memory{
		nonces:    make(map[common.Address]uint64),
		contracts: make(map[string]*memoryContract),
		blockTime: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.watcher = NewWatcher(WatcherConfig{
		Source:          memorySource{m},
		PollingInterval: pollingInterval,
	})
	if err := m.watcher.Start(ctx); err != nil {
		return nil, err
	}

	zap.L().Info("In-memory ledger initialized",
		zap.Bool("duplicate_delivery", m.duplicateDelivery))
	return m, nil
}

func (m *Memory) Fund(ctx context.Context, depositor Signer, arbiter, beneficiary string, value *big.Int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if value == nil || value.Sign() <= 0 {
		return "", fmt.Errorf("%w: value must be positive", ErrReverted)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.fundCalls++

	from := accountAddress(depositor.Address())
	nonce := m.nonces[from]
	m.nonces[from] = nonce + 1

	addr := crypto.CreateAddress(from, nonce)
	m.contracts[strings.ToLower(addr.Hex())] = &memoryContract{
		address:     addr,
		depositor:   depositor.Address(),
		arbiter:     arbiter,
		beneficiary: beneficiary,
		balance:     new(big.Int).Set(value),
		released:    new(big.Int),
	}

	zap.L().Info("Escrow funded on in-memory ledger",
		zap.String("address", addr.Hex()),
		zap.String("depositor", depositor.Address()),
		zap.String("value", value.String()))

	return addr.Hex(), nil
}

func (m *Memory) SubmitApproval(ctx context.Context, approver Signer, address string) (*TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.approvalCalls++

	c, ok := m.contracts[strings.ToLower(address)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgreement, address)
	}
	if !strings.EqualFold(approver.Address(), c.arbiter) {
		return nil, fmt.Errorf("%w: %w", ErrReverted, ErrNotArbiter)
	}

	c.released.Add(c.released, c.balance)
	c.balance = new(big.Int)
	c.isApproved = true

	txHash := crypto.Keccak256Hash(c.address.Bytes(), big.NewInt(int64(len(m.log))).Bytes()).Hex()
	m.appendEvent(Event{Name: EventApproved, Address: c.address.Hex(), TxHash: txHash})
	if m.duplicateDelivery {
		m.appendEvent(Event{Name: EventApproved, Address: c.address.Hex(), TxHash: txHash})
	}

	return &TxHandle{Hash: txHash, Address: c.address.Hex()}, nil
}

func (m *Memory) appendEvent(ev Event) {
	ev.Id = strconv.Itoa(len(m.log))
	ev.ObservedAt = m.blockTime()
	m.log = append(m.log, ev)
}

func (m *Memory) Subscribe(address, event string, cb Callback) (Subscription, error) {
	return m.watcher.Subscribe(address, event, cb)
}

func (m *Memory) IsApproved(ctx context.Context, address string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	c, ok := m.contracts[strings.ToLower(address)]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownAgreement, address)
	}
	return c.isApproved, nil
}

// Released returns the amount paid out to the beneficiary of address.
func (m *Memory) Released(address string) *big.Int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	c, ok := m.contracts[strings.ToLower(address)]
	if !ok {
		return nil
	}
	return new(big.Int).Set(c.released)
}

// Calls reports how many Fund and SubmitApproval calls reached the ledger.
func (m *Memory) Calls() (fund, approval int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.fundCalls, m.approvalCalls
}

// SubscriptionCount reports live subscriptions for address.
func (m *Memory) SubscriptionCount(address string) int {
	return m.watcher.SubscriptionCount(address)
}

func (m *Memory) Close() {
	m.watcher.Stop()
}

type memorySource struct {
	m *Memory
}

func (s memorySource) Head(ctx context.Context) (uint64, error) {
	s.m.mutex.Lock()
	defer s.m.mutex.Unlock()
	return uint64(len(s.m.log)), nil
}

func (s memorySource) Poll(ctx context.Context, cursor uint64) ([]Event, uint64, error) {
	s.m.mutex.Lock()
	defer s.m.mutex.Unlock()

	head := uint64(len(s.m.log))
	if cursor >= head {
		return nil, head, nil
	}
	events := make([]Event, head-cursor)
	copy(events, s.m.log[cursor:head])
	return events, head, nil
}

// accountAddress maps an account identifier to a ledger address. Non-hex
// identifiers are hashed so named test accounts still get stable addresses.
func accountAddress(id string) common.Address {
	if common.IsHexAddress(id) {
		return common.HexToAddress(id)
	}
	return common.BytesToAddress(crypto.Keccak256([]byte(id)))
}
