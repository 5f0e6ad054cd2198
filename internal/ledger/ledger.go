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
	"errors"
	"math/big"
	"time"
)

// EventApproved is emitted by the ledger once the arbiter releases the funds.
const EventApproved = "Approved"

var (
	ErrReverted         = errors.New("ledger transaction reverted")
	ErrUnknownAgreement = errors.New("unknown agreement")
	ErrNotArbiter       = errors.New("approver is not the arbiter")
	ErrUnsupportedEvent = errors.New("unsupported ledger event")
)

// Signer is the caller-held capability used to authorize ledger transactions.
type Signer interface {
	Address() string
}

// TxHandle identifies a transaction that the ledger has included.
type TxHandle struct {
	Hash    string
	Address string
}

// Event is one ledger notification, correlated to an agreement by address.
type Event struct {
	Id         string
	Name       string
	Address    string
	TxHash     string
	ObservedAt time.Time
}

// Callback handles a delivered event. Errors are logged by the watcher; the
// event is not redelivered because of them.
type Callback func(ctx context.Context, ev Event) error

type Subscription interface {
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe()
}

// Client is the authoritative ledger. Fund and SubmitApproval block until the
// transaction is included; subscriptions are delivered asynchronously on a
// separate goroutine, at least once and possibly more than once.
type Client interface {
	// Fund creates and funds an agreement and returns its ledger-assigned address.
	Fund(ctx context.Context, depositor Signer, arbiter, beneficiary string, value *big.Int) (string, error)

	// SubmitApproval sends the release transaction on behalf of approver.
	SubmitApproval(ctx context.Context, approver Signer, address string) (*TxHandle, error)

	// Subscribe registers cb for events named event on the agreement at address.
	Subscribe(address, event string, cb Callback) (Subscription, error)

	// IsApproved reads the approval flag straight from the ledger.
	IsApproved(ctx context.Context, address string) (bool, error)

	// --- Lifecycle ---
	Close()
}

// StaticSigner is a Signer that only carries an identity. Backends that need
// key material require a richer signer.
type StaticSigner string

func (s StaticSigner) Address() string {
	return string(s)
}
