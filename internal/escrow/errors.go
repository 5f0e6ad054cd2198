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
	"errors"
	"fmt"

	"escrow-sync-go/internal/models"
)

// Error classes, matched with errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrLedger      = errors.New("ledger operation failed")
	ErrPersistence = errors.New("mirror persistence failed")
)

// ValidationError rejects a request before any ledger interaction.
// First and Second name the colliding roles when the check is pairwise.
type ValidationError struct {
	First  string
	Second string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// LedgerError wraps a failed ledger call. Nothing was written to the mirror.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

func (e *LedgerError) Is(target error) bool {
	return target == ErrLedger
}

// PersistenceError means the ledger side succeeded but the mirror write did
// not. Agreement carries the full record so the caller can retry the mirror
// write alone.
type PersistenceError struct {
	Address   string
	Agreement *models.Agreement
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist agreement %s: %v", e.Address, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
