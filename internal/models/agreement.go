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

package models

// Agreement is one escrow contract between a depositor, a beneficiary and an arbiter.
// The JSON layout matches the mirror store's wire and file format.
type Agreement struct {
	Address     string `json:"address" db:"address"`
	Arbiter     string `json:"arbiter" db:"arbiter"`
	Beneficiary string `json:"beneficiary" db:"beneficiary"`
	Depositor   string `json:"depositor,omitempty" db:"depositor"`
	Value       string `json:"value" db:"value"` // base units, decimal integer string
	StartedAt   int64  `json:"startedAt" db:"started_at"`
	ApprovedAt  *int64 `json:"approvedAt" db:"approved_at"`
	IsApproved  bool   `json:"isApproved" db:"is_approved"`
}

// Clone returns a deep copy so snapshots never share the ApprovedAt pointer.
func (a Agreement) Clone() Agreement {
	if a.ApprovedAt != nil {
		at := *a.ApprovedAt
		a.ApprovedAt = &at
	}
	return a
}

// Normalize restores the approval invariant on records written by older
// clients, which omitted isApproved or stored approvedAt without the flag.
func (a *Agreement) Normalize() {
	if a.ApprovedAt != nil {
		a.IsApproved = true
	}
	if !a.IsApproved {
		a.ApprovedAt = nil
	}
}

// ApprovalAck is returned once an approval transaction has been included by
// the ledger. It says nothing about the mirror, which updates asynchronously.
type ApprovalAck struct {
	Address   string    `json:"address"`
	TxHash    string    `json:"txHash,omitempty"`
	Submitted bool      `json:"submitted"`
	Agreement Agreement `json:"agreement"`
}

// AgreementEvent is published to presentation listeners when an agreement changes.
type AgreementEvent struct {
	Type       string    `json:"type"` // agreement.created, agreement.approved
	Agreement  Agreement `json:"agreement"`
	OccurredAt int64     `json:"occurredAt"`
}

const (
	EventAgreementCreated  = "agreement.created"
	EventAgreementApproved = "agreement.approved"
)
