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

package database

const (
	schemaAgreements = `
	-- Mirror of every escrow agreement known to the ledger
	CREATE TABLE IF NOT EXISTS agreements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL UNIQUE COLLATE NOCASE,
		arbiter TEXT NOT NULL,
		beneficiary TEXT NOT NULL,
		depositor TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		approved_at INTEGER,
		is_approved BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Lookup of pending agreements for reconciliation
	CREATE INDEX IF NOT EXISTS idx_agreements_is_approved ON agreements(is_approved);
	`

	queryListAgreements = `
		SELECT address, arbiter, beneficiary, depositor, value, started_at, approved_at, is_approved
		FROM agreements
		ORDER BY seq`

	queryGetAgreement = `
		SELECT address, arbiter, beneficiary, depositor, value, started_at, approved_at, is_approved
		FROM agreements
		WHERE address = ?`

	queryCheckDuplicateAgreement = `
		SELECT seq FROM agreements WHERE address = ? LIMIT 1`

	queryInsertAgreement = `
		INSERT INTO agreements (address, arbiter, beneficiary, depositor, value, started_at, approved_at, is_approved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryApproveAgreement = `
		UPDATE agreements
		SET is_approved = 1, approved_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE address = ? AND is_approved = 0`
)
