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
	// Balance queries
	queryGetBalance = `
		SELECT user_id, current_balance, reserved_credits, lifetime_earned, lifetime_spent,
		       status, version, sync_version, last_sync_at, last_verified_balance,
		       verification_hash, health_status, updated_at
		FROM credit_balances
		WHERE user_id = ?`

	queryInsertBalance = `
		INSERT INTO credit_balances
			(user_id, current_balance, reserved_credits, lifetime_earned, lifetime_spent,
			 status, version, sync_version, last_sync_at, last_verified_balance,
			 verification_hash, health_status, updated_at)
		VALUES (?, ?, '0', ?, '0', ?, 1, 0, ?, ?, '', ?, ?)`

	queryUpdateBalance = `
		UPDATE credit_balances
		SET current_balance = ?, reserved_credits = ?, lifetime_earned = ?, lifetime_spent = ?,
		    version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`

	querySetBalanceValue = `
		UPDATE credit_balances
		SET current_balance = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`

	queryMarkBalanceSynced = `
		UPDATE credit_balances
		SET sync_version = ?, last_sync_at = ?
		WHERE user_id = ?`

	querySetBalanceHealth = `
		UPDATE credit_balances
		SET health_status = ?
		WHERE user_id = ?`

	querySampleUserIds = `
		SELECT user_id FROM credit_balances ORDER BY RANDOM() LIMIT ?`

	queryAllUserIds = `
		SELECT user_id FROM credit_balances ORDER BY user_id`

	// Transaction queries
	queryInsertTransaction = `
		INSERT INTO credit_transactions
			(id, user_id, amount, balance_before, balance_after, transaction_type,
			 source, status, correlation_id, idempotency_key, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTransaction = `
		SELECT id, user_id, amount, balance_before, balance_after, transaction_type,
		       source, status, correlation_id, idempotency_key, metadata, created_at
		FROM credit_transactions
		WHERE id = ?`

	queryCheckIdempotencyKey = `
		SELECT id FROM credit_transactions WHERE idempotency_key = ?`

	queryMarkTransactionStatus = `
		UPDATE credit_transactions SET status = ? WHERE id = ?`

	queryTransactionHistory = `
		SELECT id, user_id, amount, balance_before, balance_after, transaction_type,
		       source, status, correlation_id, idempotency_key, metadata, created_at
		FROM credit_transactions
		WHERE user_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryConfirmedTransactionAmounts = `
		SELECT amount
		FROM credit_transactions
		WHERE user_id = ? AND status = 'confirmed'`

	// Ledger queries
	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries
			(id, transaction_id, user_id, block_index, transaction_hash, previous_hash,
			 signature, valid, flagged_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryLastLedgerEntry = `
		SELECT id, transaction_id, user_id, block_index, transaction_hash, previous_hash,
		       signature, valid, flagged_reason, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY block_index DESC
		LIMIT 1`

	queryLedgerEntries = `
		SELECT id, transaction_id, user_id, block_index, transaction_hash, previous_hash,
		       signature, valid, flagged_reason, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY block_index ASC`

	queryLedgerEntryByTransaction = `
		SELECT id, transaction_id, user_id, block_index, transaction_hash, previous_hash,
		       signature, valid, flagged_reason, created_at
		FROM ledger_entries
		WHERE transaction_id = ?`

	queryBackupLedgerEntries = `
		INSERT INTO ledger_entries_backup
			(backup_id, entry_id, transaction_id, user_id, block_index, transaction_hash,
			 previous_hash, signature, valid, flagged_reason, created_at, backed_up_at)
		SELECT ?, id, transaction_id, user_id, block_index, transaction_hash,
		       previous_hash, signature, valid, flagged_reason, created_at, ?
		FROM ledger_entries
		WHERE user_id = ?`

	queryReplaceLedgerEntry = `
		UPDATE ledger_entries
		SET transaction_hash = ?, previous_hash = ?, signature = ?, valid = ?, flagged_reason = ?
		WHERE id = ?`

	// Reservation queries
	queryInsertReservation = `
		INSERT INTO credit_reservations
			(id, user_id, amount, correlation_id, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryGetReservation = `
		SELECT id, user_id, amount, correlation_id, status, created_at, expires_at
		FROM credit_reservations
		WHERE id = ?`

	queryGetActiveReservationByCorrelation = `
		SELECT id, user_id, amount, correlation_id, status, created_at, expires_at
		FROM credit_reservations
		WHERE user_id = ? AND correlation_id = ? AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1`

	queryUpdateReservationStatus = `
		UPDATE credit_reservations
		SET status = ?
		WHERE id = ? AND status = 'active'`

	queryExpiredReservations = `
		SELECT id, user_id, amount, correlation_id, status, created_at, expires_at
		FROM credit_reservations
		WHERE status = 'active' AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?`

	// Pending operation queries
	queryPendingOperations = `
		SELECT id, user_id, op_type, amount, status, created_at
		FROM pending_operations
		WHERE user_id = ? AND status = 'queued'
		ORDER BY created_at ASC`

	queryMarkPendingOperation = `
		UPDATE pending_operations SET status = ? WHERE id = ?`

	queryStalePendingOperations = `
		SELECT id, user_id, op_type, amount, status, created_at
		FROM pending_operations
		WHERE user_id = ? AND status = 'queued' AND created_at < ?
		ORDER BY created_at ASC`
)
