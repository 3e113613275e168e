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

package store

import (
	"context"
	"time"

	"credit-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// ProcessTransactionParams contains the parameters for an atomic balance
// mutation plus its transaction record. Amount is signed.
type ProcessTransactionParams struct {
	UserId         string
	Amount         decimal.Decimal
	Type           models.TransactionType
	Source         models.TransactionSource
	CorrelationId  string
	IdempotencyKey string
	Metadata       models.TransactionMetadata
}

// CreateReservationParams atomically writes a reservation record and
// increments reserved_credits on the balance.
type CreateReservationParams struct {
	UserId        string
	Amount        decimal.Decimal
	CorrelationId string
	ExpiresAt     time.Time
}

// SettleReservationParams settles a reservation: the full held amount is
// always removed from reserved_credits; DeductAmount (zero for release and
// expiry) is additionally deducted from the current balance with a
// transaction record.
type SettleReservationParams struct {
	ReservationId string
	NewStatus     models.ReservationStatus
	DeductAmount  decimal.Decimal
	Metadata      models.TransactionMetadata
}

// TransactionQuery filters transaction history reads.
type TransactionQuery struct {
	UserId string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// CreditStore defines the contract the durable transactional store must
// satisfy. It is the single source of truth for balances, transactions,
// ledger entries and reservations.
type CreditStore interface {
	// --- Balances ---
	GetBalance(ctx context.Context, userId string) (*models.CreditBalance, error)
	CreateBalance(ctx context.Context, userId string, welcomeBonus decimal.Decimal) (*models.CreditBalance, *models.CreditTransaction, error)
	SetBalanceValue(ctx context.Context, userId string, balance decimal.Decimal, version int64) error
	MarkBalanceSynced(ctx context.Context, userId string, syncVersion int64, at time.Time) error
	SetBalanceHealth(ctx context.Context, userId string, health models.HealthStatus) error
	SampleUserIds(ctx context.Context, limit int) ([]string, error)
	AllUserIds(ctx context.Context) ([]string, error)

	// --- Transactions ---
	ProcessTransaction(ctx context.Context, params ProcessTransactionParams) (*models.CreditTransaction, error)
	RevertTransaction(ctx context.Context, transactionId string) error
	GetTransaction(ctx context.Context, transactionId string) (*models.CreditTransaction, error)
	GetTransactionHistory(ctx context.Context, query TransactionQuery) ([]models.CreditTransaction, error)
	SumConfirmedTransactions(ctx context.Context, userId string) (decimal.Decimal, error)

	// --- Ledger entries ---
	AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	LastLedgerEntry(ctx context.Context, userId string) (*models.LedgerEntry, error)
	LedgerEntries(ctx context.Context, userId string) ([]models.LedgerEntry, error)
	LedgerEntryByTransaction(ctx context.Context, transactionId string) (*models.LedgerEntry, error)
	BackupLedgerEntries(ctx context.Context, userId, backupId string) (int, error)
	ReplaceLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error

	// --- Reservations ---
	CreateReservation(ctx context.Context, params CreateReservationParams) (*models.CreditReservation, error)
	GetReservation(ctx context.Context, reservationId string) (*models.CreditReservation, error)
	GetActiveReservationByCorrelation(ctx context.Context, userId, correlationId string) (*models.CreditReservation, error)
	SettleReservation(ctx context.Context, params SettleReservationParams) (*models.CreditTransaction, error)
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.CreditReservation, error)

	// --- Pending operations ---
	PendingOperations(ctx context.Context, userId string) ([]models.PendingOperation, error)
	MarkPendingOperation(ctx context.Context, opId string, status models.PendingOperationStatus) error
	StalePendingOperations(ctx context.Context, userId string, olderThan time.Time) ([]models.PendingOperation, error)

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}

// BroadcastStore is the low-latency, best-effort mirror used for cached
// balances and real-time fan-out. Never authoritative; write failures must
// not fail the originating balance operation.
type BroadcastStore interface {
	Set(ctx context.Context, path string, value models.BroadcastBalance) error
	Get(ctx context.Context, path string) (*models.BroadcastBalance, error)
	// Subscribe registers onChange for updates under path and returns an
	// idempotent unsubscribe function.
	Subscribe(path string, onChange func(models.BroadcastBalance)) (unsubscribe func(), err error)
}

// BalancePath returns the broadcast-store path for a user's cached balance.
func BalancePath(userId string) string {
	return "balances/" + userId
}
