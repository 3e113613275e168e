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

import (
	"context"
	"fmt"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"database/sql"
)

// Compile-time check: *Service must satisfy store.CreditStore.
var _ store.CreditStore = (*Service)(nil)

// Service implements store.CreditStore backed by SQLite. It is the durable,
// authoritative store for balances, transactions, ledger entries and
// reservations.
type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceWithDB wraps an existing connection (used by tests with
// in-memory SQLite).
func NewServiceWithDB(db *sql.DB) (*Service, error) {
	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Service) initSchema() error {
	schema := `
	-- Credit Balances Table (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS credit_balances (
		user_id TEXT PRIMARY KEY,
		current_balance TEXT NOT NULL DEFAULT '0',
		reserved_credits TEXT NOT NULL DEFAULT '0',
		lifetime_earned TEXT NOT NULL DEFAULT '0',
		lifetime_spent TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'active',
		version INTEGER NOT NULL DEFAULT 1,
		sync_version INTEGER NOT NULL DEFAULT 0,
		last_sync_at TIMESTAMP,
		last_verified_balance TEXT NOT NULL DEFAULT '0',
		verification_hash TEXT NOT NULL DEFAULT '',
		health_status TEXT NOT NULL DEFAULT 'HEALTHY',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Credit Transactions Table (Audit Trail - Cold Data, immutable)
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'confirmed',
		correlation_id TEXT,
		idempotency_key TEXT,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON credit_transactions(user_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON credit_transactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_correlation ON credit_transactions(correlation_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON credit_transactions(idempotency_key) WHERE idempotency_key != '';

	-- Ledger Entries Table (append-only hash chain)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		block_index INTEGER NOT NULL,
		transaction_hash TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		signature TEXT NOT NULL,
		valid INTEGER NOT NULL DEFAULT 1,
		flagged_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, block_index)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_user_block ON ledger_entries(user_id, block_index);

	-- Ledger backup snapshots written before any chain repair
	CREATE TABLE IF NOT EXISTS ledger_entries_backup (
		backup_id TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		block_index INTEGER NOT NULL,
		transaction_hash TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		signature TEXT NOT NULL,
		valid INTEGER NOT NULL,
		flagged_reason TEXT NOT NULL,
		created_at TIMESTAMP,
		backed_up_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_backup_id ON ledger_entries_backup(backup_id);

	-- Credit Reservations (time-boxed holds)
	CREATE TABLE IF NOT EXISTS credit_reservations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		correlation_id TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_user ON credit_reservations(user_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_expiry ON credit_reservations(status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_reservations_correlation ON credit_reservations(user_id, correlation_id);

	-- Pending operations drained during sync
	CREATE TABLE IF NOT EXISTS pending_operations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		op_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pending_user ON pending_operations(user_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}
