package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"go.uber.org/zap"
)

func scanLedgerEntry(row balanceScanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var valid int
	err := row.Scan(&e.Id, &e.TransactionId, &e.UserId, &e.BlockIndex,
		&e.TransactionHash, &e.PreviousHash, &e.Signature, &valid,
		&e.FlaggedReason, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Valid = valid != 0
	return &e, nil
}

// AppendLedgerEntry writes one chain entry. The UNIQUE(user_id, block_index)
// and UNIQUE(transaction_id) constraints reject double-appends.
func (s *Service) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	valid := 0
	if entry.Valid {
		valid = 1
	}
	_, err := s.db.ExecContext(ctx, queryInsertLedgerEntry,
		entry.Id, entry.TransactionId, entry.UserId, entry.BlockIndex,
		entry.TransactionHash, entry.PreviousHash, entry.Signature,
		valid, entry.FlaggedReason, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// LastLedgerEntry returns the entry with the highest block index for a user,
// or a wrapped store.ErrNotFound for an empty chain.
func (s *Service) LastLedgerEntry(ctx context.Context, userId string) (*models.LedgerEntry, error) {
	entry, err := scanLedgerEntry(s.db.QueryRowContext(ctx, queryLastLedgerEntry, userId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: ledger entries for user %s", store.ErrNotFound, userId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last ledger entry: %w", err)
	}
	return entry, nil
}

// LedgerEntries returns a user's full chain in block-index order.
func (s *Service) LedgerEntries(ctx context.Context, userId string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryLedgerEntries, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return entries, nil
}

func (s *Service) LedgerEntryByTransaction(ctx context.Context, transactionId string) (*models.LedgerEntry, error) {
	entry, err := scanLedgerEntry(s.db.QueryRowContext(ctx, queryLedgerEntryByTransaction, transactionId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: ledger entry for transaction %s", store.ErrNotFound, transactionId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

// BackupLedgerEntries snapshots a user's entire chain into the backup table
// under backupId, returning the number of rows copied.
func (s *Service) BackupLedgerEntries(ctx context.Context, userId, backupId string) (int, error) {
	result, err := s.db.ExecContext(ctx, queryBackupLedgerEntries, backupId, time.Now().UTC(), userId)
	if err != nil {
		return 0, fmt.Errorf("failed to back up ledger entries: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check backup rows: %w", err)
	}

	zap.L().Info("Ledger chain backed up",
		zap.String("user_id", userId),
		zap.String("backup_id", backupId),
		zap.Int64("entries", rowsAffected))
	return int(rowsAffected), nil
}

// ReplaceLedgerEntry rewrites the mutable fields of one entry. Only chain
// repair may call this, and only after BackupLedgerEntries succeeded.
func (s *Service) ReplaceLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	valid := 0
	if entry.Valid {
		valid = 1
	}
	result, err := s.db.ExecContext(ctx, queryReplaceLedgerEntry,
		entry.TransactionHash, entry.PreviousHash, entry.Signature,
		valid, entry.FlaggedReason, entry.Id)
	if err != nil {
		return fmt.Errorf("failed to replace ledger entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: ledger entry %s", store.ErrNotFound, entry.Id)
	}
	return nil
}
