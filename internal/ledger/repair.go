package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-ledger-go/internal/cryptoutil"
	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RepairHashChain recomputes hashes and signatures forward from the repair
// point using the original transaction data. A backup snapshot of the whole
// chain is taken first and is not optional: if the backup fails, the repair
// does not run. Entries whose source transaction is missing cannot be
// repaired and are reported as such.
//
// fromTransactionId optionally narrows the repair start; empty means the
// full chain.
func (s *Service) RepairHashChain(ctx context.Context, userId, fromTransactionId string) (*models.RepairResult, error) {
	entries, err := s.store.LedgerEntries(ctx, userId)
	if err != nil {
		return nil, err
	}

	result := &models.RepairResult{
		UserId:   userId,
		BackupId: uuid.New().String(),
	}
	if len(entries) == 0 {
		result.BackupSucceeded = true
		return result, nil
	}

	if _, err := s.store.BackupLedgerEntries(ctx, userId, result.BackupId); err != nil {
		return nil, fmt.Errorf("refusing to repair without backup: %w", err)
	}
	result.BackupSucceeded = true

	startIdx := 0
	if fromTransactionId != "" {
		startIdx = -1
		for i := range entries {
			if entries[i].TransactionId == fromTransactionId {
				startIdx = i
				break
			}
		}
		if startIdx == -1 {
			return nil, fmt.Errorf("%w: transaction %s in chain for user %s", store.ErrNotFound, fromTransactionId, userId)
		}
	}

	previousHash := models.GenesisPreviousHash
	if startIdx > 0 {
		previousHash = entries[startIdx-1].TransactionHash
	}

	zap.L().Warn("Repairing ledger chain",
		zap.String("user_id", userId),
		zap.String("backup_id", result.BackupId),
		zap.Int("from_index", startIdx),
		zap.Int("total_entries", len(entries)))

	for i := startIdx; i < len(entries); i++ {
		entry := entries[i]

		tx, err := s.store.GetTransaction(ctx, entry.TransactionId)
		if errors.Is(err, store.ErrNotFound) {
			result.Unrepairable = append(result.Unrepairable, entry.Id)
			entry.Valid = false
			entry.FlaggedReason = "source transaction missing, cannot recompute hash"
			if replaceErr := s.store.ReplaceLedgerEntry(ctx, &entry); replaceErr != nil {
				return result, replaceErr
			}
			// Downstream entries chain from the stored hash of the
			// unrepairable entry.
			previousHash = entry.TransactionHash
			continue
		}
		if err != nil {
			return result, err
		}

		newHash := cryptoutil.ChainHash(tx, previousHash)
		newSignature, err := cryptoutil.Sign(tx, s.cfg.SigningKey)
		if err != nil {
			return result, fmt.Errorf("failed to re-sign transaction %s: %w", tx.Id, err)
		}

		if entry.TransactionHash != newHash || entry.PreviousHash != previousHash ||
			entry.Signature != newSignature || !entry.Valid {
			entry.TransactionHash = newHash
			entry.PreviousHash = previousHash
			entry.Signature = newSignature
			entry.Valid = true
			entry.FlaggedReason = ""
			if err := s.store.ReplaceLedgerEntry(ctx, &entry); err != nil {
				return result, err
			}
			result.EntriesRepaired++
		}
		previousHash = newHash
	}

	zap.L().Info("Ledger chain repair complete",
		zap.String("user_id", userId),
		zap.String("backup_id", result.BackupId),
		zap.Int("entries_repaired", result.EntriesRepaired),
		zap.Int("unrepairable", len(result.Unrepairable)))
	return result, nil
}

// lastRepairWindow bounds how far back GenerateAuditReport looks when the
// caller passes a zero time range.
const defaultAuditWindow = 30 * 24 * time.Hour
