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
	"fmt"
	"sync"
	"time"

	"credit-ledger-go/internal/cryptoutil"
	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes chain recording and integrity checks.
type Config struct {
	SigningKey       []byte
	MaxTimestampSkew time.Duration
}

// Service owns ledger-entry creation: every credit transaction is appended
// to the user's hash-linked chain, signed with the injected key. The chain
// is append-only; only RepairHashChain rewrites entries, and only after a
// backup snapshot.
type Service struct {
	store store.CreditStore
	cfg   Config

	mu          sync.RWMutex
	lastReports map[string]*models.AuditReport // cached, never authoritative
}

func NewService(creditStore store.CreditStore, cfg Config) (*Service, error) {
	if creditStore == nil {
		return nil, fmt.Errorf("credit store is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}
	if cfg.MaxTimestampSkew <= 0 {
		cfg.MaxTimestampSkew = 60 * time.Second
	}
	return &Service{
		store:       creditStore,
		cfg:         cfg,
		lastReports: make(map[string]*models.AuditReport),
	}, nil
}

// RecordTransaction appends a transaction to its user's chain. The existing
// chain is re-validated first: a broken chain is never extended, it must be
// repaired explicitly.
func (s *Service) RecordTransaction(ctx context.Context, tx *models.CreditTransaction) (*models.LedgerEntry, error) {
	if tx == nil || tx.Id == "" {
		return nil, &store.ValidationError{Field: "transaction", Detail: "must not be empty"}
	}

	previousHash := models.GenesisPreviousHash
	var blockIndex int64

	last, err := s.store.LastLedgerEntry(ctx, tx.UserId)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First entry for this user; nothing to validate.
	case err != nil:
		return nil, err
	default:
		validation, err := s.ValidateHashChain(ctx, tx.UserId)
		if err != nil {
			return nil, err
		}
		if !validation.IsValid {
			return nil, &store.ChainIntegrityError{
				UserId:     tx.UserId,
				BlockIndex: validation.BrokenAt,
				Detail:     "refusing to extend a broken chain",
			}
		}
		previousHash = last.TransactionHash
		blockIndex = last.BlockIndex + 1
	}

	signature, err := cryptoutil.Sign(tx, s.cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction %s: %w", tx.Id, err)
	}

	entry := &models.LedgerEntry{
		Id:              uuid.New().String(),
		TransactionId:   tx.Id,
		UserId:          tx.UserId,
		BlockIndex:      blockIndex,
		TransactionHash: cryptoutil.ChainHash(tx, previousHash),
		PreviousHash:    previousHash,
		Signature:       signature,
		Valid:           true,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.store.AppendLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}

	zap.L().Info("Ledger entry recorded",
		zap.String("user_id", tx.UserId),
		zap.String("transaction_id", tx.Id),
		zap.Int64("block_index", blockIndex))
	return entry, nil
}

// ValidateHashChain walks a user's entries in block-index order and collects
// every violation: broken previous-hash links, block-index gaps, and stored
// hashes that no longer match the referenced transaction. Violations are
// reported, never silently fixed.
func (s *Service) ValidateHashChain(ctx context.Context, userId string) (*models.ChainValidationResult, error) {
	entries, err := s.store.LedgerEntries(ctx, userId)
	if err != nil {
		return nil, err
	}

	result := &models.ChainValidationResult{
		UserId:            userId,
		IsValid:           true,
		TotalTransactions: len(entries),
		BrokenAt:          -1,
		ValidatedAt:       time.Now().UTC(),
	}

	expectedPrevious := models.GenesisPreviousHash
	lastValidHash := ""
	var expectedIndex int64

	for i := range entries {
		entry := &entries[i]
		entryBroken := false

		if i == 0 && entry.PreviousHash != models.GenesisPreviousHash {
			result.Errors = append(result.Errors, models.ChainError{
				Code:       models.ChainErrGenesisMismatch,
				BlockIndex: entry.BlockIndex,
				EntryId:    entry.Id,
				Detail:     fmt.Sprintf("first entry previous hash is %q, want %q", entry.PreviousHash, models.GenesisPreviousHash),
			})
			entryBroken = true
		}

		if i == 0 {
			expectedIndex = entry.BlockIndex
		}
		if entry.BlockIndex != expectedIndex {
			result.Errors = append(result.Errors, models.ChainError{
				Code:       models.ChainErrBrokenChain,
				BlockIndex: entry.BlockIndex,
				EntryId:    entry.Id,
				Detail:     fmt.Sprintf("block index gap: got %d, want %d", entry.BlockIndex, expectedIndex),
			})
			entryBroken = true
			expectedIndex = entry.BlockIndex
		}

		if i > 0 && entry.PreviousHash != expectedPrevious {
			result.Errors = append(result.Errors, models.ChainError{
				Code:       models.ChainErrBrokenChain,
				BlockIndex: entry.BlockIndex,
				EntryId:    entry.Id,
				Detail:     "previous hash does not match prior entry",
			})
			entryBroken = true
		}

		tx, err := s.store.GetTransaction(ctx, entry.TransactionId)
		if errors.Is(err, store.ErrNotFound) {
			result.Errors = append(result.Errors, models.ChainError{
				Code:       models.ChainErrMissingSource,
				BlockIndex: entry.BlockIndex,
				EntryId:    entry.Id,
				Detail:     fmt.Sprintf("source transaction %s is missing", entry.TransactionId),
			})
			entryBroken = true
		} else if err != nil {
			return nil, err
		} else if cryptoutil.ChainHash(tx, entry.PreviousHash) != entry.TransactionHash {
			result.Errors = append(result.Errors, models.ChainError{
				Code:       models.ChainErrHashMismatch,
				BlockIndex: entry.BlockIndex,
				EntryId:    entry.Id,
				Detail:     "stored hash does not match recomputed transaction hash",
			})
			entryBroken = true
		}

		if entryBroken {
			if result.BrokenAt == -1 {
				result.BrokenAt = entry.BlockIndex
				result.LastValidHash = lastValidHash
			}
		} else if result.BrokenAt == -1 {
			lastValidHash = entry.TransactionHash
		}

		expectedPrevious = entry.TransactionHash
		expectedIndex++
	}

	if len(result.Errors) > 0 {
		result.IsValid = false
	}
	if result.IsValid {
		result.LastValidHash = lastValidHash
	}
	return result, nil
}

// ValidateTransactionIntegrity checks one transaction against its ledger
// entry: hash match, signature validity, and recording-latency skew (flagged
// but not fatal beyond the configured threshold).
func (s *Service) ValidateTransactionIntegrity(ctx context.Context, transactionId string) (*models.IntegrityResult, error) {
	tx, err := s.store.GetTransaction(ctx, transactionId)
	if err != nil {
		return nil, err
	}

	result := &models.IntegrityResult{TransactionId: transactionId, IsValid: true}

	entry, err := s.store.LedgerEntryByTransaction(ctx, transactionId)
	if errors.Is(err, store.ErrNotFound) {
		result.IsValid = false
		result.Issues = append(result.Issues, models.IntegrityIssue{
			Code:   models.IntegrityNoLedgerEntry,
			Fatal:  true,
			Detail: "transaction has no ledger entry",
		})
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	if cryptoutil.ChainHash(tx, entry.PreviousHash) != entry.TransactionHash {
		result.IsValid = false
		result.Issues = append(result.Issues, models.IntegrityIssue{
			Code:   models.IntegrityHashMismatch,
			Fatal:  true,
			Detail: "stored hash does not match recomputed transaction hash",
		})
	}

	if !cryptoutil.VerifySignature(tx, entry.Signature, s.cfg.SigningKey) {
		result.IsValid = false
		result.Issues = append(result.Issues, models.IntegrityIssue{
			Code:   models.IntegrityBadSignature,
			Fatal:  true,
			Detail: "signature does not verify under the configured key",
		})
	}

	skew := entry.CreatedAt.Sub(tx.CreatedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > s.cfg.MaxTimestampSkew {
		result.Issues = append(result.Issues, models.IntegrityIssue{
			Code:   models.IntegrityTimestampSkew,
			Fatal:  false,
			Detail: fmt.Sprintf("ledger entry recorded %s after transaction", skew),
		})
	}

	return result, nil
}
