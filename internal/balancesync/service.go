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

package balancesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// revertRetryLimit bounds version-conflict retries when compensating a
// transaction whose ledger write failed.
const revertRetryLimit = 3

// Recorder appends a transaction to the hash-linked ledger.
type Recorder interface {
	RecordTransaction(ctx context.Context, tx *models.CreditTransaction) (*models.LedgerEntry, error)
}

// Config tunes reconciliation between the durable and broadcast stores.
type Config struct {
	Strategy           models.ConflictStrategy
	Epsilon            decimal.Decimal
	BatchSize          int
	ReservationTimeout time.Duration
	StalePendingAge    time.Duration
	HealthSampleSize   int
	TopUpOptions       []models.TopUpOption
}

// Service keeps the durable store and the broadcast mirror consistent. The
// durable store is authoritative; broadcast writes are best effort and their
// failures are collected, never fatal.
type Service struct {
	store     store.CreditStore
	broadcast store.BroadcastStore
	recorder  Recorder
	cfg       Config

	userLocks sync.Map // userId -> *sync.Mutex
}

func NewService(creditStore store.CreditStore, broadcastStore store.BroadcastStore, recorder Recorder, cfg Config) (*Service, error) {
	if creditStore == nil {
		return nil, fmt.Errorf("credit store is required")
	}
	if broadcastStore == nil {
		return nil, fmt.Errorf("broadcast store is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("ledger recorder is required")
	}
	if cfg.Strategy == "" {
		cfg.Strategy = models.StrategyDurableWins
	}
	switch cfg.Strategy {
	case models.StrategyDurableWins, models.StrategyBroadcastWins, models.StrategyLatestTimestamp:
	default:
		return nil, fmt.Errorf("unknown conflict strategy %q", cfg.Strategy)
	}
	if cfg.Epsilon.IsZero() {
		cfg.Epsilon = decimal.NewFromFloat(0.01)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.ReservationTimeout <= 0 {
		cfg.ReservationTimeout = 5 * time.Minute
	}
	if cfg.StalePendingAge <= 0 {
		cfg.StalePendingAge = 10 * time.Minute
	}
	if cfg.HealthSampleSize <= 0 {
		cfg.HealthSampleSize = 25
	}
	return &Service{
		store:     creditStore,
		broadcast: broadcastStore,
		recorder:  recorder,
		cfg:       cfg,
	}, nil
}

// SyncBalance reconciles one user: resolves any durable/broadcast conflict
// under the configured strategy, drains queued pending operations, bumps the
// sync version and refreshes the broadcast mirror. Broadcast failures are
// reported in the result, not returned as errors.
func (s *Service) SyncBalance(ctx context.Context, userId string) (*models.SyncResult, error) {
	if userId == "" {
		return nil, &store.ValidationError{Field: "userId", Detail: "must not be empty"}
	}
	defer s.lockUser(userId)()

	result := &models.SyncResult{
		UserId:   userId,
		Strategy: s.cfg.Strategy,
		SyncedAt: time.Now().UTC(),
	}

	durable, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}

	cached, err := s.broadcast.Get(ctx, store.BalancePath(userId))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		result.Errors = append(result.Errors, models.SyncError{
			Kind: models.SyncErrBroadcastRead, UserId: userId, Detail: err.Error(),
		})
		cached = nil
	}

	if cached != nil {
		diff := durable.CurrentBalance.Sub(cached.CurrentBalance).Abs()
		if diff.GreaterThan(s.cfg.Epsilon) {
			if err := s.resolveConflict(ctx, durable, cached); err != nil {
				result.Errors = append(result.Errors, models.SyncError{
					Kind: models.SyncErrDurableWrite, UserId: userId, Detail: err.Error(),
				})
			} else {
				result.ConflictsResolved++
				syncConflictsResolved.Inc()
			}
			// Re-read: conflict resolution may have moved the durable value.
			if durable, err = s.store.GetBalance(ctx, userId); err != nil {
				return nil, err
			}
		}
	}

	processed, opErrors := s.drainPendingOperations(ctx, userId)
	result.OperationsProcessed = processed
	result.Errors = append(result.Errors, opErrors...)
	if processed > 0 {
		if durable, err = s.store.GetBalance(ctx, userId); err != nil {
			return nil, err
		}
	}

	if err := s.store.MarkBalanceSynced(ctx, userId, durable.SyncVersion+1, result.SyncedAt); err != nil {
		return nil, err
	}
	durable.SyncVersion++

	if err := s.BroadcastBalanceUpdate(ctx, durable); err != nil {
		result.Errors = append(result.Errors, models.SyncError{
			Kind: models.SyncErrBroadcastWrite, UserId: userId, Detail: err.Error(),
		})
	}

	result.ResolvedBalance = durable.CurrentBalance
	zap.L().Debug("Balance synced",
		zap.String("user_id", userId),
		zap.Int("conflicts_resolved", result.ConflictsResolved),
		zap.Int("operations_processed", result.OperationsProcessed),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// lockUser serializes syncs for one user. Syncs for different users never
// share a lock, so a batch sweep reconciles users in parallel.
func (s *Service) lockUser(userId string) func() {
	value, _ := s.userLocks.LoadOrStore(userId, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// resolveConflict applies the configured strategy. DURABLE_WINS only refreshes
// the mirror (done by the caller); the other strategies may write the durable
// store through its version check.
func (s *Service) resolveConflict(ctx context.Context, durable *models.CreditBalance, cached *models.BroadcastBalance) error {
	winner := s.cfg.Strategy
	if winner == models.StrategyLatestTimestamp {
		if cached.UpdatedAt.After(durable.UpdatedAt) {
			winner = models.StrategyBroadcastWins
		} else {
			winner = models.StrategyDurableWins
		}
	}

	zap.L().Warn("Balance conflict detected",
		zap.String("user_id", durable.UserId),
		zap.String("durable", durable.CurrentBalance.String()),
		zap.String("broadcast", cached.CurrentBalance.String()),
		zap.String("strategy", string(s.cfg.Strategy)))

	if winner == models.StrategyDurableWins {
		return nil
	}
	return s.store.SetBalanceValue(ctx, durable.UserId, cached.CurrentBalance, durable.Version)
}

// drainPendingOperations applies queued deferred adjustments as real
// transactions. Each operation carries an idempotency key derived from its
// id, so a crashed pass can be repeated safely. Failures are isolated per
// operation.
func (s *Service) drainPendingOperations(ctx context.Context, userId string) (int, []models.SyncError) {
	ops, err := s.store.PendingOperations(ctx, userId)
	if err != nil {
		return 0, []models.SyncError{{Kind: models.SyncErrPendingOp, UserId: userId, Detail: err.Error()}}
	}

	var processed int
	var syncErrors []models.SyncError
	for i := range ops {
		op := &ops[i]
		tx, err := s.store.ProcessTransaction(ctx, store.ProcessTransactionParams{
			UserId:         userId,
			Amount:         op.Amount,
			Type:           models.TxAdjustment,
			Source:         models.SourceSystem,
			IdempotencyKey: "pending-op:" + op.Id,
			Metadata: models.TransactionMetadata{
				Kind:       models.MetaAdjustment,
				Adjustment: &models.AdjustmentMeta{Reason: "deferred " + op.OpType, Operator: "sync"},
			},
		})
		switch {
		case errors.Is(err, store.ErrDuplicateTransaction):
			// Applied by an earlier pass that crashed before the mark.
		case err != nil:
			syncErrors = append(syncErrors, models.SyncError{
				Kind: models.SyncErrPendingOp, UserId: userId, Detail: fmt.Sprintf("operation %s: %v", op.Id, err),
			})
			if markErr := s.store.MarkPendingOperation(ctx, op.Id, models.PendingOpFailed); markErr != nil {
				zap.L().Error("Failed to mark pending operation failed",
					zap.String("op_id", op.Id), zap.Error(markErr))
			}
			continue
		default:
			if err := s.recordWithRevert(ctx, tx); err != nil {
				syncErrors = append(syncErrors, models.SyncError{
					Kind: models.SyncErrPendingOp, UserId: userId, Detail: fmt.Sprintf("operation %s: %v", op.Id, err),
				})
				continue
			}
		}
		if err := s.store.MarkPendingOperation(ctx, op.Id, models.PendingOpProcessed); err != nil {
			syncErrors = append(syncErrors, models.SyncError{
				Kind: models.SyncErrPendingOp, UserId: userId, Detail: fmt.Sprintf("operation %s: %v", op.Id, err),
			})
			continue
		}
		processed++
	}
	return processed, syncErrors
}

// SyncAllBalances sweeps every user in bounded parallel batches. One user's
// failure never aborts the sweep.
func (s *Service) SyncAllBalances(ctx context.Context) (*models.BatchSyncResult, error) {
	userIds, err := s.store.AllUserIds(ctx)
	if err != nil {
		return nil, err
	}

	batch := &models.BatchSyncResult{}
	var batchMu sync.Mutex

	for start := 0; start < len(userIds); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(userIds) {
			end = len(userIds)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for _, userId := range userIds[start:end] {
			userId := userId
			group.Go(func() error {
				result, err := s.SyncBalance(groupCtx, userId)
				batchMu.Lock()
				defer batchMu.Unlock()
				if err != nil {
					batch.UsersFailed++
					batch.Errors = append(batch.Errors, models.SyncError{
						Kind: models.SyncErrDurableWrite, UserId: userId, Detail: err.Error(),
					})
					syncFailures.Inc()
					return nil
				}
				batch.UsersProcessed++
				batch.ConflictsResolved += result.ConflictsResolved
				batch.Errors = append(batch.Errors, result.Errors...)
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return batch, err
		}
		if ctx.Err() != nil {
			return batch, ctx.Err()
		}
	}

	zap.L().Info("Batch balance sync complete",
		zap.Int("users_processed", batch.UsersProcessed),
		zap.Int("users_failed", batch.UsersFailed),
		zap.Int("conflicts_resolved", batch.ConflictsResolved))
	return batch, nil
}

// BroadcastBalanceUpdate mirrors a durable balance into the broadcast store,
// notifying live subscribers.
func (s *Service) BroadcastBalanceUpdate(ctx context.Context, balance *models.CreditBalance) error {
	return s.broadcast.Set(ctx, store.BalancePath(balance.UserId), models.BroadcastBalance{
		UserId:           balance.UserId,
		CurrentBalance:   balance.CurrentBalance,
		ReservedCredits:  balance.ReservedCredits,
		AvailableBalance: balance.AvailableBalance(),
		SyncVersion:      balance.SyncVersion,
		UpdatedAt:        time.Now().UTC(),
	})
}

// SubscribeToBalanceChanges registers onChange for one user's live balance
// updates and returns an idempotent unsubscribe function.
func (s *Service) SubscribeToBalanceChanges(userId string, onChange func(models.BroadcastBalance)) (func(), error) {
	if userId == "" {
		return nil, &store.ValidationError{Field: "userId", Detail: "must not be empty"}
	}
	return s.broadcast.Subscribe(store.BalancePath(userId), onChange)
}

func (s *Service) recordWithRevert(ctx context.Context, tx *models.CreditTransaction) error {
	if _, err := s.recorder.RecordTransaction(ctx, tx); err != nil {
		s.revertWithRetry(ctx, tx.Id)
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

// revertWithRetry compensates a committed transaction after a ledger
// failure, retrying bounded version conflicts like the forward path does.
func (s *Service) revertWithRetry(ctx context.Context, transactionId string) {
	var err error
	for attempt := 0; attempt < revertRetryLimit; attempt++ {
		if err = s.store.RevertTransaction(ctx, transactionId); err == nil {
			return
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			break
		}
		zap.L().Debug("Version conflict reverting transaction, retrying",
			zap.String("transaction_id", transactionId), zap.Int("attempt", attempt+1))
	}
	zap.L().Error("Failed to revert transaction after ledger failure",
		zap.String("transaction_id", transactionId), zap.Error(err))
}
