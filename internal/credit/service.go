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

package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Recorder appends a transaction to the hash-linked ledger. Implemented by
// the ledger service; injected so no hidden dependency is constructed here.
type Recorder interface {
	RecordTransaction(ctx context.Context, tx *models.CreditTransaction) (*models.LedgerEntry, error)
}

// Config tunes the credit service.
type Config struct {
	WelcomeBonus          decimal.Decimal
	ReservationTimeout    time.Duration
	ConcurrentRetryLimit  int
	LedgerWriteRetryLimit int
}

// Service owns canonical balance mutation. Every write is an atomic
// version-checked read-modify-write against the durable store; version
// conflicts are retried internally a bounded number of times.
type Service struct {
	store    store.CreditStore
	recorder Recorder
	cfg      Config
}

func NewService(creditStore store.CreditStore, recorder Recorder, cfg Config) (*Service, error) {
	if creditStore == nil {
		return nil, fmt.Errorf("credit store is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("ledger recorder is required")
	}
	if cfg.ConcurrentRetryLimit <= 0 {
		cfg.ConcurrentRetryLimit = 3
	}
	if cfg.LedgerWriteRetryLimit <= 0 {
		cfg.LedgerWriteRetryLimit = 2
	}
	if cfg.ReservationTimeout <= 0 {
		cfg.ReservationTimeout = 5 * time.Minute
	}
	return &Service{store: creditStore, recorder: recorder, cfg: cfg}, nil
}

// GetBalance returns the user's balance, creating it with the configured
// welcome bonus on first read. The welcome-bonus transaction is recorded to
// the ledger like any other movement.
func (s *Service) GetBalance(ctx context.Context, userId string) (*models.CreditBalance, error) {
	if userId == "" {
		return nil, &store.ValidationError{Field: "userId", Detail: "must not be empty"}
	}

	balance, err := s.store.GetBalance(ctx, userId)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	balance, welcomeTx, err := s.store.CreateBalance(ctx, userId, s.cfg.WelcomeBonus)
	if err != nil {
		return nil, err
	}
	if err := s.recordWithRetry(ctx, welcomeTx); err != nil {
		// The ledger must not silently miss a movement; undo the grant.
		s.revertWithRetry(ctx, welcomeTx.Id)
		return nil, fmt.Errorf("failed to record welcome bonus: %w", err)
	}
	return balance, nil
}

// ValidateBalance reports whether the user's available balance covers
// amount.
func (s *Service) ValidateBalance(ctx context.Context, userId string, amount decimal.Decimal) (bool, error) {
	balance, err := s.GetBalance(ctx, userId)
	if err != nil {
		return false, err
	}
	return balance.AvailableBalance().GreaterThanOrEqual(amount), nil
}

// AddCredits credits the user and records the transaction. Amount must be
// positive.
func (s *Service) AddCredits(ctx context.Context, userId string, amount decimal.Decimal, source models.TransactionSource, txType models.TransactionType, metadata models.TransactionMetadata) (*models.CreditTransaction, error) {
	if !amount.IsPositive() {
		return nil, &store.ValidationError{Field: "amount", Detail: "must be positive"}
	}
	if _, err := s.GetBalance(ctx, userId); err != nil {
		return nil, err
	}
	return s.mutate(ctx, store.ProcessTransactionParams{
		UserId:   userId,
		Amount:   amount,
		Type:     txType,
		Source:   source,
		Metadata: metadata,
	})
}

// DeductCredits debits the user. Fails with an insufficient-credits error
// when the available balance does not cover amount; in that case no
// transaction and no ledger entry are created.
func (s *Service) DeductCredits(ctx context.Context, userId string, amount decimal.Decimal, correlationId string, metadata models.TransactionMetadata) (*models.CreditTransaction, error) {
	if !amount.IsPositive() {
		return nil, &store.ValidationError{Field: "amount", Detail: "must be positive"}
	}
	balance, err := s.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}
	if balance.AvailableBalance().LessThan(amount) {
		return nil, &store.InsufficientCreditsError{
			UserId:    userId,
			Required:  amount,
			Available: balance.AvailableBalance(),
		}
	}
	return s.mutate(ctx, store.ProcessTransactionParams{
		UserId:        userId,
		Amount:        amount.Neg(),
		Type:          models.TxInteraction,
		Source:        models.SourceInteraction,
		CorrelationId: correlationId,
		Metadata:      metadata,
	})
}

// ReserveCredits places a correlation-scoped hold. This is the simpler
// reservation path: callers that need reservation-id handles and cross-store
// guarantees use the sync service, but both paths share the same underlying
// reservation records so reserved credits have one source of truth.
func (s *Service) ReserveCredits(ctx context.Context, userId string, amount decimal.Decimal, correlationId string) (*models.CreditReservation, error) {
	if correlationId == "" {
		return nil, &store.ValidationError{Field: "correlationId", Detail: "must not be empty"}
	}
	if _, err := s.GetBalance(ctx, userId); err != nil {
		return nil, err
	}
	return s.store.CreateReservation(ctx, store.CreateReservationParams{
		UserId:        userId,
		Amount:        amount,
		CorrelationId: correlationId,
		ExpiresAt:     time.Now().UTC().Add(s.cfg.ReservationTimeout),
	})
}

// ReleaseReservedCredits fully returns the hold identified by correlation
// id.
func (s *Service) ReleaseReservedCredits(ctx context.Context, userId, correlationId string) error {
	reservation, err := s.store.GetActiveReservationByCorrelation(ctx, userId, correlationId)
	if err != nil {
		return err
	}
	_, err = s.store.SettleReservation(ctx, store.SettleReservationParams{
		ReservationId: reservation.Id,
		NewStatus:     models.ReservationReleased,
	})
	return err
}

// ConfirmReservedCredits converts the correlation-scoped hold into a real
// deduction of actualAmount (which must not exceed the reserved amount); the
// unused remainder is refunded implicitly. The settlement transaction is
// recorded to the ledger.
func (s *Service) ConfirmReservedCredits(ctx context.Context, userId, correlationId string, actualAmount decimal.Decimal) (*models.CreditTransaction, error) {
	reservation, err := s.store.GetActiveReservationByCorrelation(ctx, userId, correlationId)
	if err != nil {
		return nil, err
	}

	transaction, err := s.store.SettleReservation(ctx, store.SettleReservationParams{
		ReservationId: reservation.Id,
		NewStatus:     models.ReservationConfirmed,
		DeductAmount:  actualAmount,
		Metadata: models.TransactionMetadata{
			Kind: models.MetaReservation,
			Reservation: &models.ReservationMeta{
				ReservationId:  reservation.Id,
				ReservedAmount: reservation.Amount,
				ActualAmount:   actualAmount,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if transaction != nil {
		if err := s.recordWithRetry(ctx, transaction); err != nil {
			s.revertWithRetry(ctx, transaction.Id)
			return nil, fmt.Errorf("failed to record settlement: %w", err)
		}
	}
	return transaction, nil
}

// TransactionHistory returns the user's movements filtered by query.
func (s *Service) TransactionHistory(ctx context.Context, query store.TransactionQuery) ([]models.CreditTransaction, error) {
	if query.UserId == "" {
		return nil, &store.ValidationError{Field: "userId", Detail: "must not be empty"}
	}
	return s.store.GetTransactionHistory(ctx, query)
}

// HealthCheck verifies storage reachability and that the user's stored
// balance matches the sum of confirmed transactions.
func (s *Service) HealthCheck(ctx context.Context, userId string) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("durable store health check failed: %w", err)
	}
	if userId == "" {
		return nil
	}

	balance, err := s.store.GetBalance(ctx, userId)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	sum, err := s.store.SumConfirmedTransactions(ctx, userId)
	if err != nil {
		return err
	}
	if !sum.Equal(balance.CurrentBalance) {
		return fmt.Errorf("%w: balance %s does not match transaction sum %s for user %s",
			store.ErrChainIntegrity, balance.CurrentBalance.String(), sum.String(), userId)
	}
	return nil
}

// mutate runs one balance mutation with bounded retry on version conflicts,
// then records the transaction to the ledger. A ledger failure reverts the
// mutation so the balance and the chain never diverge silently.
func (s *Service) mutate(ctx context.Context, params store.ProcessTransactionParams) (*models.CreditTransaction, error) {
	var transaction *models.CreditTransaction
	var err error
	for attempt := 0; attempt < s.cfg.ConcurrentRetryLimit; attempt++ {
		transaction, err = s.store.ProcessTransaction(ctx, params)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			return nil, err
		}
		zap.L().Debug("Version conflict, retrying mutation",
			zap.String("user_id", params.UserId), zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, err
	}

	if err := s.recordWithRetry(ctx, transaction); err != nil {
		s.revertWithRetry(ctx, transaction.Id)
		return nil, fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return transaction, nil
}

// revertWithRetry compensates a committed transaction after a ledger
// failure. Version conflicts get the same bounded retry as the forward
// mutation; anything else is logged as an unresolved inconsistency.
func (s *Service) revertWithRetry(ctx context.Context, transactionId string) {
	var err error
	for attempt := 0; attempt < s.cfg.ConcurrentRetryLimit; attempt++ {
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

func (s *Service) recordWithRetry(ctx context.Context, tx *models.CreditTransaction) error {
	var err error
	for attempt := 0; attempt < s.cfg.LedgerWriteRetryLimit; attempt++ {
		if _, err = s.recorder.RecordTransaction(ctx, tx); err == nil {
			return nil
		}
		// A broken chain never gets extended; retrying cannot help.
		if errors.Is(err, store.ErrChainIntegrity) {
			return err
		}
		zap.L().Warn("Ledger write failed, retrying",
			zap.String("transaction_id", tx.Id),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return err
}
