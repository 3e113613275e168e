package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanTransaction(row balanceScanner) (*models.CreditTransaction, error) {
	var t models.CreditTransaction
	var amount, before, after, metaRaw string

	err := row.Scan(&t.Id, &t.UserId, &amount, &before, &after, &t.Type,
		&t.Source, &t.Status, &t.CorrelationId, &t.IdempotencyKey, &metaRaw, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = parseDecimal("amount", amount); err != nil {
		return nil, err
	}
	if t.BalanceBefore, err = parseDecimal("balance_before", before); err != nil {
		return nil, err
	}
	if t.BalanceAfter, err = parseDecimal("balance_after", after); err != nil {
		return nil, err
	}
	if t.Metadata, err = models.UnmarshalMetadata(metaRaw); err != nil {
		return nil, err
	}
	return &t, nil
}

// ProcessTransaction atomically updates the balance and records the
// transaction. The balance row's version is the optimistic concurrency
// check: a conflicting concurrent writer makes the update affect zero rows
// and the whole operation fails with store.ErrConcurrentModification.
func (s *Service) ProcessTransaction(ctx context.Context, params store.ProcessTransactionParams) (*models.CreditTransaction, error) {
	zap.L().Debug("Processing transaction",
		zap.String("user_id", params.UserId),
		zap.String("type", string(params.Type)),
		zap.String("amount", params.Amount.String()))

	if err := params.Metadata.Validate(); err != nil {
		return nil, &store.ValidationError{Field: "metadata", Detail: err.Error()}
	}

	// Idempotency-key duplicate check before opening the write transaction.
	if params.IdempotencyKey != "" {
		var existingTxId string
		err := s.db.QueryRowContext(ctx, queryCheckIdempotencyKey, params.IdempotencyKey).Scan(&existingTxId)
		if err == nil {
			zap.L().Warn("Duplicate idempotency key detected, skipping",
				zap.String("idempotency_key", params.IdempotencyKey),
				zap.String("existing_transaction_id", existingTxId))
			return nil, fmt.Errorf("%w: idempotency key %s already used", store.ErrDuplicateTransaction, params.IdempotencyKey)
		} else if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %v", store.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	balance, err := scanBalance(tx.QueryRowContext(ctx, queryGetBalance, params.UserId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: balance for user %s", store.ErrNotFound, params.UserId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}
	if balance.Status != models.AccountActive {
		return nil, &store.ValidationError{Field: "status", Detail: fmt.Sprintf("account is %s", balance.Status)}
	}

	newBalance := balance.CurrentBalance.Add(params.Amount)
	newEarned := balance.LifetimeEarned
	newSpent := balance.LifetimeSpent
	if params.Amount.IsPositive() {
		newEarned = newEarned.Add(params.Amount)
	} else if params.Amount.IsNegative() {
		newSpent = newSpent.Add(params.Amount.Neg())
	}

	if newBalance.Sub(balance.ReservedCredits).IsNegative() {
		return nil, &store.InsufficientCreditsError{
			UserId:    params.UserId,
			Required:  params.Amount.Neg(),
			Available: balance.AvailableBalance(),
		}
	}

	transactionId := uuid.New().String()
	now := time.Now().UTC()
	metaStr, err := params.Metadata.MarshalString()
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, queryInsertTransaction,
		transactionId, params.UserId, params.Amount.String(),
		balance.CurrentBalance.String(), newBalance.String(),
		params.Type, params.Source, models.TxStatusConfirmed,
		params.CorrelationId, params.IdempotencyKey, metaStr, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateBalance,
		newBalance.String(), balance.ReservedCredits.String(), newEarned.String(), newSpent.String(),
		now, params.UserId, balance.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit transaction: %v", store.ErrStorageUnavailable, err)
	}

	zap.L().Info("Transaction processed successfully",
		zap.String("transaction_id", transactionId),
		zap.String("user_id", params.UserId),
		zap.String("old_balance", balance.CurrentBalance.String()),
		zap.String("new_balance", newBalance.String()))

	return &models.CreditTransaction{
		Id:             transactionId,
		UserId:         params.UserId,
		Amount:         params.Amount,
		BalanceBefore:  balance.CurrentBalance,
		BalanceAfter:   newBalance,
		Type:           params.Type,
		Source:         params.Source,
		Status:         models.TxStatusConfirmed,
		CorrelationId:  params.CorrelationId,
		IdempotencyKey: params.IdempotencyKey,
		Metadata:       params.Metadata,
		CreatedAt:      now,
	}, nil
}

// RevertTransaction undoes a committed transaction's balance effect and
// marks the record rolled_back. Used when the ledger write for an otherwise
// successful mutation ultimately fails.
func (s *Service) RevertTransaction(ctx context.Context, transactionId string) error {
	original, err := s.GetTransaction(ctx, transactionId)
	if err != nil {
		return err
	}
	if original.Status != models.TxStatusConfirmed {
		return &store.ValidationError{Field: "status", Detail: fmt.Sprintf("transaction %s is %s, not confirmed", transactionId, original.Status)}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", store.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	balance, err := scanBalance(tx.QueryRowContext(ctx, queryGetBalance, original.UserId))
	if err != nil {
		return fmt.Errorf("failed to get balance for revert: %w", err)
	}

	newBalance := balance.CurrentBalance.Sub(original.Amount)
	newEarned := balance.LifetimeEarned
	newSpent := balance.LifetimeSpent
	if original.Amount.IsPositive() {
		newEarned = newEarned.Sub(original.Amount)
	} else if original.Amount.IsNegative() {
		newSpent = newSpent.Sub(original.Amount.Neg())
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, queryUpdateBalance,
		newBalance.String(), balance.ReservedCredits.String(), newEarned.String(), newSpent.String(),
		now, original.UserId, balance.Version)
	if err != nil {
		return fmt.Errorf("failed to revert balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance revert failed - %w", store.ErrConcurrentModification)
	}

	if _, err := tx.ExecContext(ctx, queryMarkTransactionStatus, models.TxStatusRolledBack, transactionId); err != nil {
		return fmt.Errorf("failed to mark transaction rolled back: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit revert: %v", store.ErrStorageUnavailable, err)
	}

	zap.L().Warn("Transaction reverted",
		zap.String("transaction_id", transactionId),
		zap.String("user_id", original.UserId),
		zap.String("amount", original.Amount.String()))
	return nil
}

func (s *Service) GetTransaction(ctx context.Context, transactionId string) (*models.CreditTransaction, error) {
	transaction, err := scanTransaction(s.db.QueryRowContext(ctx, queryGetTransaction, transactionId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction %s", store.ErrNotFound, transactionId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return transaction, nil
}

// GetTransactionHistory returns transactions for a user filtered by time
// range, newest first.
func (s *Service) GetTransactionHistory(ctx context.Context, query store.TransactionQuery) ([]models.CreditTransaction, error) {
	from := query.From
	to := query.To
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Hour)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, queryTransactionHistory,
		query.UserId, from, to, limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction history: %w", err)
	}
	defer rows.Close()

	var transactions []models.CreditTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// SumConfirmedTransactions recomputes a user's balance from the transaction
// log, for reconciliation checks. The stored amount strings are summed as
// decimals; a SQL SUM over REAL drifts on fractional credits.
func (s *Service) SumConfirmedTransactions(ctx context.Context, userId string) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, queryConfirmedTransactionAmounts, userId)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w", err)
		}
		amount, err := parseDecimal("amount", raw)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating amounts: %w", err)
	}
	return sum, nil
}
