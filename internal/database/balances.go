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

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse %s %q: %w", field, raw, err)
	}
	return d, nil
}

type balanceScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row balanceScanner) (*models.CreditBalance, error) {
	var b models.CreditBalance
	var current, reserved, earned, spent, verified string
	var lastSync sql.NullTime

	err := row.Scan(&b.UserId, &current, &reserved, &earned, &spent,
		&b.Status, &b.Version, &b.SyncVersion, &lastSync, &verified,
		&b.VerificationHash, &b.HealthStatus, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		b.LastSyncAt = lastSync.Time
	}
	if b.CurrentBalance, err = parseDecimal("current_balance", current); err != nil {
		return nil, err
	}
	if b.ReservedCredits, err = parseDecimal("reserved_credits", reserved); err != nil {
		return nil, err
	}
	if b.LifetimeEarned, err = parseDecimal("lifetime_earned", earned); err != nil {
		return nil, err
	}
	if b.LifetimeSpent, err = parseDecimal("lifetime_spent", spent); err != nil {
		return nil, err
	}
	if b.LastVerifiedBalance, err = parseDecimal("last_verified_balance", verified); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBalance returns the balance document for a user, or a wrapped
// store.ErrNotFound when none exists yet.
func (s *Service) GetBalance(ctx context.Context, userId string) (*models.CreditBalance, error) {
	balance, err := scanBalance(s.db.QueryRowContext(ctx, queryGetBalance, userId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: balance for user %s", store.ErrNotFound, userId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// CreateBalance atomically writes a new balance document with the welcome
// bonus and the corresponding WELCOME_BONUS transaction.
func (s *Service) CreateBalance(ctx context.Context, userId string, welcomeBonus decimal.Decimal) (*models.CreditBalance, *models.CreditTransaction, error) {
	if welcomeBonus.IsNegative() {
		return nil, nil, &store.ValidationError{Field: "welcomeBonus", Detail: "must not be negative"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to begin transaction: %v", store.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, queryInsertBalance,
		userId, welcomeBonus.String(), welcomeBonus.String(),
		models.AccountActive, now, welcomeBonus.String(), models.HealthHealthy, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create balance: %w", err)
	}

	meta := models.TransactionMetadata{
		Kind:  models.MetaBonus,
		Bonus: &models.BonusMeta{Campaign: "welcome"},
	}
	metaStr, err := meta.MarshalString()
	if err != nil {
		return nil, nil, err
	}

	transaction := &models.CreditTransaction{
		Id:            uuid.New().String(),
		UserId:        userId,
		Amount:        welcomeBonus,
		BalanceBefore: decimal.Zero,
		BalanceAfter:  welcomeBonus,
		Type:          models.TxWelcomeBonus,
		Source:        models.SourceSystem,
		Status:        models.TxStatusConfirmed,
		Metadata:      meta,
		CreatedAt:     now,
	}

	_, err = tx.ExecContext(ctx, queryInsertTransaction,
		transaction.Id, userId, welcomeBonus.String(), "0", welcomeBonus.String(),
		transaction.Type, transaction.Source, transaction.Status, "", "", metaStr, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert welcome transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%w: failed to commit: %v", store.ErrStorageUnavailable, err)
	}

	zap.L().Info("Created balance with welcome bonus",
		zap.String("user_id", userId),
		zap.String("welcome_bonus", welcomeBonus.String()))

	balance := &models.CreditBalance{
		UserId:              userId,
		CurrentBalance:      welcomeBonus,
		ReservedCredits:     decimal.Zero,
		LifetimeEarned:      welcomeBonus,
		LifetimeSpent:       decimal.Zero,
		Status:              models.AccountActive,
		Version:             1,
		HealthStatus:        models.HealthHealthy,
		LastVerifiedBalance: welcomeBonus,
		UpdatedAt:           now,
	}
	return balance, transaction, nil
}

// SetBalanceValue writes a resolved balance value (conflict resolution)
// using the version check; it does not touch lifetime counters.
func (s *Service) SetBalanceValue(ctx context.Context, userId string, balance decimal.Decimal, version int64) error {
	result, err := s.db.ExecContext(ctx, querySetBalanceValue,
		balance.String(), time.Now().UTC(), userId, version)
	if err != nil {
		return fmt.Errorf("failed to set balance value: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance write failed - %w", store.ErrConcurrentModification)
	}
	return nil
}

// MarkBalanceSynced records the broadcast-store freshness markers.
func (s *Service) MarkBalanceSynced(ctx context.Context, userId string, syncVersion int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, queryMarkBalanceSynced, syncVersion, at, userId); err != nil {
		return fmt.Errorf("failed to mark balance synced: %w", err)
	}
	return nil
}

// SetBalanceHealth records the latest health classification for a balance.
func (s *Service) SetBalanceHealth(ctx context.Context, userId string, health models.HealthStatus) error {
	if _, err := s.db.ExecContext(ctx, querySetBalanceHealth, health, userId); err != nil {
		return fmt.Errorf("failed to set balance health: %w", err)
	}
	return nil
}

// SampleUserIds returns up to limit user ids in random order, for the health
// monitor's bounded sampling.
func (s *Service) SampleUserIds(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, querySampleUserIds, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample user ids: %w", err)
	}
	defer rows.Close()
	return collectUserIds(rows)
}

// AllUserIds returns every user id with a balance, in stable order.
func (s *Service) AllUserIds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryAllUserIds)
	if err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	defer rows.Close()
	return collectUserIds(rows)
}

func collectUserIds(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user ids: %w", err)
	}
	return ids, nil
}
