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

func scanReservation(row balanceScanner) (*models.CreditReservation, error) {
	var r models.CreditReservation
	var amount string
	err := row.Scan(&r.Id, &r.UserId, &amount, &r.CorrelationId, &r.Status,
		&r.CreatedAt, &r.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if r.Amount, err = parseDecimal("amount", amount); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateReservation atomically validates availability, increments
// reserved_credits under the version check, and writes the reservation
// record in the same transaction.
func (s *Service) CreateReservation(ctx context.Context, params store.CreateReservationParams) (*models.CreditReservation, error) {
	if !params.Amount.IsPositive() {
		return nil, &store.ValidationError{Field: "amount", Detail: "must be positive"}
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
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	if balance.AvailableBalance().LessThan(params.Amount) {
		return nil, &store.InsufficientCreditsError{
			UserId:    params.UserId,
			Required:  params.Amount,
			Available: balance.AvailableBalance(),
		}
	}

	now := time.Now().UTC()
	reservation := &models.CreditReservation{
		Id:            uuid.New().String(),
		UserId:        params.UserId,
		Amount:        params.Amount,
		CorrelationId: params.CorrelationId,
		Status:        models.ReservationActive,
		CreatedAt:     now,
		ExpiresAt:     params.ExpiresAt,
	}

	_, err = tx.ExecContext(ctx, queryInsertReservation,
		reservation.Id, reservation.UserId, reservation.Amount.String(),
		reservation.CorrelationId, reservation.Status, now, reservation.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reservation: %w", err)
	}

	newReserved := balance.ReservedCredits.Add(params.Amount)
	result, err := tx.ExecContext(ctx, queryUpdateBalance,
		balance.CurrentBalance.String(), newReserved.String(),
		balance.LifetimeEarned.String(), balance.LifetimeSpent.String(),
		now, params.UserId, balance.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update reserved credits: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("reservation failed - %w", store.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit reservation: %v", store.ErrStorageUnavailable, err)
	}

	zap.L().Info("Reservation created",
		zap.String("reservation_id", reservation.Id),
		zap.String("user_id", params.UserId),
		zap.String("amount", params.Amount.String()),
		zap.Time("expires_at", params.ExpiresAt))
	return reservation, nil
}

func (s *Service) GetReservation(ctx context.Context, reservationId string) (*models.CreditReservation, error) {
	reservation, err := scanReservation(s.db.QueryRowContext(ctx, queryGetReservation, reservationId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: reservation %s", store.ErrNotFound, reservationId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return reservation, nil
}

func (s *Service) GetActiveReservationByCorrelation(ctx context.Context, userId, correlationId string) (*models.CreditReservation, error) {
	reservation, err := scanReservation(s.db.QueryRowContext(ctx, queryGetActiveReservationByCorrelation, userId, correlationId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: active reservation for correlation %s", store.ErrNotFound, correlationId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation by correlation: %w", err)
	}
	return reservation, nil
}

// SettleReservation transitions an active reservation to its final status.
// The full held amount always leaves reserved_credits; DeductAmount (zero on
// release/expiry) is additionally deducted from the current balance with a
// transaction record, so the unused remainder is refunded implicitly.
// The status transition re-checks 'active' inside the write, so a scheduled
// expiry racing a confirm settles exactly once.
func (s *Service) SettleReservation(ctx context.Context, params store.SettleReservationParams) (*models.CreditTransaction, error) {
	if params.DeductAmount.IsNegative() {
		return nil, &store.ValidationError{Field: "deductAmount", Detail: "must not be negative"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %v", store.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	reservation, err := scanReservation(tx.QueryRowContext(ctx, queryGetReservation, params.ReservationId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: reservation %s", store.ErrNotFound, params.ReservationId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if reservation.Status != models.ReservationActive {
		return nil, fmt.Errorf("%w: reservation %s is %s", store.ErrReservationNotActive, reservation.Id, reservation.Status)
	}
	if params.DeductAmount.GreaterThan(reservation.Amount) {
		return nil, &store.ValidationError{
			Field:  "deductAmount",
			Detail: fmt.Sprintf("%s exceeds reserved amount %s", params.DeductAmount.String(), reservation.Amount.String()),
		}
	}

	result, err := tx.ExecContext(ctx, queryUpdateReservationStatus, params.NewStatus, reservation.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to update reservation status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: reservation %s settled concurrently", store.ErrReservationNotActive, reservation.Id)
	}

	balance, err := scanBalance(tx.QueryRowContext(ctx, queryGetBalance, reservation.UserId))
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	now := time.Now().UTC()
	newReserved := balance.ReservedCredits.Sub(reservation.Amount)
	if newReserved.IsNegative() {
		newReserved = decimal.Zero
	}
	newBalance := balance.CurrentBalance.Sub(params.DeductAmount)
	newSpent := balance.LifetimeSpent.Add(params.DeductAmount)

	var transaction *models.CreditTransaction
	if params.DeductAmount.IsPositive() {
		metaStr, err := params.Metadata.MarshalString()
		if err != nil {
			return nil, err
		}
		transaction = &models.CreditTransaction{
			Id:            uuid.New().String(),
			UserId:        reservation.UserId,
			Amount:        params.DeductAmount.Neg(),
			BalanceBefore: balance.CurrentBalance,
			BalanceAfter:  newBalance,
			Type:          models.TxReservationConfirm,
			Source:        models.SourceReservation,
			Status:        models.TxStatusConfirmed,
			CorrelationId: reservation.CorrelationId,
			Metadata:      params.Metadata,
			CreatedAt:     now,
		}
		_, err = tx.ExecContext(ctx, queryInsertTransaction,
			transaction.Id, transaction.UserId, transaction.Amount.String(),
			transaction.BalanceBefore.String(), transaction.BalanceAfter.String(),
			transaction.Type, transaction.Source, transaction.Status,
			transaction.CorrelationId, "", metaStr, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert settlement transaction: %w", err)
		}
	}

	result, err = tx.ExecContext(ctx, queryUpdateBalance,
		newBalance.String(), newReserved.String(),
		balance.LifetimeEarned.String(), newSpent.String(),
		now, reservation.UserId, balance.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("settlement failed - %w", store.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit settlement: %v", store.ErrStorageUnavailable, err)
	}

	zap.L().Info("Reservation settled",
		zap.String("reservation_id", reservation.Id),
		zap.String("user_id", reservation.UserId),
		zap.String("new_status", string(params.NewStatus)),
		zap.String("deducted", params.DeductAmount.String()),
		zap.String("released", reservation.Amount.Sub(params.DeductAmount).String()))
	return transaction, nil
}

// ExpiredReservations returns active reservations whose expiry has passed,
// oldest first. The sweep settles each one through SettleReservation.
func (s *Service) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.CreditReservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, queryExpiredReservations, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired reservations: %w", err)
	}
	defer rows.Close()

	var reservations []models.CreditReservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}
	return reservations, nil
}
