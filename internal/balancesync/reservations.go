package balancesync

import (
	"context"
	"errors"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReserveCredits places an id-scoped hold on a user's balance and mirrors the
// new reserved amount to the broadcast store.
func (s *Service) ReserveCredits(ctx context.Context, userId string, amount decimal.Decimal, correlationId string) (*models.CreditReservation, error) {
	reservation, err := s.store.CreateReservation(ctx, store.CreateReservationParams{
		UserId:        userId,
		Amount:        amount,
		CorrelationId: correlationId,
		ExpiresAt:     time.Now().UTC().Add(s.cfg.ReservationTimeout),
	})
	if err != nil {
		return nil, err
	}
	s.mirrorBalance(ctx, userId)
	return reservation, nil
}

// ReleaseReservation returns an active hold in full. Settled reservations are
// left alone.
func (s *Service) ReleaseReservation(ctx context.Context, reservationId string) error {
	reservation, err := s.store.GetReservation(ctx, reservationId)
	if err != nil {
		return err
	}
	if _, err := s.store.SettleReservation(ctx, store.SettleReservationParams{
		ReservationId: reservationId,
		NewStatus:     models.ReservationReleased,
	}); err != nil {
		return err
	}
	s.mirrorBalance(ctx, reservation.UserId)
	return nil
}

// ConfirmReservation converts an active hold into a deduction of
// actualAmount, which must not exceed the reserved amount; the remainder is
// refunded implicitly. The settlement transaction goes to the ledger, and a
// ledger failure compensates the deduction.
func (s *Service) ConfirmReservation(ctx context.Context, reservationId string, actualAmount decimal.Decimal) (*models.CreditTransaction, error) {
	reservation, err := s.store.GetReservation(ctx, reservationId)
	if err != nil {
		return nil, err
	}

	transaction, err := s.store.SettleReservation(ctx, store.SettleReservationParams{
		ReservationId: reservationId,
		NewStatus:     models.ReservationConfirmed,
		DeductAmount:  actualAmount,
		Metadata: models.TransactionMetadata{
			Kind: models.MetaReservation,
			Reservation: &models.ReservationMeta{
				ReservationId:  reservationId,
				ReservedAmount: reservation.Amount,
				ActualAmount:   actualAmount,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if transaction != nil {
		if err := s.recordWithRevert(ctx, transaction); err != nil {
			return nil, err
		}
	}
	s.mirrorBalance(ctx, reservation.UserId)
	return transaction, nil
}

// ExpireDueReservations settles every hold past its deadline, returning the
// full amount to each owner. Called by the periodic sweep job. Already-settled
// rows lose the race harmlessly.
func (s *Service) ExpireDueReservations(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.store.ExpiredReservations(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	var expired int
	for i := range due {
		_, err := s.store.SettleReservation(ctx, store.SettleReservationParams{
			ReservationId: due[i].Id,
			NewStatus:     models.ReservationExpired,
		})
		if errors.Is(err, store.ErrReservationNotActive) {
			continue
		}
		if err != nil {
			zap.L().Error("Failed to expire reservation",
				zap.String("reservation_id", due[i].Id),
				zap.String("user_id", due[i].UserId),
				zap.Error(err))
			continue
		}
		expired++
		reservationsExpired.Inc()
		s.mirrorBalance(ctx, due[i].UserId)
	}

	if expired > 0 {
		zap.L().Info("Expired reservations swept", zap.Int("count", expired))
	}
	return expired, nil
}

// mirrorBalance refreshes the broadcast copy after a reservation change.
// Best effort only.
func (s *Service) mirrorBalance(ctx context.Context, userId string) {
	balance, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		zap.L().Warn("Failed to read balance for broadcast", zap.String("user_id", userId), zap.Error(err))
		return
	}
	if err := s.BroadcastBalanceUpdate(ctx, balance); err != nil {
		zap.L().Warn("Failed to broadcast balance", zap.String("user_id", userId), zap.Error(err))
	}
}
