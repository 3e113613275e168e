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

// Package aicredit is the product-facing orchestrator: it ties balance
// mutation, cross-store sync and top-up guidance together for the
// pay-per-use interaction flow.
package aicredit

import (
	"context"
	"errors"
	"fmt"

	"credit-ledger-go/internal/balancesync"
	"credit-ledger-go/internal/credit"
	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config carries the product economy thresholds.
type Config struct {
	LowBalanceThreshold decimal.Decimal
	CriticalThreshold   decimal.Decimal
}

// Service glues the credit service and the sync service into the
// interaction-billing flow.
type Service struct {
	credit *credit.Service
	sync   *balancesync.Service
	cfg    Config
}

func NewService(creditService *credit.Service, syncService *balancesync.Service, cfg Config) (*Service, error) {
	if creditService == nil {
		return nil, fmt.Errorf("credit service is required")
	}
	if syncService == nil {
		return nil, fmt.Errorf("sync service is required")
	}
	if cfg.LowBalanceThreshold.IsZero() {
		cfg.LowBalanceThreshold = decimal.NewFromInt(50)
	}
	if cfg.CriticalThreshold.IsZero() {
		cfg.CriticalThreshold = decimal.NewFromInt(10)
	}
	return &Service{credit: creditService, sync: syncService, cfg: cfg}, nil
}

// DeductForInteraction charges one AI interaction. On insufficient credits it
// returns a top-up recommendation alongside the error so callers can surface
// purchase options directly. Successful deductions are mirrored to the
// broadcast store.
func (s *Service) DeductForInteraction(ctx context.Context, userId, interactionId, model string, tokensUsed int64, cost decimal.Decimal) (*models.CreditTransaction, *models.TopUpRecommendation, error) {
	if interactionId == "" {
		return nil, nil, &store.ValidationError{Field: "interactionId", Detail: "must not be empty"}
	}

	tx, err := s.credit.DeductCredits(ctx, userId, cost, interactionId, models.TransactionMetadata{
		Kind: models.MetaInteraction,
		Interaction: &models.InteractionMeta{
			Model:         model,
			InteractionId: interactionId,
			TokensUsed:    tokensUsed,
		},
	})
	if errors.Is(err, store.ErrInsufficientCredits) {
		recommendation, recErr := s.sync.HandleInsufficientCredits(ctx, userId, cost)
		if recErr != nil {
			zap.L().Error("Failed to build top-up recommendation",
				zap.String("user_id", userId), zap.Error(recErr))
			return nil, nil, err
		}
		return nil, recommendation, err
	}
	if err != nil {
		return nil, nil, err
	}

	s.mirror(ctx, userId)
	return tx, nil, nil
}

// GrantWelcomeBonus ensures the user has a balance, granting the configured
// welcome bonus on first contact, and mirrors it for live observers.
func (s *Service) GrantWelcomeBonus(ctx context.Context, userId string) (*models.CreditBalance, error) {
	balance, err := s.credit.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}
	s.mirror(ctx, userId)
	return balance, nil
}

// CheckLowBalance grades the user's available credits against the product
// thresholds. Low and critical alerts carry purchase options.
func (s *Service) CheckLowBalance(ctx context.Context, userId string) (*models.LowBalanceAlert, error) {
	balance, err := s.credit.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}

	available := balance.AvailableBalance()
	alert := &models.LowBalanceAlert{
		UserId:    userId,
		Level:     models.LowBalanceNone,
		Available: available,
	}
	switch {
	case available.LessThanOrEqual(s.cfg.CriticalThreshold):
		alert.Level = models.LowBalanceCritical
	case available.LessThanOrEqual(s.cfg.LowBalanceThreshold):
		alert.Level = models.LowBalanceLow
	default:
		return alert, nil
	}

	recommendation, err := s.sync.HandleInsufficientCredits(ctx, userId, s.cfg.LowBalanceThreshold)
	if err != nil {
		return nil, err
	}
	alert.Options = recommendation.Options
	return alert, nil
}

func (s *Service) mirror(ctx context.Context, userId string) {
	balance, err := s.credit.GetBalance(ctx, userId)
	if err != nil {
		zap.L().Warn("Failed to read balance for broadcast", zap.String("user_id", userId), zap.Error(err))
		return
	}
	if err := s.sync.BroadcastBalanceUpdate(ctx, balance); err != nil {
		zap.L().Warn("Failed to broadcast balance", zap.String("user_id", userId), zap.Error(err))
	}
}
