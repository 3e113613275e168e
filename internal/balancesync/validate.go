package balancesync

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

// mismatchEscalation scales a BALANCE_MISMATCH to high severity once the
// discrepancy exceeds this multiple of epsilon.
const mismatchEscalation = 100

// ValidateBalance compares the durable and broadcast copies of one balance
// without mutating either. The result lists every finding.
func (s *Service) ValidateBalance(ctx context.Context, userId string) (*models.BalanceValidationResult, error) {
	durable, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}

	result := &models.BalanceValidationResult{
		UserId:      userId,
		IsValid:     true,
		Discrepancy: decimal.Zero,
		CheckedAt:   time.Now().UTC(),
	}

	if durable.CurrentBalance.IsNegative() {
		result.Issues = append(result.Issues, models.ValidationIssue{
			Code:     models.IssueNegativeBalance,
			Severity: models.SeverityCritical,
			Detail:   fmt.Sprintf("durable balance is negative: %s", durable.CurrentBalance.String()),
		})
	}

	cached, err := s.broadcast.Get(ctx, store.BalancePath(userId))
	switch {
	case errors.Is(err, store.ErrNotFound):
		result.Issues = append(result.Issues, models.ValidationIssue{
			Code:     models.IssueBroadcastMissing,
			Severity: models.SeverityLow,
			Detail:   "no broadcast copy; user has not been synced yet",
		})
	case err != nil:
		return nil, err
	default:
		result.Discrepancy = durable.CurrentBalance.Sub(cached.CurrentBalance).Abs()
		if result.Discrepancy.GreaterThan(s.cfg.Epsilon) {
			severity := models.SeverityMedium
			if result.Discrepancy.GreaterThan(s.cfg.Epsilon.Mul(decimal.NewFromInt(mismatchEscalation))) {
				severity = models.SeverityHigh
			}
			result.Issues = append(result.Issues, models.ValidationIssue{
				Code:     models.IssueBalanceMismatch,
				Severity: severity,
				Detail: fmt.Sprintf("durable %s vs broadcast %s",
					durable.CurrentBalance.String(), cached.CurrentBalance.String()),
			})
		}
	}

	stale, err := s.store.StalePendingOperations(ctx, userId, time.Now().UTC().Add(-s.cfg.StalePendingAge))
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		result.Issues = append(result.Issues, models.ValidationIssue{
			Code:     models.IssuePendingOpStuck,
			Severity: models.SeverityMedium,
			Detail:   fmt.Sprintf("%d queued operations older than %s", len(stale), s.cfg.StalePendingAge),
		})
	}

	for _, issue := range result.Issues {
		if issue.Severity != models.SeverityLow {
			result.IsValid = false
			break
		}
	}
	return result, nil
}

// GetHealthStatus grades one balance from its validation findings and
// persists the grade on the durable row.
func (s *Service) GetHealthStatus(ctx context.Context, userId string) (models.HealthStatus, error) {
	result, err := s.ValidateBalance(ctx, userId)
	if err != nil {
		return "", err
	}

	health := models.HealthHealthy
	for _, issue := range result.Issues {
		switch issue.Severity {
		case models.SeverityCritical:
			health = models.HealthCorrupted
		case models.SeverityHigh:
			if health != models.HealthCorrupted {
				health = models.HealthCritical
			}
		case models.SeverityMedium:
			if health == models.HealthHealthy {
				health = models.HealthWarning
			}
		}
	}

	if err := s.store.SetBalanceHealth(ctx, userId, health); err != nil {
		return health, err
	}
	if health != models.HealthHealthy {
		zap.L().Warn("Unhealthy balance",
			zap.String("user_id", userId),
			zap.String("health", string(health)),
			zap.Int("issues", len(result.Issues)))
	}
	return health, nil
}

// RunHealthSample grades a random subset of balances and reports the healthy
// ratio. Feeds the recurring health job and the exported gauge.
func (s *Service) RunHealthSample(ctx context.Context) (*models.HealthSample, error) {
	userIds, err := s.store.SampleUserIds(ctx, s.cfg.HealthSampleSize)
	if err != nil {
		return nil, err
	}

	sample := &models.HealthSample{
		SampledUsers: len(userIds),
		SampledAt:    time.Now().UTC(),
	}
	for _, userId := range userIds {
		health, err := s.GetHealthStatus(ctx, userId)
		if err != nil {
			zap.L().Error("Health check failed", zap.String("user_id", userId), zap.Error(err))
			continue
		}
		if health == models.HealthHealthy {
			sample.HealthyUsers++
		}
	}
	if sample.SampledUsers > 0 {
		sample.Ratio = float64(sample.HealthyUsers) / float64(sample.SampledUsers)
	} else {
		sample.Ratio = 1
	}
	balanceHealthRatio.Set(sample.Ratio)

	zap.L().Info("Balance health sample",
		zap.Int("sampled", sample.SampledUsers),
		zap.Int("healthy", sample.HealthyUsers),
		zap.Float64("ratio", sample.Ratio))
	return sample, nil
}
