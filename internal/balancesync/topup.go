package balancesync

import (
	"context"
	"sort"

	"credit-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// HandleInsufficientCredits turns an insufficient-credit condition into an
// actionable top-up recommendation. Options are listed smallest first and the
// cheapest package covering the shortfall is flagged as recommended; if none
// covers it, the largest is.
func (s *Service) HandleInsufficientCredits(ctx context.Context, userId string, required decimal.Decimal) (*models.TopUpRecommendation, error) {
	balance, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}

	available := balance.AvailableBalance()
	shortfall := required.Sub(available)
	if shortfall.IsNegative() {
		shortfall = decimal.Zero
	}

	options := make([]models.TopUpOption, len(s.cfg.TopUpOptions))
	copy(options, s.cfg.TopUpOptions)
	sort.Slice(options, func(i, j int) bool {
		return options[i].Credits.LessThan(options[j].Credits)
	})

	recommended := -1
	for i := range options {
		options[i].Recommended = false
		if recommended == -1 && options[i].Credits.GreaterThanOrEqual(shortfall) {
			recommended = i
		}
	}
	if recommended == -1 && len(options) > 0 {
		recommended = len(options) - 1
	}
	if recommended >= 0 {
		options[recommended].Recommended = true
	}

	return &models.TopUpRecommendation{
		UserId:         userId,
		RequiredAmount: required,
		Available:      available,
		Shortfall:      shortfall,
		Options:        options,
	}, nil
}
