package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	amountAnomalyFactor = 3
	burstAnomalyFactor  = 5
)

// GenerateAuditReport validates every transaction in range, aggregates an
// integrity score, and detects anomalies: single amounts above 3x the period
// average and hourly transaction counts above 5x the period's hourly
// average. The report is a derived artifact; only the latest one per user is
// cached.
func (s *Service) GenerateAuditReport(ctx context.Context, userId string, from, to time.Time) (*models.AuditReport, error) {
	if userId == "" {
		return nil, &store.ValidationError{Field: "userId", Detail: "must not be empty"}
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-defaultAuditWindow)
	}
	if !from.Before(to) {
		return nil, &store.ValidationError{Field: "timeRange", Detail: "from must precede to"}
	}

	transactions, err := s.store.GetTransactionHistory(ctx, store.TransactionQuery{
		UserId: userId,
		From:   from,
		To:     to,
		Limit:  10_000,
	})
	if err != nil {
		return nil, err
	}
	// History is newest-first; audits walk oldest-first.
	sort.Slice(transactions, func(i, j int) bool {
		return transactions[i].CreatedAt.Before(transactions[j].CreatedAt)
	})

	report := &models.AuditReport{
		UserId:            userId,
		From:              from,
		To:                to,
		TotalTransactions: len(transactions),
		TotalVolume:       decimal.Zero,
		GeneratedAt:       time.Now().UTC(),
	}
	if len(transactions) == 0 {
		report.IntegrityScore = 100
		s.cacheReport(report)
		return report, nil
	}

	for i := range transactions {
		integrity, err := s.ValidateTransactionIntegrity(ctx, transactions[i].Id)
		if err != nil {
			return nil, err
		}
		if integrity.IsValid {
			report.ValidTransactions++
		}
		report.TotalVolume = report.TotalVolume.Add(transactions[i].Amount.Abs())
	}
	report.IntegrityScore = float64(report.ValidTransactions) / float64(report.TotalTransactions) * 100

	report.Anomalies = append(report.Anomalies, s.detectAmountAnomalies(transactions)...)
	report.Anomalies = append(report.Anomalies, detectBurstAnomalies(transactions, from, to)...)
	report.Recommendations = buildRecommendations(report)

	zap.L().Info("Audit report generated",
		zap.String("user_id", userId),
		zap.Int("transactions", report.TotalTransactions),
		zap.Float64("integrity_score", report.IntegrityScore),
		zap.Int("anomalies", len(report.Anomalies)))

	s.cacheReport(report)
	return report, nil
}

// LastReport returns the most recently generated (cached) report for a
// user, if any.
func (s *Service) LastReport(userId string) *models.AuditReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReports[userId]
}

func (s *Service) cacheReport(report *models.AuditReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReports[report.UserId] = report
}

func (s *Service) detectAmountAnomalies(transactions []models.CreditTransaction) []models.AuditAnomaly {
	average := decimal.Zero
	for i := range transactions {
		average = average.Add(transactions[i].Amount.Abs())
	}
	average = average.Div(decimal.NewFromInt(int64(len(transactions))))
	if average.IsZero() {
		return nil
	}

	threshold := average.Mul(decimal.NewFromInt(amountAnomalyFactor))
	var anomalies []models.AuditAnomaly
	for i := range transactions {
		amount := transactions[i].Amount.Abs()
		if amount.GreaterThan(threshold) {
			severity := models.SeverityMedium
			if amount.GreaterThan(average.Mul(decimal.NewFromInt(10))) {
				severity = models.SeverityHigh
			}
			anomalies = append(anomalies, models.AuditAnomaly{
				Type:          models.AnomalyLargeAmount,
				Severity:      severity,
				TransactionId: transactions[i].Id,
				Detail: fmt.Sprintf("amount %s exceeds %dx the period average %s",
					amount.String(), amountAnomalyFactor, average.StringFixed(2)),
				ObservedAt: transactions[i].CreatedAt,
			})
		}
	}
	return anomalies
}

func detectBurstAnomalies(transactions []models.CreditTransaction, from, to time.Time) []models.AuditAnomaly {
	hours := to.Sub(from).Hours()
	if hours < 1 {
		hours = 1
	}
	averagePerHour := float64(len(transactions)) / hours

	buckets := make(map[time.Time]int)
	for i := range transactions {
		buckets[transactions[i].CreatedAt.UTC().Truncate(time.Hour)]++
	}

	var anomalies []models.AuditAnomaly
	for hour, count := range buckets {
		if float64(count) > burstAnomalyFactor*averagePerHour && count > 1 {
			anomalies = append(anomalies, models.AuditAnomaly{
				Type:     models.AnomalyBurstRate,
				Severity: models.SeverityMedium,
				Detail: fmt.Sprintf("%d transactions in one hour, %dx above the period hourly average %.2f",
					count, burstAnomalyFactor, averagePerHour),
				ObservedAt: hour,
			})
		}
	}
	sort.Slice(anomalies, func(i, j int) bool {
		return anomalies[i].ObservedAt.Before(anomalies[j].ObservedAt)
	})
	return anomalies
}

func buildRecommendations(report *models.AuditReport) []models.Recommendation {
	var recommendations []models.Recommendation
	priority := 1
	if report.IntegrityScore < 100 {
		recommendations = append(recommendations, models.Recommendation{
			Priority: priority,
			Action:   "run chain validation and repair the hash chain for this user",
		})
		priority++
	}
	for _, anomaly := range report.Anomalies {
		if anomaly.Severity == models.SeverityHigh || anomaly.Severity == models.SeverityCritical {
			recommendations = append(recommendations, models.Recommendation{
				Priority: priority,
				Action:   "review flagged high-severity transactions with the account owner",
			})
			priority++
			break
		}
	}
	if len(report.Anomalies) > 0 && len(recommendations) < 2 {
		recommendations = append(recommendations, models.Recommendation{
			Priority: priority,
			Action:   "monitor anomalous usage patterns over the next reporting period",
		})
	}
	return recommendations
}
