package balancesync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	balanceHealthRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "credit_balance_health_ratio",
		Help: "Fraction of sampled balances graded healthy in the last health pass.",
	})
	syncConflictsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_sync_conflicts_resolved_total",
		Help: "Balance conflicts resolved between the durable and broadcast stores.",
	})
	syncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_sync_failures_total",
		Help: "Per-user sync passes that failed entirely.",
	})
	reservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_reservations_expired_total",
		Help: "Reservations settled by the expiry sweep.",
	})
)
