package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConflictStrategy selects the winning value when the durable and broadcast
// stores disagree about a balance.
type ConflictStrategy string

const (
	// StrategyDurableWins takes the durable store's value (default).
	StrategyDurableWins ConflictStrategy = "DURABLE_WINS"
	// StrategyBroadcastWins takes the broadcast store's cached value.
	StrategyBroadcastWins ConflictStrategy = "BROADCAST_WINS"
	// StrategyLatestTimestamp takes whichever side was written most recently.
	StrategyLatestTimestamp ConflictStrategy = "LATEST_TIMESTAMP"
)

// BroadcastBalance is the shape mirrored into the broadcast store and pushed
// to live subscribers. Never authoritative.
type BroadcastBalance struct {
	UserId           string          `json:"user_id"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	ReservedCredits  decimal.Decimal `json:"reserved_credits"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	SyncVersion      int64           `json:"sync_version"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SyncErrorKind classifies a non-fatal error collected during sync.
type SyncErrorKind string

const (
	SyncErrBroadcastRead  SyncErrorKind = "BROADCAST_READ"
	SyncErrBroadcastWrite SyncErrorKind = "BROADCAST_WRITE"
	SyncErrDurableWrite   SyncErrorKind = "DURABLE_WRITE"
	SyncErrPendingOp      SyncErrorKind = "PENDING_OPERATION"
)

// SyncError is one isolated failure inside a sync pass.
type SyncError struct {
	Kind   SyncErrorKind `json:"kind"`
	UserId string        `json:"user_id"`
	Detail string        `json:"detail"`
}

// SyncResult reports one user's reconciliation pass.
type SyncResult struct {
	UserId              string      `json:"user_id"`
	ConflictsResolved   int         `json:"conflicts_resolved"`
	OperationsProcessed int         `json:"operations_processed"`
	ResolvedBalance     decimal.Decimal `json:"resolved_balance"`
	Strategy            ConflictStrategy `json:"strategy"`
	Errors              []SyncError `json:"errors,omitempty"`
	SyncedAt            time.Time   `json:"synced_at"`
}

// BatchSyncResult aggregates a full sweep across users.
type BatchSyncResult struct {
	UsersProcessed    int         `json:"users_processed"`
	UsersFailed       int         `json:"users_failed"`
	ConflictsResolved int         `json:"conflicts_resolved"`
	Errors            []SyncError `json:"errors,omitempty"`
}

// ValidationIssueCode classifies a cross-store balance validation finding.
type ValidationIssueCode string

const (
	IssueBalanceMismatch  ValidationIssueCode = "BALANCE_MISMATCH"
	IssuePendingOpStuck   ValidationIssueCode = "PENDING_OPERATION_STUCK"
	IssueNegativeBalance  ValidationIssueCode = "NEGATIVE_BALANCE"
	IssueBroadcastMissing ValidationIssueCode = "BROADCAST_MISSING"
)

// ValidationIssue is one finding from cross-store balance validation.
type ValidationIssue struct {
	Code     ValidationIssueCode `json:"code"`
	Severity AnomalySeverity     `json:"severity"`
	Detail   string              `json:"detail"`
}

// BalanceValidationResult compares both stores for one user.
type BalanceValidationResult struct {
	UserId      string            `json:"user_id"`
	IsValid     bool              `json:"is_valid"`
	Discrepancy decimal.Decimal   `json:"discrepancy"`
	Issues      []ValidationIssue `json:"issues,omitempty"`
	CheckedAt   time.Time         `json:"checked_at"`
}

// TopUpOption is one purchasable credit package offered when a user runs
// short.
type TopUpOption struct {
	Id          string          `yaml:"id" json:"id"`
	Label       string          `yaml:"label" json:"label"`
	Credits     decimal.Decimal `yaml:"credits" json:"credits"`
	PriceUSD    decimal.Decimal `yaml:"price_usd" json:"price_usd"`
	Recommended bool            `yaml:"-" json:"recommended"`
}

// TopUpRecommendation is the actionable response to an insufficient-credit
// condition.
type TopUpRecommendation struct {
	UserId         string          `json:"user_id"`
	RequiredAmount decimal.Decimal `json:"required_amount"`
	Available      decimal.Decimal `json:"available"`
	Shortfall      decimal.Decimal `json:"shortfall"`
	Options        []TopUpOption   `json:"options"`
}

// HealthSample is one data point from the recurring balance health job.
type HealthSample struct {
	SampledUsers int       `json:"sampled_users"`
	HealthyUsers int       `json:"healthy_users"`
	Ratio        float64   `json:"ratio"`
	SampledAt    time.Time `json:"sampled_at"`
}

// LowBalanceLevel grades how urgently a user needs a top-up.
type LowBalanceLevel string

const (
	LowBalanceNone     LowBalanceLevel = "none"
	LowBalanceLow      LowBalanceLevel = "low"
	LowBalanceCritical LowBalanceLevel = "critical"
)

// LowBalanceAlert is computed by the orchestrator for UI surfacing.
type LowBalanceAlert struct {
	UserId    string          `json:"user_id"`
	Level     LowBalanceLevel `json:"level"`
	Available decimal.Decimal `json:"available"`
	Options   []TopUpOption   `json:"options,omitempty"`
}
