package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus describes whether a balance may be mutated.
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

// HealthStatus is the coarse health classification of a balance.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthWarning   HealthStatus = "WARNING"
	HealthCritical  HealthStatus = "CRITICAL"
	HealthCorrupted HealthStatus = "CORRUPTED"
)

// CreditBalance represents the current credit state for one user (hot data).
// AvailableBalance is always derived from CurrentBalance - ReservedCredits and
// is never stored independently.
type CreditBalance struct {
	UserId              string          `db:"user_id"`
	CurrentBalance      decimal.Decimal `db:"current_balance"`
	ReservedCredits     decimal.Decimal `db:"reserved_credits"`
	LifetimeEarned      decimal.Decimal `db:"lifetime_earned"`
	LifetimeSpent       decimal.Decimal `db:"lifetime_spent"`
	Status              AccountStatus   `db:"status"`
	Version             int64           `db:"version"`
	SyncVersion         int64           `db:"sync_version"`
	LastSyncAt          time.Time       `db:"last_sync_at"`
	LastVerifiedBalance decimal.Decimal `db:"last_verified_balance"`
	VerificationHash    string          `db:"verification_hash"`
	HealthStatus        HealthStatus    `db:"health_status"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// AvailableBalance returns the credits not held by an active reservation.
func (b *CreditBalance) AvailableBalance() decimal.Decimal {
	return b.CurrentBalance.Sub(b.ReservedCredits)
}

// TransactionType represents the business reason for a credit movement.
type TransactionType string

const (
	TxWelcomeBonus       TransactionType = "WELCOME_BONUS"
	TxPurchase           TransactionType = "PURCHASE"
	TxInteraction        TransactionType = "INTERACTION"
	TxReservationConfirm TransactionType = "RESERVATION_CONFIRM"
	TxAdjustment         TransactionType = "ADJUSTMENT"
	TxBonus              TransactionType = "BONUS"
	TxRefund             TransactionType = "REFUND"
)

// TransactionSource identifies the subsystem that originated a movement.
type TransactionSource string

const (
	SourceSystem      TransactionSource = "system"
	SourcePurchase    TransactionSource = "purchase"
	SourceInteraction TransactionSource = "interaction"
	SourceReservation TransactionSource = "reservation"
	SourceAdmin       TransactionSource = "admin"
)

// TransactionStatus tracks the lifecycle of a transaction record.
type TransactionStatus string

const (
	TxStatusConfirmed  TransactionStatus = "confirmed"
	TxStatusRolledBack TransactionStatus = "rolled_back"
)

// CreditTransaction is an immutable record of one credit movement (cold data).
// Amount is signed: positive for additions, negative for deductions.
type CreditTransaction struct {
	Id             string              `db:"id"`
	UserId         string              `db:"user_id"`
	Amount         decimal.Decimal     `db:"amount"`
	BalanceBefore  decimal.Decimal     `db:"balance_before"`
	BalanceAfter   decimal.Decimal     `db:"balance_after"`
	Type           TransactionType     `db:"transaction_type"`
	Source         TransactionSource   `db:"source"`
	Status         TransactionStatus   `db:"status"`
	CorrelationId  string              `db:"correlation_id"`
	IdempotencyKey string              `db:"idempotency_key"`
	Metadata       TransactionMetadata `db:"metadata"`
	CreatedAt      time.Time           `db:"created_at"`
}

// ReservationStatus tracks the lifecycle of a credit hold.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// CreditReservation is a time-boxed hold preventing double-spend before a
// cost is finalized.
type CreditReservation struct {
	Id            string            `db:"id"`
	UserId        string            `db:"user_id"`
	Amount        decimal.Decimal   `db:"amount"`
	CorrelationId string            `db:"correlation_id"`
	Status        ReservationStatus `db:"status"`
	CreatedAt     time.Time         `db:"created_at"`
	ExpiresAt     time.Time         `db:"expires_at"`
}

// PendingOperationStatus tracks a queued balance operation awaiting sync.
type PendingOperationStatus string

const (
	PendingOpQueued    PendingOperationStatus = "queued"
	PendingOpProcessed PendingOperationStatus = "processed"
	PendingOpFailed    PendingOperationStatus = "failed"
)

// PendingOperation is a deferred balance adjustment drained during sync.
type PendingOperation struct {
	Id        string                 `db:"id"`
	UserId    string                 `db:"user_id"`
	OpType    string                 `db:"op_type"`
	Amount    decimal.Decimal        `db:"amount"`
	Status    PendingOperationStatus `db:"status"`
	CreatedAt time.Time              `db:"created_at"`
}

// MetadataKind tags the variant carried by a TransactionMetadata value.
type MetadataKind string

const (
	MetaNone        MetadataKind = ""
	MetaInteraction MetadataKind = "interaction"
	MetaPurchase    MetadataKind = "purchase"
	MetaBonus       MetadataKind = "bonus"
	MetaReservation MetadataKind = "reservation"
	MetaAdjustment  MetadataKind = "adjustment"
)

// InteractionMeta describes a pay-per-use AI interaction deduction.
type InteractionMeta struct {
	Model         string `json:"model"`
	InteractionId string `json:"interaction_id"`
	TokensUsed    int64  `json:"tokens_used"`
}

// PurchaseMeta describes a credit package purchase.
type PurchaseMeta struct {
	PackageId  string `json:"package_id"`
	PaymentRef string `json:"payment_ref"`
}

// BonusMeta describes a promotional or welcome grant.
type BonusMeta struct {
	Campaign string `json:"campaign"`
}

// ReservationMeta links a confirm/release movement to its reservation.
type ReservationMeta struct {
	ReservationId  string          `json:"reservation_id"`
	ReservedAmount decimal.Decimal `json:"reserved_amount"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
}

// AdjustmentMeta describes a manual balance correction.
type AdjustmentMeta struct {
	Reason   string `json:"reason"`
	Operator string `json:"operator"`
}

// TransactionMetadata is a closed, tagged union: exactly the variant matching
// Kind is non-nil. An open map is deliberately not supported so each
// transaction type carries a known shape.
type TransactionMetadata struct {
	Kind        MetadataKind     `json:"kind"`
	Interaction *InteractionMeta `json:"interaction,omitempty"`
	Purchase    *PurchaseMeta    `json:"purchase,omitempty"`
	Bonus       *BonusMeta       `json:"bonus,omitempty"`
	Reservation *ReservationMeta `json:"reservation,omitempty"`
	Adjustment  *AdjustmentMeta  `json:"adjustment,omitempty"`
}

// Validate checks that the tag and the populated variant agree.
func (m TransactionMetadata) Validate() error {
	variants := 0
	if m.Interaction != nil {
		variants++
		if m.Kind != MetaInteraction {
			return fmt.Errorf("metadata kind %q does not match interaction variant", m.Kind)
		}
	}
	if m.Purchase != nil {
		variants++
		if m.Kind != MetaPurchase {
			return fmt.Errorf("metadata kind %q does not match purchase variant", m.Kind)
		}
	}
	if m.Bonus != nil {
		variants++
		if m.Kind != MetaBonus {
			return fmt.Errorf("metadata kind %q does not match bonus variant", m.Kind)
		}
	}
	if m.Reservation != nil {
		variants++
		if m.Kind != MetaReservation {
			return fmt.Errorf("metadata kind %q does not match reservation variant", m.Kind)
		}
	}
	if m.Adjustment != nil {
		variants++
		if m.Kind != MetaAdjustment {
			return fmt.Errorf("metadata kind %q does not match adjustment variant", m.Kind)
		}
	}
	if variants > 1 {
		return fmt.Errorf("metadata carries %d variants, expected at most one", variants)
	}
	if variants == 0 && m.Kind != MetaNone {
		return fmt.Errorf("metadata kind %q has no variant", m.Kind)
	}
	return nil
}

// MarshalString serializes metadata for storage. Empty metadata serializes to
// the empty string.
func (m TransactionMetadata) MarshalString() (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if m.Kind == MetaNone {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

// UnmarshalMetadata parses stored metadata, validating the tag/variant pair.
func UnmarshalMetadata(raw string) (TransactionMetadata, error) {
	var m TransactionMetadata
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return m, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return TransactionMetadata{}, err
	}
	return m, nil
}
