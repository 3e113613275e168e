package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GenesisPreviousHash is the previous-hash value carried by the first ledger
// entry of every user's chain.
const GenesisPreviousHash = "0"

// LedgerEntry is one hash-linked, signed block corresponding 1:1 with a
// credit transaction. Entries are append-only; they are only rewritten by an
// explicit, backed-up chain repair.
type LedgerEntry struct {
	Id              string    `db:"id"`
	TransactionId   string    `db:"transaction_id"`
	UserId          string    `db:"user_id"`
	BlockIndex      int64     `db:"block_index"`
	TransactionHash string    `db:"transaction_hash"`
	PreviousHash    string    `db:"previous_hash"`
	Signature       string    `db:"signature"`
	Valid           bool      `db:"valid"`
	FlaggedReason   string    `db:"flagged_reason"`
	CreatedAt       time.Time `db:"created_at"`
}

// ChainErrorCode classifies a chain validation violation.
type ChainErrorCode string

const (
	ChainErrBrokenChain     ChainErrorCode = "BROKEN_CHAIN"
	ChainErrHashMismatch    ChainErrorCode = "HASH_MISMATCH"
	ChainErrBadSignature    ChainErrorCode = "BAD_SIGNATURE"
	ChainErrMissingSource   ChainErrorCode = "MISSING_SOURCE_TRANSACTION"
	ChainErrTimestampSkew   ChainErrorCode = "TIMESTAMP_SKEW"
	ChainErrSequenceGap     ChainErrorCode = "SEQUENCE_GAP"
	ChainErrGenesisMismatch ChainErrorCode = "GENESIS_MISMATCH"
)

// ChainError is one violation found while walking a user's chain.
type ChainError struct {
	Code       ChainErrorCode `json:"code"`
	BlockIndex int64          `json:"block_index"`
	EntryId    string         `json:"entry_id"`
	Detail     string         `json:"detail"`
}

// ChainValidationResult reports the outcome of walking one user's chain.
// BrokenAt is the block index of the first violation (-1 when the chain is
// intact); LastValidHash is the hash of the last entry before the break.
type ChainValidationResult struct {
	UserId            string       `json:"user_id"`
	IsValid           bool         `json:"is_valid"`
	TotalTransactions int          `json:"total_transactions"`
	Errors            []ChainError `json:"errors"`
	BrokenAt          int64        `json:"broken_at"`
	LastValidHash     string       `json:"last_valid_hash"`
	ValidatedAt       time.Time    `json:"validated_at"`
}

// IntegrityIssueCode classifies a single-transaction integrity finding.
type IntegrityIssueCode string

const (
	IntegrityHashMismatch  IntegrityIssueCode = "HASH_MISMATCH"
	IntegrityBadSignature  IntegrityIssueCode = "BAD_SIGNATURE"
	IntegrityTimestampSkew IntegrityIssueCode = "TIMESTAMP_SKEW"
	IntegrityNoLedgerEntry IntegrityIssueCode = "NO_LEDGER_ENTRY"
)

// IntegrityIssue is one finding from transaction-level integrity validation.
type IntegrityIssue struct {
	Code   IntegrityIssueCode `json:"code"`
	Fatal  bool               `json:"fatal"`
	Detail string             `json:"detail"`
}

// IntegrityResult reports hash, signature and timestamp checks for one
// transaction against its ledger entry.
type IntegrityResult struct {
	TransactionId string           `json:"transaction_id"`
	IsValid       bool             `json:"is_valid"`
	Issues        []IntegrityIssue `json:"issues"`
}

// RepairResult reports the outcome of a chain repair run.
type RepairResult struct {
	UserId          string   `json:"user_id"`
	BackupId        string   `json:"backup_id"`
	BackupSucceeded bool     `json:"backup_succeeded"`
	EntriesRepaired int      `json:"entries_repaired"`
	Unrepairable    []string `json:"unrepairable,omitempty"` // entry ids missing source transactions
}

// AnomalyType classifies an audit anomaly.
type AnomalyType string

const (
	AnomalyLargeAmount AnomalyType = "LARGE_AMOUNT"
	AnomalyBurstRate   AnomalyType = "BURST_RATE"
)

// AnomalySeverity orders anomalies for remediation.
type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

// AuditAnomaly is one suspicious pattern found in a user's history.
type AuditAnomaly struct {
	Type          AnomalyType     `json:"type"`
	Severity      AnomalySeverity `json:"severity"`
	TransactionId string          `json:"transaction_id,omitempty"`
	Detail        string          `json:"detail"`
	ObservedAt    time.Time       `json:"observed_at"`
}

// Recommendation is a prioritized remediation suggestion in an audit report.
type Recommendation struct {
	Priority int    `json:"priority"` // 1 = most urgent
	Action   string `json:"action"`
}

// AuditReport is a derived, read-only artifact; it is cached, never a source
// of truth.
type AuditReport struct {
	UserId            string           `json:"user_id"`
	From              time.Time        `json:"from"`
	To                time.Time        `json:"to"`
	TotalTransactions int              `json:"total_transactions"`
	ValidTransactions int              `json:"valid_transactions"`
	IntegrityScore    float64          `json:"integrity_score"` // valid/total * 100
	TotalVolume       decimal.Decimal  `json:"total_volume"`
	Anomalies         []AuditAnomaly   `json:"anomalies"`
	Recommendations   []Recommendation `json:"recommendations"`
	GeneratedAt       time.Time        `json:"generated_at"`
}
