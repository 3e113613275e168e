package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Ledger   LedgerConfig
	Sync     SyncConfig
	Sweeper  SweeperConfig
	Credit   CreditConfig
	Server   ServerConfig
}

// DatabaseConfig holds durable store connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// LedgerConfig holds chain recording settings
type LedgerConfig struct {
	SigningKey       string
	MaxTimestampSkew time.Duration
}

// SyncConfig holds balance reconciliation settings
type SyncConfig struct {
	Strategy           ConflictStrategy
	Epsilon            decimal.Decimal
	BatchSize          int
	ReservationTimeout time.Duration
}

// SweeperConfig holds the periodic job settings
type SweeperConfig struct {
	ExpiryInterval    time.Duration
	HealthInterval    time.Duration
	HealthSampleSize  int
	MetricsListenAddr string
}

// CreditConfig holds product economy settings
type CreditConfig struct {
	WelcomeBonus          decimal.Decimal
	LowBalanceThreshold   decimal.Decimal
	CriticalThreshold     decimal.Decimal
	TopUpOptionsFile      string
	ConcurrentRetryLimit  int
	LedgerWriteRetryLimit int
}

// ServerConfig holds the websocket feed server settings
type ServerConfig struct {
	ListenAddr string
}
