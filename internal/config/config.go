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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"credit-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	maxTimestampSkew, err := getEnvDuration("LEDGER_MAX_TIMESTAMP_SKEW", 60*time.Second)
	if err != nil {
		return nil, err
	}

	reservationTimeout, err := getEnvDuration("SYNC_RESERVATION_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	expiryInterval, err := getEnvDuration("SWEEPER_EXPIRY_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	healthInterval, err := getEnvDuration("SWEEPER_HEALTH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	epsilon, err := getEnvDecimal("SYNC_EPSILON", decimal.NewFromFloat(0.01))
	if err != nil {
		return nil, err
	}

	welcomeBonus, err := getEnvDecimal("CREDIT_WELCOME_BONUS", decimal.NewFromInt(100))
	if err != nil {
		return nil, err
	}

	lowBalanceThreshold, err := getEnvDecimal("CREDIT_LOW_BALANCE_THRESHOLD", decimal.NewFromInt(50))
	if err != nil {
		return nil, err
	}

	criticalThreshold, err := getEnvDecimal("CREDIT_CRITICAL_THRESHOLD", decimal.NewFromInt(10))
	if err != nil {
		return nil, err
	}

	signingKey := os.Getenv("LEDGER_SIGNING_KEY")
	if signingKey == "" {
		return nil, fmt.Errorf("LEDGER_SIGNING_KEY is required")
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "credits.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Ledger: models.LedgerConfig{
			SigningKey:       signingKey,
			MaxTimestampSkew: maxTimestampSkew,
		},
		Sync: models.SyncConfig{
			Strategy:           models.ConflictStrategy(getEnvString("SYNC_CONFLICT_STRATEGY", string(models.StrategyDurableWins))),
			Epsilon:            epsilon,
			BatchSize:          getEnvInt("SYNC_BATCH_SIZE", 10),
			ReservationTimeout: reservationTimeout,
		},
		Sweeper: models.SweeperConfig{
			ExpiryInterval:    expiryInterval,
			HealthInterval:    healthInterval,
			HealthSampleSize:  getEnvInt("SWEEPER_HEALTH_SAMPLE_SIZE", 25),
			MetricsListenAddr: getEnvString("SWEEPER_METRICS_ADDR", ":9105"),
		},
		Credit: models.CreditConfig{
			WelcomeBonus:          welcomeBonus,
			LowBalanceThreshold:   lowBalanceThreshold,
			CriticalThreshold:     criticalThreshold,
			TopUpOptionsFile:      getEnvString("TOPUP_OPTIONS_FILE", "topup.yaml"),
			ConcurrentRetryLimit:  getEnvInt("CREDIT_CONCURRENT_RETRY_LIMIT", 3),
			LedgerWriteRetryLimit: getEnvInt("CREDIT_LEDGER_WRITE_RETRY_LIMIT", 2),
		},
		Server: models.ServerConfig{
			ListenAddr: getEnvString("SERVER_LISTEN_ADDR", ":8080"),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		parsed, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return parsed, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
