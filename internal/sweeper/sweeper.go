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

// Package sweeper runs the recurring maintenance jobs: reservation expiry
// and balance health sampling. Expiry is driven by the durable store's
// expires_at column, so holds left behind by a crashed process are still
// released on the next pass.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"credit-ledger-go/internal/balancesync"

	"go.uber.org/zap"
)

const expiryBatchLimit = 200

// Config contains configuration for the Sweeper.
type Config struct {
	SyncService    *balancesync.Service
	ExpiryInterval time.Duration
	HealthInterval time.Duration
}

// Sweeper owns the periodic expiry and health loops.
type Sweeper struct {
	syncService    *balancesync.Service
	expiryInterval time.Duration
	healthInterval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewSweeper(cfg Config) (*Sweeper, error) {
	if cfg.SyncService == nil {
		return nil, fmt.Errorf("sync service is required")
	}
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = 30 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Minute
	}
	return &Sweeper{
		syncService:    cfg.SyncService,
		expiryInterval: cfg.ExpiryInterval,
		healthInterval: cfg.HealthInterval,
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}, nil
}

// Start performs startup recovery, then launches the expiry and health
// loops.
func (s *Sweeper) Start(ctx context.Context) error {
	zap.L().Info("Starting sweeper",
		zap.Duration("expiry_interval", s.expiryInterval),
		zap.Duration("health_interval", s.healthInterval))

	// Holds that expired while no sweeper was running are released before
	// the loops begin.
	if err := s.performStartupRecovery(ctx); err != nil {
		zap.L().Error("Startup recovery failed", zap.Error(err))
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	go s.expiryLoop(ctx)
	go s.healthLoop(ctx)

	zap.L().Info("Sweeper started successfully")
	return nil
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	zap.L().Info("Stopping sweeper")
	close(s.stopChan)
	<-s.doneChan
	zap.L().Info("Sweeper stopped")
}

// performStartupRecovery expires overdue holds and runs one full balance
// sync so both stores agree before the steady-state loops take over.
func (s *Sweeper) performStartupRecovery(ctx context.Context) error {
	expired, err := s.syncService.ExpireDueReservations(ctx, time.Now().UTC(), expiryBatchLimit)
	if err != nil {
		return fmt.Errorf("failed to expire overdue reservations: %w", err)
	}

	batch, err := s.syncService.SyncAllBalances(ctx)
	if err != nil {
		return fmt.Errorf("failed to run recovery sync: %w", err)
	}

	zap.L().Info("Startup recovery completed",
		zap.Int("reservations_expired", expired),
		zap.Int("users_synced", batch.UsersProcessed),
		zap.Int("users_failed", batch.UsersFailed),
		zap.Int("conflicts_resolved", batch.ConflictsResolved))
	return nil
}

func (s *Sweeper) expiryLoop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.expiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepExpired(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweepExpired(ctx context.Context) {
	if _, err := s.syncService.ExpireDueReservations(ctx, time.Now().UTC(), expiryBatchLimit); err != nil {
		zap.L().Error("Expiry sweep failed", zap.Error(err))
	}
}

func (s *Sweeper) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runHealthPass(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) runHealthPass(ctx context.Context) {
	if _, err := s.syncService.RunHealthSample(ctx); err != nil {
		zap.L().Error("Health pass failed", zap.Error(err))
	}
}
