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

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credit-ledger-go/internal/common"
	"credit-ledger-go/internal/config"
	"credit-ledger-go/internal/sweeper"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting credit sweeper")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	jobs, err := sweeper.NewSweeper(sweeper.Config{
		SyncService:    services.SyncService,
		ExpiryInterval: cfg.Sweeper.ExpiryInterval,
		HealthInterval: cfg.Sweeper.HealthInterval,
	})
	if err != nil {
		zap.L().Fatal("Failed to create sweeper", zap.Error(err))
	}

	if err := jobs.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start sweeper", zap.Error(err))
	}

	// Metrics endpoint for the gauges and counters the jobs feed.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Sweeper.MetricsListenAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zap.L().Info("Metrics server listening", zap.String("addr", cfg.Sweeper.MetricsListenAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("Metrics server failed", zap.Error(err))
		}
	}()

	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping sweeper...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		jobs.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Sweeper stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Metrics server shutdown failed", zap.Error(err))
	}
}
