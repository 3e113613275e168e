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

// Package api exposes the credit subsystem over HTTP: a JSON API for
// balance operations and a websocket feed for live balance updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"credit-ledger-go/internal/balancesync"
	"credit-ledger-go/internal/credit"
	"credit-ledger-go/internal/ledger"
	"credit-ledger-go/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CreditAPI serves the HTTP surface of the credit subsystem.
type CreditAPI struct {
	creditService *credit.Service
	syncService   *balancesync.Service
	ledgerService *ledger.Service
}

func NewCreditAPI(creditService *credit.Service, syncService *balancesync.Service, ledgerService *ledger.Service) *CreditAPI {
	return &CreditAPI{
		creditService: creditService,
		syncService:   syncService,
		ledgerService: ledgerService,
	}
}

// HealthCheck verifies the durable store is reachable.
func (s *CreditAPI) HealthCheck(ctx context.Context) error {
	return s.creditService.HealthCheck(ctx, "")
}

// Routes builds the full handler tree.
func (s *CreditAPI) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/balances/{userId}", s.handleGetBalance)
	mux.HandleFunc("GET /v1/balances/{userId}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/balances/{userId}/validate", s.handleValidate)
	mux.HandleFunc("POST /v1/balances/{userId}/deduct", s.handleDeduct)
	mux.HandleFunc("POST /v1/balances/{userId}/add", s.handleAdd)
	mux.HandleFunc("POST /v1/balances/{userId}/sync", s.handleSync)

	mux.HandleFunc("POST /v1/reservations", s.handleReserve)
	mux.HandleFunc("POST /v1/reservations/{reservationId}/confirm", s.handleConfirmReservation)
	mux.HandleFunc("POST /v1/reservations/{reservationId}/release", s.handleReleaseReservation)

	mux.HandleFunc("GET /v1/ledger/{userId}/verify", s.handleVerifyChain)
	mux.HandleFunc("POST /v1/ledger/{userId}/repair", s.handleRepairChain)
	mux.HandleFunc("GET /v1/ledger/{userId}/audit", s.handleAudit)

	mux.HandleFunc("GET /ws/balances/{userId}", s.handleBalanceFeed)

	return mux
}

func (s *CreditAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.HealthCheck(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps domain sentinels onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
	case errors.Is(err, store.ErrConcurrentModification),
		errors.Is(err, store.ErrDuplicateTransaction),
		errors.Is(err, store.ErrReservationNotActive):
		status = http.StatusConflict
	case errors.Is(err, store.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
