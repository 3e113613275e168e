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

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

type balanceResponse struct {
	UserId           string          `json:"user_id"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	ReservedCredits  decimal.Decimal `json:"reserved_credits"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	LifetimeEarned   decimal.Decimal `json:"lifetime_earned"`
	LifetimeSpent    decimal.Decimal `json:"lifetime_spent"`
	HealthStatus     string          `json:"health_status"`
	SyncVersion      int64           `json:"sync_version"`
}

func toBalanceResponse(b *models.CreditBalance) balanceResponse {
	return balanceResponse{
		UserId:           b.UserId,
		CurrentBalance:   b.CurrentBalance,
		ReservedCredits:  b.ReservedCredits,
		AvailableBalance: b.AvailableBalance(),
		LifetimeEarned:   b.LifetimeEarned,
		LifetimeSpent:    b.LifetimeSpent,
		HealthStatus:     string(b.HealthStatus),
		SyncVersion:      b.SyncVersion,
	}
}

func (s *CreditAPI) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.creditService.GetBalance(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponse(balance))
}

func (s *CreditAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	transactions, err := s.creditService.TransactionHistory(r.Context(), store.TransactionQuery{
		UserId: r.PathValue("userId"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

func (s *CreditAPI) handleValidate(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncService.ValidateBalance(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type deductRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	InteractionId string          `json:"interaction_id"`
	Model         string          `json:"model"`
	TokensUsed    int64           `json:"tokens_used"`
}

func (s *CreditAPI) handleDeduct(w http.ResponseWriter, r *http.Request) {
	userId := r.PathValue("userId")

	var req deductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", store.ErrValidation, err))
		return
	}

	tx, err := s.creditService.DeductCredits(r.Context(), userId, req.Amount, req.InteractionId,
		models.TransactionMetadata{
			Kind: models.MetaInteraction,
			Interaction: &models.InteractionMeta{
				Model:         req.Model,
				InteractionId: req.InteractionId,
				TokensUsed:    req.TokensUsed,
			},
		})
	if errors.Is(err, store.ErrInsufficientCredits) {
		// Pair the rejection with purchase options.
		recommendation, recErr := s.syncService.HandleInsufficientCredits(r.Context(), userId, req.Amount)
		if recErr == nil {
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":          err.Error(),
				"recommendation": recommendation,
			})
			return
		}
		writeError(w, err)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

type addRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	PackageId  string          `json:"package_id"`
	PaymentRef string          `json:"payment_ref"`
}

func (s *CreditAPI) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", store.ErrValidation, err))
		return
	}

	tx, err := s.creditService.AddCredits(r.Context(), r.PathValue("userId"), req.Amount,
		models.SourcePurchase, models.TxPurchase,
		models.TransactionMetadata{
			Kind:     models.MetaPurchase,
			Purchase: &models.PurchaseMeta{PackageId: req.PackageId, PaymentRef: req.PaymentRef},
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *CreditAPI) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncService.SyncBalance(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
