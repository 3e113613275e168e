package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"credit-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

type reserveRequest struct {
	UserId        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	CorrelationId string          `json:"correlation_id"`
}

func (s *CreditAPI) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", store.ErrValidation, err))
		return
	}

	reservation, err := s.syncService.ReserveCredits(r.Context(), req.UserId, req.Amount, req.CorrelationId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

type confirmRequest struct {
	ActualAmount decimal.Decimal `json:"actual_amount"`
}

func (s *CreditAPI) handleConfirmReservation(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", store.ErrValidation, err))
		return
	}

	tx, err := s.syncService.ConfirmReservation(r.Context(), r.PathValue("reservationId"), req.ActualAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *CreditAPI) handleReleaseReservation(w http.ResponseWriter, r *http.Request) {
	if err := s.syncService.ReleaseReservation(r.Context(), r.PathValue("reservationId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}
