package api

import (
	"net/http"
	"time"
)

func (s *CreditAPI) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	result, err := s.ledgerService.ValidateHashChain(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *CreditAPI) handleRepairChain(w http.ResponseWriter, r *http.Request) {
	result, err := s.ledgerService.RepairHashChain(r.Context(), r.PathValue("userId"), r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *CreditAPI) handleAudit(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, err)
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, err)
			return
		}
		to = parsed
	}

	report, err := s.ledgerService.GenerateAuditReport(r.Context(), r.PathValue("userId"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
