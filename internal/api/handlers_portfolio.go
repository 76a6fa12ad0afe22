package api

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-tracker/internal/errors"
)

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := s.portfolio.GetPortfolio(r.Context(), userID(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type setBudgetRequest struct {
	MonthlyLimit decimal.Decimal `json:"monthlyLimit"`
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req setBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, apperrors.NewValidationError("body", "malformed JSON"))
		return
	}

	if err := s.budgets.SetBudget(r.Context(), userID(r), req.MonthlyLimit); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	budget, err := s.budgets.GetBudget(r.Context(), userID(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if budget == nil {
		writeError(w, s.logger, apperrors.NewNotFoundError("budget", userID(r)))
		return
	}
	writeJSON(w, http.StatusOK, budget)
}
