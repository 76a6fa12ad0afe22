package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/service"
)

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var input service.CreateWalletInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, s.logger, apperrors.NewValidationError("body", "malformed JSON"))
		return
	}
	input.UserID = userID(r)

	wallet, err := s.wallets.Create(r.Context(), input)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.wallets.List(r.Context(), userID(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, wallets)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.wallets.Get(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleDeactivateWallet(w http.ResponseWriter, r *http.Request) {
	if err := s.wallets.Deactivate(r.Context(), userID(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSyncWallet triggers an on-demand sync. A wallet already syncing
// answers 409 rather than queueing a second run.
func (s *Server) handleSyncWallet(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]

	// Ownership check before touching the engine.
	if _, err := s.wallets.Get(r.Context(), userID(r), walletID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.syncer.SyncWallet(r.Context(), walletID); err != nil {
		if errors.Is(err, service.ErrSyncInProgress) {
			writeError(w, s.logger, apperrors.NewConflictError("sync already in progress"))
			return
		}
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}
