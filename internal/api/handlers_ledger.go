package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/storage"
)

func (s *Server) handleRecordEntry(w http.ResponseWriter, r *http.Request) {
	var entry models.LedgerEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, s.logger, apperrors.NewValidationError("body", "malformed JSON"))
		return
	}
	entry.UserID = userID(r)
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	if err := s.ledger.RecordEntry(r.Context(), &entry); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	entries, err := s.ledger.List(r.Context(), filter)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, s.logger, apperrors.NewNotFoundError("history", "disabled"))
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, s.logger, apperrors.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = parsed
	}

	entries, err := s.history.ListByUser(r.Context(), userID(r), limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func listFilterFromQuery(r *http.Request) (storage.ListFilter, error) {
	q := r.URL.Query()
	filter := storage.ListFilter{
		UserID:      userID(r),
		WalletID:    q.Get("walletId"),
		TokenSymbol: q.Get("tokenSymbol"),
		Type:        models.EntryType(q.Get("type")),
	}

	if filter.Type != "" && !filter.Type.Valid() {
		return filter, apperrors.NewValidationError("type", "unknown entry type")
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperrors.NewValidationError("since", "must be RFC 3339")
		}
		filter.Since = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperrors.NewValidationError("until", "must be RFC 3339")
		}
		filter.Until = t
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, apperrors.NewValidationError("limit", "must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}
