package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	apperrors "github.com/portfolio-tracker/internal/errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps an error through the taxonomy to an HTTP status. Internal
// details stay in the logs; the client sees the category message.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	appErr := apperrors.Categorize(err)
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    appErr.Code,
		Message: appErr.Message,
	}})
}
