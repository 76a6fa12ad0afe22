package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// userIDHeader carries the caller identity. Authentication itself happens
// at the gateway; the service trusts this header.
const userIDHeader = "X-User-ID"

func userID(r *http.Request) string {
	return r.Header.Get(userIDHeader)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger logs one line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// recoverer converts handler panics into 500s instead of dropping the
// connection.
func recoverer(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Interface("panic", rec).
						Str("path", r.URL.Path).
						Msg("handler panicked")
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
						Code:    "INTERNAL",
						Message: "internal server error",
					}})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requireUser rejects requests without a caller identity.
func requireUser(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID(r) == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
					Code:    "UNAUTHENTICATED",
					Message: "missing " + userIDHeader + " header",
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
