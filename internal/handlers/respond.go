// Package handlers is the HTTP surface: JSON in, JSON out, one handler
// struct per concern, wired together by the route registry.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/genc-murat/ringtsdb/internal/core/models"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps error kinds onto HTTP statuses and a machine-readable
// payload: {"error": ..., "code": ...}.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	code := models.ErrorCode(err)
	status := statusFor(code)
	if status >= 500 {
		log.Error("request failed", "code", code, "err", err)
	} else {
		log.Debug("request rejected", "code", code, "err", err)
	}
	writeJSON(w, status, map[string]string{
		"error": userMessage(err),
		"code":  code,
	})
}

func statusFor(code string) int {
	switch code {
	case "VALIDATION":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	case "CONFLICT", "TYPE_MISMATCH":
		return http.StatusConflict
	case "LIMIT_EXCEEDED":
		return http.StatusRequestEntityTooLarge
	case "BACKEND_TRANSIENT":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// userMessage keeps wrapped backend detail out of client responses for
// internal failures.
func userMessage(err error) string {
	switch models.ErrorCode(err) {
	case "BACKEND_TRANSIENT":
		return "backend temporarily unavailable, retry later"
	case "BACKEND_FATAL":
		return "internal error"
	default:
		return err.Error()
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid request body"), models.ErrValidation)
	}
	return nil
}
