package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/desertthunder/vidpub/internal/shared"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeErr maps a domain error to a status code and a message safe to show users.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrAllAccountsBusy):
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "All accounts are busy, try again shortly", Code: "busy"})
	case errors.Is(err, shared.ErrNoCapacity):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "No upload capacity left this month", Code: "no_capacity"})
	case errors.Is(err, shared.ErrMissingAsset), errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrMissingArgument):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid"})
	case errors.Is(err, shared.ErrSessionNotFound), errors.Is(err, shared.ErrChannelNotFound), errors.Is(err, shared.ErrCredentialNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, shared.ErrServiceUnavailable), errors.Is(err, shared.ErrAPIRequest):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "the publishing service did not respond", Code: "upstream"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "an error occurred", Code: "internal"})
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return nil
}
