package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/isdelr/storefront-be/internal/common"
	"github.com/isdelr/storefront-be/internal/payment"
	"github.com/rs/zerolog/log"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error onto a status code and a message
// that is safe to show to clients.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "User already exists.")
	case errors.Is(err, common.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "incorrect email or password")
	case errors.Is(err, common.ErrIncorrectOldPassword):
		writeError(w, http.StatusBadRequest, "Incorrect old password.")
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, "Sorry couldn't retrieve such user.")
	case errors.Is(err, payment.ErrUnknownProduct):
		writeError(w, http.StatusBadRequest, "Unknown product.")
	case errors.Is(err, common.ErrPaymentProvider):
		writeError(w, http.StatusBadGateway, "Payment provider unavailable. Please try again")
	case errors.Is(err, common.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "Request timed out. Please try again")
	default:
		writeError(w, http.StatusInternalServerError, "Server error. Please try again")
	}
}

// decodeJSON decodes a bounded request body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
