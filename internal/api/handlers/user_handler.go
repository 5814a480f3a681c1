package handlers

import (
	"net/http"
	"strings"

	"github.com/isdelr/storefront-be/internal/auth"
	"github.com/isdelr/storefront-be/internal/services"
	emailaddress "github.com/mcnijman/go-emailaddress"
	"github.com/rs/zerolog/log"
)

// bcrypt only looks at the first 72 bytes of a password.
const maxPasswordBytes = 72

// UserHandler handles HTTP requests for account management.
type UserHandler struct {
	service services.AccountServiceProvider
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(service services.AccountServiceProvider) *UserHandler {
	return &UserHandler{service: service}
}

// RegisterPayload defines the structure for registration requests.
type RegisterPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// AuthPayload defines the structure for login requests.
type AuthPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordPayload defines the structure for password change requests.
type ChangePasswordPayload struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// Register handles new user registration.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload RegisterPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	payload.FirstName = strings.TrimSpace(payload.FirstName)
	payload.LastName = strings.TrimSpace(payload.LastName)
	if payload.FirstName == "" || payload.LastName == "" {
		writeError(w, http.StatusBadRequest, "First and last name are required.")
		return
	}
	email, ok := validEmail(w, payload.Email)
	if !ok || !validPassword(w, "password", payload.Password) {
		return
	}

	data, err := h.service.Register(r.Context(), payload.FirstName, payload.LastName, email, payload.Password)
	if err != nil {
		log.Warn().Err(err).Str("email", email).Msg("Failed to register user")
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"msg":      "User created",
		"userData": data,
	})
}

// Login handles user authentication and token issuance.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload AuthPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	email, ok := validEmail(w, payload.Email)
	if !ok || !validPassword(w, "password", payload.Password) {
		return
	}

	session, err := h.service.Login(r.Context(), email, payload.Password)
	if err != nil {
		log.Warn().Err(err).Str("email", email).Msg("Failed authentication attempt")
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"msg":      "Successfully logged in",
		"token":    session.Token,
		"userData": session.UserData,
	})
}

// GuestLogin creates a temporary guest account and logs it in.
func (h *UserHandler) GuestLogin(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GuestLogin(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to create guest user")
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"msg":      "Successfully logged in",
		"token":    session.Token,
		"userData": session.UserData,
	})
}

// ChangePassword handles changing the authenticated user's password.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		log.Error().Msg("Could not retrieve user claims from context")
		writeError(w, http.StatusUnauthorized, "User is not logged in.")
		return
	}

	var payload ChangePasswordPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if !validPassword(w, "oldPassword", payload.OldPassword) || !validPassword(w, "newPassword", payload.NewPassword) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims.UserID, payload.OldPassword, payload.NewPassword); err != nil {
		log.Warn().Err(err).Str("user_id", claims.UserID).Msg("Failed to change password")
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"msg": "Password changed."})
}

// GetData returns the profile of the authenticated user.
func (h *UserHandler) GetData(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		log.Error().Msg("Could not retrieve user claims from context")
		writeError(w, http.StatusUnauthorized, "User is not logged in.")
		return
	}

	profile, err := h.service.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"user": profile})
}

func validEmail(w http.ResponseWriter, raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		writeError(w, http.StatusBadRequest, "Email is required.")
		return "", false
	}
	if _, err := emailaddress.Parse(email); err != nil {
		writeError(w, http.StatusBadRequest, "Email is not valid.")
		return "", false
	}
	return email, true
}

func validPassword(w http.ResponseWriter, field, password string) bool {
	switch {
	case password == "":
		writeError(w, http.StatusBadRequest, field+" is required.")
		return false
	case len(password) > maxPasswordBytes:
		writeError(w, http.StatusBadRequest, field+" is too long.")
		return false
	}
	return true
}
