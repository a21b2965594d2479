package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"storefront-auth/internal/passreset"
)

type resetRequestBody struct {
	Email string `json:"email"`
}

func (a *API) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if err := decodeJSON(w, r, &req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := a.reset.Request(r.Context(), req.Email, clientIP(r)); err != nil {
		a.log.Error("reset request failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	a.metrics.ResetRequest()
	// Same body whether or not the address exists.
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "if the address is registered, a reset message is on its way",
	})
}

type resetTokenBody struct {
	Token string `json:"token"`
}

func (a *API) handleResetValidate(w http.ResponseWriter, r *http.Request) {
	var req resetTokenBody
	if err := decodeJSON(w, r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if _, err := a.reset.Validate(r.Context(), req.Token); err != nil {
		a.writeResetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}

type resetCompleteBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleResetComplete(w http.ResponseWriter, r *http.Request) {
	var req resetCompleteBody
	if err := decodeJSON(w, r, &req); err != nil || req.Token == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "token and new_password are required")
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "new_password must be at least 8 characters")
		return
	}
	if err := a.reset.Complete(r.Context(), req.Token, req.NewPassword, clientIP(r)); err != nil {
		a.writeResetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

func (a *API) writeResetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, passreset.ErrResetTokenNotFound),
		errors.Is(err, passreset.ErrResetTokenExpired),
		errors.Is(err, passreset.ErrResetTokenUsed):
		// One message for every invalid-token shape; no oracle for guessing.
		writeError(w, http.StatusBadRequest, "invalid or expired reset token")
	default:
		a.log.Error("reset operation failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	}
}
