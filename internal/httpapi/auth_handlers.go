package httpapi

import (
	"net/http"

	"github.com/ckoval7/challengectl/internal/auth"
	"github.com/ckoval7/challengectl/internal/httpserver"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (d *Dependencies) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := d.Gateway.Login(r.Context(), req.Username, req.Password, httpserver.ClientIP(r))
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	auth.SetSessionCookies(w, r, result.SessionToken, result.CSRFToken, result.ExpiresUTC)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"totp_required":  result.TOTPRequired,
		"setup_required": result.SetupRequired,
	})
}

type verifyTOTPRequest struct {
	TOTPCode string `json:"totp_code" validate:"required"`
}

func (d *Dependencies) handleVerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyTOTPRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	cookie, err := r.Cookie("session_token")
	if err != nil || cookie.Value == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "no session")
		return
	}

	if err := d.Gateway.VerifyTOTP(r.Context(), cookie.Value, req.TOTPCode, httpserver.ClientIP(r)); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "authenticated"})
}

func (d *Dependencies) handleSession(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"authenticated": id.TOTPVerified,
		"username":      id.Username,
		"permissions":   id.Permissions,
	})
}

func (d *Dependencies) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id != nil {
		_ = d.Gateway.Logout(r.Context(), id.SessionToken)
	}
	auth.ClearSessionCookies(w, r)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (d *Dependencies) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "no session")
		return
	}

	if err := d.Gateway.ChangePassword(r.Context(), id.Username, req.NewPassword, id.SessionToken); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

type completeSetupRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (d *Dependencies) handleCompleteSetup(w http.ResponseWriter, r *http.Request) {
	var req completeSetupRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	cookie, err := r.Cookie("session_token")
	if err != nil || cookie.Value == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "no session")
		return
	}

	uri, err := d.Gateway.CompleteSetup(r.Context(), cookie.Value, req.NewPassword)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"provisioning_uri": uri})
}

type verifySetupRequest struct {
	TOTPCode string `json:"totp_code" validate:"required"`
}

func (d *Dependencies) handleVerifySetup(w http.ResponseWriter, r *http.Request) {
	var req verifySetupRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	cookie, err := r.Cookie("session_token")
	if err != nil || cookie.Value == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "no session")
		return
	}

	if err := d.Gateway.VerifySetup(r.Context(), cookie.Value, req.TOTPCode); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "setup_complete"})
}
