package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/auth"
	"github.com/ckoval7/challengectl/internal/crypto"
	"github.com/ckoval7/challengectl/internal/httpserver"
	"github.com/ckoval7/challengectl/internal/store"
)

type userView struct {
	Username    string   `json:"username"`
	Enabled     bool     `json:"enabled"`
	IsTemporary bool     `json:"is_temporary"`
	Permissions []string `json:"permissions"`
}

func toUserView(u store.User) userView {
	return userView{Username: u.Username, Enabled: u.Enabled, IsTemporary: u.IsTemporary, Permissions: u.Permissions}
}

func (d *Dependencies) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := d.Store.ListUsers(r.Context())
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, toUserView(u))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"users": out})
}

type createUserRequest struct {
	Username    string   `json:"username" validate:"required"`
	Password    string   `json:"password"`
	Permissions []string `json:"permissions"`
}

// handleCreateUser implements the dual-mode create endpoint of spec.md
// §4.E: while initial_setup_required is set, this is the unauthenticated
// bootstrap call that mints the first real admin, bypassing the
// create_users permission check entirely; afterward it behaves as a normal
// permission-gated admin action that creates a temporary user pending
// first-login setup.
func (d *Dependencies) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	_, initialSetupRequired, err := d.Store.GetSystemState(r.Context(), store.StateKeyInitialSetupRequired)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	if initialSetupRequired {
		if req.Password == "" || len(req.Password) < 8 {
			httpserver.RespondError(w, http.StatusBadRequest, "password must be at least 8 characters")
			return
		}
		if err := d.Gateway.InitialSetup(r.Context(), req.Username, req.Password); err != nil {
			httpserver.RespondErr(w, d.Logger, err)
			return
		}
		httpserver.Respond(w, http.StatusCreated, map[string]string{"status": "initialized", "username": req.Username})
		return
	}

	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.AuthMissing, "authentication required"))
		return
	}
	if !id.HasPermission("create_users") {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.PermissionDenied, "missing permission: create_users"))
		return
	}
	// POST /users runs under optionalSession, not RequireSession+RequireCSRF,
	// since initial setup has no session cookie to check CSRF against. Once
	// an identity is resolved the double-submit check still applies.
	if csrf, err := r.Cookie("csrf_token"); err != nil || csrf.Value == "" || csrf.Value != r.Header.Get("X-CSRF-Token") {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.CSRFDenied, "csrf token mismatch"))
		return
	}

	password := req.Password
	if password == "" {
		token, err := crypto.GenerateToken()
		if err != nil {
			httpserver.RespondErr(w, d.Logger, err)
			return
		}
		password = token
	}

	hash, err := d.Vault.HashPassword(password)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	if err := d.Store.CreateUser(r.Context(), store.User{
		Username:               req.Username,
		PasswordHash:           hash,
		Enabled:                true,
		IsTemporary:            true,
		PasswordChangeRequired: true,
	}); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	for _, perm := range req.Permissions {
		if perm != "create_users" && perm != "create_provisioning_key" {
			continue
		}
		if err := d.Store.GrantPermission(r.Context(), req.Username, perm); err != nil {
			httpserver.RespondErr(w, d.Logger, err)
			return
		}
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{
		"status":             "created",
		"username":           req.Username,
		"temporary_password": password,
	})
}

type updateUserRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleUpdateUser toggles enabled state; username/password changes go
// through the dedicated reset endpoints (spec.md §6).
func (d *Dependencies) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "u")
	var req updateUserRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	user, err := d.Store.GetUser(r.Context(), username)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	if req.Enabled != nil {
		user.Enabled = *req.Enabled
	}
	if err := d.Store.UpdateUser(r.Context(), *user); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toUserView(*user))
}

func (d *Dependencies) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "u")
	if err := d.Store.DeleteUser(r.Context(), username); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleResetTOTP clears a user's TOTP secret and flags them temporary
// again, forcing the two-step setup flow on next login.
func (d *Dependencies) handleResetTOTP(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "u")
	user, err := d.Store.GetUser(r.Context(), username)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	user.TOTPSecretEncrypted = nil
	user.IsTemporary = true
	if err := d.Store.UpdateUser(r.Context(), *user); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	if err := d.Store.DeleteAllSessions(r.Context(), username); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "totp_reset"})
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (d *Dependencies) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "u")
	var req resetPasswordRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := d.Gateway.AdminResetPassword(r.Context(), username, req.NewPassword); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "password_reset"})
}

func (d *Dependencies) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "u")
	perms, err := d.Store.ListPermissions(r.Context(), username)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"permissions": perms})
}

type grantPermissionRequest struct {
	Permission string `json:"permission" validate:"required,oneof=create_users create_provisioning_key"`
}

func (d *Dependencies) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "u")
	var req grantPermissionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := d.Gateway.GrantPermissionSafely(r.Context(), username, req.Permission); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "granted"})
}

func (d *Dependencies) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "u")
	permission := chi.URLParam(r, "p")

	id := auth.FromContext(r.Context())
	actingUsername := ""
	if id != nil {
		actingUsername = id.Username
	}

	if err := d.Gateway.RevokePermissionSafely(r.Context(), actingUsername, username, permission); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "revoked"})
}
