package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ckoval7/challengectl/internal/agents"
	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/httpserver"
)

// sessionCookieName is the host-only HttpOnly cookie carrying the opaque
// session token (spec.md §4.E).
const sessionCookieName = "session_token"

// RequireSession resolves the session_token cookie into an Identity, slides
// the session's expiry, and attaches the Identity to the request context.
// It does not require the session to be TOTP-verified; handlers that must
// reject pre-verified sessions call RequireVerified in addition.
func RequireSession(gw *Gateway, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				httpserver.RespondErr(w, logger, apperr.New(apperr.AuthMissing, "no session"))
				return
			}

			sess, err := gw.store.GetSession(r.Context(), cookie.Value)
			if err != nil {
				httpserver.RespondErr(w, logger, apperr.New(apperr.AuthInvalid, "invalid session"))
				return
			}
			if sess.ExpiresUTC.Before(time.Now().UTC()) {
				httpserver.RespondErr(w, logger, apperr.New(apperr.AuthInvalid, "session expired"))
				return
			}

			user, err := gw.store.GetUser(r.Context(), sess.Username)
			if err != nil {
				httpserver.RespondErr(w, logger, apperr.New(apperr.AuthInvalid, "invalid session"))
				return
			}

			_ = gw.SlideSession(r.Context(), cookie.Value)

			id := &Identity{
				Username:     user.Username,
				Permissions:  user.Permissions,
				SessionToken: cookie.Value,
				TOTPVerified: sess.TOTPVerified,
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
		})
	}
}

// RequireVerified rejects requests whose session has not completed
// TOTP verification (or does not need to).
func RequireVerified(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil || !id.TOTPVerified {
				httpserver.RespondErr(w, logger, apperr.New(apperr.AuthInvalid, "totp verification required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission rejects requests whose Identity lacks the named
// permission (spec.md §4.E require_permission).
func RequirePermission(logger *slog.Logger, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				httpserver.RespondErr(w, logger, apperr.New(apperr.AuthMissing, "authentication required"))
				return
			}
			if !id.HasPermission(permission) {
				httpserver.RespondErr(w, logger, apperr.New(apperr.PermissionDenied, "missing permission: "+permission))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAgent authenticates runners/listeners via `Authorization: Bearer
// <api_key>` plus the X-Runner-MAC / X-Runner-Machine-ID headers, enforcing
// AgentRegistry's multi-factor host binding (spec.md §4.D, §9).
func RequireAgent(registry *agents.Registry, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				httpserver.RespondErr(w, logger, apperr.New(apperr.AuthMissing, "missing bearer token"))
				return
			}
			apiKey := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			mac := r.Header.Get("X-Runner-MAC")
			machineID := r.Header.Get("X-Runner-Machine-ID")
			ip := httpserver.ClientIP(r)

			agent, err := registry.VerifyRequest(r.Context(), apiKey, ip, r.Host, mac, machineID)
			if err != nil {
				httpserver.RespondErr(w, logger, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewAgentContext(r.Context(), &AgentIdentity{Agent: agent})))
		})
	}
}
