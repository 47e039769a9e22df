package auth

import (
	"log/slog"
	"net/http"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/httpserver"
)

// csrfCookieName is the non-HttpOnly cookie carrying the CSRF token,
// readable by client JS so it can be echoed in the X-CSRF-Token header
// (spec.md §4.E).
const csrfCookieName = "csrf_token"

// csrfHeaderName is the header every mutating request must carry.
const csrfHeaderName = "X-CSRF-Token"

var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// RequireCSRF rejects any non-safe-method request whose X-CSRF-Token header
// does not match the csrf_token cookie (double-submit pattern, spec.md
// §4.E). It must run after RequireSession so a missing session is reported
// as 401, not 403.
func RequireCSRF(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethods[r.Method] {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(csrfCookieName)
			if err != nil || cookie.Value == "" {
				httpserver.RespondErr(w, logger, apperr.New(apperr.CSRFDenied, "missing csrf token"))
				return
			}
			header := r.Header.Get(csrfHeaderName)
			if header == "" || header != cookie.Value {
				logger.Warn("csrf token mismatch", "event_type", "csrf_denied", "path", r.URL.Path)
				httpserver.RespondErr(w, logger, apperr.New(apperr.CSRFDenied, "csrf token mismatch"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
