package auth

import (
	"net/http"
	"time"
)

// isHTTPS reports whether r arrived over TLS, either directly or via a
// trusted reverse proxy's X-Forwarded-Proto header (spec.md §4.E).
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}

// SetSessionCookies issues the session_token (HttpOnly) and csrf_token
// (readable) cookies, both expiring with the session (spec.md §4.E).
func SetSessionCookies(w http.ResponseWriter, r *http.Request, sessionToken, csrfToken string, expires time.Time) {
	secure := isHTTPS(r)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    csrfToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
}

// ClearSessionCookies expires both session cookies, used on logout.
func ClearSessionCookies(w http.ResponseWriter, r *http.Request) {
	past := time.Unix(0, 0)
	secure := isHTTPS(r)

	http.SetCookie(w, &http.Cookie{
		Name: sessionCookieName, Value: "", Path: "/", HttpOnly: true,
		Secure: secure, SameSite: http.SameSiteLaxMode, Expires: past, MaxAge: -1,
	})
	http.SetCookie(w, &http.Cookie{
		Name: csrfCookieName, Value: "", Path: "/", HttpOnly: false,
		Secure: secure, SameSite: http.SameSiteLaxMode, Expires: past, MaxAge: -1,
	})
}
