package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ckoval7/challengectl/internal/store"
)

func sampleUser() store.User {
	return store.User{
		Username:     "alice",
		PasswordHash: "bcrypt-hash",
		Enabled:      true,
		Permissions:  []string{"create_users"},
	}
}

// These exercise the decode-and-validate short-circuit every mutating
// handler starts with (spec.md §6): a malformed or incomplete body must
// fail before any component (Store, Gateway, ...) is touched, so a zero
// Dependencies is sufficient here.

func TestHandleLoginRejectsMissingFields(t *testing.T) {
	d := &Dependencies{}

	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	d.handleLogin(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}

func TestHandleVerifyTOTPRejectsMissingCode(t *testing.T) {
	d := &Dependencies{}

	r := httptest.NewRequest(http.MethodPost, "/api/auth/verify-totp", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	d.handleVerifyTOTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}

func TestHandleHealthReportsOK(t *testing.T) {
	d := &Dependencies{}

	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()

	d.handleHealth(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("body = %q, want it to report status ok", w.Body.String())
	}
}

func TestToUserViewOmitsSecrets(t *testing.T) {
	out := toUserView(sampleUser())
	if out.Username != "alice" {
		t.Fatalf("got username %q, want alice", out.Username)
	}
	if len(out.Permissions) != 1 || out.Permissions[0] != "create_users" {
		t.Fatalf("got permissions %v, want [create_users]", out.Permissions)
	}
	body, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal user view: %v", err)
	}
	if strings.Contains(string(body), "bcrypt-hash") {
		t.Fatalf("user view %s exposes the password hash", body)
	}
}
