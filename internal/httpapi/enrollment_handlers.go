package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/auth"
	"github.com/ckoval7/challengectl/internal/enrollment"
	"github.com/ckoval7/challengectl/internal/httpserver"
	"github.com/ckoval7/challengectl/internal/store"
)

type issueEnrollmentTokenRequest struct {
	RunnerName string `json:"runner_name" validate:"required"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (d *Dependencies) handleIssueEnrollmentToken(w http.ResponseWriter, r *http.Request) {
	var req issueEnrollmentTokenRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	createdBy := ""
	if id != nil {
		createdBy = id.Username
	}

	var ttl time.Duration
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	token, err := d.Enrollment.IssueToken(r.Context(), enrollment.IssueTokenInput{
		RunnerName: req.RunnerName,
		CreatedBy:  createdBy,
		TTL:        ttl,
	})
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]string{"token": token})
}

type enrollRequest struct {
	Token          string         `json:"token" validate:"required"`
	ProposedAPIKey string         `json:"proposed_api_key" validate:"required"`
	RunnerID       string         `json:"runner_id" validate:"required"`
	Hostname       string         `json:"hostname"`
	AgentType      string         `json:"agent_type"`
	Devices        []store.Device `json:"devices"`
}

// handleEnroll is POST /enrollment/enroll: token-authenticated, not session
// or bearer — the token itself is the one-shot credential being exchanged
// (spec.md §4.F, §6).
func (d *Dependencies) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	agentType := store.AgentType(req.AgentType)
	if agentType != "" && agentType != store.AgentTypeRunner && agentType != store.AgentTypeListener {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.Validation, "agent_type must be runner or listener"))
		return
	}

	err := d.Enrollment.Enroll(r.Context(), enrollment.EnrollInput{
		Token:          req.Token,
		ProposedAPIKey: req.ProposedAPIKey,
		RunnerID:       req.RunnerID,
		Hostname:       req.Hostname,
		AgentType:      agentType,
		Devices:        req.Devices,
		MAC:            r.Header.Get("X-Runner-MAC"),
		MachineID:      r.Header.Get("X-Runner-Machine-ID"),
		IP:             httpserver.ClientIP(r),
	})
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]string{"status": "enrolled", "runner_id": req.RunnerID})
}

func (d *Dependencies) handleListEnrollmentTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := d.Store.ListEnrollmentTokens(r.Context())
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (d *Dependencies) handleRevokeEnrollmentToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "t")
	if err := d.Store.RevokeEnrollmentToken(r.Context(), token); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type reEnrollRequest struct {
	TTLSeconds int `json:"ttl_seconds"`
}

// handleReEnroll is POST /enrollment/re-enroll/{runner_id}: mints a fresh
// enrollment token bound to an already-known runner_id, letting a runner
// rotate its API key without first being deleted and re-registered.
func (d *Dependencies) handleReEnroll(w http.ResponseWriter, r *http.Request) {
	runnerID := chi.URLParam(r, "runner_id")
	if _, err := d.Store.GetAgent(r.Context(), runnerID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	var req reEnrollRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	createdBy := ""
	if id != nil {
		createdBy = id.Username
	}

	var ttl time.Duration
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	token, err := d.Enrollment.IssueToken(r.Context(), enrollment.IssueTokenInput{
		RunnerName:      strings.TrimSpace(runnerID),
		CreatedBy:       createdBy,
		TTL:             ttl,
		ReEnrollmentFor: runnerID,
	})
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]string{"token": token})
}
