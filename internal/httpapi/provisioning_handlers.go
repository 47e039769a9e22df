package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/auth"
	"github.com/ckoval7/challengectl/internal/httpserver"
)

func (d *Dependencies) handleListProvisioningKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := d.Store.ListProvisioningKeys(r.Context())
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"keys": keys})
}

type createProvisioningKeyRequest struct {
	Description string `json:"description"`
}

func (d *Dependencies) handleCreateProvisioningKey(w http.ResponseWriter, r *http.Request) {
	var req createProvisioningKeyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	createdBy := ""
	if id != nil {
		createdBy = id.Username
	}

	keyID, rawKey, err := d.Enrollment.IssueProvisioningKey(r.Context(), req.Description, createdBy)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]string{"key_id": keyID, "provisioning_key": rawKey})
}

type setProvisioningKeyEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (d *Dependencies) handleSetProvisioningKeyEnabled(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")
	var req setProvisioningKeyEnabledRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := d.Store.SetProvisioningKeyEnabled(r.Context(), keyID, req.Enabled); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

type provisionRequest struct {
	RunnerName string `json:"runner_name" validate:"required"`
}

// handleProvision is POST /provisioning/provision, authenticated by
// `Authorization: Bearer <provisioning_key>` rather than a session — the
// provisioning key's bearer carries no permission other than minting runner
// credentials (spec.md §4.F).
func (d *Dependencies) handleProvision(w http.ResponseWriter, r *http.Request) {
	rawKey := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if rawKey == "" {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.AuthMissing, "provisioning key required"))
		return
	}

	var req provisionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	controllerBaseURL := "https://" + r.Host
	cfg, err := d.Enrollment.Provision(r.Context(), rawKey, req.RunnerName, controllerBaseURL)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	rendered, err := cfg.Render()
	if err != nil {
		httpserver.RespondErr(w, d.Logger, apperr.Wrap(apperr.Internal, "rendering runner config", err))
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rendered))
}
