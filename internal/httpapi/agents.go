package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ckoval7/challengectl/internal/agents"
	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/auth"
	"github.com/ckoval7/challengectl/internal/eventbus"
	"github.com/ckoval7/challengectl/internal/httpserver"
	"github.com/ckoval7/challengectl/internal/store"
)

type registerAgentRequest struct {
	Hostname string        `json:"hostname"`
	Devices  []store.Device `json:"devices"`
}

// handleRegisterAgent re-registers an already-enrolled agent (bearer
// authenticated): it refreshes hostname/IP/device inventory without
// touching the stored API key hash (spec.md §4.D register's idempotent
// upsert, minus credential minting which belongs to EnrollmentService).
func (d *Dependencies) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	agentID := auth.AgentFromContext(r.Context())
	if agentID == nil {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.AuthMissing, "agent authentication required"))
		return
	}

	var req registerAgentRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	hostname := req.Hostname
	if hostname == "" {
		hostname = agentID.Agent.Hostname
	}

	err := d.Registry.Register(r.Context(), agents.RegisterInput{
		AgentID:   agentID.Agent.AgentID,
		AgentType: agentID.Agent.AgentType,
		Hostname:  hostname,
		IP:        httpserver.ClientIP(r),
		MAC:       r.Header.Get("X-Runner-MAC"),
		MachineID: r.Header.Get("X-Runner-Machine-ID"),
		Devices:   req.Devices,
	})
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "registered"})
}

// requireOwnAgent verifies the bearer-authenticated agent identity matches
// the {id} path param, rejecting one agent's key acting on another agent's
// resource.
func requireOwnAgent(r *http.Request, agentID string) error {
	identity := auth.AgentFromContext(r.Context())
	if identity == nil || identity.Agent.AgentID != agentID {
		return apperr.New(apperr.PermissionDenied, "unauthorized")
	}
	return nil
}

func (d *Dependencies) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if err := requireOwnAgent(r, agentID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	previous, err := d.Registry.Heartbeat(r.Context(), agentID)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	if previous == store.AgentOffline {
		d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventRunnerStatus, map[string]any{
			"agent_id": agentID,
			"status":   "online",
		})
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Dependencies) handleAgentSignout(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if err := requireOwnAgent(r, agentID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	if err := d.Registry.MarkOffline(r.Context(), agentID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventRunnerStatus, map[string]any{
		"agent_id": agentID,
		"status":   "offline",
	})
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

type agentLogRequest struct {
	Level   string `json:"level" validate:"required"`
	Message string `json:"message" validate:"required"`
}

func (d *Dependencies) handleAgentLog(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if err := requireOwnAgent(r, agentID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	var req agentLogRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	d.Logger.Info("agent log", "agent_id", agentID, "level", req.Level, "message", req.Message)
	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventLog, map[string]any{
		"agent_id": agentID,
		"level":    req.Level,
		"message":  req.Message,
	})
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "logged"})
}

// handleGetTask is GET /agents/{id}/task, runner-only: resolves the next
// assignable challenge via the AssignmentCoordinator. A `{task:null}` 200
// response (rather than 404) lets a polling runner distinguish "nothing to
// do yet" from an actual error, mirroring the original's NoneAvailable
// sentinel and spec.md §8 scenario S1/S2's wire shape.
func (d *Dependencies) handleGetTask(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if err := requireOwnAgent(r, agentID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	task, err := d.Coord.AssignTask(r.Context(), agentID)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	if task == nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"task": nil})
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"task": map[string]any{
			"challenge_id": task.ChallengeID,
			"name":         task.Name,
			"config":       task.Config,
		},
	})
}

type completeTaskRequest struct {
	ChallengeID  string `json:"challenge_id" validate:"required"`
	DeviceID     string `json:"device_id"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message"`
}

func (d *Dependencies) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if err := requireOwnAgent(r, agentID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	var req completeTaskRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := d.Coord.CompleteTask(r.Context(), req.ChallengeID, agentID, req.DeviceID, req.Success, req.ErrorMessage)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"status":         "recorded",
		"challenge_name": result.ChallengeName,
		"frequency":      result.FrequencyHz,
	})
}
