package httpapi

import (
	"net/http"

	"github.com/ckoval7/challengectl/internal/eventbus"
	"github.com/ckoval7/challengectl/internal/httpserver"
	"github.com/ckoval7/challengectl/internal/store"
)

// handleDashboard is GET /dashboard: a single aggregated snapshot for the
// admin UI's initial paint, avoiding a waterfall of separate list calls.
func (d *Dependencies) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	agents, err := d.Store.ListAgents(ctx, "")
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	challenges, err := d.Store.ListChallenges(ctx)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	paused, err := d.Store.IsPaused(ctx)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"agents":               agents,
		"challenges":           challenges,
		"paused":               paused,
		"recent_logs":          d.Bus.RecentLogs(),
		"recent_transmissions": d.Bus.RecentTransmissions(),
	})
}

func (d *Dependencies) handleLogs(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]any{"logs": d.Bus.RecentLogs()})
}

func (d *Dependencies) handleRunners(w http.ResponseWriter, r *http.Request) {
	agentType := store.AgentType(r.URL.Query().Get("type"))
	agents, err := d.Store.ListAgents(r.Context(), agentType)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"runners": agents})
}

func (d *Dependencies) handleTransmissions(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	challengeID := r.URL.Query().Get("challenge_id")

	txs, total, err := d.Store.ListTransmissions(r.Context(), challengeID, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(txs, params, int(total)))
}

func (d *Dependencies) handleRecordings(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	challengeID := r.URL.Query().Get("challenge_id")

	recs, total, err := d.Store.ListRecordings(r.Context(), challengeID, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(recs, params, int(total)))
}

// handlePause is POST /control/pause: sets the manual pause flag. The
// Coordinator checks this flag directly against the Store on every
// assignment attempt, so no in-memory signal needs to propagate. Manual
// pause also clears auto_paused (spec.md §4.C): pause or resume always
// leaves the daily schedule's flag in a known, cleared state.
func (d *Dependencies) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.SetSystemState(r.Context(), store.StateKeyPaused, "true"); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	if err := d.Store.DeleteSystemState(r.Context(), store.StateKeyAutoPaused); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventSystemControl, map[string]any{"paused": true})
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (d *Dependencies) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.SetSystemState(r.Context(), store.StateKeyPaused, "false"); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	if err := d.Store.DeleteSystemState(r.Context(), store.StateKeyAutoPaused); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventSystemControl, map[string]any{"paused": false})
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// handleControlStatus is GET /control/status: the server's connectivity
// status enriched with the pause flags. It carries no config-vs-store diff
// report.
func (d *Dependencies) handleControlStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := d.Server.BuildStatus(ctx)

	paused, err := d.Store.IsPaused(ctx)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	status.Paused = paused

	_, autoPaused, err := d.Store.GetSystemState(ctx, store.StateKeyAutoPaused)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	status.AutoPaused = autoPaused

	httpserver.Respond(w, http.StatusOK, status)
}

type conferenceSettingsRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Website  string `json:"website"`
}

// handleUpdateConference is PUT /conference: updates the in-memory domain
// catalog's conference metadata. It does not persist back to the on-disk
// YAML document; an admin editing conference details through the API
// accepts that a restart or a POST /challenges/reload reverts to the file's
// values, matching the original's in-memory-only
// override of loaded config.
func (d *Dependencies) handleUpdateConference(w http.ResponseWriter, r *http.Request) {
	var req conferenceSettingsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	current := d.domain()
	updated := *current
	updated.Conference.Name = req.Name
	updated.Conference.Location = req.Location
	updated.Conference.Website = req.Website

	d.DomainPtr.Store(&updated)
	d.Coord.SetDomain(&updated)

	httpserver.Respond(w, http.StatusOK, updated.Conference)
}
