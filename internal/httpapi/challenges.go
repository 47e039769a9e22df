package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/assignment"
	"github.com/ckoval7/challengectl/internal/config"
	"github.com/ckoval7/challengectl/internal/eventbus"
	"github.com/ckoval7/challengectl/internal/httpserver"
	"github.com/ckoval7/challengectl/internal/store"
)

func (d *Dependencies) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	challenges, err := d.Store.ListChallenges(r.Context())
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"challenges": challenges})
}

type createChallengeRequest struct {
	Name     string         `json:"name" validate:"required"`
	Priority int            `json:"priority"`
	Enabled  bool           `json:"enabled"`
	Config   map[string]any `json:"config" validate:"required"`
}

// handleCreateChallenge validates config's frequency-spec and delay-bound
// invariants before ever reaching the store (spec.md §7 ValidationError).
func (d *Dependencies) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req createChallengeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := assignment.ValidateConfig(req.Config, d.domain()); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	challenge := store.Challenge{
		ChallengeID: uuid.NewString(),
		Name:        req.Name,
		Config:      req.Config,
		Enabled:     req.Enabled,
		Priority:    req.Priority,
	}
	if err := d.Store.AddChallenge(r.Context(), challenge); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventChallengesUpdate, nil)
	httpserver.Respond(w, http.StatusCreated, challenge)
}

func (d *Dependencies) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "id")
	challenge, err := d.Store.GetChallenge(r.Context(), challengeID)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, challenge)
}

type updateChallengeRequest struct {
	Name     string         `json:"name" validate:"required"`
	Priority int            `json:"priority"`
	Config   map[string]any `json:"config" validate:"required"`
}

func (d *Dependencies) handleUpdateChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "id")
	var req updateChallengeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := assignment.ValidateConfig(req.Config, d.domain()); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	if err := d.Store.UpdateChallengeConfig(r.Context(), challengeID, req.Name, req.Config, req.Priority); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	d.Scheduler.Reset(challengeID)
	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventChallengesUpdate, nil)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (d *Dependencies) handleDeleteChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "id")
	if err := d.Store.DeleteChallenge(r.Context(), challengeID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	d.Scheduler.Reset(challengeID)
	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventChallengesUpdate, nil)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type enableChallengeRequest struct {
	Enabled bool `json:"enabled"`
}

func (d *Dependencies) handleEnableChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "id")
	var req enableChallengeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := d.Store.SetChallengeEnabled(r.Context(), challengeID, req.Enabled); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventChallengesUpdate, nil)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleTriggerChallenge is POST /challenges/{id}/trigger: an admin override
// that clears the Scheduler's delay timer, making the challenge's next poll
// pick it up immediately regardless of min_delay/max_delay.
func (d *Dependencies) handleTriggerChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "id")
	if _, err := d.Store.GetChallenge(r.Context(), challengeID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	d.Scheduler.ManualTrigger(challengeID)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "triggered"})
}

// handleReloadChallenges is POST /challenges/reload: re-reads the on-disk
// domain document and swaps both atomic pointers that hold it — the
// Dependencies copy public/read-side endpoints resolve frequency ranges
// from, and the Coordinator's own copy the frequency resolver consults —
// so a single call keeps them from diverging (spec.md §3 config_sync).
func (d *Dependencies) handleReloadChallenges(w http.ResponseWriter, r *http.Request) {
	domain, err := config.LoadDomain(d.Config.ConfigPath)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, apperr.Wrap(apperr.Internal, "reloading domain config", err))
		return
	}

	d.DomainPtr.Store(domain)
	d.Coord.SetDomain(domain)

	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventChallengesUpdate, nil)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"status":           "reloaded",
		"frequency_ranges": len(domain.FrequencyRanges),
		"seed_challenges":  len(domain.Challenges),
	})
}

type importChallengesRequest struct {
	Challenges []config.SeedChallenge `json:"challenges" validate:"required"`
}

// handleImportChallenges is POST /challenges/import: inserts a batch of
// challenge definitions in one call, each under a fresh challenge_id, the
// bulk counterpart to individual POST /challenges calls for seeding a
// conference's full challenge set. Existing challenges are never updated: an
// entry whose name is already in use is added as another challenge. The
// first entry that fails validation or insertion stops the batch; entries
// inserted before it remain.
func (d *Dependencies) handleImportChallenges(w http.ResponseWriter, r *http.Request) {
	var req importChallengesRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	domain := d.domain()
	imported := 0
	for _, seed := range req.Challenges {
		if err := assignment.ValidateConfig(seed.Config, domain); err != nil {
			httpserver.RespondErr(w, d.Logger, apperr.Newf(apperr.Validation, "challenge %q: %v", seed.Name, err))
			return
		}
		if err := d.Store.AddChallenge(r.Context(), store.Challenge{
			ChallengeID: uuid.NewString(),
			Name:        seed.Name,
			Config:      seed.Config,
			Enabled:     seed.Enabled,
			Priority:    seed.Priority,
		}); err != nil {
			httpserver.RespondErr(w, d.Logger, err)
			return
		}
		imported++
	}

	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventChallengesUpdate, nil)
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "imported", "count": imported})
}
