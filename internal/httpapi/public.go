package httpapi

import (
	"net/http"

	"github.com/ckoval7/challengectl/internal/httpserver"
)

// publicChallengeView is the anonymized shape of a challenge returned by
// GET /public/challenges: no config, no assignment bookkeeping, just enough
// for a leaderboard display.
type publicChallengeView struct {
	ChallengeID string `json:"challenge_id"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
}

func (d *Dependencies) handlePublicChallenges(w http.ResponseWriter, r *http.Request) {
	challenges, err := d.Store.ListChallenges(r.Context())
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	out := make([]publicChallengeView, 0, len(challenges))
	for _, c := range challenges {
		out = append(out, publicChallengeView{ChallengeID: c.ChallengeID, Name: c.Name, Enabled: c.Enabled})
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"challenges": out})
}

func (d *Dependencies) handleConference(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, d.domain().Conference)
}

func (d *Dependencies) handleFrequencyRanges(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]any{"frequency_ranges": d.domain().FrequencyRanges})
}
