// Package httpapi wires every component onto the HTTP/WS surface described
// in spec.md §4.I and §6: it owns no state of its own, only request
// decoding, auth/permission gating, and translating component calls into
// the JSON envelopes the surface promises.
package httpapi

import (
	"log/slog"
	"sync/atomic"

	"github.com/ckoval7/challengectl/internal/agents"
	"github.com/ckoval7/challengectl/internal/assignment"
	"github.com/ckoval7/challengectl/internal/auth"
	"github.com/ckoval7/challengectl/internal/config"
	"github.com/ckoval7/challengectl/internal/crypto"
	"github.com/ckoval7/challengectl/internal/enrollment"
	"github.com/ckoval7/challengectl/internal/eventbus"
	"github.com/ckoval7/challengectl/internal/httpserver"
	"github.com/ckoval7/challengectl/internal/scheduler"
	"github.com/ckoval7/challengectl/internal/store"
	"github.com/redis/go-redis/v9"
)

// Dependencies holds every wired component the HTTP handlers need. It is
// built once in internal/app and passed to Mount. DomainPtr is shared with
// the Coordinator's own atomic.Pointer[config.Domain] so a /challenges/reload
// call updates both the public read-side endpoints and the frequency
// resolver from a single write.
type Dependencies struct {
	Store      *store.Store
	Vault      *crypto.Vault
	Gateway    *auth.Gateway
	Registry   *agents.Registry
	Scheduler  *scheduler.Scheduler
	Coord      *assignment.Coordinator
	Enrollment *enrollment.Service
	Bus        *eventbus.Bus
	Redis      *redis.Client
	Config     *config.Config
	DomainPtr  *atomic.Pointer[config.Domain]
	Server     *httpserver.Server
	Logger     *slog.Logger
}

// domain returns the live domain config, or an empty Domain if none has
// loaded yet.
func (d *Dependencies) domain() *config.Domain {
	if dm := d.DomainPtr.Load(); dm != nil {
		return dm
	}
	return &config.Domain{}
}
