// Package agents implements the AgentRegistry component (spec.md §4.D):
// runner/listener registration, heartbeat liveness, and the multi-factor
// host-binding check enforced on every authenticated agent request.
package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/crypto"
	"github.com/ckoval7/challengectl/internal/store"
)

// staleHeartbeat is the window within which an agent's last heartbeat is
// still considered fresh enough to enforce host binding (spec.md §4.D).
const staleHeartbeat = 2 * time.Minute

// Registry is the AgentRegistry.
type Registry struct {
	store  *store.Store
	logger *slog.Logger
}

// New builds a Registry over st.
func New(st *store.Store, logger *slog.Logger) *Registry {
	return &Registry{store: st, logger: logger}
}

// RegisterInput carries the fields accepted by register (spec.md §4.D).
type RegisterInput struct {
	AgentID   string
	AgentType store.AgentType
	Hostname  string
	IP        string
	MAC       string
	MachineID string
	Devices   []store.Device
	APIKey    string // raw; empty if not changing credentials
}

// Register upserts an agent row, hashing and storing APIKey if provided.
func (r *Registry) Register(ctx context.Context, in RegisterInput) error {
	existing, err := r.store.GetAgent(ctx, in.AgentID)
	if err != nil && apperr.KindOf(err) != apperr.NotFound {
		return err
	}

	agent := store.Agent{
		AgentID:       in.AgentID,
		AgentType:     in.AgentType,
		Hostname:      in.Hostname,
		IP:            in.IP,
		MAC:           in.MAC,
		MachineID:     in.MachineID,
		Devices:       in.Devices,
		Status:        store.AgentOnline,
		Enabled:       true,
		LastHeartbeat: time.Now().UTC(),
	}
	if in.APIKey != "" {
		agent.APIKeyHash = crypto.HashToken(in.APIKey)
	}

	if existing == nil {
		if agent.APIKeyHash == "" {
			return apperr.New(apperr.Validation, "api_key required for first registration")
		}
		return r.store.CreateAgent(ctx, agent)
	}

	if agent.APIKeyHash == "" {
		agent.APIKeyHash = existing.APIKeyHash
	}
	agent.Enabled = existing.Enabled
	agent.CreatedAt = existing.CreatedAt
	return r.store.UpdateAgentRegistration(ctx, agent)
}

// Heartbeat marks an agent online and returns its previous status, so the
// caller can publish a "came back online" event only on a real transition.
func (r *Registry) Heartbeat(ctx context.Context, agentID string) (previous store.AgentStatus, err error) {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return "", err
	}
	if err := r.store.Heartbeat(ctx, agentID); err != nil {
		return "", err
	}
	return agent.Status, nil
}

// MarkOffline flips an agent's status to offline.
func (r *Registry) MarkOffline(ctx context.Context, agentID string) error {
	return r.store.MarkAgentOffline(ctx, agentID)
}

// Enable turns on an agent previously disabled by an operator.
func (r *Registry) Enable(ctx context.Context, agentID string) error {
	return r.store.SetAgentEnabled(ctx, agentID, true)
}

// Disable turns off an agent, excluding it from assignment/recording selection.
func (r *Registry) Disable(ctx context.Context, agentID string) error {
	return r.store.SetAgentEnabled(ctx, agentID, false)
}

// VerifyRequest is the multi-factor host-binding check (spec.md §4.D). It
// looks up the agent by apiKey's hash; if the agent is online and its
// heartbeat is fresh, the request is accepted only if at least one of
// {ip, hostname, mac, machineID} matches the stored value. A stale or
// offline agent skips the host check (it is migrating hosts). Mismatches
// are logged as a security event and reported as apperr.AuthInvalid,
// matching spec.md §7's "undistinguished 401" requirement.
func (r *Registry) VerifyRequest(ctx context.Context, apiKey, ip, hostname, mac, machineID string) (*store.Agent, error) {
	agent, err := r.store.GetAgentByAPIKeyHash(ctx, crypto.HashToken(apiKey))
	if err != nil {
		return nil, apperr.New(apperr.AuthInvalid, "invalid api key")
	}
	if !agent.Enabled {
		return nil, apperr.New(apperr.AuthInvalid, "agent disabled")
	}

	fresh := agent.Status == store.AgentOnline && time.Since(agent.LastHeartbeat) <= staleHeartbeat
	if !fresh {
		return agent, nil
	}

	matched := (ip != "" && ip == agent.IP) ||
		(hostname != "" && hostname == agent.Hostname) ||
		(mac != "" && mac == agent.MAC) ||
		(machineID != "" && machineID == agent.MachineID)

	if !matched {
		r.logger.Warn("host binding mismatch",
			"event_type", "host_binding_mismatch",
			"agent_id", agent.AgentID,
			"ip", ip,
			"hostname", hostname,
		)
		return nil, apperr.New(apperr.AuthInvalid, "host binding mismatch")
	}

	return agent, nil
}
