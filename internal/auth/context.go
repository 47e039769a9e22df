package auth

import (
	"context"

	"github.com/ckoval7/challengectl/internal/store"
)

type contextKey int

const (
	identityKey contextKey = iota
	agentIdentityKey
)

// Identity is the authenticated admin user attached to a request context
// after the session middleware runs.
type Identity struct {
	Username     string
	Permissions  []string
	SessionToken string
	TOTPVerified bool
}

// HasPermission reports whether the identity carries permission.
func (id *Identity) HasPermission(permission string) bool {
	for _, p := range id.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// NewContext attaches id to ctx.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext retrieves the Identity attached by the session middleware, or
// nil if the request is unauthenticated.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// AgentIdentity is the authenticated runner/listener attached to a request
// context after the agent middleware runs.
type AgentIdentity struct {
	Agent *store.Agent
}

// NewAgentContext attaches an agent identity to ctx.
func NewAgentContext(ctx context.Context, id *AgentIdentity) context.Context {
	return context.WithValue(ctx, agentIdentityKey, id)
}

// AgentFromContext retrieves the AgentIdentity attached by the agent
// middleware, or nil if the request did not authenticate as an agent.
func AgentFromContext(ctx context.Context) *AgentIdentity {
	id, _ := ctx.Value(agentIdentityKey).(*AgentIdentity)
	return id
}
