// Package enrollment implements the EnrollmentService component (spec.md
// §4.F): one-shot enrollment tokens and long-lived provisioning keys, both
// minting a runner/listener API key.
package enrollment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/crypto"
	"github.com/ckoval7/challengectl/internal/eventbus"
	"github.com/ckoval7/challengectl/internal/store"
)

// DefaultTokenTTL is the enrollment token lifetime when the caller doesn't
// override it (spec.md §4.F).
const DefaultTokenTTL = 24 * time.Hour

// Service mints and consumes enrollment credentials.
type Service struct {
	store  *store.Store
	bus    *eventbus.Bus
	logger *slog.Logger
}

// New builds a Service.
func New(st *store.Store, bus *eventbus.Bus, logger *slog.Logger) *Service {
	return &Service{store: st, bus: bus, logger: logger}
}

// IssueTokenInput describes an admin- or initial-setup-created enrollment
// token.
type IssueTokenInput struct {
	RunnerName      string
	CreatedBy       string
	TTL             time.Duration // zero means DefaultTokenTTL
	ReEnrollmentFor string        // set to rebind an existing runner's credentials
}

// IssueToken creates a fresh, unused enrollment token and returns its raw
// value (the value itself is the bearer of trust; it is not hashed at rest).
func (s *Service) IssueToken(ctx context.Context, in IssueTokenInput) (string, error) {
	ttl := in.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	token, err := crypto.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("generating enrollment token: %w", err)
	}

	err = s.store.CreateEnrollmentToken(ctx, store.EnrollmentToken{
		Token:           token,
		RunnerName:      in.RunnerName,
		CreatedBy:       in.CreatedBy,
		ExpiresUTC:      time.Now().UTC().Add(ttl),
		ReEnrollmentFor: in.ReEnrollmentFor,
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// EnrollInput is the payload of the `enroll` endpoint (spec.md §4.F).
type EnrollInput struct {
	Token          string
	ProposedAPIKey string
	RunnerID       string
	Hostname       string
	AgentType      store.AgentType
	Devices        []store.Device
	MAC            string
	MachineID      string
	IP             string
}

// Enroll validates the token and upserts the agent row with the proposed
// API key's hash, marking the token consumed on success.
func (s *Service) Enroll(ctx context.Context, in EnrollInput) error {
	if in.ProposedAPIKey == "" {
		return apperr.New(apperr.Validation, "proposed_api_key is required")
	}

	t, err := s.store.GetEnrollmentToken(ctx, in.Token)
	if err != nil {
		return err
	}
	if t.Used {
		return apperr.New(apperr.AuthInvalid, "enrollment token already used")
	}
	if t.ExpiresUTC.Before(time.Now().UTC()) {
		return apperr.New(apperr.AuthInvalid, "enrollment token expired")
	}

	if t.ReEnrollmentFor != "" {
		if in.RunnerID != t.ReEnrollmentFor {
			return apperr.New(apperr.Validation, "runner_id must match the token's re_enrollment_for binding")
		}
	} else if _, err := s.store.GetAgent(ctx, in.RunnerID); err == nil {
		return apperr.Newf(apperr.Conflict, "runner %q is already enrolled", in.RunnerID)
	} else if apperr.KindOf(err) != apperr.NotFound {
		return err
	}

	agentType := in.AgentType
	if agentType == "" {
		agentType = store.AgentTypeRunner
	}

	agent := store.Agent{
		AgentID:       in.RunnerID,
		AgentType:     agentType,
		Hostname:      in.Hostname,
		IP:            in.IP,
		MAC:           in.MAC,
		MachineID:     in.MachineID,
		Devices:       in.Devices,
		APIKeyHash:    crypto.HashToken(in.ProposedAPIKey),
		Status:        store.AgentOffline,
		Enabled:       true,
		LastHeartbeat: time.Now().UTC(),
	}

	if existing, err := s.store.GetAgent(ctx, in.RunnerID); err == nil {
		agent.Enabled = existing.Enabled
		if err := s.store.UpdateAgentRegistration(ctx, agent); err != nil {
			return err
		}
	} else {
		if err := s.store.CreateAgent(ctx, agent); err != nil {
			return err
		}
	}

	if err := s.store.ConsumeEnrollmentToken(ctx, in.Token, in.RunnerID); err != nil {
		return err
	}

	s.bus.Publish(eventbus.TopicAdmin, eventbus.EventRunnerEnrolled, map[string]any{
		"runner_id":  in.RunnerID,
		"agent_type": string(agentType),
		"hostname":   in.Hostname,
		"re_enroll":  t.ReEnrollmentFor != "",
	})
	s.logger.Info("runner enrolled", "runner_id", in.RunnerID, "agent_type", agentType)
	return nil
}

// IssueProvisioningKey creates a long-lived provisioning credential, used by
// admins holding `create_provisioning_key` (spec.md §4.F).
func (s *Service) IssueProvisioningKey(ctx context.Context, description, createdBy string) (keyID, rawKey string, err error) {
	rawKey, err = crypto.GenerateToken()
	if err != nil {
		return "", "", fmt.Errorf("generating provisioning key: %w", err)
	}
	keyID = uuid.NewString()

	err = s.store.CreateProvisioningKey(ctx, store.ProvisioningKey{
		KeyID:       keyID,
		APIKeyHash:  crypto.HashToken(rawKey),
		Description: description,
		CreatedBy:   createdBy,
		Enabled:     true,
	})
	if err != nil {
		return "", "", err
	}
	return keyID, rawKey, nil
}

// VerifyProvisioningKey resolves a bearer provisioning key to its row,
// rejecting disabled keys. Provisioning keys gate only credential minting;
// they carry no other authority (spec.md §4.F).
func (s *Service) VerifyProvisioningKey(ctx context.Context, rawKey string) (*store.ProvisioningKey, error) {
	k, err := s.store.GetProvisioningKeyByHash(ctx, crypto.HashToken(rawKey))
	if err != nil {
		return nil, err
	}
	if !k.Enabled {
		return nil, apperr.New(apperr.AuthInvalid, "provisioning key disabled")
	}
	return k, nil
}

// Provision authenticates via a provisioning key and mints a fresh
// enrollment token plus a ready-to-paste runner config document (spec.md
// §4.F). The API key embedded in the config is freshly generated and never
// stored server-side; only the enrollment token that will exchange it for a
// registered agent identity is persisted.
func (s *Service) Provision(ctx context.Context, rawProvisioningKey, runnerName, controllerBaseURL string) (RunnerConfig, error) {
	if _, err := s.VerifyProvisioningKey(ctx, rawProvisioningKey); err != nil {
		return RunnerConfig{}, err
	}

	enrollmentToken, err := s.IssueToken(ctx, IssueTokenInput{RunnerName: runnerName, CreatedBy: "provisioning_key"})
	if err != nil {
		return RunnerConfig{}, err
	}

	proposedAPIKey, err := crypto.GenerateToken()
	if err != nil {
		return RunnerConfig{}, fmt.Errorf("generating proposed api key: %w", err)
	}

	return RunnerConfig{
		ControllerURL:   controllerBaseURL,
		EnrollmentToken: enrollmentToken,
		ProposedAPIKey:  proposedAPIKey,
		RunnerName:      runnerName,
	}, nil
}
