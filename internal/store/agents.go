package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ckoval7/challengectl/internal/apperr"
)

// CreateAgent inserts a new agent row, devices encoded as JSON (spec.md §4.D).
func (s *Store) CreateAgent(ctx context.Context, a Agent) error {
	devices, err := json.Marshal(a.Devices)
	if err != nil {
		return fmt.Errorf("encoding devices: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agents (agent_id, agent_type, hostname, ip, mac, machine_id, devices,
		                     api_key_hash, status, enabled, last_heartbeat, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.AgentID, a.AgentType, a.Hostname, a.IP, a.MAC, a.MachineID, devices,
		a.APIKeyHash, a.Status, a.Enabled, a.LastHeartbeat, orNow(a.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.Conflict, "agent %q already registered", a.AgentID)
		}
		return fmt.Errorf("creating agent: %w", err)
	}
	return nil
}

// GetAgent fetches an agent by ID.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	return s.scanAgentRow(s.pool.QueryRow(ctx, `
		SELECT agent_id, agent_type, hostname, ip, mac, machine_id, devices,
		       api_key_hash, status, enabled, last_heartbeat, created_at
		FROM agents WHERE agent_id=$1`, agentID))
}

// GetAgentByAPIKeyHash looks up an agent by its hashed API key, used on every
// authenticated runner/listener request.
func (s *Store) GetAgentByAPIKeyHash(ctx context.Context, hash string) (*Agent, error) {
	return s.scanAgentRow(s.pool.QueryRow(ctx, `
		SELECT agent_id, agent_type, hostname, ip, mac, machine_id, devices,
		       api_key_hash, status, enabled, last_heartbeat, created_at
		FROM agents WHERE api_key_hash=$1`, hash))
}

func (s *Store) scanAgentRow(row pgx.Row) (*Agent, error) {
	var a Agent
	var devices []byte
	err := row.Scan(&a.AgentID, &a.AgentType, &a.Hostname, &a.IP, &a.MAC, &a.MachineID, &devices,
		&a.APIKeyHash, &a.Status, &a.Enabled, &a.LastHeartbeat, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "agent not found")
		}
		return nil, fmt.Errorf("getting agent: %w", err)
	}
	if len(devices) > 0 {
		if err := json.Unmarshal(devices, &a.Devices); err != nil {
			return nil, fmt.Errorf("decoding devices: %w", err)
		}
	}
	return &a, nil
}

// ListAgents returns every agent, optionally filtered by type.
func (s *Store) ListAgents(ctx context.Context, agentType AgentType) ([]Agent, error) {
	var rows pgx.Rows
	var err error
	if agentType == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT agent_id, agent_type, hostname, ip, mac, machine_id, devices,
			       api_key_hash, status, enabled, last_heartbeat, created_at
			FROM agents ORDER BY agent_id`)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT agent_id, agent_type, hostname, ip, mac, machine_id, devices,
			       api_key_hash, status, enabled, last_heartbeat, created_at
			FROM agents WHERE agent_type=$1 ORDER BY agent_id`, agentType)
	}
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		var devices []byte
		if err := rows.Scan(&a.AgentID, &a.AgentType, &a.Hostname, &a.IP, &a.MAC, &a.MachineID, &devices,
			&a.APIKeyHash, &a.Status, &a.Enabled, &a.LastHeartbeat, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		if len(devices) > 0 {
			if err := json.Unmarshal(devices, &a.Devices); err != nil {
				return nil, fmt.Errorf("decoding devices: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Heartbeat marks an agent online and stamps last_heartbeat=now, per spec.md
// §4.D's liveness contract.
func (s *Store) Heartbeat(ctx context.Context, agentID string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE agents SET status=$2, last_heartbeat=$3 WHERE agent_id=$1",
		agentID, AgentOnline, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "agent not found")
	}
	return nil
}

// MarkAgentOffline flips an agent's status to offline.
func (s *Store) MarkAgentOffline(ctx context.Context, agentID string) error {
	_, err := s.pool.Exec(ctx, "UPDATE agents SET status=$2 WHERE agent_id=$1", agentID, AgentOffline)
	if err != nil {
		return fmt.Errorf("marking agent offline: %w", err)
	}
	return nil
}

// ReapStaleAgents marks every online agent whose last_heartbeat predates the
// deadline as offline, returning the affected agent IDs.
func (s *Store) ReapStaleAgents(ctx context.Context, timeout time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE agents SET status=$1
		WHERE status=$2 AND last_heartbeat < $3
		RETURNING agent_id`,
		AgentOffline, AgentOnline, time.Now().UTC().Add(-timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("reaping stale agents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning reaped agent: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SetAgentEnabled toggles the operator enable/disable flag.
func (s *Store) SetAgentEnabled(ctx context.Context, agentID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, "UPDATE agents SET enabled=$2 WHERE agent_id=$1", agentID, enabled)
	if err != nil {
		return fmt.Errorf("setting agent enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "agent not found")
	}
	return nil
}

// UpdateAgentRegistration rewrites host identity, liveness, and credential
// fields on re-registration, leaving enabled/created_at untouched.
func (s *Store) UpdateAgentRegistration(ctx context.Context, a Agent) error {
	devices, err := json.Marshal(a.Devices)
	if err != nil {
		return fmt.Errorf("encoding devices: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents
		SET hostname=$2, ip=$3, mac=$4, machine_id=$5, devices=$6, api_key_hash=$7,
		    status=$8, last_heartbeat=$9
		WHERE agent_id=$1`,
		a.AgentID, a.Hostname, a.IP, a.MAC, a.MachineID, devices, a.APIKeyHash, a.Status, a.LastHeartbeat,
	)
	if err != nil {
		return fmt.Errorf("updating agent registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "agent not found")
	}
	return nil
}

// UpdateAgentDevices overwrites an agent's reported device inventory, sent on
// every runner/listener heartbeat payload.
func (s *Store) UpdateAgentDevices(ctx context.Context, agentID string, devices []Device) error {
	encoded, err := json.Marshal(devices)
	if err != nil {
		return fmt.Errorf("encoding devices: %w", err)
	}
	tag, err := s.pool.Exec(ctx, "UPDATE agents SET devices=$2 WHERE agent_id=$1", agentID, encoded)
	if err != nil {
		return fmt.Errorf("updating agent devices: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "agent not found")
	}
	return nil
}

// DeleteAgent removes an agent registration entirely (operator revoke).
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM agents WHERE agent_id=$1", agentID)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "agent not found")
	}
	return nil
}

// ListOnlineAgents returns every enabled, online agent of the given type,
// used by the AssignmentCoordinator to pick candidate runners/listeners.
func (s *Store) ListOnlineAgents(ctx context.Context, agentType AgentType) ([]Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, agent_type, hostname, ip, mac, machine_id, devices,
		       api_key_hash, status, enabled, last_heartbeat, created_at
		FROM agents
		WHERE agent_type=$1 AND enabled=true AND status=$2
		ORDER BY agent_id`,
		agentType, AgentOnline,
	)
	if err != nil {
		return nil, fmt.Errorf("listing online agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		var devices []byte
		if err := rows.Scan(&a.AgentID, &a.AgentType, &a.Hostname, &a.IP, &a.MAC, &a.MachineID, &devices,
			&a.APIKeyHash, &a.Status, &a.Enabled, &a.LastHeartbeat, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		if len(devices) > 0 {
			if err := json.Unmarshal(devices, &a.Devices); err != nil {
				return nil, fmt.Errorf("decoding devices: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
