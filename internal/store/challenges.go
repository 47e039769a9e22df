package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ckoval7/challengectl/internal/apperr"
)

// AddChallenge inserts a new challenge definition in the queued state.
func (s *Store) AddChallenge(ctx context.Context, c Challenge) error {
	config, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("encoding challenge config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO challenges (challenge_id, name, config, enabled, status, priority,
		                         transmission_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)`,
		c.ChallengeID, c.Name, config, c.Enabled, ChallengeQueued, c.Priority, orNow(c.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.Conflict, "challenge %q already exists", c.ChallengeID)
		}
		return fmt.Errorf("adding challenge: %w", err)
	}
	return nil
}

// UpdateChallengeConfig rewrites name/config/priority for an existing challenge.
func (s *Store) UpdateChallengeConfig(ctx context.Context, challengeID, name string, config map[string]any, priority int) error {
	encoded, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encoding challenge config: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE challenges SET name=$2, config=$3, priority=$4 WHERE challenge_id=$1",
		challengeID, name, encoded, priority,
	)
	if err != nil {
		return fmt.Errorf("updating challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "challenge not found")
	}
	return nil
}

// SetChallengeEnabled toggles a challenge's availability for assignment.
func (s *Store) SetChallengeEnabled(ctx context.Context, challengeID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, "UPDATE challenges SET enabled=$2 WHERE challenge_id=$1", challengeID, enabled)
	if err != nil {
		return fmt.Errorf("setting challenge enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "challenge not found")
	}
	return nil
}

// GetChallenge fetches a single challenge by ID.
func (s *Store) GetChallenge(ctx context.Context, challengeID string) (*Challenge, error) {
	return s.scanChallengeRow(s.pool.QueryRow(ctx, challengeSelect+" WHERE challenge_id=$1", challengeID))
}

// ListChallenges returns every challenge ordered by priority desc, name asc.
func (s *Store) ListChallenges(ctx context.Context) ([]Challenge, error) {
	rows, err := s.pool.Query(ctx, challengeSelect+" ORDER BY priority DESC, name ASC")
	if err != nil {
		return nil, fmt.Errorf("listing challenges: %w", err)
	}
	defer rows.Close()
	return scanChallengeRows(rows)
}

// DeleteChallenge removes a challenge definition entirely.
func (s *Store) DeleteChallenge(ctx context.Context, challengeID string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM challenges WHERE challenge_id=$1", challengeID)
	if err != nil {
		return fmt.Errorf("deleting challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "challenge not found")
	}
	return nil
}

const challengeSelect = `
	SELECT challenge_id, name, config, enabled, status, priority, assigned_to,
	       assigned_at, assignment_expires, last_tx_time, transmission_count, created_at
	FROM challenges`

func (s *Store) scanChallengeRow(row pgx.Row) (*Challenge, error) {
	var c Challenge
	var config []byte
	var assignedTo *string
	err := row.Scan(&c.ChallengeID, &c.Name, &config, &c.Enabled, &c.Status, &c.Priority, &assignedTo,
		&c.AssignedAt, &c.AssignmentExpires, &c.LastTxTime, &c.TransmissionCount, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "challenge not found")
		}
		return nil, fmt.Errorf("getting challenge: %w", err)
	}
	if assignedTo != nil {
		c.AssignedTo = *assignedTo
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &c.Config); err != nil {
			return nil, fmt.Errorf("decoding challenge config: %w", err)
		}
	}
	return &c, nil
}

func scanChallengeRows(rows pgx.Rows) ([]Challenge, error) {
	var out []Challenge
	for rows.Next() {
		var c Challenge
		var config []byte
		var assignedTo *string
		if err := rows.Scan(&c.ChallengeID, &c.Name, &config, &c.Enabled, &c.Status, &c.Priority, &assignedTo,
			&c.AssignedAt, &c.AssignmentExpires, &c.LastTxTime, &c.TransmissionCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning challenge: %w", err)
		}
		if assignedTo != nil {
			c.AssignedTo = *assignedTo
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &c.Config); err != nil {
				return nil, fmt.Errorf("decoding challenge config: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AssignNextChallenge atomically picks the highest-priority ready challenge
// and assigns it to runnerID, mirroring spec.md §4.A/§5's single
// BEGIN-IMMEDIATE-equivalent transaction. isReady consults the in-memory
// scheduler timing map (spec.md §4.C) to decide whether a 'waiting'
// challenge's delay has elapsed; a candidate with no timing entry yet is
// always ready. Returns (nil, nil) if nothing is assignable right now,
// including when runnerID already holds an assigned challenge (spec.md §8
// Invariant 1: at most one assigned row per runner at any instant) — a
// double-poll before completion must not hand out a second one.
func (s *Store) AssignNextChallenge(ctx context.Context, runnerID string, timeout time.Duration, isReady func(challengeID string) bool) (*Challenge, error) {
	var assigned *Challenge

	err := s.withAssignmentLock(ctx, func(tx pgx.Tx) error {
		var enabled bool
		err := tx.QueryRow(ctx, "SELECT enabled FROM agents WHERE agent_id=$1 AND agent_type=$2",
			runnerID, AgentTypeRunner).Scan(&enabled)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("checking runner enabled: %w", err)
		}
		if !enabled {
			return nil
		}

		var alreadyAssigned int
		err = tx.QueryRow(ctx, "SELECT count(*) FROM challenges WHERE status=$1 AND assigned_to=$2",
			ChallengeAssigned, runnerID).Scan(&alreadyAssigned)
		if err != nil {
			return fmt.Errorf("checking runner's existing assignment: %w", err)
		}
		if alreadyAssigned > 0 {
			return nil
		}

		rows, err := tx.Query(ctx, challengeSelect+`
			WHERE status IN ('queued', 'waiting') AND enabled = true
			ORDER BY priority DESC, last_tx_time ASC NULLS FIRST, name ASC`)
		if err != nil {
			return fmt.Errorf("querying candidate challenges: %w", err)
		}
		candidates, err := scanChallengeRows(rows)
		if err != nil {
			return err
		}

		var chosen *Challenge
		for i := range candidates {
			c := &candidates[i]
			if isReady != nil && !isReady(c.ChallengeID) {
				continue
			}
			chosen = c
			break
		}
		if chosen == nil {
			return nil
		}

		now := time.Now().UTC()
		expires := now.Add(timeout)
		_, err = tx.Exec(ctx, `
			UPDATE challenges
			SET status=$2, assigned_to=$3, assigned_at=$4, assignment_expires=$5
			WHERE challenge_id=$1`,
			chosen.ChallengeID, ChallengeAssigned, runnerID, now, expires,
		)
		if err != nil {
			return fmt.Errorf("marking challenge assigned: %w", err)
		}

		chosen.Status = ChallengeAssigned
		chosen.AssignedTo = runnerID
		chosen.AssignedAt = &now
		chosen.AssignmentExpires = &expires
		assigned = chosen
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

// CompleteChallenge records a transmission outcome and requeues the
// challenge into 'waiting' with an incremented transmission_count, per
// spec.md §4.A. The caller (AssignmentCoordinator) is responsible for
// updating the scheduler's last_tx/next_tx timing map from the returned
// challenge's config.
//
// The UPDATE is gated on the row still being assigned to runnerID: a
// duplicate complete_task arriving after the row is already back to
// waiting (e.g. a runner retrying after a network blip) must be an
// idempotent no-op, not a second transmission_count bump (spec.md §4.x).
// applied reports whether this call actually performed the transition;
// when false, the returned Challenge is the current (already-waiting) row.
func (s *Store) CompleteChallenge(ctx context.Context, challengeID, runnerID string, success bool, errorMessage string) (*Challenge, bool, error) {
	var result *Challenge
	var applied bool

	err := s.withAssignmentLock(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, challengeSelect+" WHERE challenge_id=$1 FOR UPDATE", challengeID)
		c, err := s.scanChallengeRow(row)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE challenges
			SET status=$2, assigned_to=NULL, assigned_at=NULL, assignment_expires=NULL,
			    transmission_count=transmission_count + 1, last_tx_time=$3
			WHERE challenge_id=$1 AND status=$4 AND assigned_to=$5`,
			challengeID, ChallengeWaiting, now, ChallengeAssigned, runnerID,
		)
		if err != nil {
			return fmt.Errorf("completing challenge: %w", err)
		}

		if tag.RowsAffected() == 0 {
			result = c
			applied = false
			return nil
		}

		c.Status = ChallengeWaiting
		c.AssignedTo = ""
		c.AssignedAt = nil
		c.AssignmentExpires = nil
		c.TransmissionCount++
		c.LastTxTime = &now
		result = c
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

// ReapStaleAssignments requeues every 'assigned' challenge whose
// assignment_expires has passed back to 'waiting', per spec.md §4.A/§4.C's
// assignment-timeout reaper. Returns the number of challenges requeued.
func (s *Store) ReapStaleAssignments(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE challenges
		SET status=$1, assigned_to=NULL, assigned_at=NULL, assignment_expires=NULL
		WHERE status=$2 AND assignment_expires < $3`,
		ChallengeWaiting, ChallengeAssigned, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("reaping stale assignments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RequeueAllAssignedAndWaiting resets every assigned/waiting challenge back
// to queued, run once at startup (spec.md §3 [FULL] startup reconciliation,
// grounded on original_source/server/server.py's boot-time reset).
func (s *Store) RequeueAllAssignedAndWaiting(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE challenges
		SET status=$1, assigned_to=NULL, assigned_at=NULL, assignment_expires=NULL
		WHERE status IN ($2, $3)`,
		ChallengeQueued, ChallengeAssigned, ChallengeWaiting,
	)
	if err != nil {
		return 0, fmt.Errorf("requeuing challenges at startup: %w", err)
	}
	return tag.RowsAffected(), nil
}
