package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ckoval7/challengectl/internal/apperr"
)

// RecordTransmissionStart inserts a new in-progress transmission row.
func (s *Store) RecordTransmissionStart(ctx context.Context, t Transmission) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transmissions (id, challenge_id, runner_id, device_id, frequency_hz, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.ChallengeID, t.RunnerID, t.DeviceID, t.FrequencyHz, orNow(t.StartedAt), TransmissionTransmitting,
	)
	if err != nil {
		return fmt.Errorf("recording transmission start: %w", err)
	}
	return nil
}

// CompleteTransmission marks a transmission success/failed and stamps completed_at.
func (s *Store) CompleteTransmission(ctx context.Context, id string, success bool, errorMessage string) error {
	status := TransmissionSuccess
	if !success {
		status = TransmissionFailed
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE transmissions SET status=$2, completed_at=$3, error_message=$4 WHERE id=$1`,
		id, status, time.Now().UTC(), errorMessage,
	)
	if err != nil {
		return fmt.Errorf("completing transmission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "transmission not found")
	}
	return nil
}

// GetTransmission fetches a transmission by ID.
func (s *Store) GetTransmission(ctx context.Context, id string) (*Transmission, error) {
	var t Transmission
	err := s.pool.QueryRow(ctx, `
		SELECT id, challenge_id, runner_id, device_id, frequency_hz, started_at, completed_at, status, error_message
		FROM transmissions WHERE id=$1`, id,
	).Scan(&t.ID, &t.ChallengeID, &t.RunnerID, &t.DeviceID, &t.FrequencyHz, &t.StartedAt, &t.CompletedAt, &t.Status, &t.ErrorMessage)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "transmission not found")
		}
		return nil, fmt.Errorf("getting transmission: %w", err)
	}
	return &t, nil
}

// ListTransmissions returns transmissions ordered newest-first, paginated.
func (s *Store) ListTransmissions(ctx context.Context, challengeID string, limit, offset int) ([]Transmission, int64, error) {
	var total int64
	countQuery := "SELECT count(*) FROM transmissions"
	listQuery := `
		SELECT id, challenge_id, runner_id, device_id, frequency_hz, started_at, completed_at, status, error_message
		FROM transmissions`
	args := []any{}
	if challengeID != "" {
		countQuery += " WHERE challenge_id=$1"
		listQuery += " WHERE challenge_id=$1"
		args = append(args, challengeID)
	}
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transmissions: %w", err)
	}

	listQuery += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transmissions: %w", err)
	}
	defer rows.Close()

	var out []Transmission
	for rows.Next() {
		var t Transmission
		if err := rows.Scan(&t.ID, &t.ChallengeID, &t.RunnerID, &t.DeviceID, &t.FrequencyHz, &t.StartedAt, &t.CompletedAt, &t.Status, &t.ErrorMessage); err != nil {
			return nil, 0, fmt.Errorf("scanning transmission: %w", err)
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}
