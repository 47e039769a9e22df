package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ckoval7/challengectl/internal/apperr"
)

// CreateRecording inserts a recording assignment pushed to a listener
// (spec.md §4.G's opportunistic listener assignment).
func (s *Store) CreateRecording(ctx context.Context, r Recording) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recordings (id, challenge_id, transmission_id, listener_id, frequency_hz,
		                         sample_rate, expected_duration_s, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.ChallengeID, r.TransmissionID, r.ListenerID, r.FrequencyHz, r.SampleRate,
		r.ExpectedDurationS, orNow(r.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("creating recording: %w", err)
	}
	return nil
}

// CompleteRecording records the listener-reported outcome and image metadata.
func (s *Store) CompleteRecording(ctx context.Context, id string, success bool, imagePath string, width, height int, errorMessage string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recordings
		SET completed_at=$2, success=$3, image_path=$4, image_width=$5, image_height=$6, error_message=$7
		WHERE id=$1`,
		id, time.Now().UTC(), success, imagePath, width, height, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("completing recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "recording not found")
	}
	return nil
}

// GetRecording fetches a recording by ID.
func (s *Store) GetRecording(ctx context.Context, id string) (*Recording, error) {
	var r Recording
	err := s.pool.QueryRow(ctx, `
		SELECT id, challenge_id, transmission_id, listener_id, frequency_hz, sample_rate,
		       expected_duration_s, started_at, completed_at, success, image_path, image_width,
		       image_height, error_message
		FROM recordings WHERE id=$1`, id,
	).Scan(&r.ID, &r.ChallengeID, &r.TransmissionID, &r.ListenerID, &r.FrequencyHz, &r.SampleRate,
		&r.ExpectedDurationS, &r.StartedAt, &r.CompletedAt, &r.Success, &r.ImagePath, &r.ImageWidth,
		&r.ImageHeight, &r.ErrorMessage)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "recording not found")
		}
		return nil, fmt.Errorf("getting recording: %w", err)
	}
	return &r, nil
}

// ListRecordingsForListener returns outstanding (not yet completed)
// recordings assigned to a listener, polled by the listener agent loop.
func (s *Store) ListRecordingsForListener(ctx context.Context, listenerID string) ([]Recording, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, challenge_id, transmission_id, listener_id, frequency_hz, sample_rate,
		       expected_duration_s, started_at, completed_at, success, image_path, image_width,
		       image_height, error_message
		FROM recordings WHERE listener_id=$1 AND completed_at IS NULL
		ORDER BY started_at`, listenerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recordings for listener: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var r Recording
		if err := rows.Scan(&r.ID, &r.ChallengeID, &r.TransmissionID, &r.ListenerID, &r.FrequencyHz, &r.SampleRate,
			&r.ExpectedDurationS, &r.StartedAt, &r.CompletedAt, &r.Success, &r.ImagePath, &r.ImageWidth,
			&r.ImageHeight, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning recording: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRecordings returns recordings, optionally filtered by challenge, paginated.
func (s *Store) ListRecordings(ctx context.Context, challengeID string, limit, offset int) ([]Recording, int64, error) {
	var total int64
	countQuery := "SELECT count(*) FROM recordings"
	listQuery := `
		SELECT id, challenge_id, transmission_id, listener_id, frequency_hz, sample_rate,
		       expected_duration_s, started_at, completed_at, success, image_path, image_width,
		       image_height, error_message
		FROM recordings`
	args := []any{}
	if challengeID != "" {
		countQuery += " WHERE challenge_id=$1"
		listQuery += " WHERE challenge_id=$1"
		args = append(args, challengeID)
	}
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting recordings: %w", err)
	}

	listQuery += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var r Recording
		if err := rows.Scan(&r.ID, &r.ChallengeID, &r.TransmissionID, &r.ListenerID, &r.FrequencyHz, &r.SampleRate,
			&r.ExpectedDurationS, &r.StartedAt, &r.CompletedAt, &r.Success, &r.ImagePath, &r.ImageWidth,
			&r.ImageHeight, &r.ErrorMessage); err != nil {
			return nil, 0, fmt.Errorf("scanning recording: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}
