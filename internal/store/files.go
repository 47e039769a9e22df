package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ckoval7/challengectl/internal/apperr"
)

// PutFile inserts (or leaves untouched, if the hash already exists) a
// content-addressed file record — spec.md §3's File dedup-by-hash invariant.
func (s *Store) PutFile(ctx context.Context, f File) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO files (file_hash, filename, size, mime_type, path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (file_hash) DO NOTHING`,
		f.FileHash, f.Filename, f.Size, f.MimeType, f.Path, orNow(f.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("storing file: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetFile fetches a file record by its content hash.
func (s *Store) GetFile(ctx context.Context, hash string) (*File, error) {
	var f File
	err := s.pool.QueryRow(ctx, `
		SELECT file_hash, filename, size, mime_type, path, created_at
		FROM files WHERE file_hash=$1`, hash,
	).Scan(&f.FileHash, &f.Filename, &f.Size, &f.MimeType, &f.Path, &f.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "file not found")
		}
		return nil, fmt.Errorf("getting file: %w", err)
	}
	return &f, nil
}

// ListFiles returns every stored file, newest first.
func (s *Store) ListFiles(ctx context.Context) ([]File, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT file_hash, filename, size, mime_type, path, created_at
		FROM files ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.FileHash, &f.Filename, &f.Size, &f.MimeType, &f.Path, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFile removes a file record (the caller is responsible for removing
// the backing blob on disk).
func (s *Store) DeleteFile(ctx context.Context, hash string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM files WHERE file_hash=$1", hash)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "file not found")
	}
	return nil
}
