package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgErrorCode extracts the SQLSTATE code from err if it wraps a *pgconn.PgError.
func pgErrorCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	return "", false
}

// isUniqueViolation reports whether err is a Postgres unique-constraint error (23505).
func isUniqueViolation(err error) bool {
	code, ok := pgErrorCode(err)
	return ok && code == "23505"
}
