package httpkit

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsUndefinedTable reports a PostgreSQL undefined_table (42P01) error.
func IsUndefinedTable(err error) bool {
	return hasPgCode(err, "42P01")
}

// IsUniqueViolation reports a PostgreSQL unique_violation (23505) error.
func IsUniqueViolation(err error) bool {
	return hasPgCode(err, "23505")
}

func hasPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
