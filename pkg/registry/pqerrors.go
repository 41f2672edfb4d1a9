package registry

import (
	"errors"

	"github.com/lib/pq"
)

// isUniqueViolation reports whether err is a PostgreSQL unique_violation
// (SQLSTATE 23505) — the race window between the lookup-by-hash and the
// insert in Register closes by letting the database's own UNIQUE
// constraint be the final arbiter.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
