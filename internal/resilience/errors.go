package resilience

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// Postgres SQLSTATE codes for transactions aborted by a concurrent writer.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsContention reports whether err means another writer got there first and
// the operation may succeed if re-read and retried: an item version
// conflict, a Postgres serialization failure or deadlock, or a busy SQLite
// database.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	if model.IsConflict(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
