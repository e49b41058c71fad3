package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsRetryableTxErr reports whether a transaction failed because of a
// concurrent writer and can be retried.
func IsRetryableTxErr(err error) bool {
	if err == nil {
		return false
	}
	if IsDuplicateKeyErr(err) {
		return true
	}

	msg := err.Error()
	switch {
	// PostgreSQL serialization_failure (40001) and deadlock_detected (40P01)
	case strings.Contains(msg, "SQLSTATE 40001"),
		strings.Contains(msg, "SQLSTATE 40P01"),
		strings.Contains(msg, "could not serialize access"):
		return true
	// MySQL deadlock (1213) and lock wait timeout (1205)
	case strings.Contains(msg, "Error 1213"),
		strings.Contains(msg, "Error 1205"):
		return true
	// SQLite busy/locked
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "SQLITE_BUSY"):
		return true
	default:
		return false
	}
}
