package repository

import (
	"errors"
	"strings"

	"github.com/uptrace/bun/driver/pgdriver"
)

// Sentinel errors returned by repositories. Services translate these into
// the caller-facing error taxonomy.
var (
	// ErrNotFound indicates an entity lookup miss.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique-constraint violation.
	ErrConflict = errors.New("already exists")
)

// isUniqueViolation detects a unique-constraint failure from either
// supported driver so inserts can surface ErrConflict.
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		// SQLSTATE 23505: unique_violation
		return pgErr.Field('C') == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
