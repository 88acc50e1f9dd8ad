package bunx

import "github.com/google/uuid"

// NewUUIDv7 returns a time-ordered UUID string for primary keys. v7 IDs
// sort by creation time, which keeps index growth append-mostly on both
// PostgreSQL and SQLite. Panics if the entropy source fails.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
