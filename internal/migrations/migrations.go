// Package migrations holds the versioned schema migrations applied by
// "bastion db migrate". Each migration registers itself with the package
// registry in an init function.
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is the registry consumed by the migrator in cmd/db.go.
var Migrations = migrate.NewMigrations()
