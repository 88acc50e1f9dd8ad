package migrations

import (
	"context"
	"fmt"

	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260601000000, down_20260601000000)
}

// up_20260601000000 initializes the full IAM schema
func up_20260601000000(ctx context.Context, db *bun.DB) error {
	// Table creation order respects FK dependencies
	tables := []struct {
		name  string
		model any
	}{
		{"accounts", (*models.Account)(nil)},
		{"users", (*models.User)(nil)},
		{"groups", (*models.Group)(nil)},
		{"roles", (*models.Role)(nil)},
		{"policies", (*models.Policy)(nil)},
		{"permissions", (*models.Permission)(nil)},
		{"policy_permissions", (*models.PolicyPermission)(nil)},
		{"user_policies", (*models.UserPolicy)(nil)},
		{"group_policies", (*models.GroupPolicy)(nil)},
		{"role_policies", (*models.RolePolicy)(nil)},
		{"user_groups", (*models.UserGroup)(nil)},
		{"user_roles", (*models.UserRole)(nil)},
		{"role_sessions", (*models.RoleSession)(nil)},
		{"token_blacklist", (*models.BlacklistedToken)(nil)},
	}

	for _, t := range tables {
		fmt.Printf(" [up] creating %s table...", t.name)
		_, err := db.NewCreateTable().
			Model(t.model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
		fmt.Println(" OK")
	}

	fmt.Print(" [up] creating indexes...")
	indexes := []string{
		// Tenant-scoped uniqueness
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_account_username ON users(account_id, username)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_groups_account_name ON groups(account_id, name)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_account_name ON roles(account_id, name)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_account_name ON policies(account_id, name)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_permissions_account_key ON permissions(account_id, service, action, resource_pattern)`,

		// System entities have NULL account_id; NULLs compare distinct, so
		// name uniqueness needs a partial index per kind
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_system_name ON roles(name) WHERE account_id IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_system_name ON policies(name) WHERE account_id IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_permissions_system_key ON permissions(service, action, resource_pattern) WHERE account_id IS NULL`,

		// One root user per account
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_account_root ON users(account_id) WHERE is_root`,

		// Attachment uniqueness
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_policies_unique ON user_policies(user_id, policy_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_group_policies_unique ON group_policies(group_id, policy_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_role_policies_unique ON role_policies(role_id, policy_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_groups_unique ON user_groups(user_id, group_id)`,

		// FK lookup paths used by the policy resolver
		`CREATE INDEX IF NOT EXISTS idx_users_account_id ON users(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_policies_user_id ON user_policies(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_policies_group_id ON group_policies(group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_role_policies_role_id ON role_policies(role_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_groups_user_id ON user_groups(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_roles_user_id ON user_roles(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_policy_permissions_policy_id ON policy_permissions(policy_id)`,

		// Session and revocation lookups
		`CREATE INDEX IF NOT EXISTS idx_role_sessions_user_id ON role_sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_role_sessions_role_id ON role_sessions(role_id)`,
		`CREATE INDEX IF NOT EXISTS idx_role_sessions_expires_at ON role_sessions(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_token_blacklist_user_id ON token_blacklist(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_token_blacklist_expires_at ON token_blacklist(expires_at)`,
	}

	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	fmt.Println(" OK")

	// SQLite cannot ALTER TABLE ADD CONSTRAINT; FK enforcement there relies
	// on the application layer plus PRAGMA foreign_keys
	if IsPostgreSQL(db) {
		fmt.Print(" [up] adding foreign key constraints...")
		fks := []string{
			`ALTER TABLE users ADD CONSTRAINT fk_users_account_id FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE`,
			`ALTER TABLE groups ADD CONSTRAINT fk_groups_account_id FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE`,
			`ALTER TABLE roles ADD CONSTRAINT fk_roles_account_id FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE`,
			`ALTER TABLE policies ADD CONSTRAINT fk_policies_account_id FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE`,
			`ALTER TABLE permissions ADD CONSTRAINT fk_permissions_account_id FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE`,
			`ALTER TABLE policy_permissions ADD CONSTRAINT fk_policy_permissions_policy_id FOREIGN KEY (policy_id) REFERENCES policies(id) ON DELETE CASCADE`,
			`ALTER TABLE policy_permissions ADD CONSTRAINT fk_policy_permissions_permission_id FOREIGN KEY (permission_id) REFERENCES permissions(id) ON DELETE CASCADE`,
			`ALTER TABLE user_policies ADD CONSTRAINT fk_user_policies_user_id FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE`,
			`ALTER TABLE user_policies ADD CONSTRAINT fk_user_policies_policy_id FOREIGN KEY (policy_id) REFERENCES policies(id) ON DELETE CASCADE`,
			`ALTER TABLE group_policies ADD CONSTRAINT fk_group_policies_group_id FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE`,
			`ALTER TABLE group_policies ADD CONSTRAINT fk_group_policies_policy_id FOREIGN KEY (policy_id) REFERENCES policies(id) ON DELETE CASCADE`,
			`ALTER TABLE role_policies ADD CONSTRAINT fk_role_policies_role_id FOREIGN KEY (role_id) REFERENCES roles(id) ON DELETE CASCADE`,
			`ALTER TABLE role_policies ADD CONSTRAINT fk_role_policies_policy_id FOREIGN KEY (policy_id) REFERENCES policies(id) ON DELETE CASCADE`,
			`ALTER TABLE user_groups ADD CONSTRAINT fk_user_groups_user_id FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE`,
			`ALTER TABLE user_groups ADD CONSTRAINT fk_user_groups_group_id FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE`,
			`ALTER TABLE user_roles ADD CONSTRAINT fk_user_roles_user_id FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE`,
			`ALTER TABLE user_roles ADD CONSTRAINT fk_user_roles_role_id FOREIGN KEY (role_id) REFERENCES roles(id) ON DELETE CASCADE`,
			`ALTER TABLE role_sessions ADD CONSTRAINT fk_role_sessions_account_id FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE`,
			`ALTER TABLE role_sessions ADD CONSTRAINT fk_role_sessions_role_id FOREIGN KEY (role_id) REFERENCES roles(id) ON DELETE CASCADE`,
			`ALTER TABLE role_sessions ADD CONSTRAINT fk_role_sessions_user_id FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE`,
		}
		for _, stmt := range fks {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to add foreign key: %w", err)
			}
		}
		fmt.Println(" OK")
	}

	return nil
}

// down_20260601000000 drops all IAM tables in reverse dependency order
func down_20260601000000(ctx context.Context, db *bun.DB) error {
	tables := []string{
		"token_blacklist",
		"role_sessions",
		"user_roles",
		"user_groups",
		"role_policies",
		"group_policies",
		"user_policies",
		"policy_permissions",
		"permissions",
		"policies",
		"roles",
		"groups",
		"users",
		"accounts",
	}

	for _, table := range tables {
		fmt.Printf(" [down] dropping %s table...", table)
		var err error
		if IsPostgreSQL(db) {
			_, err = db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table))
		} else {
			_, err = db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
		}
		if err != nil {
			return fmt.Errorf("failed to drop %s table: %w", table, err)
		}
		fmt.Println(" OK")
	}

	return nil
}
