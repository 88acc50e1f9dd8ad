package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Role is an assumable identity. AccountID is nil for system roles, which are
// shared across tenants and immutable.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID                 string          `bun:"id,pk,type:uuid"`
	AccountID          *string         `bun:"account_id,type:uuid"` // nil = system role
	Name               string          `bun:"name,notnull"`
	Description        string          `bun:"description"`
	Path               string          `bun:"path,notnull,default:'/'"`
	TrustDocument      json.RawMessage `bun:"assume_role_policy_document,type:jsonb,notnull"`
	MaxSessionDuration int             `bun:"max_session_duration,notnull,default:3600"` // seconds, [900, 43200]
	CreatedAt          time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt          time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

// IsSystem reports whether the role is a shared system role.
func (r *Role) IsSystem() bool {
	return r != nil && r.AccountID == nil
}

// RootRoleName is the system role whose holders bypass policy evaluation.
const RootRoleName = "root"

// Fixed IDs of the seeded system entities. Stable across databases so
// re-running the seed stays idempotent.
const (
	SystemRootRoleID    = "00000000-0000-7000-8000-000000000001"
	SystemAdminPolicyID = "00000000-0000-7000-8000-000000000002"
)

// UserRole records a durable role grant. (user_id, role_id) is the primary key.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`

	UserID     string    `bun:"user_id,pk,type:uuid"` // FK to users(id)
	RoleID     string    `bun:"role_id,pk,type:uuid"` // FK to roles(id)
	AssignedBy string    `bun:"assigned_by,notnull,type:uuid"`
	AssignedAt time.Time `bun:"assigned_at,notnull,default:current_timestamp"`
}
