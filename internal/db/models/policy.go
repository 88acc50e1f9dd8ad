package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// PolicyType distinguishes managed, customer, inline and system policies.
type PolicyType string

const (
	PolicyTypeAWS    PolicyType = "AWS"
	PolicyTypeCustom PolicyType = "Custom"
	PolicyTypeInline PolicyType = "Inline"
	PolicyTypeSystem PolicyType = "System"
)

// PermissionEffect is the effect carried by a granular permission row.
type PermissionEffect string

const (
	PermissionEffectAllow PermissionEffect = "Allow"
	PermissionEffectDeny  PermissionEffect = "Deny"
)

// Policy holds a JSON policy document. AccountID is nil for system policies.
type Policy struct {
	bun.BaseModel `bun:"table:policies,alias:p"`

	ID           string          `bun:"id,pk,type:uuid"`
	AccountID    *string         `bun:"account_id,type:uuid"` // nil = system policy
	Name         string          `bun:"name,notnull"`
	Description  string          `bun:"description"`
	Path         string          `bun:"path,notnull,default:'/'"`
	Document     json.RawMessage `bun:"policy_document,type:jsonb,notnull"`
	PolicyType   PolicyType      `bun:"policy_type,notnull,default:'Custom'"`
	IsAttachable bool            `bun:"is_attachable,notnull,default:true"`
	CreatedAt    time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

// IsSystem reports whether the policy is a shared system policy.
func (p *Policy) IsSystem() bool {
	return p != nil && p.AccountID == nil
}

// Permission is a granular allow/deny row. Rows attached to a policy via
// policy_permissions are compiled into synthetic statements at evaluation.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:perm"`

	ID              string           `bun:"id,pk,type:uuid"`
	AccountID       *string          `bun:"account_id,type:uuid"` // nil = system permission
	Service         string           `bun:"service,notnull"`
	Action          string           `bun:"action,notnull"`
	ResourcePattern string           `bun:"resource_pattern,notnull"`
	Effect          PermissionEffect `bun:"effect,notnull,default:'Allow'"`
	Conditions      json.RawMessage  `bun:"conditions,type:jsonb"`
	Description     string           `bun:"description"`
	IsSystem        bool             `bun:"is_system,notnull,default:false"`
	CreatedAt       time.Time        `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time        `bun:"updated_at,notnull,default:current_timestamp"`
}

// PolicyPermission links a permission row to a policy.
type PolicyPermission struct {
	bun.BaseModel `bun:"table:policy_permissions,alias:pp"`

	PolicyID     string    `bun:"policy_id,pk,type:uuid"`     // FK to policies(id)
	PermissionID string    `bun:"permission_id,pk,type:uuid"` // FK to permissions(id)
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
	CreatedBy    string    `bun:"created_by,type:uuid"`
}

// UserPolicy attaches a policy directly to a user.
type UserPolicy struct {
	bun.BaseModel `bun:"table:user_policies,alias:up"`

	ID         string    `bun:"id,pk,type:uuid"`
	UserID     string    `bun:"user_id,notnull,type:uuid"`   // FK to users(id)
	PolicyID   string    `bun:"policy_id,notnull,type:uuid"` // FK to policies(id)
	AttachedAt time.Time `bun:"attached_at,notnull,default:current_timestamp"`
}

// GroupPolicy attaches a policy to a group.
type GroupPolicy struct {
	bun.BaseModel `bun:"table:group_policies,alias:gp"`

	ID         string    `bun:"id,pk,type:uuid"`
	GroupID    string    `bun:"group_id,notnull,type:uuid"`  // FK to groups(id)
	PolicyID   string    `bun:"policy_id,notnull,type:uuid"` // FK to policies(id)
	AttachedAt time.Time `bun:"attached_at,notnull,default:current_timestamp"`
}

// RolePolicy attaches a policy to a role.
type RolePolicy struct {
	bun.BaseModel `bun:"table:role_policies,alias:rp"`

	ID        string    `bun:"id,pk,type:uuid"`
	AccountID *string   `bun:"account_id,type:uuid"`
	RoleID    string    `bun:"role_id,notnull,type:uuid"`   // FK to roles(id)
	PolicyID  string    `bun:"policy_id,notnull,type:uuid"` // FK to policies(id)
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
