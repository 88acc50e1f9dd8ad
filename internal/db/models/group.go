package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Group is a named collection of users within an account. Policies attached
// to a group apply to every member.
type Group struct {
	bun.BaseModel `bun:"table:groups,alias:g"`

	ID          string    `bun:"id,pk,type:uuid"`
	AccountID   string    `bun:"account_id,notnull,type:uuid"` // FK to accounts(id)
	Name        string    `bun:"name,notnull"`
	Description string    `bun:"description"`
	Path        string    `bun:"path,notnull,default:'/'"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// UserGroup records group membership. (user_id, group_id) is unique.
type UserGroup struct {
	bun.BaseModel `bun:"table:user_groups,alias:ug"`

	ID        string    `bun:"id,pk,type:uuid"`
	UserID    string    `bun:"user_id,notnull,type:uuid"`  // FK to users(id)
	GroupID   string    `bun:"group_id,notnull,type:uuid"` // FK to groups(id)
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
