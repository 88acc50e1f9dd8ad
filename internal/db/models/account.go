package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AccountStatus enumerates account lifecycle states
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusDeleted   AccountStatus = "deleted"
)

// Account is the multi-tenant isolation boundary. Every non-system entity
// belongs to exactly one account.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID        string        `bun:"id,pk,type:uuid"`
	Name      string        `bun:"name,notnull"`
	Email     string        `bun:"email,notnull,unique"`
	Status    AccountStatus `bun:"status,notnull,default:'active'"`
	CreatedAt time.Time     `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time     `bun:"updated_at,notnull,default:current_timestamp"`
}

// UserStatus enumerates user lifecycle states
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
)

// User represents a human or machine principal within an account.
// Exactly one user per account carries IsRoot; that user cannot be deleted.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string     `bun:"id,pk,type:uuid"`
	AccountID    string     `bun:"account_id,notnull,type:uuid"` // FK to accounts(id)
	Username     string     `bun:"username,notnull"`
	Email        *string    `bun:"email"` // Root users only
	PasswordHash string     `bun:"password_hash,notnull"`
	IsRoot       bool       `bun:"is_root,notnull,default:false"`
	FirstName    *string    `bun:"first_name"`
	LastName     *string    `bun:"last_name"`
	Status       UserStatus `bun:"status,notnull,default:'active'"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}
