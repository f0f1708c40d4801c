package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is the opaque credential presented by clients on every request.
// The raw key is returned once at creation; only the bcrypt hash is stored.
// The key prefix narrows the lookup and doubles as the rate-limit identity.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	TenantID   uuid.UUID  `db:"tenant_id"    json:"tenant_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}
