package models

import (
	"time"

	"github.com/google/uuid"
)

// Settings lifecycle states. Validating is transient and never persisted:
// a save either completes validation and lands in configured, or fails and
// leaves the previous state untouched.
const (
	SettingsUnconfigured = "unconfigured"
	SettingsConfigured   = "configured"
	SettingsInvalidKey   = "invalid_key"
)

// Settings holds the tenant's Room Service connection: the portal URL, the
// tenant-scoped API key, and the id of the shared group mirroring the
// tenant's logged-in users. SharedGroupID is non-nil if and only if group
// initialization has succeeded at least once.
type Settings struct {
	TenantID       int64      `db:"tenant_id"        json:"tenant_id"`
	RoomServiceURL string     `db:"room_service_url" json:"room_service_url"`
	APIKey         *APIKey    `json:"api_key,omitempty"`
	SharedGroupID  *uuid.UUID `db:"shared_group_id"  json:"shared_group_id,omitempty"`
	Status         string     `db:"status"           json:"status"`
	UpdatedAt      time.Time  `db:"updated_at"       json:"updated_at"`
}

// APIKey is the tenant-scoped Room Service credential. Valid is cleared when
// the remote rejects the key; a cleared key requires tenant re-configuration,
// never automatic repair.
type APIKey struct {
	Value   string     `db:"api_key_value"    json:"-"`
	OwnerID *uuid.UUID `db:"api_key_owner_id" json:"owner_id,omitempty"`
	Valid   bool       `db:"api_key_valid"    json:"valid"`
}
