package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a CRM user known to the integration, unique per
// (tenant_id, crm_user_id). At most one user per tenant carries
// IsSystemUser: the identity used for unattended tenant-level calls such as
// shared-group repair and webhook subscriptions.
type User struct {
	ID             int64     `db:"id"              json:"id"`
	TenantID       int64     `db:"tenant_id"       json:"tenant_id"`
	CRMUserID      int64     `db:"crm_user_id"     json:"crm_user_id"`
	IsSystemUser   bool      `db:"is_system_user"  json:"is_system_user"`
	AccessToken    string    `db:"access_token"    json:"-"`
	RefreshToken   string    `db:"refresh_token"   json:"-"`
	TokenIssuedAt  time.Time `db:"token_issued_at" json:"-"`
	TokenExpiresAt time.Time `db:"token_expires_at" json:"-"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"      json:"updated_at"`
}

// Account links a user to their Room Service identity. A user without an
// account cannot be invited to rooms or groups. PasswordHash is the
// client-side hash the Room Service login exchange expects, not a locally
// verifiable digest.
type Account struct {
	UserID       int64     `db:"user_id"       json:"user_id"`
	TenantID     int64     `db:"tenant_id"     json:"tenant_id"`
	CRMUserID    int64     `db:"crm_user_id"   json:"crm_user_id"`
	AccountID    uuid.UUID `db:"account_id"    json:"account_id"`
	Email        string    `db:"email"         json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}
