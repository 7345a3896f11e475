package models

import (
	"time"

	"github.com/google/uuid"
)

// Webhook is a CRM event subscription owned by one user. The CRM replays the
// local ID and password back as HTTP basic auth on every delivery; only the
// bcrypt hash of the password is stored. ExternalID is the CRM's own
// subscription id, zero until registration succeeds.
type Webhook struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	UserID       int64     `db:"user_id"       json:"user_id"`
	ExternalID   int64     `db:"external_id"   json:"external_id"`
	EventName    string    `db:"event_name"    json:"event_name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}
