package roomapi

import (
	"github.com/google/uuid"
)

// Access is a room access level on the Room Service side. The wire values
// mirror the platform's sharing enum; only the levels the integration
// assigns are named here.
type Access int

const (
	// AccessNone revokes access; inviting with it removes the invitee.
	AccessNone Access = 0
	// AccessEditor is the tier granted to unpaid ("basic") accounts and to
	// the shared group.
	AccessEditor Access = 10
	// AccessCollaborator is the tier granted to paid accounts.
	AccessCollaborator Access = 11
)

// Account is a Room Service user profile.
type Account struct {
	ID      uuid.UUID `json:"id"`
	Email   string    `json:"email"`
	IsAdmin bool      `json:"isAdmin"`
}

// Group is a Room Service member group.
type Group struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Room is a Room Service workspace.
type Room struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// APIKeyInfo describes a tenant API key as reported by the key listing
// endpoint. Keys are matched by postfix because the full secret is never
// returned.
type APIKeyInfo struct {
	KeyPostfix  string   `json:"keyPostfix"`
	Permissions []string `json:"permissions"`
	IsActive    bool     `json:"isActive"`
}

// Invitation grants one account or group an access level in a room.
type Invitation struct {
	ID     uuid.UUID `json:"id"`
	Access Access    `json:"access"`
}

// GroupUpdate is a partial group mutation; nil/empty fields are omitted from
// the request so the remote treats them as "no change".
type GroupUpdate struct {
	Name          string
	Manager       *uuid.UUID
	AddMembers    []uuid.UUID
	RemoveMembers []uuid.UUID
}
