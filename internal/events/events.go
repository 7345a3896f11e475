package events

import "github.com/google/uuid"

// Event names. Subscriptions key on these.
const (
	DealRoomProvisionedName  = "deal.room_provisioned"
	DealVisibleEveryoneName  = "deal.visible_everyone"
	DealHiddenEveryoneName   = "deal.hidden_everyone"
	DealFollowersAddedName   = "deal.followers_added"
	DealFollowersRemovedName = "deal.followers_removed"
	UserLoggedInName         = "user.logged_in"
	UserLoggedOutName        = "user.logged_out"
	SettingsUpdatedName      = "settings.updated"
	SettingsDeletedName      = "settings.deleted"
)

// Event is any domain event carried through the dispatcher.
type Event interface {
	Name() string
}

// DealRoomProvisioned fires after a room is created and linked to a deal.
type DealRoomProvisioned struct {
	TenantID  int64
	CRMUserID int64
	DealID    int64
	RoomID    int64
}

func (DealRoomProvisioned) Name() string { return DealRoomProvisionedName }

// DealVisibleEveryone fires when a deal with a room transitions to
// company-wide visibility.
type DealVisibleEveryone struct {
	TenantID int64
	DealID   int64
	RoomID   int64
}

func (DealVisibleEveryone) Name() string { return DealVisibleEveryoneName }

// DealHiddenEveryone fires when a deal with a room leaves company-wide
// visibility.
type DealHiddenEveryone struct {
	TenantID int64
	DealID   int64
	RoomID   int64
}

func (DealHiddenEveryone) Name() string { return DealHiddenEveryoneName }

// DealFollowersAdded fires when users start following a deal with a room.
// CRMUserIDs only carries users known to the integration.
type DealFollowersAdded struct {
	TenantID   int64
	DealID     int64
	RoomID     int64
	CRMUserIDs []int64
}

func (DealFollowersAdded) Name() string { return DealFollowersAddedName }

// DealFollowersRemoved is the counterpart of DealFollowersAdded.
type DealFollowersRemoved struct {
	TenantID   int64
	DealID     int64
	RoomID     int64
	CRMUserIDs []int64
}

func (DealFollowersRemoved) Name() string { return DealFollowersRemovedName }

// UserLoggedIn fires after a user links a Room Service account.
type UserLoggedIn struct {
	TenantID     int64
	CRMUserID    int64
	AccountID    uuid.UUID
	IsSystemUser bool
}

func (UserLoggedIn) Name() string { return UserLoggedInName }

// UserLoggedOut fires after a user unlinks their Room Service account.
// AccountID is the unlinked account, carried here because the account row is
// already gone when handlers run.
type UserLoggedOut struct {
	TenantID     int64
	CRMUserID    int64
	AccountID    uuid.UUID
	IsSystemUser bool
}

func (UserLoggedOut) Name() string { return UserLoggedOutName }

// SettingsUpdated fires after tenant settings pass validation and persist.
type SettingsUpdated struct {
	TenantID       int64
	CRMUserID      int64
	RoomServiceURL string
}

func (SettingsUpdated) Name() string { return SettingsUpdatedName }

// SettingsDeleted fires after tenant settings are cleared.
type SettingsDeleted struct {
	TenantID int64
}

func (SettingsDeleted) Name() string { return SettingsDeletedName }
