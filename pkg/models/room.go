package models

import (
	"time"
)

// Room binds a CRM deal to a Room Service workspace, unique per
// (tenant_id, deal_id). Rooms are created once when a user provisions
// collaboration for a deal and never updated afterwards. A deal without a
// room is the normal state for most deals, not an error.
type Room struct {
	TenantID  int64     `db:"tenant_id"  json:"tenant_id"`
	DealID    int64     `db:"deal_id"    json:"deal_id"`
	RoomID    int64     `db:"room_id"    json:"room_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
