package dealapi

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexInt decodes from either a JSON number or a quoted number string.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(f))
}

// Everyone-visibility sentinel codes. Which one means "visible to everyone"
// depends on the tenant's permission mode: accounts with advanced
// permissions use 7, the rest use 3. Resolve via EveryoneSentinel; comparing
// against a fixed constant is incorrect.
const (
	VisibleToEveryone                    = 3
	VisibleToEveryoneAdvancedPermissions = 7
)

// EveryoneSentinel returns the visibility code that means "visible to
// everyone" for the given permission mode.
func EveryoneSentinel(advancedPermissions bool) int {
	if advancedPermissions {
		return VisibleToEveryoneAdvancedPermissions
	}
	return VisibleToEveryone
}

// Deal is the CRM deal snapshot as delivered in webhooks and deal lookups.
// UpdateTime is kept as the raw wire string because follower change-log
// correlation relies on exact string equality with the log timestamps.
// VisibleTo arrives as a bare integer or a quoted one depending on the
// endpoint, hence the flexible type.
type Deal struct {
	ID             int64   `json:"id"`
	Title          string  `json:"title"`
	VisibleTo      FlexInt `json:"visible_to"`
	FollowersCount int     `json:"followers_count"`
	UpdateTime     string  `json:"update_time"`
}

// CurrentUser is the authenticated CRM user's profile, including the
// permission-mode flag the visibility sentinel depends on.
type CurrentUser struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Email               string `json:"email"`
	CompanyDomain       string `json:"company_domain"`
	CompanyName         string `json:"company_name"`
	IsAdmin             bool   `json:"is_admin"`
	AdvancedPermissions bool   `json:"advanced_permissions"`
}

// Follower is one entry of a deal's current follower list.
type Follower struct {
	UserID int64 `json:"user_id"`
}

// FollowerChange is one entry of the cumulative follower change log. Action
// is "added" or "removed"; LogTime carries the CRM's timestamp string that
// ties an entry to the deal update that produced it.
type FollowerChange struct {
	Action         string `json:"action"`
	FollowerUserID int64  `json:"follower_user_id"`
	LogTime        string `json:"log_time"`
}

// WebhookSpec describes a webhook subscription to register with the CRM.
// The CRM replays HTTPAuthUser/HTTPAuthPassword as basic auth on every
// delivery.
type WebhookSpec struct {
	SubscriptionURL  string `json:"subscription_url"`
	EventAction      string `json:"event_action"`
	EventObject      string `json:"event_object"`
	HTTPAuthUser     string `json:"http_auth_user"`
	HTTPAuthPassword string `json:"http_auth_password"`
}

// WebhookSubscription is the CRM's record of a registered webhook.
type WebhookSubscription struct {
	ID int64 `json:"id"`
}
