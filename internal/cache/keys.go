package cache

import (
	"fmt"
)

func SessionTokenKey(tenantID, crmUserID int64) string {
	return fmt.Sprintf("session:%d:%d", tenantID, crmUserID)
}
