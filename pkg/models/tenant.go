package models

import (
	"time"
)

// Tenant is an installed instance of the integration for one CRM
// organization. The ID is the CRM's own organization id, which is stable
// across reinstalls. Every other entity belongs to a tenant and is removed
// with it.
type Tenant struct {
	ID          int64     `db:"id"           json:"id"`
	CompanyName string    `db:"company_name" json:"company_name"`
	URL         string    `db:"url"          json:"url"`
	InstalledAt time.Time `db:"installed_at" json:"installed_at"`
}
