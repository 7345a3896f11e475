package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/roomsync/roomsync/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through
// here. A missing row is ErrNotFound, distinct from infrastructure errors;
// callers decide per call site whether "not found" means "no collaboration
// configured yet" (skip) or a genuine failure.
type Store interface {
	Ping(ctx context.Context) error

	// Tenants. The tenant row is the aggregate root; deleting it cascades
	// to settings, users, accounts, rooms, and webhooks.
	GetTenant(ctx context.Context, id int64) (*models.Tenant, error)
	PutTenant(ctx context.Context, tenant *models.Tenant) error
	DeleteTenant(ctx context.Context, id int64) error

	GetSettings(ctx context.Context, tenantID int64) (*models.Settings, error)
	PutSettings(ctx context.Context, settings *models.Settings) error
	SaveSharedGroup(ctx context.Context, tenantID int64, groupID uuid.UUID) error
	SetAPIKeyValid(ctx context.Context, tenantID int64, valid bool) error
	ClearSettings(ctx context.Context, tenantID int64) error

	// Users, keyed by (tenant_id, crm_user_id).
	GetUser(ctx context.Context, tenantID, crmUserID int64) (*models.User, error)
	GetSystemUser(ctx context.Context, tenantID int64) (*models.User, error)
	PutUser(ctx context.Context, user *models.User) (*models.User, error)
	SaveOAuthToken(ctx context.Context, tenantID, crmUserID int64, access, refresh string, issuedAt, expiresAt time.Time) error
	UnsetSystemUser(ctx context.Context, tenantID int64) error
	DeleteUser(ctx context.Context, tenantID, crmUserID int64) error
	ListUsers(ctx context.Context, tenantID int64) ([]*models.User, error)

	// Room Service accounts (1:1 with users).
	GetAccount(ctx context.Context, tenantID, crmUserID int64) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, tenantID, crmUserID int64) error
	DeleteAllAccounts(ctx context.Context, tenantID int64) error
	ListAccounts(ctx context.Context, tenantID int64) ([]*models.Account, error)

	// Rooms, keyed by (tenant_id, deal_id).
	GetRoomByDeal(ctx context.Context, tenantID, dealID int64) (*models.Room, error)
	CreateRoom(ctx context.Context, room *models.Room) error
	DeleteRoomsByTenant(ctx context.Context, tenantID int64) error

	// Webhook subscriptions.
	GetWebhookOwner(ctx context.Context, id uuid.UUID) (*models.Webhook, *models.User, error)
	SaveWebhook(ctx context.Context, webhook *models.Webhook) error
	ListWebhooksForUser(ctx context.Context, userID int64) ([]*models.Webhook, error)
	DeleteWebhook(ctx context.Context, id uuid.UUID) error
}
