package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roomsync/roomsync/internal/authz"
	"github.com/roomsync/roomsync/internal/roomapi"
	"github.com/roomsync/roomsync/pkg/models"
)

// ErrGroupNotSet means the tenant has no shared group id recorded yet.
// Operations that require the group surface it so the repair path can run.
var ErrGroupNotSet = errors.New("shared group not initialized")

// GroupAPI is the Room Service subset the manager drives.
type GroupAPI interface {
	CreateGroup(ctx context.Context, name string, owner uuid.UUID, members []uuid.UUID) (*roomapi.Group, error)
	UpdateGroup(ctx context.Context, id uuid.UUID, update roomapi.GroupUpdate) (*roomapi.Group, error)
}

// Store is the persistence subset the manager needs.
type Store interface {
	GetTenant(ctx context.Context, id int64) (*models.Tenant, error)
	GetSettings(ctx context.Context, tenantID int64) (*models.Settings, error)
	SaveSharedGroup(ctx context.Context, tenantID int64, groupID uuid.UUID) error
	GetSystemUser(ctx context.Context, tenantID int64) (*models.User, error)
	GetAccount(ctx context.Context, tenantID, crmUserID int64) (*models.Account, error)
	ListAccounts(ctx context.Context, tenantID int64) ([]*models.Account, error)
}

// Manager owns the tenant's shared group: the Room Service member group
// mirroring every CRM user who has linked an account. All group mutations run
// as the tenant's system user.
type Manager struct {
	api   GroupAPI
	store Store
	log   *slog.Logger
}

// NewManager creates a group manager.
func NewManager(api GroupAPI, store Store, log *slog.Logger) *Manager {
	return &Manager{api: api, store: store, log: log}
}

// EnsureExists makes the shared group live on the Room Service side. With no
// recorded group id, or when the remote reports the recorded group gone, it
// creates a fresh group owned by the system user's account with every linked
// account as a member and records the new id. An existing live group gets an
// idempotent ownership update instead.
func (m *Manager) EnsureExists(ctx context.Context, tenantID int64) error {
	ctx = authz.WithIdentity(ctx, authz.System(tenantID))

	settings, err := m.store.GetSettings(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load settings for tenant %d: %w", tenantID, err)
	}

	system, err := m.store.GetSystemUser(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("resolve system user for tenant %d: %w", tenantID, err)
	}
	owner, err := m.store.GetAccount(ctx, tenantID, system.CRMUserID)
	if err != nil {
		return fmt.Errorf("resolve system account for tenant %d: %w", tenantID, err)
	}

	if settings.SharedGroupID != nil {
		update := roomapi.GroupUpdate{Manager: &owner.AccountID}
		_, err := m.api.UpdateGroup(ctx, *settings.SharedGroupID, update)
		if err == nil {
			return nil
		}
		if !errors.Is(err, roomapi.ErrGroupNotFound) {
			return fmt.Errorf("verify shared group for tenant %d: %w", tenantID, err)
		}
		m.log.Warn("recorded shared group missing on room service, recreating",
			"tenant_id", tenantID, "group_id", *settings.SharedGroupID)
	}

	accounts, err := m.store.ListAccounts(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list accounts for tenant %d: %w", tenantID, err)
	}
	members := make([]uuid.UUID, 0, len(accounts))
	for _, acc := range accounts {
		if acc.AccountID != owner.AccountID {
			members = append(members, acc.AccountID)
		}
	}

	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant %d: %w", tenantID, err)
	}

	created, err := m.api.CreateGroup(ctx, GroupName(tenant.URL), owner.AccountID, members)
	if err != nil {
		return fmt.Errorf("create shared group for tenant %d: %w", tenantID, err)
	}
	if err := m.store.SaveSharedGroup(ctx, tenantID, created.ID); err != nil {
		return fmt.Errorf("record shared group for tenant %d: %w", tenantID, err)
	}
	m.log.Info("shared group created", "tenant_id", tenantID, "group_id", created.ID)
	return nil
}

// Join adds an account to the shared group. With no group recorded yet this
// is a logged no-op: the account joins when the group is first created.
func (m *Manager) Join(ctx context.Context, tenantID int64, accountID uuid.UUID) error {
	return m.mutate(ctx, tenantID, accountID, true)
}

// Leave removes an account from the shared group. With no group recorded
// this is a logged no-op.
func (m *Manager) Leave(ctx context.Context, tenantID int64, accountID uuid.UUID) error {
	return m.mutate(ctx, tenantID, accountID, false)
}

func (m *Manager) mutate(ctx context.Context, tenantID int64, accountID uuid.UUID, add bool) error {
	ctx = authz.WithIdentity(ctx, authz.System(tenantID))

	settings, err := m.store.GetSettings(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load settings for tenant %d: %w", tenantID, err)
	}
	if settings.SharedGroupID == nil {
		m.log.Info("shared group not initialized, skipping membership change",
			"tenant_id", tenantID, "account_id", accountID, "join", add)
		return nil
	}

	update := roomapi.GroupUpdate{}
	if add {
		update.AddMembers = []uuid.UUID{accountID}
	} else {
		update.RemoveMembers = []uuid.UUID{accountID}
	}
	if _, err := m.api.UpdateGroup(ctx, *settings.SharedGroupID, update); err != nil {
		return fmt.Errorf("update shared group membership for tenant %d: %w", tenantID, err)
	}
	return nil
}

// WithRepair runs op, and when it fails because the shared group is missing
// or was never initialized, re-initializes the group and retries op exactly
// once. Any other failure, including a failure of the retried op, surfaces
// unchanged.
func (m *Manager) WithRepair(ctx context.Context, tenantID int64, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, roomapi.ErrGroupNotFound) && !errors.Is(err, ErrGroupNotSet) {
		return err
	}

	m.log.Warn("shared group unavailable, running repair", "tenant_id", tenantID, "error", err)
	if rerr := m.EnsureExists(ctx, tenantID); rerr != nil {
		return fmt.Errorf("repair shared group for tenant %d: %w", tenantID, rerr)
	}
	return op(ctx)
}

// GroupName derives the shared group's display name from the tenant's CRM
// company URL.
func GroupName(tenantURL string) string {
	return fmt.Sprintf("Deal Service Users (%s)", tenantURL)
}
