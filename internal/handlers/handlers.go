package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roomsync/roomsync/internal/authz"
	"github.com/roomsync/roomsync/internal/dealapi"
	"github.com/roomsync/roomsync/internal/events"
	"github.com/roomsync/roomsync/internal/group"
	"github.com/roomsync/roomsync/internal/room"
	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/internal/webhook"
	"github.com/roomsync/roomsync/pkg/models"
)

// DealAPI is the Deal Service subset the handlers drive.
type DealAPI interface {
	GetDeal(ctx context.Context, id int64) (*dealapi.Deal, error)
	GetCurrentUser(ctx context.Context) (*dealapi.CurrentUser, error)
	ListFollowers(ctx context.Context, dealID int64) ([]dealapi.Follower, error)
}

// CSPAPI allow-lists frontend domains on the portal. Runs under the API-key
// transport because CSP is tenant administration, not user action.
type CSPAPI interface {
	AddCSPDomains(ctx context.Context, domains []string) error
}

// Store is the persistence subset the handlers need.
type Store interface {
	GetUser(ctx context.Context, tenantID, crmUserID int64) (*models.User, error)
	GetSystemUser(ctx context.Context, tenantID int64) (*models.User, error)
	GetAccount(ctx context.Context, tenantID, crmUserID int64) (*models.Account, error)
	ListUsers(ctx context.Context, tenantID int64) ([]*models.User, error)
	UnsetSystemUser(ctx context.Context, tenantID int64) error
	DeleteAllAccounts(ctx context.Context, tenantID int64) error
	DeleteRoomsByTenant(ctx context.Context, tenantID int64) error
}

// Registry wires domain events to their reactions. Handlers run
// synchronously inside the publishing operation, so event order within one
// trigger is the publish order.
type Registry struct {
	store       Store
	groups      *group.Manager
	reconciler  *room.Reconciler
	deals       DealAPI
	csp         CSPAPI
	subs        *webhook.Subscriptions
	frontendURL string
	log         *slog.Logger
}

// NewRegistry creates the handler registry.
func NewRegistry(store Store, groups *group.Manager, reconciler *room.Reconciler, deals DealAPI, csp CSPAPI, subs *webhook.Subscriptions, frontendURL string, log *slog.Logger) *Registry {
	return &Registry{
		store:       store,
		groups:      groups,
		reconciler:  reconciler,
		deals:       deals,
		csp:         csp,
		subs:        subs,
		frontendURL: frontendURL,
		log:         log,
	}
}

// Register subscribes every reaction on the dispatcher. Call once at
// startup, before anything publishes.
func (r *Registry) Register(d *events.Dispatcher) {
	d.Subscribe(events.DealRoomProvisionedName, r.onRoomProvisioned)
	d.Subscribe(events.DealVisibleEveryoneName, r.onVisibleEveryone)
	d.Subscribe(events.DealHiddenEveryoneName, r.onHiddenEveryone)
	d.Subscribe(events.DealFollowersAddedName, r.onFollowersAdded)
	d.Subscribe(events.DealFollowersRemovedName, r.onFollowersRemoved)
	d.Subscribe(events.UserLoggedInName, r.onUserLoggedIn)
	d.Subscribe(events.UserLoggedOutName, r.onUserLoggedOut)
	d.Subscribe(events.SettingsUpdatedName, r.onSettingsUpdated)
	d.Subscribe(events.SettingsDeletedName, r.onSettingsDeleted)
}

// onRoomProvisioned seeds a fresh room's membership: the shared group when
// the deal is visible to everyone, then the deal's current followers. The
// creating user's identity is on the context, so the deal lookups run in
// their name.
func (r *Registry) onRoomProvisioned(ctx context.Context, ev events.Event) error {
	e := ev.(events.DealRoomProvisioned)

	deal, err := r.deals.GetDeal(ctx, e.DealID)
	if err != nil {
		return fmt.Errorf("load deal %d: %w", e.DealID, err)
	}
	me, err := r.deals.GetCurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("resolve permission mode: %w", err)
	}
	if int(deal.VisibleTo) == dealapi.EveryoneSentinel(me.AdvancedPermissions) {
		err := r.groups.WithRepair(ctx, e.TenantID, func(ctx context.Context) error {
			return r.reconciler.InviteSharedGroup(ctx, e.TenantID, e.RoomID)
		})
		if err != nil {
			return err
		}
	}

	followers, err := r.deals.ListFollowers(ctx, e.DealID)
	if err != nil {
		return fmt.Errorf("list followers for deal %d: %w", e.DealID, err)
	}
	ids := make([]int64, 0, len(followers))
	for _, f := range followers {
		// The creator owns the room; re-inviting them would downgrade
		// their tier.
		if f.UserID != e.CRMUserID {
			ids = append(ids, f.UserID)
		}
	}
	accounts, err := r.resolveAccounts(ctx, e.TenantID, ids)
	if err != nil {
		return err
	}
	return r.reconciler.InviteAccounts(ctx, e.TenantID, e.RoomID, accounts)
}

func (r *Registry) onVisibleEveryone(ctx context.Context, ev events.Event) error {
	e := ev.(events.DealVisibleEveryone)
	return r.groups.WithRepair(ctx, e.TenantID, func(ctx context.Context) error {
		return r.reconciler.InviteSharedGroup(ctx, e.TenantID, e.RoomID)
	})
}

func (r *Registry) onHiddenEveryone(ctx context.Context, ev events.Event) error {
	e := ev.(events.DealHiddenEveryone)
	return r.reconciler.RemoveSharedGroup(ctx, e.TenantID, e.RoomID)
}

func (r *Registry) onFollowersAdded(ctx context.Context, ev events.Event) error {
	e := ev.(events.DealFollowersAdded)
	accounts, err := r.resolveAccounts(ctx, e.TenantID, e.CRMUserIDs)
	if err != nil {
		return err
	}
	return r.reconciler.InviteAccounts(ctx, e.TenantID, e.RoomID, accounts)
}

func (r *Registry) onFollowersRemoved(ctx context.Context, ev events.Event) error {
	e := ev.(events.DealFollowersRemoved)
	accounts, err := r.resolveAccounts(ctx, e.TenantID, e.CRMUserIDs)
	if err != nil {
		return err
	}
	return r.reconciler.RemoveAccounts(ctx, e.TenantID, e.RoomID, accounts)
}

// onUserLoggedIn puts a freshly linked account into the shared group. A
// system-user login instead (re)initializes the group and the tenant's
// webhook subscriptions, since both require a system account to exist.
func (r *Registry) onUserLoggedIn(ctx context.Context, ev events.Event) error {
	e := ev.(events.UserLoggedIn)
	if !e.IsSystemUser {
		return r.groups.Join(ctx, e.TenantID, e.AccountID)
	}

	if err := r.groups.EnsureExists(ctx, e.TenantID); err != nil {
		return err
	}
	user, err := r.store.GetUser(ctx, e.TenantID, e.CRMUserID)
	if err != nil {
		return fmt.Errorf("load system user %d: %w", e.CRMUserID, err)
	}
	return r.subs.Init(ctx, user)
}

// onUserLoggedOut takes the departing account out of the shared group; a
// system-user logout also tears down the tenant's webhook subscriptions and
// leaves the tenant without a system user until an admin links again.
func (r *Registry) onUserLoggedOut(ctx context.Context, ev events.Event) error {
	e := ev.(events.UserLoggedOut)

	if err := r.groups.Leave(ctx, e.TenantID, e.AccountID); err != nil {
		r.log.Warn("failed to remove account from shared group", "tenant_id", e.TenantID, "account_id", e.AccountID, "error", err)
	}
	if !e.IsSystemUser {
		return nil
	}

	user, err := r.store.GetUser(ctx, e.TenantID, e.CRMUserID)
	if err != nil {
		return fmt.Errorf("load system user %d: %w", e.CRMUserID, err)
	}
	if err := r.subs.Remove(ctx, user); err != nil {
		return err
	}
	return r.store.UnsetSystemUser(ctx, e.TenantID)
}

// onSettingsUpdated provisions the tenant on the portal side: CSP
// allow-listing for the frontend, then group and subscriptions when a system
// user already exists. Without one, the system user's own login finishes the
// job.
func (r *Registry) onSettingsUpdated(ctx context.Context, ev events.Event) error {
	e := ev.(events.SettingsUpdated)

	cspCtx := authz.WithIdentity(ctx, authz.System(e.TenantID))
	if err := r.csp.AddCSPDomains(cspCtx, []string{r.frontendURL}); err != nil {
		return fmt.Errorf("allow-list frontend domain for tenant %d: %w", e.TenantID, err)
	}

	system, err := r.store.GetSystemUser(ctx, e.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Info("no system user yet, deferring group setup", "tenant_id", e.TenantID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve system user for tenant %d: %w", e.TenantID, err)
	}

	if err := r.groups.EnsureExists(ctx, e.TenantID); err != nil {
		return err
	}
	return r.subs.Init(ctx, system)
}

// onSettingsDeleted wipes the tenant's local integration state. Remote rooms
// and groups stay; they belong to the portal.
func (r *Registry) onSettingsDeleted(ctx context.Context, ev events.Event) error {
	e := ev.(events.SettingsDeleted)

	users, err := r.store.ListUsers(ctx, e.TenantID)
	if err != nil {
		return fmt.Errorf("list users for tenant %d: %w", e.TenantID, err)
	}
	for _, user := range users {
		if err := r.subs.Remove(ctx, user); err != nil {
			r.log.Warn("failed to remove webhook subscriptions", "tenant_id", e.TenantID, "crm_user_id", user.CRMUserID, "error", err)
		}
	}

	if err := r.store.DeleteRoomsByTenant(ctx, e.TenantID); err != nil {
		return fmt.Errorf("delete rooms for tenant %d: %w", e.TenantID, err)
	}
	if err := r.store.DeleteAllAccounts(ctx, e.TenantID); err != nil {
		return fmt.Errorf("delete accounts for tenant %d: %w", e.TenantID, err)
	}
	if err := r.store.UnsetSystemUser(ctx, e.TenantID); err != nil {
		return fmt.Errorf("unset system user for tenant %d: %w", e.TenantID, err)
	}
	return nil
}

func (r *Registry) resolveAccounts(ctx context.Context, tenantID int64, crmUserIDs []int64) ([]uuid.UUID, error) {
	accounts := make([]uuid.UUID, 0, len(crmUserIDs))
	for _, crmUserID := range crmUserIDs {
		acc, err := r.store.GetAccount(ctx, tenantID, crmUserID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve account for user %d: %w", crmUserID, err)
		}
		accounts = append(accounts, acc.AccountID)
	}
	return accounts, nil
}
