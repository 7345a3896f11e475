package room

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roomsync/roomsync/internal/authz"
	"github.com/roomsync/roomsync/internal/group"
	"github.com/roomsync/roomsync/internal/roomapi"
	"github.com/roomsync/roomsync/pkg/models"
)

// inviteMessage accompanies room invitations sent on behalf of a deal.
const inviteMessage = "You were invited to collaborate on a deal"

// ShareAPI is the Room Service subset the reconciler drives.
type ShareAPI interface {
	ListUnpaidAccounts(ctx context.Context) ([]uuid.UUID, error)
	BulkInvite(ctx context.Context, roomID int64, invitations []roomapi.Invitation, notify bool, message string) error
	BulkRemove(ctx context.Context, roomID int64, ids []uuid.UUID) error
}

// SettingsSource resolves the tenant's shared group id.
type SettingsSource interface {
	GetSettings(ctx context.Context, tenantID int64) (*models.Settings, error)
}

// Reconciler applies membership changes to deal rooms. Access tiers depend
// on the account's payment standing, which is resolved fresh on every batch
// because standing changes on the Room Service side without notice.
type Reconciler struct {
	api      ShareAPI
	settings SettingsSource
	log      *slog.Logger
}

// NewReconciler creates a room reconciler.
func NewReconciler(api ShareAPI, settings SettingsSource, log *slog.Logger) *Reconciler {
	return &Reconciler{api: api, settings: settings, log: log}
}

// InviteAccounts grants the given accounts access to a room in one request.
// Unpaid accounts get the editor tier, paid accounts the collaborator tier.
// An empty batch issues no request.
func (r *Reconciler) InviteAccounts(ctx context.Context, tenantID, roomID int64, accountIDs []uuid.UUID) error {
	if len(accountIDs) == 0 {
		return nil
	}
	ctx = authz.WithIdentity(ctx, authz.System(tenantID))

	unpaidList, err := r.api.ListUnpaidAccounts(ctx)
	if err != nil {
		return fmt.Errorf("resolve unpaid accounts for tenant %d: %w", tenantID, err)
	}
	unpaid := make(map[uuid.UUID]struct{}, len(unpaidList))
	for _, id := range unpaidList {
		unpaid[id] = struct{}{}
	}

	invitations := make([]roomapi.Invitation, 0, len(accountIDs))
	for _, id := range accountIDs {
		access := roomapi.AccessCollaborator
		if _, ok := unpaid[id]; ok {
			access = roomapi.AccessEditor
		}
		invitations = append(invitations, roomapi.Invitation{ID: id, Access: access})
	}

	if err := r.api.BulkInvite(ctx, roomID, invitations, true, inviteMessage); err != nil {
		return fmt.Errorf("invite accounts to room %d: %w", roomID, err)
	}
	r.log.Info("invited accounts to room", "tenant_id", tenantID, "room_id", roomID, "count", len(invitations))
	return nil
}

// RemoveAccounts revokes the given accounts' access to a room in one
// request. An empty batch issues no request.
func (r *Reconciler) RemoveAccounts(ctx context.Context, tenantID, roomID int64, accountIDs []uuid.UUID) error {
	if len(accountIDs) == 0 {
		return nil
	}
	ctx = authz.WithIdentity(ctx, authz.System(tenantID))

	if err := r.api.BulkRemove(ctx, roomID, accountIDs); err != nil {
		return fmt.Errorf("remove accounts from room %d: %w", roomID, err)
	}
	r.log.Info("removed accounts from room", "tenant_id", tenantID, "room_id", roomID, "count", len(accountIDs))
	return nil
}

// InviteSharedGroup grants the tenant's shared group editor access to a
// room. Returns group.ErrGroupNotSet when no group is recorded so the caller
// can run the repair path.
func (r *Reconciler) InviteSharedGroup(ctx context.Context, tenantID, roomID int64) error {
	ctx = authz.WithIdentity(ctx, authz.System(tenantID))

	settings, err := r.settings.GetSettings(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load settings for tenant %d: %w", tenantID, err)
	}
	if settings.SharedGroupID == nil {
		return fmt.Errorf("invite shared group to room %d: %w", roomID, group.ErrGroupNotSet)
	}

	invitations := []roomapi.Invitation{{ID: *settings.SharedGroupID, Access: roomapi.AccessEditor}}
	if err := r.api.BulkInvite(ctx, roomID, invitations, true, inviteMessage); err != nil {
		return fmt.Errorf("invite shared group to room %d: %w", roomID, err)
	}
	return nil
}

// RemoveSharedGroup revokes the shared group's access to a room. With no
// group recorded the room never had group access, so this is a logged no-op.
func (r *Reconciler) RemoveSharedGroup(ctx context.Context, tenantID, roomID int64) error {
	ctx = authz.WithIdentity(ctx, authz.System(tenantID))

	settings, err := r.settings.GetSettings(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load settings for tenant %d: %w", tenantID, err)
	}
	if settings.SharedGroupID == nil {
		r.log.Info("shared group not initialized, skipping room revoke", "tenant_id", tenantID, "room_id", roomID)
		return nil
	}

	if err := r.api.BulkRemove(ctx, roomID, []uuid.UUID{*settings.SharedGroupID}); err != nil {
		return fmt.Errorf("remove shared group from room %d: %w", roomID, err)
	}
	return nil
}
