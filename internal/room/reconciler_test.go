package room_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomsync/roomsync/internal/group"
	"github.com/roomsync/roomsync/internal/room"
	"github.com/roomsync/roomsync/internal/roomapi"
	"github.com/roomsync/roomsync/pkg/models"
)

type fakeShareAPI struct {
	unpaid      []uuid.UUID
	inviteCalls int
	removeCalls int
	lastInvite  struct {
		roomID      int64
		invitations []roomapi.Invitation
		notify      bool
		message     string
	}
	lastRemove struct {
		roomID int64
		ids    []uuid.UUID
	}
}

func (f *fakeShareAPI) ListUnpaidAccounts(ctx context.Context) ([]uuid.UUID, error) {
	return f.unpaid, nil
}

func (f *fakeShareAPI) BulkInvite(ctx context.Context, roomID int64, invitations []roomapi.Invitation, notify bool, message string) error {
	f.inviteCalls++
	f.lastInvite.roomID = roomID
	f.lastInvite.invitations = invitations
	f.lastInvite.notify = notify
	f.lastInvite.message = message
	return nil
}

func (f *fakeShareAPI) BulkRemove(ctx context.Context, roomID int64, ids []uuid.UUID) error {
	f.removeCalls++
	f.lastRemove.roomID = roomID
	f.lastRemove.ids = ids
	return nil
}

type fakeSettingsSource struct {
	settings *models.Settings
}

func (f *fakeSettingsSource) GetSettings(ctx context.Context, tenantID int64) (*models.Settings, error) {
	return f.settings, nil
}

func TestInviteAccounts_TierFollowsPaymentStanding(t *testing.T) {
	unpaid := uuid.New()
	paid := uuid.New()
	api := &fakeShareAPI{unpaid: []uuid.UUID{unpaid}}
	r := room.NewReconciler(api, &fakeSettingsSource{settings: &models.Settings{TenantID: 100}}, slog.Default())

	err := r.InviteAccounts(context.Background(), 100, 55, []uuid.UUID{unpaid, paid})
	require.NoError(t, err)

	require.Len(t, api.lastInvite.invitations, 2)
	byID := map[uuid.UUID]roomapi.Access{}
	for _, inv := range api.lastInvite.invitations {
		byID[inv.ID] = inv.Access
	}
	assert.Equal(t, roomapi.AccessEditor, byID[unpaid])
	assert.Equal(t, roomapi.AccessCollaborator, byID[paid])
	assert.True(t, api.lastInvite.notify)
	assert.Equal(t, int64(55), api.lastInvite.roomID)
}

func TestInviteAccounts_EmptyBatchIssuesNoRequest(t *testing.T) {
	api := &fakeShareAPI{}
	r := room.NewReconciler(api, &fakeSettingsSource{settings: &models.Settings{TenantID: 100}}, slog.Default())

	require.NoError(t, r.InviteAccounts(context.Background(), 100, 55, nil))
	assert.Zero(t, api.inviteCalls)
}

func TestRemoveAccounts_EmptyBatchIssuesNoRequest(t *testing.T) {
	api := &fakeShareAPI{}
	r := room.NewReconciler(api, &fakeSettingsSource{settings: &models.Settings{TenantID: 100}}, slog.Default())

	require.NoError(t, r.RemoveAccounts(context.Background(), 100, 55, nil))
	assert.Zero(t, api.removeCalls)
}

func TestRemoveAccounts_SendsBatch(t *testing.T) {
	api := &fakeShareAPI{}
	r := room.NewReconciler(api, &fakeSettingsSource{settings: &models.Settings{TenantID: 100}}, slog.Default())

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	require.NoError(t, r.RemoveAccounts(context.Background(), 100, 55, ids))
	assert.Equal(t, ids, api.lastRemove.ids)
	assert.Equal(t, int64(55), api.lastRemove.roomID)
}

func TestInviteSharedGroup_UnsetGroupSurfacesSentinel(t *testing.T) {
	api := &fakeShareAPI{}
	r := room.NewReconciler(api, &fakeSettingsSource{settings: &models.Settings{TenantID: 100}}, slog.Default())

	err := r.InviteSharedGroup(context.Background(), 100, 55)
	assert.ErrorIs(t, err, group.ErrGroupNotSet)
	assert.Zero(t, api.inviteCalls)
}

func TestInviteSharedGroup_GrantsEditorTier(t *testing.T) {
	groupID := uuid.New()
	api := &fakeShareAPI{}
	r := room.NewReconciler(api, &fakeSettingsSource{settings: &models.Settings{TenantID: 100, SharedGroupID: &groupID}}, slog.Default())

	require.NoError(t, r.InviteSharedGroup(context.Background(), 100, 55))
	require.Len(t, api.lastInvite.invitations, 1)
	assert.Equal(t, groupID, api.lastInvite.invitations[0].ID)
	assert.Equal(t, roomapi.AccessEditor, api.lastInvite.invitations[0].Access)
}

func TestRemoveSharedGroup_UnsetGroupIsNoop(t *testing.T) {
	api := &fakeShareAPI{}
	r := room.NewReconciler(api, &fakeSettingsSource{settings: &models.Settings{TenantID: 100}}, slog.Default())

	require.NoError(t, r.RemoveSharedGroup(context.Background(), 100, 55))
	assert.Zero(t, api.removeCalls)
}
