package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roomsync/roomsync/internal/authz"
	"github.com/roomsync/roomsync/internal/dealapi"
	"github.com/roomsync/roomsync/internal/events"
	"github.com/roomsync/roomsync/internal/roomapi"
	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/pkg/models"
)

// collaborationRoomType is the Room Service workspace type used for deal
// rooms.
const collaborationRoomType = 2

// ErrNoRoom means the deal has no linked room.
var ErrNoRoom = errors.New("deal has no linked room")

// RoomAPI is the Room Service subset the provisioning service drives.
type RoomAPI interface {
	CreateRoom(ctx context.Context, title string, roomType int) (*roomapi.Room, error)
}

// DealAPI is the Deal Service subset the provisioning service drives.
type DealAPI interface {
	GetDeal(ctx context.Context, id int64) (*dealapi.Deal, error)
}

// Store is the persistence subset the provisioning service needs.
type Store interface {
	GetRoomByDeal(ctx context.Context, tenantID, dealID int64) (*models.Room, error)
	CreateRoom(ctx context.Context, room *models.Room) error
	GetAccount(ctx context.Context, tenantID, crmUserID int64) (*models.Account, error)
}

// Service links deals to rooms. A room is created on demand by a user, in
// that user's name, and at most one room exists per deal.
type Service struct {
	store      Store
	rooms      RoomAPI
	deals      DealAPI
	reconciler *Reconciler
	dispatcher *events.Dispatcher
	log        *slog.Logger
}

// NewService creates a room provisioning service.
func NewService(store Store, rooms RoomAPI, deals DealAPI, reconciler *Reconciler, dispatcher *events.Dispatcher, log *slog.Logger) *Service {
	return &Service{store: store, rooms: rooms, deals: deals, reconciler: reconciler, dispatcher: dispatcher, log: log}
}

// Get returns the room linked to a deal, or ErrNoRoom.
func (s *Service) Get(ctx context.Context, tenantID, dealID int64) (*models.Room, error) {
	room, err := s.store.GetRoomByDeal(ctx, tenantID, dealID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("deal %d: %w", dealID, ErrNoRoom)
	}
	if err != nil {
		return nil, fmt.Errorf("load room for deal %d: %w", dealID, err)
	}
	return room, nil
}

// Provision creates a room for a deal in the acting user's name, links it,
// and announces it so listeners can seed the initial membership. Calling it
// for an already-linked deal returns the existing room.
func (s *Service) Provision(ctx context.Context, id authz.Identity, dealID int64) (*models.Room, error) {
	ctx = authz.WithIdentity(ctx, id)

	existing, err := s.store.GetRoomByDeal(ctx, id.TenantID, dealID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load room for deal %d: %w", dealID, err)
	}

	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("load deal %d: %w", dealID, err)
	}

	created, err := s.rooms.CreateRoom(ctx, deal.Title, collaborationRoomType)
	if err != nil {
		return nil, fmt.Errorf("create room for deal %d: %w", dealID, err)
	}

	room := &models.Room{TenantID: id.TenantID, DealID: dealID, RoomID: created.ID}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		// A concurrent provision won the race; keep its room and leave the
		// one just created orphaned on the remote side.
		if errors.Is(err, store.ErrDuplicateKey) {
			s.log.Warn("concurrent room provision, using winner", "tenant_id", id.TenantID, "deal_id", dealID)
			return s.store.GetRoomByDeal(ctx, id.TenantID, dealID)
		}
		return nil, fmt.Errorf("link room %d to deal %d: %w", created.ID, dealID, err)
	}
	s.log.Info("room provisioned", "tenant_id", id.TenantID, "deal_id", dealID, "room_id", created.ID)

	if err := s.dispatcher.Publish(ctx, events.DealRoomProvisioned{
		TenantID:  id.TenantID,
		CRMUserID: id.CRMUserID,
		DealID:    dealID,
		RoomID:    created.ID,
	}); err != nil {
		return nil, err
	}
	return room, nil
}

// RequestAccess invites the acting user's own account into a deal's existing
// room, resolving their access tier like any other invitation.
func (s *Service) RequestAccess(ctx context.Context, id authz.Identity, dealID int64) error {
	ctx = authz.WithIdentity(ctx, id)

	room, err := s.Get(ctx, id.TenantID, dealID)
	if err != nil {
		return err
	}
	account, err := s.store.GetAccount(ctx, id.TenantID, id.CRMUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return authz.ErrNoAccount
		}
		return fmt.Errorf("load account for user %d: %w", id.CRMUserID, err)
	}
	return s.reconciler.InviteAccounts(ctx, id.TenantID, room.RoomID, []uuid.UUID{account.AccountID})
}
