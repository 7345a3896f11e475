package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roomsync/roomsync/internal/dealapi"
	"github.com/roomsync/roomsync/internal/events"
	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/pkg/models"
)

const (
	followerAdded   = "added"
	followerRemoved = "removed"
)

// DealAPI is the Deal Service subset the differ drives. Calls run as the
// webhook owner, whose identity is already on the context.
type DealAPI interface {
	GetCurrentUser(ctx context.Context) (*dealapi.CurrentUser, error)
	GetFollowerChangeLog(ctx context.Context, dealID int64) ([]dealapi.FollowerChange, error)
}

// Store is the persistence subset the differ needs.
type Store interface {
	GetRoomByDeal(ctx context.Context, tenantID, dealID int64) (*models.Room, error)
	GetUser(ctx context.Context, tenantID, crmUserID int64) (*models.User, error)
}

// Differ turns a deal-updated webhook payload into domain events. Deals
// without a linked room produce nothing: the integration only mirrors deals
// someone provisioned a room for.
type Differ struct {
	deals      DealAPI
	store      Store
	dispatcher *events.Dispatcher
	log        *slog.Logger
}

// NewDiffer creates a deal differ.
func NewDiffer(deals DealAPI, store Store, dispatcher *events.Dispatcher, log *slog.Logger) *Differ {
	return &Differ{deals: deals, store: store, dispatcher: dispatcher, log: log}
}

// DiffDeal compares the previous and current deal snapshots from one webhook
// delivery and publishes the resulting events. Visibility transitions are
// handled before follower changes so a deal that simultaneously opens up and
// gains followers shares the room before individual invites land.
func (d *Differ) DiffDeal(ctx context.Context, tenantID int64, current, previous *dealapi.Deal) error {
	if current == nil || previous == nil {
		return nil
	}

	room, err := d.store.GetRoomByDeal(ctx, tenantID, current.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load room for deal %d: %w", current.ID, err)
	}

	if current.VisibleTo != previous.VisibleTo {
		if err := d.diffVisibility(ctx, tenantID, room, current, previous); err != nil {
			return err
		}
	}
	if current.FollowersCount != previous.FollowersCount {
		action := followerAdded
		if current.FollowersCount < previous.FollowersCount {
			action = followerRemoved
		}
		if err := d.diffFollowers(ctx, tenantID, room, current, action); err != nil {
			return err
		}
	}
	return nil
}

// diffVisibility resolves the tenant's everyone sentinel and publishes a
// transition event when the deal crossed it. Changes between two non-sentinel
// codes are irrelevant to room sharing and publish nothing.
func (d *Differ) diffVisibility(ctx context.Context, tenantID int64, room *models.Room, current, previous *dealapi.Deal) error {
	me, err := d.deals.GetCurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("resolve permission mode for deal %d: %w", current.ID, err)
	}
	sentinel := dealapi.EveryoneSentinel(me.AdvancedPermissions)

	wasEveryone := int(previous.VisibleTo) == sentinel
	isEveryone := int(current.VisibleTo) == sentinel
	switch {
	case isEveryone && !wasEveryone:
		return d.dispatcher.Publish(ctx, events.DealVisibleEveryone{
			TenantID: tenantID, DealID: current.ID, RoomID: room.RoomID,
		})
	case wasEveryone && !isEveryone:
		return d.dispatcher.Publish(ctx, events.DealHiddenEveryone{
			TenantID: tenantID, DealID: current.ID, RoomID: room.RoomID,
		})
	}
	return nil
}

// diffFollowers correlates the deal's cumulative follower change log with
// this update by exact timestamp match. The log spans the deal's whole
// history, so entries whose log time differs from the deal's update time
// belong to earlier updates and are skipped. Only entries matching the
// direction of the count change count: an increase selects "added" log
// entries, a decrease selects "removed" ones, so a same-timestamp entry of
// the opposite action never leaks into this delivery. Followers unknown to
// the integration are dropped silently; they never linked an account.
func (d *Differ) diffFollowers(ctx context.Context, tenantID int64, room *models.Room, current *dealapi.Deal, action string) error {
	changes, err := d.deals.GetFollowerChangeLog(ctx, current.ID)
	if err != nil {
		return fmt.Errorf("load follower change log for deal %d: %w", current.ID, err)
	}

	var matched []int64
	for _, change := range changes {
		if change.LogTime != current.UpdateTime || change.Action != action {
			continue
		}
		known, err := d.knownUser(ctx, tenantID, change.FollowerUserID)
		if err != nil {
			return err
		}
		if !known {
			continue
		}
		matched = append(matched, change.FollowerUserID)
	}

	if len(matched) == 0 {
		return nil
	}
	if action == followerRemoved {
		return d.dispatcher.Publish(ctx, events.DealFollowersRemoved{
			TenantID: tenantID, DealID: current.ID, RoomID: room.RoomID, CRMUserIDs: matched,
		})
	}
	return d.dispatcher.Publish(ctx, events.DealFollowersAdded{
		TenantID: tenantID, DealID: current.ID, RoomID: room.RoomID, CRMUserIDs: matched,
	})
}

func (d *Differ) knownUser(ctx context.Context, tenantID, crmUserID int64) (bool, error) {
	_, err := d.store.GetUser(ctx, tenantID, crmUserID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up follower %d: %w", crmUserID, err)
	}
	return true, nil
}
