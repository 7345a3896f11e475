package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roomsync/roomsync/internal/api/middleware"
	"github.com/roomsync/roomsync/internal/api/response"
	"github.com/roomsync/roomsync/internal/authz"
	"github.com/roomsync/roomsync/internal/room"
	"github.com/roomsync/roomsync/pkg/models"
)

// RoomService is the room provisioning surface the handlers expose.
type RoomService interface {
	Get(ctx context.Context, tenantID, dealID int64) (*models.Room, error)
	Provision(ctx context.Context, id authz.Identity, dealID int64) (*models.Room, error)
	RequestAccess(ctx context.Context, id authz.Identity, dealID int64) error
}

func dealIDParam(r *http.Request) (int64, bool) {
	dealID, err := strconv.ParseInt(chi.URLParam(r, "dealID"), 10, 64)
	return dealID, err == nil && dealID > 0
}

// NewGetRoomHandler returns the handler for GET /api/v1/room/{dealID}.
func NewGetRoomHandler(svc RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.RequestIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Missing identity", nil)
			return
		}
		dealID, ok := dealIDParam(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "dealID must be a positive integer", nil)
			return
		}

		rm, err := svc.Get(r.Context(), id.TenantID, dealID)
		if errors.Is(err, room.ErrNoRoom) {
			response.Error(w, http.StatusNotFound, "ROOM_NOT_FOUND", "Deal has no linked room", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load room", nil)
			return
		}
		response.JSON(w, rm)
	}
}

// NewProvisionRoomHandler returns the handler for POST /api/v1/room/{dealID}.
func NewProvisionRoomHandler(svc RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.RequestIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Missing identity", nil)
			return
		}
		dealID, ok := dealIDParam(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "dealID must be a positive integer", nil)
			return
		}

		rm, err := svc.Provision(r.Context(), id, dealID)
		if errors.Is(err, authz.ErrNoAccount) {
			response.Error(w, http.StatusForbidden, "NO_ACCOUNT", "Link a Room Service account first", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to provision room", nil)
			return
		}
		response.Created(w, rm)
	}
}

// NewRequestAccessHandler returns the handler for
// POST /api/v1/room/{dealID}/request-access.
func NewRequestAccessHandler(svc RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.RequestIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Missing identity", nil)
			return
		}
		dealID, ok := dealIDParam(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "dealID must be a positive integer", nil)
			return
		}

		err := svc.RequestAccess(r.Context(), id, dealID)
		if errors.Is(err, room.ErrNoRoom) {
			response.Error(w, http.StatusNotFound, "ROOM_NOT_FOUND", "Deal has no linked room", nil)
			return
		}
		if errors.Is(err, authz.ErrNoAccount) {
			response.Error(w, http.StatusForbidden, "NO_ACCOUNT", "Link a Room Service account first", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to request access", nil)
			return
		}
		response.NoContent(w)
	}
}
