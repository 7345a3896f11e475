package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roomsync/roomsync/internal/account"
	"github.com/roomsync/roomsync/internal/api/middleware"
	"github.com/roomsync/roomsync/internal/api/response"
	"github.com/roomsync/roomsync/internal/authz"
	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/pkg/models"
)

// AccountService is the account-linking surface the handlers expose.
type AccountService interface {
	Get(ctx context.Context, id authz.Identity) (*models.Account, error)
	Link(ctx context.Context, id authz.Identity, email, passwordHash string, asSystem bool) (*models.Account, error)
	Unlink(ctx context.Context, id authz.Identity) error
}

// NewGetAccountHandler returns the handler for GET /api/v1/account.
func NewGetAccountHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.RequestIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Missing identity", nil)
			return
		}

		acc, err := svc.Get(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "No Room Service account linked", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load account", nil)
			return
		}
		response.JSON(w, acc)
	}
}

// NewLinkAccountHandler returns the handler for PUT /api/v1/account. The
// password never arrives in clear; the panel sends the client-side hash the
// Room Service login exchange expects.
func NewLinkAccountHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.RequestIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Missing identity", nil)
			return
		}

		var req struct {
			Email        string `json:"email"`
			PasswordHash string `json:"password_hash"`
			System       bool   `json:"system"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Email == "" || req.PasswordHash == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "email and password_hash are required", nil)
			return
		}

		acc, err := svc.Link(r.Context(), id, req.Email, req.PasswordHash, req.System)
		switch {
		case errors.Is(err, account.ErrNotConfigured):
			response.Error(w, http.StatusConflict, "NOT_CONFIGURED", "Room Service connection not configured", nil)
		case errors.Is(err, account.ErrBadCredentials):
			response.Error(w, http.StatusUnauthorized, "BAD_CREDENTIALS", "Room Service rejected the credentials", nil)
		case errors.Is(err, account.ErrNotAdmin):
			response.Error(w, http.StatusForbidden, "NOT_ADMIN", "System account must be a portal administrator", nil)
		case errors.Is(err, account.ErrUnknownUser):
			response.Error(w, http.StatusForbidden, "UNKNOWN_USER", "CRM user has not installed the integration", nil)
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to link account", nil)
		default:
			response.Created(w, acc)
		}
	}
}

// NewUnlinkAccountHandler returns the handler for DELETE /api/v1/account.
func NewUnlinkAccountHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.RequestIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Missing identity", nil)
			return
		}

		if err := svc.Unlink(r.Context(), id); err != nil {
			if errors.Is(err, account.ErrUnknownUser) {
				response.Error(w, http.StatusForbidden, "UNKNOWN_USER", "CRM user has not installed the integration", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to unlink account", nil)
			return
		}
		response.NoContent(w)
	}
}
