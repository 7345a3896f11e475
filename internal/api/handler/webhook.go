package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roomsync/roomsync/internal/api/middleware"
	"github.com/roomsync/roomsync/internal/api/response"
	"github.com/roomsync/roomsync/internal/dealapi"
	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/pkg/models"
)

// DealDiffer turns one deal webhook payload into reactions. Matches
// webhook.Differ.DiffDeal.
type DealDiffer interface {
	DiffDeal(ctx context.Context, tenantID int64, current, previous *dealapi.Deal) error
}

type dealPayload struct {
	Current  *dealapi.Deal `json:"current"`
	Previous *dealapi.Deal `json:"previous"`
}

// NewDealWebhookHandler returns the handler for POST /api/v1/webhook/deal.
// The tenant comes from the authenticated webhook owner, never from the
// payload. A failed delivery returns 5xx so the CRM redelivers.
func NewDealWebhookHandler(differ DealDiffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.RequestIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Missing webhook identity", nil)
			return
		}

		var payload dealPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := differ.DiffDeal(r.Context(), id.TenantID, payload.Current, payload.Previous); err != nil {
			response.Error(w, http.StatusInternalServerError, "DELIVERY_FAILED", "Failed to process deal update", nil)
			return
		}
		response.JSON(w, map[string]string{"status": "processed"})
	}
}

// UserWebhookStore is the persistence subset the user webhook handler needs.
type UserWebhookStore interface {
	GetSystemUser(ctx context.Context, tenantID int64) (*models.User, error)
	UnsetSystemUser(ctx context.Context, tenantID int64) error
}

// SubscriptionRemover matches webhook.Subscriptions.Remove.
type SubscriptionRemover interface {
	Remove(ctx context.Context, user *models.User) error
}

type userPayload struct {
	Current *struct {
		ID         int64 `json:"id"`
		IsAdmin    bool  `json:"is_admin"`
		ActiveFlag bool  `json:"active_flag"`
	} `json:"current"`
}

// NewUserWebhookHandler returns the handler for POST /api/v1/webhook/user.
// The only user change the integration reacts to is the system user losing
// admin rights or being deactivated: that user can no longer act for the
// tenant, so the system-user designation and its subscriptions go.
func NewUserWebhookHandler(s UserWebhookStore, subs SubscriptionRemover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.RequestIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Missing webhook identity", nil)
			return
		}

		var payload userPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if payload.Current == nil || (payload.Current.IsAdmin && payload.Current.ActiveFlag) {
			response.JSON(w, map[string]string{"status": "ignored"})
			return
		}

		system, err := s.GetSystemUser(r.Context(), id.TenantID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && system.CRMUserID != payload.Current.ID) {
			response.JSON(w, map[string]string{"status": "ignored"})
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "DELIVERY_FAILED", "Failed to process user update", nil)
			return
		}

		if err := subs.Remove(r.Context(), system); err != nil {
			response.Error(w, http.StatusInternalServerError, "DELIVERY_FAILED", "Failed to remove subscriptions", nil)
			return
		}
		if err := s.UnsetSystemUser(r.Context(), id.TenantID); err != nil {
			response.Error(w, http.StatusInternalServerError, "DELIVERY_FAILED", "Failed to unset system user", nil)
			return
		}
		response.JSON(w, map[string]string{"status": "processed"})
	}
}
