package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/roomsync/roomsync/internal/api/response"
	"github.com/roomsync/roomsync/internal/authz"
	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/pkg/models"
)

// SubscriptionRemover tears down a user's webhook registrations. Matches
// webhook.Subscriptions.Remove.
type SubscriptionRemover interface {
	Remove(ctx context.Context, user *models.User) error
}

// WebhookStore is the persistence subset webhook authentication needs.
type WebhookStore interface {
	GetWebhookOwner(ctx context.Context, id uuid.UUID) (*models.Webhook, *models.User, error)
}

// WebhookAuth authenticates CRM webhook deliveries. The CRM replays the
// basic auth pair issued at registration: the local webhook id as username
// and the raw password, checked against its bcrypt hash. Deliveries for
// hooks whose owner lost system-user standing are rejected and the stale
// registrations torn down.
type WebhookAuth struct {
	store WebhookStore
	subs  SubscriptionRemover
	log   *slog.Logger
}

// NewWebhookAuth creates the webhook authentication middleware.
func NewWebhookAuth(store WebhookStore, subs SubscriptionRemover, log *slog.Logger) *WebhookAuth {
	return &WebhookAuth{store: store, subs: subs, log: log}
}

// Authenticate validates the delivery and puts the owning user's identity on
// the request context.
func (a *WebhookAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_CREDENTIALS", "Missing basic auth credentials", nil)
			return
		}
		webhookID, err := uuid.Parse(username)
		if err != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_CREDENTIALS", "Malformed webhook id", nil)
			return
		}

		hook, owner, err := a.store.GetWebhookOwner(r.Context(), webhookID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_CREDENTIALS", "Unknown webhook", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate webhook credentials", nil)
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(hook.PasswordHash), []byte(password)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_CREDENTIALS", "Invalid webhook password", nil)
			return
		}

		if !owner.IsSystemUser {
			a.log.Warn("webhook owner is no longer the system user, tearing down",
				"webhook_id", hook.ID, "tenant_id", owner.TenantID, "crm_user_id", owner.CRMUserID)
			if terr := a.subs.Remove(r.Context(), owner); terr != nil {
				a.log.Error("failed to tear down stale webhooks",
					"webhook_id", hook.ID, "error", terr)
			}
			response.Error(w, http.StatusForbidden,
				"STALE_WEBHOOK", "Webhook owner is not the system user", nil)
			return
		}

		ctx := authz.WithIdentity(r.Context(), authz.Identity{
			TenantID:  owner.TenantID,
			CRMUserID: owner.CRMUserID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
