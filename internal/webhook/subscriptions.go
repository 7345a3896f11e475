package webhook

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/roomsync/roomsync/internal/authz"
	"github.com/roomsync/roomsync/internal/dealapi"
	"github.com/roomsync/roomsync/pkg/models"
)

const webhookPasswordLength = 32

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// subscribedEvents are the CRM events the integration listens to. Both are
// registered per system user.
var subscribedEvents = []struct {
	object string
	action string
	path   string
}{
	{object: "deal", action: "updated", path: "/api/v1/webhook/deal"},
	{object: "user", action: "updated", path: "/api/v1/webhook/user"},
}

// SubscriptionAPI is the Deal Service subset the subscription manager
// drives.
type SubscriptionAPI interface {
	CreateWebhookSubscription(ctx context.Context, spec dealapi.WebhookSpec) (*dealapi.WebhookSubscription, error)
	DeleteWebhookSubscription(ctx context.Context, id int64) error
}

// SubscriptionStore is the persistence subset the subscription manager
// needs.
type SubscriptionStore interface {
	SaveWebhook(ctx context.Context, webhook *models.Webhook) error
	ListWebhooksForUser(ctx context.Context, userID int64) ([]*models.Webhook, error)
	DeleteWebhook(ctx context.Context, id uuid.UUID) error
}

// Subscriptions manages the CRM webhook registrations tied to a user. Each
// registration carries a generated id and password that the CRM replays as
// basic auth on deliveries; only the bcrypt hash of the password survives
// locally.
type Subscriptions struct {
	deals   SubscriptionAPI
	store   SubscriptionStore
	baseURL string
	log     *slog.Logger
}

// NewSubscriptions creates a subscription manager. baseURL is this service's
// public address, where the CRM delivers events.
func NewSubscriptions(deals SubscriptionAPI, store SubscriptionStore, baseURL string, log *slog.Logger) *Subscriptions {
	return &Subscriptions{deals: deals, store: store, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

// Init registers the deal and user webhooks in the given user's name,
// skipping events the user already has a registration for. The local record
// is written before the remote registration so a delivery arriving
// immediately after registration can authenticate.
func (s *Subscriptions) Init(ctx context.Context, user *models.User) error {
	ctx = authz.WithIdentity(ctx, authz.Identity{TenantID: user.TenantID, CRMUserID: user.CRMUserID})

	existing, err := s.store.ListWebhooksForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list webhooks for user %d: %w", user.ID, err)
	}
	registered := make(map[string]bool, len(existing))
	for _, hook := range existing {
		registered[hook.EventName] = true
	}

	for _, ev := range subscribedEvents {
		eventName := ev.object + "." + ev.action
		if registered[eventName] {
			continue
		}

		password, err := randomPassword(webhookPasswordLength)
		if err != nil {
			return fmt.Errorf("generate webhook password: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash webhook password: %w", err)
		}

		hook := &models.Webhook{
			ID:           uuid.New(),
			UserID:       user.ID,
			EventName:    eventName,
			PasswordHash: string(hash),
		}
		if err := s.store.SaveWebhook(ctx, hook); err != nil {
			return fmt.Errorf("save webhook %s: %w", eventName, err)
		}

		sub, err := s.deals.CreateWebhookSubscription(ctx, dealapi.WebhookSpec{
			SubscriptionURL:  s.baseURL + ev.path,
			EventAction:      ev.action,
			EventObject:      ev.object,
			HTTPAuthUser:     hook.ID.String(),
			HTTPAuthPassword: password,
		})
		if err != nil {
			if derr := s.store.DeleteWebhook(ctx, hook.ID); derr != nil {
				s.log.Warn("failed to clean up unregistered webhook", "webhook_id", hook.ID, "error", derr)
			}
			return fmt.Errorf("register %s webhook: %w", eventName, err)
		}

		hook.ExternalID = sub.ID
		if err := s.store.SaveWebhook(ctx, hook); err != nil {
			return fmt.Errorf("record external id for webhook %s: %w", eventName, err)
		}
		s.log.Info("webhook registered", "tenant_id", user.TenantID, "crm_user_id", user.CRMUserID, "event", eventName)
	}
	return nil
}

// Remove unregisters and deletes all of the user's webhooks. Remote failures
// are logged and do not stop the local cleanup; an orphaned remote
// registration fails authentication on its next delivery and dies there.
func (s *Subscriptions) Remove(ctx context.Context, user *models.User) error {
	ctx = authz.WithIdentity(ctx, authz.Identity{TenantID: user.TenantID, CRMUserID: user.CRMUserID})

	hooks, err := s.store.ListWebhooksForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list webhooks for user %d: %w", user.ID, err)
	}

	for _, hook := range hooks {
		if hook.ExternalID != 0 {
			if err := s.deals.DeleteWebhookSubscription(ctx, hook.ExternalID); err != nil {
				s.log.Warn("failed to unregister webhook remotely",
					"webhook_id", hook.ID, "external_id", hook.ExternalID, "error", err)
			}
		}
		if err := s.store.DeleteWebhook(ctx, hook.ID); err != nil {
			s.log.Warn("failed to delete webhook record", "webhook_id", hook.ID, "error", err)
		}
	}
	return nil
}

func randomPassword(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(passwordAlphabet[n.Int64()])
	}
	return b.String(), nil
}
