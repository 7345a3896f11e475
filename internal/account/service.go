package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roomsync/roomsync/internal/authz"
	"github.com/roomsync/roomsync/internal/cache"
	"github.com/roomsync/roomsync/internal/events"
	"github.com/roomsync/roomsync/internal/roomapi"
	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/pkg/models"
)

var (
	// ErrNotConfigured means the tenant has no Room Service URL saved, so
	// there is no portal to log in to.
	ErrNotConfigured = errors.New("room service connection not configured")
	// ErrBadCredentials means the portal rejected the login exchange.
	ErrBadCredentials = errors.New("room service rejected credentials")
	// ErrNotAdmin means a non-administrator account was offered as the
	// tenant's system account.
	ErrNotAdmin = errors.New("system account must be a portal administrator")
	// ErrUnknownUser means the CRM user has not installed the integration.
	ErrUnknownUser = errors.New("crm user unknown to the integration")
)

// Store is the persistence subset the account service needs.
type Store interface {
	GetSettings(ctx context.Context, tenantID int64) (*models.Settings, error)
	GetUser(ctx context.Context, tenantID, crmUserID int64) (*models.User, error)
	PutUser(ctx context.Context, user *models.User) (*models.User, error)
	UnsetSystemUser(ctx context.Context, tenantID int64) error
	GetAccount(ctx context.Context, tenantID, crmUserID int64) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, tenantID, crmUserID int64) error
}

// LoginFunc matches roomapi.Login; injectable for tests.
type LoginFunc func(ctx context.Context, httpClient *http.Client, portalURL, username, passwordHash string) (string, error)

// ProfileFunc resolves the profile of the account behind a fresh session
// token, looked up by the email the user offered; injectable for tests.
type ProfileFunc func(ctx context.Context, httpClient *http.Client, portalURL, token, email string) (*roomapi.Account, error)

// Service links CRM users to Room Service accounts. Linking verifies the
// offered credentials with a real login exchange before anything persists,
// and warms the session cache with the token the exchange produced.
type Service struct {
	store      Store
	cache      cache.Cache
	dispatcher *events.Dispatcher
	http       *http.Client
	login      LoginFunc
	profile    ProfileFunc
	sessionTTL time.Duration
	log        *slog.Logger
}

// NewService creates an account service. httpClient must be unauthenticated;
// the login exchange runs before any credential exists.
func NewService(store Store, sessionCache cache.Cache, dispatcher *events.Dispatcher, httpClient *http.Client, sessionTTL time.Duration, log *slog.Logger) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{
		store:      store,
		cache:      sessionCache,
		dispatcher: dispatcher,
		http:       httpClient,
		login:      roomapi.Login,
		profile:    fetchProfile,
		sessionTTL: sessionTTL,
		log:        log,
	}
}

// WithExchange overrides the login and profile calls. Test hook.
func (s *Service) WithExchange(login LoginFunc, profile ProfileFunc) *Service {
	s.login = login
	s.profile = profile
	return s
}

// Get returns the acting user's linked account, or store.ErrNotFound.
func (s *Service) Get(ctx context.Context, id authz.Identity) (*models.Account, error) {
	return s.store.GetAccount(ctx, id.TenantID, id.CRMUserID)
}

// Link verifies the offered Room Service credentials against the tenant's
// portal and stores the resulting account. With asSystem the account becomes
// the tenant's system account, which requires portal administrator rights
// and displaces any previous system user.
func (s *Service) Link(ctx context.Context, id authz.Identity, email, passwordHash string, asSystem bool) (*models.Account, error) {
	settings, err := s.store.GetSettings(ctx, id.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("load settings for tenant %d: %w", id.TenantID, err)
	}
	if settings.RoomServiceURL == "" {
		return nil, ErrNotConfigured
	}

	token, err := s.login(ctx, s.http, settings.RoomServiceURL, email, passwordHash)
	if err != nil {
		if errors.Is(err, roomapi.ErrUnauthorized) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("login exchange for tenant %d: %w", id.TenantID, err)
	}
	profile, err := s.profile(ctx, s.http, settings.RoomServiceURL, token, email)
	if err != nil {
		return nil, fmt.Errorf("resolve account profile for tenant %d: %w", id.TenantID, err)
	}
	if asSystem && !profile.IsAdmin {
		return nil, ErrNotAdmin
	}

	user, err := s.store.GetUser(ctx, id.TenantID, id.CRMUserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id.CRMUserID, err)
	}

	if asSystem && !user.IsSystemUser {
		if err := s.store.UnsetSystemUser(ctx, id.TenantID); err != nil {
			return nil, fmt.Errorf("displace system user for tenant %d: %w", id.TenantID, err)
		}
		user.IsSystemUser = true
		if user, err = s.store.PutUser(ctx, user); err != nil {
			return nil, fmt.Errorf("promote user %d to system: %w", id.CRMUserID, err)
		}
	}

	account := &models.Account{
		UserID:       user.ID,
		TenantID:     id.TenantID,
		CRMUserID:    id.CRMUserID,
		AccountID:    profile.ID,
		Email:        email,
		PasswordHash: passwordHash,
	}
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("save account for user %d: %w", id.CRMUserID, err)
	}
	if err := s.cache.SetSessionToken(ctx, id.TenantID, id.CRMUserID, token, s.sessionTTL); err != nil {
		s.log.Warn("failed to warm session cache", "tenant_id", id.TenantID, "crm_user_id", id.CRMUserID, "error", err)
	}
	s.log.Info("account linked", "tenant_id", id.TenantID, "crm_user_id", id.CRMUserID, "system", asSystem)

	if err := s.dispatcher.Publish(ctx, events.UserLoggedIn{
		TenantID:     id.TenantID,
		CRMUserID:    id.CRMUserID,
		AccountID:    profile.ID,
		IsSystemUser: asSystem,
	}); err != nil {
		return nil, err
	}
	return account, nil
}

// Unlink removes the acting user's account. Teardown reactions run quietly:
// a user can always log out even when the remote side is down.
func (s *Service) Unlink(ctx context.Context, id authz.Identity) error {
	user, err := s.store.GetUser(ctx, id.TenantID, id.CRMUserID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownUser
	}
	if err != nil {
		return fmt.Errorf("load user %d: %w", id.CRMUserID, err)
	}

	account, err := s.store.GetAccount(ctx, id.TenantID, id.CRMUserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account for user %d: %w", id.CRMUserID, err)
	}

	if err := s.store.DeleteAccount(ctx, id.TenantID, id.CRMUserID); err != nil {
		return fmt.Errorf("delete account for user %d: %w", id.CRMUserID, err)
	}
	if err := s.cache.DeleteSessionToken(ctx, id.TenantID, id.CRMUserID); err != nil {
		s.log.Warn("failed to evict session token", "tenant_id", id.TenantID, "crm_user_id", id.CRMUserID, "error", err)
	}
	s.log.Info("account unlinked", "tenant_id", id.TenantID, "crm_user_id", id.CRMUserID, "system", user.IsSystemUser)

	s.dispatcher.PublishQuiet(ctx, events.UserLoggedOut{
		TenantID:     id.TenantID,
		CRMUserID:    id.CRMUserID,
		AccountID:    account.AccountID,
		IsSystemUser: user.IsSystemUser,
	})
	return nil
}

// fetchProfile looks up the account behind the offered email using a one-off
// client authenticated with the fresh session token.
func fetchProfile(ctx context.Context, httpClient *http.Client, portalURL, token, email string) (*roomapi.Account, error) {
	authed := &http.Client{
		Transport: &tokenTransport{token: token, base: httpClient.Transport},
		Timeout:   httpClient.Timeout,
	}
	client := roomapi.NewClient(authed, roomapi.StaticBaseURL(portalURL))
	return client.GetUserByEmail(ctx, email)
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", t.token)
	return base.RoundTrip(authed)
}
