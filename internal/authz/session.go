package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roomsync/roomsync/internal/cache"
	"github.com/roomsync/roomsync/internal/roomapi"
	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/pkg/models"
)

// AccountSource is the store subset the session transport needs to resolve
// the acting Room Service account.
type AccountSource interface {
	GetSystemUser(ctx context.Context, tenantID int64) (*models.User, error)
	GetAccount(ctx context.Context, tenantID, crmUserID int64) (*models.Account, error)
	DeleteAccount(ctx context.Context, tenantID, crmUserID int64) error
}

// LoginFunc performs the Room Service credential exchange. Matches
// roomapi.Login; injectable for tests.
type LoginFunc func(ctx context.Context, httpClient *http.Client, portalURL, username, passwordHash string) (string, error)

// ErrNoAccount means the acting user has no Room Service account linked, so
// no session can be established for them.
var ErrNoAccount = errors.New("no room service account linked")

// SessionTransport authenticates Room Service requests with per-user session
// tokens. It resolves the acting account from the identity on the request
// context, pulls the token from the cache, performs the login exchange on a
// miss, and retries a rejected request exactly once with a fresh login. A
// second rejection surfaces to the caller; if the re-login itself is
// rejected the stored account credentials are stale and get deleted.
type SessionTransport struct {
	accounts   AccountSource
	cache      cache.Cache
	base       http.RoundTripper
	login      LoginFunc
	sessionTTL time.Duration
	log        *slog.Logger
}

// NewSessionTransport builds a session transport over base. A nil base uses
// http.DefaultTransport.
func NewSessionTransport(accounts AccountSource, sessionCache cache.Cache, sessionTTL time.Duration, base http.RoundTripper, log *slog.Logger) *SessionTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &SessionTransport{
		accounts:   accounts,
		cache:      sessionCache,
		base:       base,
		login:      roomapi.Login,
		sessionTTL: sessionTTL,
		log:        log,
	}
}

// WithLogin overrides the login exchange. Test hook.
func (t *SessionTransport) WithLogin(login LoginFunc) *SessionTransport {
	t.login = login
	return t
}

func (t *SessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	id, ok := IdentityFrom(ctx)
	if !ok {
		return nil, errors.New("session transport: no identity on request context")
	}

	account, err := t.resolveAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	portalURL := req.URL.Scheme + "://" + req.URL.Host

	token, cached, err := t.cache.GetSessionToken(ctx, id.TenantID, account.CRMUserID)
	if err != nil {
		return nil, fmt.Errorf("session transport: read token cache: %w", err)
	}
	if !cached {
		token, err = t.exchange(ctx, portalURL, account)
		if err != nil {
			return nil, err
		}
	}

	resp, err := t.base.RoundTrip(withSessionToken(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// The cached token expired or was revoked. Re-login once and retry.
	if err := t.cache.DeleteSessionToken(ctx, id.TenantID, account.CRMUserID); err != nil {
		t.log.Warn("failed to evict stale session token", "tenant_id", id.TenantID, "crm_user_id", account.CRMUserID, "error", err)
	}
	token, lerr := t.exchange(ctx, portalURL, account)
	if lerr != nil {
		if errors.Is(lerr, roomapi.ErrUnauthorized) {
			t.log.Warn("stored room service credentials rejected, unlinking account",
				"tenant_id", id.TenantID, "crm_user_id", account.CRMUserID)
			if derr := t.accounts.DeleteAccount(ctx, id.TenantID, account.CRMUserID); derr != nil {
				t.log.Error("failed to unlink rejected account", "tenant_id", id.TenantID, "crm_user_id", account.CRMUserID, "error", derr)
			}
			// Surface the original 401 so the caller sees a uniform
			// unauthorized result.
			return resp, nil
		}
		resp.Body.Close()
		return nil, lerr
	}
	resp.Body.Close()

	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	return t.base.RoundTrip(withSessionToken(retry, token))
}

func (t *SessionTransport) resolveAccount(ctx context.Context, id Identity) (*models.Account, error) {
	crmUserID := id.CRMUserID
	if id.ActingAsSystem {
		system, err := t.accounts.GetSystemUser(ctx, id.TenantID)
		if err != nil {
			return nil, fmt.Errorf("session transport: resolve system user for tenant %d: %w", id.TenantID, err)
		}
		crmUserID = system.CRMUserID
	}

	account, err := t.accounts.GetAccount(ctx, id.TenantID, crmUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("session transport: %w for tenant %d user %d", ErrNoAccount, id.TenantID, crmUserID)
		}
		return nil, fmt.Errorf("session transport: load account for tenant %d user %d: %w", id.TenantID, crmUserID, err)
	}
	return account, nil
}

func (t *SessionTransport) exchange(ctx context.Context, portalURL string, account *models.Account) (string, error) {
	token, err := t.login(ctx, &http.Client{Timeout: 30 * time.Second}, portalURL, account.Email, account.PasswordHash)
	if err != nil {
		return "", err
	}
	if err := t.cache.SetSessionToken(ctx, account.TenantID, account.CRMUserID, token, t.sessionTTL); err != nil {
		t.log.Warn("failed to cache session token", "tenant_id", account.TenantID, "crm_user_id", account.CRMUserID, "error", err)
	}
	return token, nil
}

func withSessionToken(req *http.Request, token string) *http.Request {
	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", token)
	return authed
}

// cloneRequest produces a resendable copy of req, rewinding the body through
// GetBody when one is present.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("session transport: rewind request body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}
