package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/roomsync/roomsync/pkg/models"
)

// TokenStore is the store subset the OAuth transport needs: loading the
// acting user's persisted token pair and saving it back after a refresh.
type TokenStore interface {
	GetUser(ctx context.Context, tenantID, crmUserID int64) (*models.User, error)
	GetSystemUser(ctx context.Context, tenantID int64) (*models.User, error)
	SaveOAuthToken(ctx context.Context, tenantID, crmUserID int64, access, refresh string, issuedAt, expiresAt time.Time) error
}

// OAuthTransport authenticates Deal Service requests with the acting user's
// persisted OAuth token, refreshing through the token endpoint when expired
// and writing the refreshed pair back to the store. Concurrent refreshes for
// the same user are allowed; both exchanges succeed upstream and the last
// write wins.
type OAuthTransport struct {
	config *oauth2.Config
	tokens TokenStore
	base   http.RoundTripper
	log    *slog.Logger
}

// NewOAuthTransport builds an OAuth transport over base. A nil base uses
// http.DefaultTransport.
func NewOAuthTransport(config *oauth2.Config, tokens TokenStore, base http.RoundTripper, log *slog.Logger) *OAuthTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &OAuthTransport{config: config, tokens: tokens, base: base, log: log}
}

func (t *OAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	id, ok := IdentityFrom(ctx)
	if !ok {
		return nil, errors.New("oauth transport: no identity on request context")
	}

	user, err := t.resolveUser(ctx, id)
	if err != nil {
		return nil, err
	}

	current := &oauth2.Token{
		AccessToken:  user.AccessToken,
		RefreshToken: user.RefreshToken,
		Expiry:       user.TokenExpiresAt,
	}
	token, err := t.config.TokenSource(ctx, current).Token()
	if err != nil {
		return nil, fmt.Errorf("oauth transport: refresh token for tenant %d user %d: %w", user.TenantID, user.CRMUserID, err)
	}
	if token.AccessToken != user.AccessToken {
		t.log.Info("refreshed deal service token", "tenant_id", user.TenantID, "crm_user_id", user.CRMUserID)
		if serr := t.tokens.SaveOAuthToken(ctx, user.TenantID, user.CRMUserID,
			token.AccessToken, token.RefreshToken, time.Now().UTC(), token.Expiry); serr != nil {
			t.log.Error("failed to persist refreshed token", "tenant_id", user.TenantID, "crm_user_id", user.CRMUserID, "error", serr)
		}
	}

	authed := req.Clone(ctx)
	token.SetAuthHeader(authed)
	return t.base.RoundTrip(authed)
}

func (t *OAuthTransport) resolveUser(ctx context.Context, id Identity) (*models.User, error) {
	if id.ActingAsSystem {
		user, err := t.tokens.GetSystemUser(ctx, id.TenantID)
		if err != nil {
			return nil, fmt.Errorf("oauth transport: resolve system user for tenant %d: %w", id.TenantID, err)
		}
		return user, nil
	}
	user, err := t.tokens.GetUser(ctx, id.TenantID, id.CRMUserID)
	if err != nil {
		return nil, fmt.Errorf("oauth transport: load user for tenant %d user %d: %w", id.TenantID, id.CRMUserID, err)
	}
	return user, nil
}
