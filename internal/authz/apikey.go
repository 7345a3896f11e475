package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/roomsync/roomsync/pkg/models"
)

// SettingsSource is the store subset the API-key transport needs.
type SettingsSource interface {
	GetSettings(ctx context.Context, tenantID int64) (*models.Settings, error)
	SetAPIKeyValid(ctx context.Context, tenantID int64, valid bool) error
}

// ErrAPIKeyInvalid means the tenant has no usable API key: none configured,
// or the configured key was rejected by the Room Service.
var ErrAPIKeyInvalid = errors.New("room service api key not usable")

// APIKeyTransport authenticates Room Service requests with the tenant's
// stored API key. A 401 or 403 marks the key invalid in the store and is
// never retried; recovery requires an administrator to save a new key.
type APIKeyTransport struct {
	settings SettingsSource
	base     http.RoundTripper
	log      *slog.Logger
}

// NewAPIKeyTransport builds an API-key transport over base. A nil base uses
// http.DefaultTransport.
func NewAPIKeyTransport(settings SettingsSource, base http.RoundTripper, log *slog.Logger) *APIKeyTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &APIKeyTransport{settings: settings, base: base, log: log}
}

func (t *APIKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	id, ok := IdentityFrom(ctx)
	if !ok {
		return nil, errors.New("api key transport: no identity on request context")
	}

	settings, err := t.settings.GetSettings(ctx, id.TenantID)
	if err != nil {
		return nil, fmt.Errorf("api key transport: load settings for tenant %d: %w", id.TenantID, err)
	}
	if settings.APIKey == nil || !settings.APIKey.Valid {
		return nil, fmt.Errorf("api key transport: tenant %d: %w", id.TenantID, ErrAPIKeyInvalid)
	}

	authed := req.Clone(ctx)
	authed.Header.Set("Authorization", "Bearer "+settings.APIKey.Value)

	resp, err := t.base.RoundTrip(authed)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		t.log.Warn("room service rejected api key, marking invalid", "tenant_id", id.TenantID, "status", resp.StatusCode)
		if merr := t.settings.SetAPIKeyValid(ctx, id.TenantID, false); merr != nil {
			t.log.Error("failed to mark api key invalid", "tenant_id", id.TenantID, "error", merr)
		}
	}
	return resp, nil
}
