package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/roomsync/roomsync/internal/events"
	"github.com/roomsync/roomsync/internal/roomapi"
	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/pkg/models"
)

// Validation failure codes, stable for API consumers.
const (
	ErrCodeBadURL           = "bad_url"
	ErrCodeUnreachable      = "unreachable"
	ErrCodeKeyInvalid       = "key_invalid"
	ErrCodeMissingScopes    = "missing_scopes"
	ErrCodeKeyOwnerNotAdmin = "key_owner_not_admin"
)

// requiredScopes are the Room Service permissions the integration cannot
// operate without.
var requiredScopes = []string{"accounts.self:read", "accounts:write", "rooms:write"}

// ValidationError reports why a settings save was rejected. Nothing is
// persisted when validation fails.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("settings validation failed (%s): %s", e.Code, e.Reason)
}

// ValidationClient is the Room Service subset used to validate a candidate
// portal URL and API key before they are persisted.
type ValidationClient interface {
	GetAPIKeys(ctx context.Context) ([]roomapi.APIKeyInfo, error)
	GetMe(ctx context.Context) (*roomapi.Account, error)
}

// ClientFactory builds a validation client for a candidate portal URL and
// key. The candidate credentials are not in the store yet, so the client
// cannot go through the stored-key transport.
type ClientFactory func(baseURL, apiKey string) ValidationClient

// DefaultClientFactory builds a real Room Service client authenticating with
// the candidate key as a bearer token.
func DefaultClientFactory(httpClient *http.Client) ClientFactory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return func(baseURL, apiKey string) ValidationClient {
		authed := &http.Client{
			Transport: &bearerTransport{key: apiKey, base: httpClient.Transport},
			Timeout:   httpClient.Timeout,
		}
		return roomapi.NewClient(authed, roomapi.StaticBaseURL(baseURL))
	}
}

type bearerTransport struct {
	key  string
	base http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+t.key)
	return base.RoundTrip(authed)
}

// Store is the persistence subset the settings service needs.
type Store interface {
	GetSettings(ctx context.Context, tenantID int64) (*models.Settings, error)
	PutSettings(ctx context.Context, settings *models.Settings) error
	ClearSettings(ctx context.Context, tenantID int64) error
}

// Service owns the tenant's Room Service connection settings. A save
// validates the candidate URL and key end to end and persists all or
// nothing.
type Service struct {
	store      Store
	clients    ClientFactory
	dispatcher *events.Dispatcher
	log        *slog.Logger
}

// NewService creates a settings service.
func NewService(store Store, clients ClientFactory, dispatcher *events.Dispatcher, log *slog.Logger) *Service {
	return &Service{store: store, clients: clients, dispatcher: dispatcher, log: log}
}

// Get returns the tenant's settings, or an unconfigured placeholder when
// none are saved.
func (s *Service) Get(ctx context.Context, tenantID int64) (*models.Settings, error) {
	settings, err := s.store.GetSettings(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.Settings{TenantID: tenantID, Status: models.SettingsUnconfigured}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings for tenant %d: %w", tenantID, err)
	}
	return settings, nil
}

// Save validates the candidate portal URL and API key and persists them.
// Validation checks, in order: the URL parses, the key exists on the portal
// and is active, the key carries every required scope, and the key's owner
// is a portal administrator. Any failure returns a ValidationError and
// leaves the stored settings untouched.
func (s *Service) Save(ctx context.Context, tenantID, crmUserID int64, portalURL, apiKey string) (*models.Settings, error) {
	portalURL = strings.TrimRight(strings.TrimSpace(portalURL), "/")
	if err := validateURL(portalURL); err != nil {
		return nil, err
	}

	client := s.clients(portalURL, apiKey)

	keys, err := client.GetAPIKeys(ctx)
	if err != nil {
		return nil, classifyRemoteError(err)
	}
	info, ok := matchKey(keys, apiKey)
	if !ok || !info.IsActive {
		return nil, &ValidationError{Code: ErrCodeKeyInvalid, Reason: "api key not found on portal or inactive"}
	}
	if missing := missingScopes(info.Permissions); len(missing) > 0 {
		return nil, &ValidationError{
			Code:   ErrCodeMissingScopes,
			Reason: "api key lacks required permissions: " + strings.Join(missing, ", "),
		}
	}

	owner, err := client.GetMe(ctx)
	if err != nil {
		return nil, classifyRemoteError(err)
	}
	if !owner.IsAdmin {
		return nil, &ValidationError{Code: ErrCodeKeyOwnerNotAdmin, Reason: "api key owner is not a portal administrator"}
	}

	settings := &models.Settings{
		TenantID:       tenantID,
		RoomServiceURL: portalURL,
		APIKey:         &models.APIKey{Value: apiKey, OwnerID: &owner.ID, Valid: true},
		Status:         models.SettingsConfigured,
	}
	if existing, err := s.store.GetSettings(ctx, tenantID); err == nil {
		settings.SharedGroupID = existing.SharedGroupID
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load settings for tenant %d: %w", tenantID, err)
	}
	if err := s.store.PutSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("persist settings for tenant %d: %w", tenantID, err)
	}
	s.log.Info("settings saved", "tenant_id", tenantID, "portal_url", portalURL)

	s.dispatcher.PublishQuiet(ctx, events.SettingsUpdated{
		TenantID:       tenantID,
		CRMUserID:      crmUserID,
		RoomServiceURL: portalURL,
	})
	return settings, nil
}

// Clear drops the tenant's settings and announces the teardown.
func (s *Service) Clear(ctx context.Context, tenantID int64) error {
	if err := s.store.ClearSettings(ctx, tenantID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("clear settings for tenant %d: %w", tenantID, err)
	}
	s.log.Info("settings cleared", "tenant_id", tenantID)
	s.dispatcher.PublishQuiet(ctx, events.SettingsDeleted{TenantID: tenantID})
	return nil
}

func validateURL(portalURL string) error {
	u, err := url.Parse(portalURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Code: ErrCodeBadURL, Reason: "portal url must be an absolute http(s) address"}
	}
	return nil
}

// matchKey finds the listing entry for the candidate key. The listing never
// returns full secrets, so matching goes by the key's trailing characters.
func matchKey(keys []roomapi.APIKeyInfo, apiKey string) (roomapi.APIKeyInfo, bool) {
	for _, info := range keys {
		if info.KeyPostfix != "" && strings.HasSuffix(apiKey, info.KeyPostfix) {
			return info, true
		}
	}
	return roomapi.APIKeyInfo{}, false
}

func missingScopes(granted []string) []string {
	have := make(map[string]bool, len(granted))
	for _, scope := range granted {
		have[scope] = true
	}
	var missing []string
	for _, scope := range requiredScopes {
		if !have[scope] {
			missing = append(missing, scope)
		}
	}
	return missing
}

func classifyRemoteError(err error) error {
	if errors.Is(err, roomapi.ErrUnauthorized) {
		return &ValidationError{Code: ErrCodeKeyInvalid, Reason: "portal rejected the api key"}
	}
	return &ValidationError{Code: ErrCodeUnreachable, Reason: err.Error()}
}
