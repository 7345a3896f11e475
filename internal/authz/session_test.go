package authz_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomsync/roomsync/internal/authz"
	"github.com/roomsync/roomsync/internal/roomapi"
	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/pkg/models"
)

type fakeAccountSource struct {
	system  *models.User
	account *models.Account
	deleted bool
}

func (f *fakeAccountSource) GetSystemUser(ctx context.Context, tenantID int64) (*models.User, error) {
	if f.system == nil {
		return nil, store.ErrNotFound
	}
	return f.system, nil
}

func (f *fakeAccountSource) GetAccount(ctx context.Context, tenantID, crmUserID int64) (*models.Account, error) {
	if f.account == nil || f.account.CRMUserID != crmUserID {
		return nil, store.ErrNotFound
	}
	return f.account, nil
}

func (f *fakeAccountSource) DeleteAccount(ctx context.Context, tenantID, crmUserID int64) error {
	f.deleted = true
	f.account = nil
	return nil
}

type memoryCache struct {
	tokens map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{tokens: make(map[string]string)}
}

func (c *memoryCache) key(tenantID, crmUserID int64) string {
	return fmt.Sprintf("%d:%d", tenantID, crmUserID)
}

func (c *memoryCache) GetSessionToken(ctx context.Context, tenantID, crmUserID int64) (string, bool, error) {
	tok, ok := c.tokens[c.key(tenantID, crmUserID)]
	return tok, ok, nil
}

func (c *memoryCache) SetSessionToken(ctx context.Context, tenantID, crmUserID int64, token string, ttl time.Duration) error {
	c.tokens[c.key(tenantID, crmUserID)] = token
	return nil
}

func (c *memoryCache) DeleteSessionToken(ctx context.Context, tenantID, crmUserID int64) error {
	delete(c.tokens, c.key(tenantID, crmUserID))
	return nil
}

func (c *memoryCache) Ping(ctx context.Context) error { return nil }
func (c *memoryCache) Close() error                   { return nil }

// scriptedTransport replays a fixed status sequence and records the
// Authorization header of each attempt.
type scriptedTransport struct {
	statuses []int
	headers  []string
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.headers = append(s.headers, req.Header.Get("Authorization"))
	status := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("{}")),
		Request:    req,
	}, nil
}

func sessionFixture(t *testing.T, statuses ...int) (*authz.SessionTransport, *fakeAccountSource, *memoryCache, *scriptedTransport, *int) {
	t.Helper()
	accounts := &fakeAccountSource{
		account: &models.Account{UserID: 1, TenantID: 100, CRMUserID: 7, Email: "admin@acme.com", PasswordHash: "hash"},
	}
	c := newMemoryCache()
	base := &scriptedTransport{statuses: statuses}
	logins := 0
	tr := authz.NewSessionTransport(accounts, c, time.Hour, base, slog.Default()).
		WithLogin(func(ctx context.Context, httpClient *http.Client, portalURL, username, passwordHash string) (string, error) {
			logins++
			return "fresh-token", nil
		})
	return tr, accounts, c, base, &logins
}

func sessionRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://portal.example.com/api/2.0/people/@self", nil)
	require.NoError(t, err)
	ctx := authz.WithIdentity(context.Background(), authz.Identity{TenantID: 100, CRMUserID: 7})
	return req.WithContext(ctx)
}

func TestSessionTransport_CachedTokenSkipsLogin(t *testing.T) {
	tr, _, c, base, logins := sessionFixture(t, http.StatusOK)
	require.NoError(t, c.SetSessionToken(context.Background(), 100, 7, "cached-token", time.Hour))

	resp, err := tr.RoundTrip(sessionRequest(t))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, *logins)
	assert.Equal(t, []string{"cached-token"}, base.headers)
}

func TestSessionTransport_CacheMissPerformsLogin(t *testing.T) {
	tr, _, c, base, logins := sessionFixture(t, http.StatusOK)

	resp, err := tr.RoundTrip(sessionRequest(t))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, *logins)
	assert.Equal(t, []string{"fresh-token"}, base.headers)

	tok, ok, _ := c.GetSessionToken(context.Background(), 100, 7)
	assert.True(t, ok)
	assert.Equal(t, "fresh-token", tok)
}

func TestSessionTransport_RejectedTokenRetriedOnceWithNewLogin(t *testing.T) {
	tr, _, c, base, logins := sessionFixture(t, http.StatusUnauthorized, http.StatusOK)
	require.NoError(t, c.SetSessionToken(context.Background(), 100, 7, "stale-token", time.Hour))

	resp, err := tr.RoundTrip(sessionRequest(t))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, *logins)
	assert.Equal(t, []string{"stale-token", "fresh-token"}, base.headers)
}

func TestSessionTransport_SecondRejectionSurfaces(t *testing.T) {
	tr, _, c, base, logins := sessionFixture(t, http.StatusUnauthorized, http.StatusUnauthorized)
	require.NoError(t, c.SetSessionToken(context.Background(), 100, 7, "stale-token", time.Hour))

	resp, err := tr.RoundTrip(sessionRequest(t))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	// One re-login, two attempts total, never a third.
	assert.Equal(t, 1, *logins)
	assert.Len(t, base.headers, 2)
}

func TestSessionTransport_RejectedReloginUnlinksAccount(t *testing.T) {
	tr, accounts, c, base, _ := sessionFixture(t, http.StatusUnauthorized)
	require.NoError(t, c.SetSessionToken(context.Background(), 100, 7, "stale-token", time.Hour))
	tr.WithLogin(func(ctx context.Context, httpClient *http.Client, portalURL, username, passwordHash string) (string, error) {
		return "", roomapi.ErrUnauthorized
	})

	resp, err := tr.RoundTrip(sessionRequest(t))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, accounts.deleted)
	assert.Len(t, base.headers, 1)
}

func TestSessionTransport_NoAccountLinked(t *testing.T) {
	tr, accounts, _, _, logins := sessionFixture(t, http.StatusOK)
	accounts.account = nil

	_, err := tr.RoundTrip(sessionRequest(t))
	assert.ErrorIs(t, err, authz.ErrNoAccount)
	assert.Zero(t, *logins)
}

func TestSessionTransport_SystemIdentityResolvesSystemUser(t *testing.T) {
	tr, accounts, _, base, _ := sessionFixture(t, http.StatusOK)
	accounts.system = &models.User{ID: 1, TenantID: 100, CRMUserID: 7, IsSystemUser: true}

	req, err := http.NewRequest(http.MethodGet, "https://portal.example.com/api/2.0/people/@self", nil)
	require.NoError(t, err)
	ctx := authz.WithIdentity(context.Background(), authz.System(100))

	resp, rerr := tr.RoundTrip(req.WithContext(ctx))
	require.NoError(t, rerr)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"fresh-token"}, base.headers)
}

func TestSessionTransport_MissingIdentityFails(t *testing.T) {
	tr, _, _, _, _ := sessionFixture(t, http.StatusOK)
	req, err := http.NewRequest(http.MethodGet, "https://portal.example.com/api/2.0/people/@self", nil)
	require.NoError(t, err)

	_, rerr := tr.RoundTrip(req)
	assert.Error(t, rerr)
}
