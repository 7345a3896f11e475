package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("roomsync_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func seedTenant(t *testing.T, s store.Store, id int64) {
	t.Helper()
	err := s.PutTenant(context.Background(), &models.Tenant{
		ID:          id,
		CompanyName: "Acme",
		URL:         "https://acme.example.com",
		InstalledAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedUser(t *testing.T, s store.Store, tenantID, crmUserID int64, system bool) *models.User {
	t.Helper()
	user, err := s.PutUser(context.Background(), &models.User{
		TenantID:       tenantID,
		CRMUserID:      crmUserID,
		IsSystemUser:   system,
		AccessToken:    "access",
		RefreshToken:   "refresh",
		TokenIssuedAt:  time.Now().UTC(),
		TokenExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	return user
}

// --- Tenant tests ---

func TestTenant_PutGetDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedTenant(t, s, 100)

	tenant, err := s.GetTenant(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "Acme", tenant.CompanyName)
	assert.Equal(t, "https://acme.example.com", tenant.URL)

	// Upsert keeps the row, updates mutable fields
	err = s.PutTenant(ctx, &models.Tenant{ID: 100, CompanyName: "Acme Inc", URL: "https://acme.example.com"})
	require.NoError(t, err)
	tenant, err = s.GetTenant(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", tenant.CompanyName)

	require.NoError(t, s.DeleteTenant(ctx, 100))
	_, err = s.GetTenant(ctx, 100)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTenant_DeleteCascades(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedTenant(t, s, 100)
	user := seedUser(t, s, 100, 7, true)
	require.NoError(t, s.PutSettings(ctx, &models.Settings{
		TenantID: 100, RoomServiceURL: "https://portal.example.com", Status: models.SettingsConfigured,
	}))
	require.NoError(t, s.SaveAccount(ctx, &models.Account{
		UserID: user.ID, AccountID: uuid.New(), Email: "admin@acme.com", PasswordHash: "hash",
	}))
	require.NoError(t, s.CreateRoom(ctx, &models.Room{TenantID: 100, DealID: 1, RoomID: 55}))
	require.NoError(t, s.SaveWebhook(ctx, &models.Webhook{
		ID: uuid.New(), UserID: user.ID, EventName: "deal.updated", PasswordHash: "bcrypt",
	}))

	require.NoError(t, s.DeleteTenant(ctx, 100))

	_, err := s.GetSettings(ctx, 100)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUser(ctx, 100, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetAccount(ctx, 100, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetRoomByDeal(ctx, 100, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Settings tests ---

func TestSettings_PutGetClear(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedTenant(t, s, 100)
	owner := uuid.New()
	err := s.PutSettings(ctx, &models.Settings{
		TenantID:       100,
		RoomServiceURL: "https://portal.example.com",
		APIKey:         &models.APIKey{Value: "sk_live_abc", OwnerID: &owner, Valid: true},
		Status:         models.SettingsConfigured,
	})
	require.NoError(t, err)

	settings, err := s.GetSettings(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example.com", settings.RoomServiceURL)
	require.NotNil(t, settings.APIKey)
	assert.Equal(t, "sk_live_abc", settings.APIKey.Value)
	assert.True(t, settings.APIKey.Valid)
	assert.Equal(t, owner, *settings.APIKey.OwnerID)
	assert.Nil(t, settings.SharedGroupID)

	groupID := uuid.New()
	require.NoError(t, s.SaveSharedGroup(ctx, 100, groupID))
	settings, err = s.GetSettings(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, settings.SharedGroupID)
	assert.Equal(t, groupID, *settings.SharedGroupID)

	require.NoError(t, s.ClearSettings(ctx, 100))
	settings, err = s.GetSettings(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, settings.RoomServiceURL)
	assert.Nil(t, settings.APIKey)
	assert.Nil(t, settings.SharedGroupID)
	assert.Equal(t, models.SettingsUnconfigured, settings.Status)
}

func TestSettings_SetAPIKeyValid(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedTenant(t, s, 100)
	require.NoError(t, s.PutSettings(ctx, &models.Settings{
		TenantID:       100,
		RoomServiceURL: "https://portal.example.com",
		APIKey:         &models.APIKey{Value: "sk_live_abc", Valid: true},
		Status:         models.SettingsConfigured,
	}))

	require.NoError(t, s.SetAPIKeyValid(ctx, 100, false))
	settings, err := s.GetSettings(ctx, 100)
	require.NoError(t, err)
	assert.False(t, settings.APIKey.Valid)
	assert.Equal(t, models.SettingsInvalidKey, settings.Status)

	require.NoError(t, s.SetAPIKeyValid(ctx, 100, true))
	settings, err = s.GetSettings(ctx, 100)
	require.NoError(t, err)
	assert.True(t, settings.APIKey.Valid)
	assert.Equal(t, models.SettingsConfigured, settings.Status)
}

// --- User tests ---

func TestUser_SystemUserIsExclusive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedTenant(t, s, 100)
	seedUser(t, s, 100, 1, true)

	system, err := s.GetSystemUser(ctx, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 1, system.CRMUserID)

	// Promoting a second user requires unsetting the first
	require.NoError(t, s.UnsetSystemUser(ctx, 100))
	seedUser(t, s, 100, 2, true)

	system, err = s.GetSystemUser(ctx, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 2, system.CRMUserID)

	first, err := s.GetUser(ctx, 100, 1)
	require.NoError(t, err)
	assert.False(t, first.IsSystemUser)
}

func TestUser_SaveOAuthToken(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedTenant(t, s, 100)
	seedUser(t, s, 100, 7, false)

	issued := time.Now().UTC().Truncate(time.Microsecond)
	expires := issued.Add(time.Hour)
	require.NoError(t, s.SaveOAuthToken(ctx, 100, 7, "new-access", "new-refresh", issued, expires))

	user, err := s.GetUser(ctx, 100, 7)
	require.NoError(t, err)
	assert.Equal(t, "new-access", user.AccessToken)
	assert.Equal(t, "new-refresh", user.RefreshToken)
	assert.WithinDuration(t, expires, user.TokenExpiresAt, time.Millisecond)

	err = s.SaveOAuthToken(ctx, 100, 999, "x", "y", issued, expires)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Account tests ---

func TestAccount_SaveGetDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedTenant(t, s, 100)
	user := seedUser(t, s, 100, 7, false)

	accountID := uuid.New()
	require.NoError(t, s.SaveAccount(ctx, &models.Account{
		UserID: user.ID, AccountID: accountID, Email: "jo@acme.com", PasswordHash: "clienthash",
	}))

	acc, err := s.GetAccount(ctx, 100, 7)
	require.NoError(t, err)
	assert.Equal(t, accountID, acc.AccountID)
	assert.Equal(t, "jo@acme.com", acc.Email)
	assert.EqualValues(t, 100, acc.TenantID)
	assert.EqualValues(t, 7, acc.CRMUserID)

	// Re-link replaces credentials
	newAccountID := uuid.New()
	require.NoError(t, s.SaveAccount(ctx, &models.Account{
		UserID: user.ID, AccountID: newAccountID, Email: "jo@acme.com", PasswordHash: "newhash",
	}))
	acc, err = s.GetAccount(ctx, 100, 7)
	require.NoError(t, err)
	assert.Equal(t, newAccountID, acc.AccountID)
	assert.Equal(t, "newhash", acc.PasswordHash)

	require.NoError(t, s.DeleteAccount(ctx, 100, 7))
	_, err = s.GetAccount(ctx, 100, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccount_SaveWithoutUser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.SaveAccount(context.Background(), &models.Account{
		UserID: 424242, AccountID: uuid.New(), Email: "ghost@acme.com", PasswordHash: "hash",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Room tests ---

func TestRoom_CreateIsExclusivePerDeal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedTenant(t, s, 100)
	require.NoError(t, s.CreateRoom(ctx, &models.Room{TenantID: 100, DealID: 1, RoomID: 55}))

	err := s.CreateRoom(ctx, &models.Room{TenantID: 100, DealID: 1, RoomID: 66})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	room, err := s.GetRoomByDeal(ctx, 100, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 55, room.RoomID)
}

// --- Webhook tests ---

func TestWebhook_SaveAndOwner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedTenant(t, s, 100)
	user := seedUser(t, s, 100, 7, true)

	hook := &models.Webhook{
		ID:           uuid.New(),
		UserID:       user.ID,
		EventName:    "deal.updated",
		PasswordHash: "bcrypt-hash",
	}
	require.NoError(t, s.SaveWebhook(ctx, hook))

	// Record the external id after remote registration
	hook.ExternalID = 9001
	require.NoError(t, s.SaveWebhook(ctx, hook))

	got, owner, err := s.GetWebhookOwner(ctx, hook.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 9001, got.ExternalID)
	assert.Equal(t, "deal.updated", got.EventName)
	assert.EqualValues(t, 7, owner.CRMUserID)
	assert.True(t, owner.IsSystemUser)

	hooks, err := s.ListWebhooksForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, hooks, 1)

	require.NoError(t, s.DeleteWebhook(ctx, hook.ID))
	_, _, err = s.GetWebhookOwner(ctx, hook.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
