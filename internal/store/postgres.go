package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roomsync/roomsync/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_name, url, installed_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.CompanyName, &t.URL, &t.InstalledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) PutTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, company_name, url, installed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET company_name = EXCLUDED.company_name, url = EXCLUDED.url`,
		tenant.ID, tenant.CompanyName, tenant.URL, tenant.InstalledAt)
	if err != nil {
		return fmt.Errorf("put tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTenant(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Settings ---

func (s *PostgresStore) GetSettings(ctx context.Context, tenantID int64) (*models.Settings, error) {
	var (
		st       models.Settings
		keyValue *string
		ownerID  *uuid.UUID
		keyValid *bool
	)
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, room_service_url, api_key_value, api_key_owner_id, api_key_valid, shared_group_id, status, updated_at
		 FROM settings WHERE tenant_id = $1`, tenantID,
	).Scan(&st.TenantID, &st.RoomServiceURL, &keyValue, &ownerID, &keyValid, &st.SharedGroupID, &st.Status, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	if keyValue != nil {
		st.APIKey = &models.APIKey{Value: *keyValue, OwnerID: ownerID}
		if keyValid != nil {
			st.APIKey.Valid = *keyValid
		}
	}
	return &st, nil
}

func (s *PostgresStore) PutSettings(ctx context.Context, settings *models.Settings) error {
	var (
		keyValue *string
		ownerID  *uuid.UUID
		keyValid *bool
	)
	if settings.APIKey != nil {
		keyValue = &settings.APIKey.Value
		ownerID = settings.APIKey.OwnerID
		keyValid = &settings.APIKey.Valid
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (tenant_id, room_service_url, api_key_value, api_key_owner_id, api_key_valid, shared_group_id, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   room_service_url = EXCLUDED.room_service_url,
		   api_key_value = EXCLUDED.api_key_value,
		   api_key_owner_id = EXCLUDED.api_key_owner_id,
		   api_key_valid = EXCLUDED.api_key_valid,
		   shared_group_id = EXCLUDED.shared_group_id,
		   status = EXCLUDED.status,
		   updated_at = NOW()`,
		settings.TenantID, settings.RoomServiceURL, keyValue, ownerID, keyValid, settings.SharedGroupID, settings.Status)
	if err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSharedGroup(ctx context.Context, tenantID int64, groupID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE settings SET shared_group_id = $2, updated_at = NOW() WHERE tenant_id = $1`,
		tenantID, groupID)
	if err != nil {
		return fmt.Errorf("save shared group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetAPIKeyValid(ctx context.Context, tenantID int64, valid bool) error {
	status := models.SettingsConfigured
	if !valid {
		status = models.SettingsInvalidKey
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE settings SET api_key_valid = $2, status = $3, updated_at = NOW() WHERE tenant_id = $1`,
		tenantID, valid, status)
	if err != nil {
		return fmt.Errorf("set api key valid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ClearSettings(ctx context.Context, tenantID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE settings SET room_service_url = '', api_key_value = NULL, api_key_owner_id = NULL,
		   api_key_valid = NULL, shared_group_id = NULL, status = $2, updated_at = NOW()
		 WHERE tenant_id = $1`,
		tenantID, models.SettingsUnconfigured)
	if err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Users ---

const userColumns = `id, tenant_id, crm_user_id, is_system_user, access_token, refresh_token, token_issued_at, token_expires_at, created_at, updated_at`

func (s *PostgresStore) scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.TenantID, &u.CRMUserID, &u.IsSystemUser, &u.AccessToken,
		&u.RefreshToken, &u.TokenIssuedAt, &u.TokenExpiresAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, tenantID, crmUserID int64) (*models.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND crm_user_id = $2`,
		tenantID, crmUserID))
}

func (s *PostgresStore) GetSystemUser(ctx context.Context, tenantID int64) (*models.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND is_system_user`, tenantID))
}

func (s *PostgresStore) PutUser(ctx context.Context, user *models.User) (*models.User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (tenant_id, crm_user_id, is_system_user, access_token, refresh_token, token_issued_at, token_expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		 ON CONFLICT (tenant_id, crm_user_id) DO UPDATE SET
		   is_system_user = EXCLUDED.is_system_user,
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   token_issued_at = EXCLUDED.token_issued_at,
		   token_expires_at = EXCLUDED.token_expires_at,
		   updated_at = NOW()
		 RETURNING `+userColumns,
		user.TenantID, user.CRMUserID, user.IsSystemUser, user.AccessToken,
		user.RefreshToken, user.TokenIssuedAt, user.TokenExpiresAt)
	return s.scanUser(row)
}

func (s *PostgresStore) SaveOAuthToken(ctx context.Context, tenantID, crmUserID int64, access, refresh string, issuedAt, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET access_token = $3, refresh_token = $4, token_issued_at = $5, token_expires_at = $6, updated_at = NOW()
		 WHERE tenant_id = $1 AND crm_user_id = $2`,
		tenantID, crmUserID, access, refresh, issuedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("save oauth token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UnsetSystemUser(ctx context.Context, tenantID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET is_system_user = FALSE, updated_at = NOW() WHERE tenant_id = $1 AND is_system_user`,
		tenantID)
	if err != nil {
		return fmt.Errorf("unset system user: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, tenantID, crmUserID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM users WHERE tenant_id = $1 AND crm_user_id = $2`, tenantID, crmUserID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, tenantID int64) ([]*models.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Accounts ---

const accountColumns = `a.user_id, u.tenant_id, u.crm_user_id, a.account_id, a.email, a.password_hash, a.created_at`

func (s *PostgresStore) scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.UserID, &a.TenantID, &a.CRMUserID, &a.AccountID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, tenantID, crmUserID int64) (*models.Account, error) {
	return s.scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts a JOIN users u ON u.id = a.user_id
		 WHERE u.tenant_id = $1 AND u.crm_user_id = $2`,
		tenantID, crmUserID))
}

func (s *PostgresStore) SaveAccount(ctx context.Context, account *models.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, account_id, email, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		   account_id = EXCLUDED.account_id,
		   email = EXCLUDED.email,
		   password_hash = EXCLUDED.password_hash`,
		account.UserID, account.AccountID, account.Email, account.PasswordHash)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, tenantID, crmUserID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM accounts a USING users u
		 WHERE u.id = a.user_id AND u.tenant_id = $1 AND u.crm_user_id = $2`,
		tenantID, crmUserID)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAllAccounts(ctx context.Context, tenantID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM accounts a USING users u WHERE u.id = a.user_id AND u.tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("delete all accounts: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, tenantID int64) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts a JOIN users u ON u.id = a.user_id
		 WHERE u.tenant_id = $1 ORDER BY a.user_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// --- Rooms ---

func (s *PostgresStore) GetRoomByDeal(ctx context.Context, tenantID, dealID int64) (*models.Room, error) {
	var r models.Room
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, deal_id, room_id, created_at FROM rooms WHERE tenant_id = $1 AND deal_id = $2`,
		tenantID, dealID,
	).Scan(&r.TenantID, &r.DealID, &r.RoomID, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room by deal: %w", err)
	}
	return &r, nil
}

// CreateRoom links a room to a deal. A deal that is already linked returns
// ErrDuplicateKey; callers use this to resolve concurrent provisioning.
func (s *PostgresStore) CreateRoom(ctx context.Context, room *models.Room) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (tenant_id, deal_id, room_id, created_at) VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (tenant_id, deal_id) DO NOTHING`,
		room.TenantID, room.DealID, room.RoomID)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateKey
	}
	return nil
}

func (s *PostgresStore) DeleteRoomsByTenant(ctx context.Context, tenantID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("delete rooms by tenant: %w", err)
	}
	return nil
}

// --- Webhooks ---

func (s *PostgresStore) GetWebhookOwner(ctx context.Context, id uuid.UUID) (*models.Webhook, *models.User, error) {
	var (
		w models.Webhook
		u models.User
	)
	err := s.pool.QueryRow(ctx,
		`SELECT w.id, w.user_id, w.external_id, w.event_name, w.password_hash, w.created_at,
		        u.id, u.tenant_id, u.crm_user_id, u.is_system_user, u.access_token, u.refresh_token,
		        u.token_issued_at, u.token_expires_at, u.created_at, u.updated_at
		 FROM webhooks w JOIN users u ON u.id = w.user_id WHERE w.id = $1`, id,
	).Scan(&w.ID, &w.UserID, &w.ExternalID, &w.EventName, &w.PasswordHash, &w.CreatedAt,
		&u.ID, &u.TenantID, &u.CRMUserID, &u.IsSystemUser, &u.AccessToken, &u.RefreshToken,
		&u.TokenIssuedAt, &u.TokenExpiresAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get webhook owner: %w", err)
	}
	return &w, &u, nil
}

func (s *PostgresStore) SaveWebhook(ctx context.Context, webhook *models.Webhook) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhooks (id, user_id, external_id, event_name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (id) DO UPDATE SET external_id = EXCLUDED.external_id`,
		webhook.ID, webhook.UserID, webhook.ExternalID, webhook.EventName, webhook.PasswordHash)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("save webhook: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWebhooksForUser(ctx context.Context, userID int64) ([]*models.Webhook, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, external_id, event_name, password_hash, created_at
		 FROM webhooks WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		var w models.Webhook
		if err := rows.Scan(&w.ID, &w.UserID, &w.ExternalID, &w.EventName, &w.PasswordHash, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, &w)
	}
	return webhooks, rows.Err()
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
