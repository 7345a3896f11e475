package roomapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const paginationCount = 100

// Sentinel errors for Room Service failures.
var (
	ErrUnauthorized  = errors.New("room service rejected credentials")
	ErrGroupNotFound = errors.New("room service group not found")
	ErrNotFound      = errors.New("room service resource not found")
	ErrUnavailable   = errors.New("room service unreachable")
)

// BaseURLFunc resolves the portal base URL for the call. The portal address
// is tenant configuration, so the resolver typically reads the acting
// identity from ctx and loads the tenant's settings.
type BaseURLFunc func(ctx context.Context) (string, error)

// StaticBaseURL returns a BaseURLFunc that always yields base. Used by the
// settings validator, which targets a URL that is not persisted yet.
func StaticBaseURL(base string) BaseURLFunc {
	return func(context.Context) (string, error) { return base, nil }
}

// Client is a typed client for the Room Service HTTP API. Authentication is
// the transport's concern: the http.Client carries a session or API-key
// RoundTripper, and the acting identity travels on the request context.
type Client struct {
	http    *http.Client
	baseURL BaseURLFunc
}

// NewClient creates a Room Service client.
func NewClient(httpClient *http.Client, baseURL BaseURLFunc) *Client {
	return &Client{http: httpClient, baseURL: baseURL}
}

// envelope is the Room Service response wrapper.
type envelope struct {
	Response json.RawMessage `json:"response"`
	Total    int             `json:"total"`
}

type loginRequest struct {
	UserName     string `json:"userName"`
	PasswordHash string `json:"passwordHash"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login performs the credential exchange and returns a session token. It is
// a package function taking a bare http.Client because it must never run
// through an authenticated transport.
func Login(ctx context.Context, httpClient *http.Client, portalURL, username, passwordHash string) (string, error) {
	body, err := json.Marshal(loginRequest{UserName: username, PasswordHash: passwordHash})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(portalURL, "/")+"/api/2.0/authentication", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError(resp.StatusCode, "authentication")
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	var lr loginResponse
	if err := json.Unmarshal(env.Response, &lr); err != nil {
		return "", fmt.Errorf("decode login token: %w", err)
	}
	if lr.Token == "" {
		return "", fmt.Errorf("login response missing token")
	}
	return lr.Token, nil
}

// GetMe returns the profile of the authenticated account.
func (c *Client) GetMe(ctx context.Context) (*Account, error) {
	var acc Account
	if err := c.do(ctx, http.MethodGet, "/api/2.0/people/@self", nil, nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetUserByEmail looks up an account by email.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*Account, error) {
	q := url.Values{"email": {email}}
	var acc Account
	if err := c.do(ctx, http.MethodGet, "/api/2.0/people/email", q, nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetAPIKeys lists the tenant's API keys. The authenticated key itself must
// carry enough scope to read the listing.
func (c *Client) GetAPIKeys(ctx context.Context) ([]APIKeyInfo, error) {
	var keys []APIKeyInfo
	if err := c.do(ctx, http.MethodGet, "/api/2.0/keys", nil, nil, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// CreateRoom creates a workspace of the given type.
func (c *Client) CreateRoom(ctx context.Context, title string, roomType int) (*Room, error) {
	body := map[string]any{"title": title, "roomType": roomType}
	var room Room
	if err := c.do(ctx, http.MethodPost, "/api/2.0/files/rooms", nil, body, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateGroup creates a member group with the given owner and members.
func (c *Client) CreateGroup(ctx context.Context, name string, owner uuid.UUID, members []uuid.UUID) (*Group, error) {
	body := map[string]any{"groupName": name, "groupManager": owner, "members": members}
	var group Group
	if err := c.do(ctx, http.MethodPost, "/api/2.0/group", nil, body, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// UpdateGroup applies a partial mutation to a group. Adding a member that is
// already present is a no-op on the remote side, which callers rely on as a
// liveness check. A 404 maps to ErrGroupNotFound so callers can run the
// repair path.
func (c *Client) UpdateGroup(ctx context.Context, id uuid.UUID, update GroupUpdate) (*Group, error) {
	body := map[string]any{}
	if update.Name != "" {
		body["groupName"] = update.Name
	}
	if update.Manager != nil {
		body["groupManager"] = *update.Manager
	}
	if update.AddMembers != nil {
		body["membersToAdd"] = update.AddMembers
	}
	if update.RemoveMembers != nil {
		body["membersToRemove"] = update.RemoveMembers
	}

	var group Group
	err := c.do(ctx, http.MethodPut, "/api/2.0/group/"+id.String(), nil, body, &group)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

type inviteRequest struct {
	Invitations []Invitation `json:"invitations"`
	Notify      bool         `json:"notify"`
	Message     string       `json:"message,omitempty"`
}

// BulkInvite shares a room with the given invitations in one request.
// Inviting an account that already has access is a no-op on the remote side.
func (c *Client) BulkInvite(ctx context.Context, roomID int64, invitations []Invitation, notify bool, message string) error {
	body := inviteRequest{Invitations: invitations, Notify: notify, Message: message}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/2.0/files/rooms/%d/share", roomID), nil, body, nil)
}

// BulkRemove revokes room access for the given accounts or groups in one
// request. Removing a non-member is a no-op on the remote side.
func (c *Client) BulkRemove(ctx context.Context, roomID int64, ids []uuid.UUID) error {
	invitations := make([]Invitation, 0, len(ids))
	for _, id := range ids {
		invitations = append(invitations, Invitation{ID: id, Access: AccessNone})
	}
	body := inviteRequest{Invitations: invitations, Notify: false}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/2.0/files/rooms/%d/share", roomID), nil, body, nil)
}

// ListUnpaidAccounts returns the ids of every account on the unpaid "basic"
// tier, walking the paginated people filter to the end.
func (c *Client) ListUnpaidAccounts(ctx context.Context) ([]uuid.UUID, error) {
	const unpaidEmployeeType = 2

	var ids []uuid.UUID
	startIndex := 0
	for {
		q := url.Values{
			"employeeType": {fmt.Sprint(unpaidEmployeeType)},
			"startIndex":   {fmt.Sprint(startIndex)},
			"count":        {fmt.Sprint(paginationCount)},
		}

		var page []Account
		total, err := c.doPaged(ctx, "/api/2.0/people/simple/filter", q, &page)
		if err != nil {
			return nil, err
		}
		for _, acc := range page {
			ids = append(ids, acc.ID)
		}

		startIndex += paginationCount
		if total <= startIndex {
			return ids, nil
		}
	}
}

// AddCSPDomains allow-lists the given domains in the portal's content
// security policy so the integration frontend can embed it.
func (c *Client) AddCSPDomains(ctx context.Context, domains []string) error {
	body := map[string]any{"domains": domains, "setDefaultIfEmpty": true}
	return c.do(ctx, http.MethodPost, "/api/2.0/security/csp", nil, body, nil)
}

// do issues one request and decodes the envelope's response field into out
// (when out is non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	env, err := c.doRaw(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(env.Response, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// doPaged decodes a paginated listing and returns the remote total.
func (c *Client) doPaged(ctx context.Context, path string, query url.Values, out any) (int, error) {
	env, err := c.doRaw(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return 0, fmt.Errorf("decode %s response: %w", path, err)
	}
	return env.Total, nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	base, err := c.baseURL(ctx)
	if err != nil {
		return nil, err
	}

	u := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, statusError(resp.StatusCode, path)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("room service %s: unexpected status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", path, err)
	}
	return &env, nil
}

func statusError(status int, path string) error {
	return fmt.Errorf("%w: %s returned status %d", ErrUnavailable, path, status)
}
