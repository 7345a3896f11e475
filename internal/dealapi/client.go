package dealapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const paginationLimit = 100

// Sentinel errors for Deal Service failures.
var (
	// ErrUnauthorized means the CRM rejected the access token. The client
	// never repairs this itself; the OAuth layer owns token refresh.
	ErrUnauthorized = errors.New("deal service rejected credentials")
	ErrNotFound     = errors.New("deal service resource not found")
	ErrUnavailable  = errors.New("deal service unreachable")
)

// Client is a typed client for the Deal Service (CRM) HTTP API. The acting
// identity travels on the request context; the http.Client carries the OAuth
// transport that turns it into a bearer credential.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Deal Service client.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// envelope is the Deal Service response wrapper.
type envelope struct {
	Success        bool            `json:"success"`
	Data           json.RawMessage `json:"data"`
	AdditionalData struct {
		Pagination struct {
			MoreItemsInCollection bool `json:"more_items_in_collection"`
			NextStart             int  `json:"next_start"`
		} `json:"pagination"`
	} `json:"additional_data"`
}

// GetDeal fetches one deal by id.
func (c *Client) GetDeal(ctx context.Context, id int64) (*Deal, error) {
	var deal Deal
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/deals/%d", id), nil, nil, &deal); err != nil {
		return nil, err
	}
	return &deal, nil
}

// GetCurrentUser fetches the authenticated CRM user, including the
// permission-mode flag used for visibility sentinel resolution.
func (c *Client) GetCurrentUser(ctx context.Context) (*CurrentUser, error) {
	var user CurrentUser
	if err := c.do(ctx, http.MethodGet, "/v1/users/me", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListFollowers returns the deal's current follower list, walking pagination
// to the end.
func (c *Client) ListFollowers(ctx context.Context, dealID int64) ([]Follower, error) {
	var followers []Follower
	start := 0
	for {
		q := url.Values{
			"start": {fmt.Sprint(start)},
			"limit": {fmt.Sprint(paginationLimit)},
		}

		var page []Follower
		env, err := c.doRaw(ctx, http.MethodGet, fmt.Sprintf("/v1/deals/%d/followers", dealID), q, nil)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(env.Data, &page); err != nil {
			return nil, fmt.Errorf("decode followers: %w", err)
		}
		followers = append(followers, page...)

		if !env.AdditionalData.Pagination.MoreItemsInCollection {
			return followers, nil
		}
		start = env.AdditionalData.Pagination.NextStart
	}
}

// changeLogEntry wraps one change-log item; the interesting fields sit under
// a data key on the wire.
type changeLogEntry struct {
	Data FollowerChange `json:"data"`
}

// GetFollowerChangeLog returns the deal's cumulative follower change log,
// walking pagination to the end. The log covers the deal's entire history;
// callers correlate entries to a specific update via LogTime.
func (c *Client) GetFollowerChangeLog(ctx context.Context, dealID int64) ([]FollowerChange, error) {
	var changes []FollowerChange
	start := 0
	for {
		q := url.Values{
			"start": {fmt.Sprint(start)},
			"limit": {fmt.Sprint(paginationLimit)},
			"items": {"dealFollower"},
		}

		env, err := c.doRaw(ctx, http.MethodGet, fmt.Sprintf("/v1/deals/%d/flow", dealID), q, nil)
		if err != nil {
			return nil, err
		}
		var page []changeLogEntry
		if err := json.Unmarshal(env.Data, &page); err != nil {
			return nil, fmt.Errorf("decode follower change log: %w", err)
		}
		for _, entry := range page {
			changes = append(changes, entry.Data)
		}

		if !env.AdditionalData.Pagination.MoreItemsInCollection {
			return changes, nil
		}
		start = env.AdditionalData.Pagination.NextStart
	}
}

// CreateWebhookSubscription registers a webhook with the CRM and returns its
// remote record.
func (c *Client) CreateWebhookSubscription(ctx context.Context, spec WebhookSpec) (*WebhookSubscription, error) {
	var sub WebhookSubscription
	if err := c.do(ctx, http.MethodPost, "/v1/webhooks", nil, spec, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// DeleteWebhookSubscription removes a webhook registration. Deleting an
// already-deleted subscription maps to ErrNotFound.
func (c *Client) DeleteWebhookSubscription(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/webhooks/%d", id), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	env, err := c.doRaw(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	u := c.baseURL + path
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
		return nil, fmt.Errorf("%w: %s returned status %d", ErrUnavailable, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("deal service %s: unexpected status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", path, err)
	}
	if !env.Success {
		return nil, fmt.Errorf("deal service %s: request not successful", path)
	}
	return &env, nil
}
