package roomapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomsync/roomsync/internal/roomapi"
)

func newTestClient(handler http.Handler) (*roomapi.Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return roomapi.NewClient(srv.Client(), roomapi.StaticBaseURL(srv.URL)), srv
}

func respond(w http.ResponseWriter, response any) {
	json.NewEncoder(w).Encode(map[string]any{"response": response})
}

func TestLogin_ExtractsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/2.0/authentication", r.URL.Path)

		var body struct {
			UserName     string `json:"userName"`
			PasswordHash string `json:"passwordHash"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "admin@acme.com", body.UserName)
		assert.Equal(t, "deadbeef", body.PasswordHash)

		respond(w, map[string]string{"token": "session-token"})
	}))
	defer srv.Close()

	token, err := roomapi.Login(context.Background(), srv.Client(), srv.URL, "admin@acme.com", "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "session-token", token)
}

func TestLogin_RejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := roomapi.Login(context.Background(), srv.Client(), srv.URL, "admin@acme.com", "wrong")
	assert.ErrorIs(t, err, roomapi.ErrUnauthorized)
}

func TestGetMe_DecodesProfile(t *testing.T) {
	id := uuid.New()
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/2.0/people/@self", r.URL.Path)
		respond(w, map[string]any{"id": id, "email": "admin@acme.com", "isAdmin": true})
	}))
	defer srv.Close()

	me, err := client.GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, me.ID)
	assert.True(t, me.IsAdmin)
}

func TestGetUserByEmail_QueriesByEmail(t *testing.T) {
	id := uuid.New()
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/2.0/people/email", r.URL.Path)
		assert.Equal(t, "user@acme.com", r.URL.Query().Get("email"))
		respond(w, map[string]any{"id": id, "email": "user@acme.com"})
	}))
	defer srv.Close()

	acc, err := client.GetUserByEmail(context.Background(), "user@acme.com")
	require.NoError(t, err)
	assert.Equal(t, id, acc.ID)
	assert.Equal(t, "user@acme.com", acc.Email)
}

func TestListUnpaidAccounts_WalksPagination(t *testing.T) {
	// 150 unpaid accounts across two pages of 100.
	ids := make([]uuid.UUID, 150)
	for i := range ids {
		ids[i] = uuid.New()
	}

	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/2.0/people/simple/filter", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("employeeType"))

		start := 0
		fmt.Sscan(r.URL.Query().Get("startIndex"), &start)
		end := start + 100
		if end > len(ids) {
			end = len(ids)
		}

		page := make([]map[string]any, 0, end-start)
		for _, id := range ids[start:end] {
			page = append(page, map[string]any{"id": id})
		}
		json.NewEncoder(w).Encode(map[string]any{"response": page, "total": len(ids)})
	}))
	defer srv.Close()

	got, err := client.ListUnpaidAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ids, got)
}

func TestUpdateGroup_MissingGroupMapsToSentinel(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := client.UpdateGroup(context.Background(), uuid.New(), roomapi.GroupUpdate{Name: "renamed"})
	assert.ErrorIs(t, err, roomapi.ErrGroupNotFound)
}

func TestUpdateGroup_OmitsUnsetFields(t *testing.T) {
	member := uuid.New()
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "membersToAdd")
		assert.NotContains(t, body, "groupName")
		assert.NotContains(t, body, "groupManager")
		assert.NotContains(t, body, "membersToRemove")
		respond(w, map[string]any{"id": uuid.New()})
	}))
	defer srv.Close()

	_, err := client.UpdateGroup(context.Background(), uuid.New(), roomapi.GroupUpdate{AddMembers: []uuid.UUID{member}})
	require.NoError(t, err)
}

func TestBulkRemove_SendsRevokingInvitations(t *testing.T) {
	target := uuid.New()
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/2.0/files/rooms/55/share", r.URL.Path)

		var body struct {
			Invitations []roomapi.Invitation `json:"invitations"`
			Notify      bool                 `json:"notify"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Invitations, 1)
		assert.Equal(t, target, body.Invitations[0].ID)
		assert.Equal(t, roomapi.AccessNone, body.Invitations[0].Access)
		assert.False(t, body.Notify)

		respond(w, map[string]any{})
	}))
	defer srv.Close()

	require.NoError(t, client.BulkRemove(context.Background(), 55, []uuid.UUID{target}))
}

func TestDo_ServerErrorMapsToUnavailable(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := client.GetMe(context.Background())
	assert.ErrorIs(t, err, roomapi.ErrUnavailable)
}
