package dealapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomsync/roomsync/internal/dealapi"
)

func newTestClient(handler http.Handler) (*dealapi.Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return dealapi.NewClient(srv.URL, srv.Client()), srv
}

func TestGetDeal_DecodesEnvelope(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/deals/7", r.URL.Path)
		fmt.Fprint(w, `{"success":true,"data":{"id":7,"title":"Acme renewal","visible_to":"3","followers_count":2,"update_time":"2026-01-02 15:04:05"}}`)
	}))
	defer srv.Close()

	deal, err := client.GetDeal(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deal.ID)
	assert.Equal(t, "Acme renewal", deal.Title)
	assert.Equal(t, dealapi.FlexInt(3), deal.VisibleTo)
	assert.Equal(t, 2, deal.FollowersCount)
	assert.Equal(t, "2026-01-02 15:04:05", deal.UpdateTime)
}

func TestGetDeal_UnsuccessfulEnvelopeIsError(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false}`)
	}))
	defer srv.Close()

	_, err := client.GetDeal(context.Background(), 7)
	assert.Error(t, err)
}

func TestGetDeal_NotFound(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := client.GetDeal(context.Background(), 7)
	assert.ErrorIs(t, err, dealapi.ErrNotFound)
}

func TestGetCurrentUser_RejectedTokenMapsToUnauthorized(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := client.GetCurrentUser(context.Background())
	assert.ErrorIs(t, err, dealapi.ErrUnauthorized)
}

func TestGetFollowerChangeLog_WalksPagination(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/deals/7/flow", r.URL.Path)
		assert.Equal(t, "dealFollower", r.URL.Query().Get("items"))

		switch r.URL.Query().Get("start") {
		case "0":
			fmt.Fprint(w, `{"success":true,"data":[{"data":{"action":"added","follower_user_id":5,"log_time":"t1"}}],"additional_data":{"pagination":{"more_items_in_collection":true,"next_start":1}}}`)
		case "1":
			fmt.Fprint(w, `{"success":true,"data":[{"data":{"action":"removed","follower_user_id":5,"log_time":"t2"}}],"additional_data":{"pagination":{"more_items_in_collection":false}}}`)
		default:
			t.Errorf("unexpected start offset %q", r.URL.Query().Get("start"))
		}
	}))
	defer srv.Close()

	changes, err := client.GetFollowerChangeLog(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, dealapi.FollowerChange{Action: "added", FollowerUserID: 5, LogTime: "t1"}, changes[0])
	assert.Equal(t, dealapi.FollowerChange{Action: "removed", FollowerUserID: 5, LogTime: "t2"}, changes[1])
}

func TestListFollowers_WalksPagination(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("start") {
		case "0":
			fmt.Fprint(w, `{"success":true,"data":[{"user_id":5},{"user_id":6}],"additional_data":{"pagination":{"more_items_in_collection":true,"next_start":2}}}`)
		default:
			fmt.Fprint(w, `{"success":true,"data":[{"user_id":7}],"additional_data":{"pagination":{"more_items_in_collection":false}}}`)
		}
	}))
	defer srv.Close()

	followers, err := client.ListFollowers(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []dealapi.Follower{{UserID: 5}, {UserID: 6}, {UserID: 7}}, followers)
}

func TestCreateWebhookSubscription_SendsSpec(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/webhooks", r.URL.Path)

		var spec dealapi.WebhookSpec
		require.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
		assert.Equal(t, "deal", spec.EventObject)
		assert.Equal(t, "updated", spec.EventAction)

		fmt.Fprint(w, `{"success":true,"data":{"id":99}}`)
	}))
	defer srv.Close()

	sub, err := client.CreateWebhookSubscription(context.Background(), dealapi.WebhookSpec{
		SubscriptionURL: "https://sync.example.com/api/v1/webhook/deal",
		EventObject:     "deal",
		EventAction:     "updated",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), sub.ID)
}

func TestFlexInt_DecodesQuotedAndBareNumbers(t *testing.T) {
	var payload struct {
		Quoted dealapi.FlexInt `json:"quoted"`
		Bare   dealapi.FlexInt `json:"bare"`
		Null   dealapi.FlexInt `json:"null"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"quoted":"7","bare":3,"null":null}`), &payload))
	assert.Equal(t, dealapi.FlexInt(7), payload.Quoted)
	assert.Equal(t, dealapi.FlexInt(3), payload.Bare)
	assert.Equal(t, dealapi.FlexInt(0), payload.Null)
}
