package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wex-mcp-api/internal/friends"
	"wex-mcp-api/internal/model"
	"wex-mcp-api/internal/repository"
	"wex-mcp-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	t        *testing.T
	store    *repository.MemoryStore
	docs     *service.DocumentStore
	registry *service.Registry
	router   chi.Router
}

func newTestEnv(t *testing.T, accountIDs ...string) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	for _, id := range accountIDs {
		require.NoError(t, store.CreateAccount(ctx, &model.Account{ID: id, DisplayName: "player-" + id}))
	}
	docs := service.NewDocumentStore(store)
	registry := service.NewRegistry(docs, nil)
	svc := friends.NewService(registry, store, store, friends.Options{Rand: rand.New(rand.NewSource(1))})

	ph := NewProfileHandler(registry, svc, store)
	fh := NewFriendsHandler(registry, svc, store)
	ah := NewAdminHandler(AdminConfig{Registry: registry, Store: store, Accounts: store, StoreType: "memory"})

	r := chi.NewRouter()
	r.Post("/wex/api/game/v2/profile/{accountId}/{command}", ph.Execute)
	r.Route("/friends/api/v1/{accountId}", func(r chi.Router) {
		r.Get("/summary", fh.Summary)
		r.Get("/friends", fh.List("friends"))
		r.Post("/friends/{friendId}", fh.SendRequest)
		r.Delete("/friends/{friendId}", fh.RemoveFriend)
		r.Get("/incoming", fh.List("incoming"))
		r.Post("/incoming/accept", fh.AcceptBulk)
		r.Post("/blocklist/{friendId}", fh.Block)
		r.Delete("/blocklist/{friendId}", fh.Unblock)
		r.Put("/settings", fh.UpdateSettings)
	})
	r.Get("/friends/api/public/friends/{accountId}", fh.LegacySummary)
	r.Get("/admin/stats", ah.GetStats)
	r.Get("/admin/accounts", ah.SearchAccounts)
	r.Post("/admin/accounts", ah.CreateAccount)

	return &testEnv{t: t, store: store, docs: docs, registry: registry, router: r}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func accountIDs(list []interface{}) []string {
	out := []string{}
	for _, entry := range list {
		out = append(out, entry.(map[string]interface{})["accountId"].(string))
	}
	return out
}

func (e *testEnv) summary(accountID string) map[string]interface{} {
	e.t.Helper()
	rec := e.do(http.MethodGet, "/friends/api/v1/"+accountID+"/summary", "")
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(e.t, rec)
}

func TestQueryProfile(t *testing.T) {
	env := newTestEnv(t, "a")

	rec := env.do(http.MethodPost, "/wex/api/game/v2/profile/a/QueryProfile?profileId=friends", "{}")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, mcpVersion, rec.Header().Get("X-EpicGames-McpVersion"))

	body := decode(t, rec)
	assert.Equal(t, "friends", body["profileId"])
	assert.EqualValues(t, 1, body["profileRevision"])
	assert.EqualValues(t, 1, body["responseVersion"])
	changes := body["profileChanges"].([]interface{})
	require.Len(t, changes, 1)
	assert.Equal(t, "fullProfileUpdate", changes[0].(map[string]interface{})["changeType"])

	rec = env.do(http.MethodPost, "/wex/api/game/v2/profile/a/QueryProfile?profileId=friends&rvn=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Empty(t, body["profileChanges"])
	assert.EqualValues(t, 1, body["profileRevision"])
}

func TestProfileCommandErrors(t *testing.T) {
	env := newTestEnv(t, "a")

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"unknown command", "/wex/api/game/v2/profile/a/DoTheThing", http.StatusNotFound, "errors.com.epicgames.modules.profile.operation_not_found"},
		{"unknown profile", "/wex/api/game/v2/profile/a/QueryProfile?profileId=bogus", http.StatusBadRequest, "errors.com.epicgames.modules.profile.invalid_profile_id_param"},
		{"unknown account", "/wex/api/game/v2/profile/nobody/QueryProfile", http.StatusNotFound, "errors.com.epicgames.account.account_not_found"},
		{"missing friend id", "/wex/api/game/v2/profile/a/AddEpicFriend", http.StatusBadRequest, "errors.com.epicgames.validation.validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, tt.path, "{}")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec)["errorCode"])
			assert.NotEmpty(t, rec.Header().Get("X-Epic-Error-Code"))
		})
	}
}

func TestMarkItemSeen(t *testing.T) {
	env := newTestEnv(t, "a")
	doc := &model.Profile{
		ID:        "levels-a",
		AccountID: "a",
		ProfileID: model.ProfileLevels,
		Revision:  5,
		Items: map[string]*model.Item{
			"lvl1": {TemplateID: "Level:One", Attributes: model.Attributes{"is_new": model.Bool(true)}, Quantity: 1},
		},
	}
	doc.Normalize()
	require.NoError(t, env.docs.SaveProfile(context.Background(), doc))

	rec := env.do(http.MethodPost, "/wex/api/game/v2/profile/a/MarkItemSeen?profileId=levels&rvn=5", `{"itemId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "errors.com.epicgames.world_explorers.not_found", decode(t, rec)["errorCode"])

	rec = env.do(http.MethodPost, "/wex/api/game/v2/profile/a/MarkItemSeen?profileId=levels&rvn=5", `{"itemId":"lvl1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 6, body["profileRevision"])
	assert.EqualValues(t, 5, body["profileChangesBaseRevision"])
	changes := body["profileChanges"].([]interface{})
	require.Len(t, changes, 1, "the failed call staged nothing")
	change := changes[0].(map[string]interface{})
	assert.Equal(t, "itemAttrChanged", change["changeType"])
	assert.Equal(t, "lvl1", change["itemId"])
	assert.Equal(t, "is_new", change["attributeName"])
	assert.Equal(t, false, change["attributeValue"])
}

func TestStubCommandReturnsProfile(t *testing.T) {
	env := newTestEnv(t, "a")

	rec := env.do(http.MethodPost, "/wex/api/game/v2/profile/a/ClaimLoginReward?profileId=profile0", "{}")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "profile0", decode(t, rec)["profileId"])
}

func TestFriendRequestFlow(t *testing.T) {
	env := newTestEnv(t, "a", "b")

	rec := env.do(http.MethodPost, "/friends/api/v1/a/friends/b", "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/friends/api/v1/a/friends/b", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "errors.com.epicgames.friends.friend_request_already_sent", decode(t, rec)["errorCode"])

	rec = env.do(http.MethodGet, "/friends/api/v1/b/incoming", "")
	require.Equal(t, http.StatusOK, rec.Code)
	incoming := decodeList(t, rec)
	require.Len(t, incoming, 1)
	assert.Equal(t, "a", incoming[0]["accountId"])

	rec = env.do(http.MethodPost, "/friends/api/v1/b/incoming/accept?targetIds=a", "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	assert.Equal(t, []string{"b"}, accountIDs(env.summary("a")["friends"].([]interface{})))
	assert.Equal(t, []string{"a"}, accountIDs(env.summary("b")["friends"].([]interface{})))
	assert.Empty(t, env.summary("a")["outgoing"])
	assert.Empty(t, env.summary("b")["incoming"])

	rec = env.do(http.MethodGet, "/friends/api/public/friends/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	legacy := decodeList(t, rec)
	require.Len(t, legacy, 1)
	assert.Equal(t, "ACCEPTED", legacy[0]["status"])
	assert.Equal(t, "OUTBOUND", legacy[0]["direction"])
}

func TestAddFriendCommandAndRemoveByInstance(t *testing.T) {
	env := newTestEnv(t, "a", "b")

	rec := env.do(http.MethodPost, "/wex/api/game/v2/profile/a/AddFriend?profileId=friends", `{"friendAccountId":"b"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(http.MethodPost, "/wex/api/game/v2/profile/b/AddFriend?profileId=friends", `{"friendAccountId":"a"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"b"}, accountIDs(env.summary("a")["friends"].([]interface{})))

	rec = env.do(http.MethodPost, "/wex/api/game/v2/profile/a/QueryProfile?profileId=friends", "")
	require.Equal(t, http.StatusOK, rec.Code)
	full := decode(t, rec)["profileChanges"].([]interface{})[0].(map[string]interface{})
	items := full["profile"].(map[string]interface{})["items"].(map[string]interface{})
	var instanceID string
	for id, raw := range items {
		item := raw.(map[string]interface{})
		if item["templateId"] == model.FriendInstanceTemplate {
			attrs := item["attributes"].(map[string]interface{})
			assert.Equal(t, "b", attrs["accountId"])
			assert.Equal(t, "Friend", attrs["status"])
			instanceID = id
		}
	}
	require.NotEmpty(t, instanceID)

	rec = env.do(http.MethodPost, "/wex/api/game/v2/profile/a/RemoveFriend?profileId=friends&rvn=-1",
		`{"friendInstanceId":"`+instanceID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, env.summary("a")["friends"])
	assert.Empty(t, env.summary("b")["friends"], "removal is mirrored")

	rec = env.do(http.MethodPost, "/wex/api/game/v2/profile/a/RemoveFriend?profileId=friends",
		`{"friendInstanceId":"`+instanceID+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBlockedRequestIsRejected(t *testing.T) {
	env := newTestEnv(t, "a", "b")

	rec := env.do(http.MethodPost, "/friends/api/v1/b/blocklist/a", "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/friends/api/v1/a/friends/b", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "errors.com.epicgames.friends.cannot_friend_due_to_target_settings",
		rec.Header().Get("X-Epic-Error-Code"))

	rec = env.do(http.MethodDelete, "/friends/api/v1/b/blocklist/a", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(http.MethodPost, "/friends/api/v1/a/friends/b", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUpdateSettings(t *testing.T) {
	env := newTestEnv(t, "a", "b")

	rec := env.do(http.MethodPut, "/friends/api/v1/b/settings", `{"acceptInvites":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPut, "/friends/api/v1/b/settings", `{"acceptInvites":"private"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "private", body["acceptInvites"])
	assert.Equal(t, "ALL", body["mutualPrivacy"])

	rec = env.do(http.MethodPost, "/friends/api/v1/a/friends/b", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReconcileCommand(t *testing.T) {
	env := newTestEnv(t, "a", "b")

	rec := env.do(http.MethodPost, "/wex/api/game/v2/profile/a/Reconcile?profileId=friends",
		`{"friendIdList":["b"],"outgoingIdList":["zz"],"incomingIdList":[]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	notifications := decode(t, rec)["notifications"].([]interface{})
	require.Len(t, notifications, 1)
	n := notifications[0].(map[string]interface{})
	assert.Equal(t, "WExpReconcileNotification", n["type"])
	assert.Equal(t, map[string]interface{}{"b": true, "zz": false}, n["results"])

	rec = env.do(http.MethodPost, "/wex/api/game/v2/profile/a/QueryProfile?profileId=friends", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["notifications"], "notifications are cleared once delivered")
}

func TestAdminAccounts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/admin/accounts", `{"displayName":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/admin/accounts", `{"displayName":"Dippy"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)["data"].(map[string]interface{})
	id := created["id"].(string)
	assert.Len(t, id, 32)

	exists, err := env.store.AccountExists(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, exists)

	rec = env.do(http.MethodGet, "/admin/accounts?prefix=dip&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["data"], 1)
	assert.EqualValues(t, 5, body["meta"].(map[string]interface{})["limit"])

	rec = env.do(http.MethodGet, "/admin/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "memory", stats["store_type"])
	assert.Contains(t, stats, "registry")
}

func TestReadyReportsFailingChecks(t *testing.T) {
	h := New("wex-mcp-api", "test", map[string]ReadinessCheck{
		"store": func(context.Context) error { return errors.New("unreachable") },
	})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, false, data["ready"])
	checks := data["checks"].([]interface{})
	require.Len(t, checks, 2)
	assert.Equal(t, "unreachable", checks[1].(map[string]interface{})["error"])
}

func TestToAPIErrorKeepsSubject(t *testing.T) {
	err := toAPIError(friends.ErrDuplicateFriendship, "b")
	assert.Equal(t, http.StatusConflict, err.StatusCode)
	assert.Contains(t, err.Message, "b")

	err = toAPIError(errors.New("boom"), "")
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
}
