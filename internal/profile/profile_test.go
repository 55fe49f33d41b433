package profile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wex-mcp-api/internal/model"
)

type mockStore struct {
	mu    sync.Mutex
	docs  map[string][]byte
	saves int
	fail  error
}

func newMockStore() *mockStore {
	return &mockStore{docs: make(map[string][]byte)}
}

func (m *mockStore) LoadProfile(_ context.Context, accountID string, kind model.ProfileKind) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[accountID+"/"+string(kind)]
	if !ok {
		return nil, nil
	}
	var doc model.Profile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (m *mockStore) SaveProfile(_ context.Context, doc *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.docs[doc.AccountID+"/"+string(doc.ProfileID)] = raw
	m.saves++
	return nil
}

func emptyDoc(kind model.ProfileKind, rvn int64) *model.Profile {
	return &model.Profile{
		ID:        "doc",
		AccountID: "acc",
		ProfileID: kind,
		Revision:  rvn,
		Version:   "test",
	}
}

func fixedClock() func() time.Time {
	t := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestProfile_StagedChangesInvisibleUntilFlush(t *testing.T) {
	p := New(emptyDoc(model.ProfileMain, 1))

	id, err := p.AddItem(&model.Item{TemplateID: "Currency:SB_Gold", Quantity: 5}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	p.SetStat("xp", model.Int(10))

	assert.Empty(t, p.FindByTemplateID("Currency:SB_Gold"))
	assert.True(t, p.Stat("xp").IsNull())
	assert.Contains(t, p.PendingItems(), id)

	p.Flush()

	assert.Equal(t, []string{id}, p.FindByTemplateID("Currency:SB_Gold"))
	assert.Equal(t, []string{id}, p.FindByTypePrefix("Currency:"))
	assert.Equal(t, []string{id}, p.FindBySpecific("SB_Gold"))
	assert.Equal(t, int64(10), p.Stat("xp").IntOr(0))
	assert.False(t, p.HasChanges())
	assert.Empty(t, p.PendingItems())
}

func TestProfile_UnknownItemStagesNothing(t *testing.T) {
	p := New(emptyDoc(model.ProfileMain, 1))

	err := p.ChangeQuantity("missing", 3)
	assert.ErrorIs(t, err, ErrItemNotFound)
	err = p.ChangeAttribute("missing", "level", model.Int(2))
	assert.ErrorIs(t, err, ErrItemNotFound)
	err = p.RemoveItem("missing")
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = p.AddItem(&model.Item{}, "")
	assert.ErrorIs(t, err, ErrInvalidItem)

	assert.Empty(t, p.Journal())
}

func TestProfile_MutatorsSeeStagedItems(t *testing.T) {
	p := New(emptyDoc(model.ProfileMain, 1))

	id, err := p.AddItem(&model.Item{TemplateID: "Hero:h_1"}, "hero")
	require.NoError(t, err)
	require.NoError(t, p.ChangeAttribute(id, "level", model.Int(3)))
	require.NoError(t, p.RemoveItem(id))
	assert.ErrorIs(t, p.ChangeQuantity(id, 2), ErrItemNotFound)

	p.Flush()
	_, ok := p.Item(id)
	assert.False(t, ok)
}

func TestProfile_JournalReplayEquivalence(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	set := NewSet("acc", store, WithClock(fixedClock()))
	require.NoError(t, store.SaveProfile(ctx, emptyDoc(model.ProfileLevels, 1)))

	p, err := set.Profile(ctx, model.ProfileLevels)
	require.NoError(t, err)

	steps := []func(){
		func() { _, _ = p.AddItem(&model.Item{TemplateID: "Level:a", Quantity: 1}, "a") },
		func() { _, _ = p.AddItem(&model.Item{TemplateID: "Level:b", Quantity: 1}, "b") },
		func() { _ = p.ChangeQuantity("a", 7) },
		func() { _ = p.ChangeAttribute("b", "stars", model.Int(3)) },
		func() { _ = p.RemoveItem("b") },
		func() { p.SetStat("portal_level", model.String("L2")) },
		func() { _, _ = p.AddItem(&model.Item{TemplateID: "Level:b", Quantity: 2}, "b") },
	}
	for _, step := range steps {
		step()
	}

	expected := emptyDoc(model.ProfileLevels, 1)
	expected.Normalize()
	for _, change := range p.Journal() {
		apply(expected, change)
	}

	p.Flush()
	require.Equal(t, 0, set.Save(ctx))

	reloaded, err := store.LoadProfile(ctx, "acc", model.ProfileLevels)
	require.NoError(t, err)
	reloaded.Normalize()

	assert.Equal(t, expected.Items, reloaded.Items)
	assert.True(t, model.Map(expected.Stats.Attributes).Equal(model.Map(reloaded.Stats.Attributes)))
	assert.Equal(t, int64(7), reloaded.Items["a"].Quantity)
	assert.Equal(t, int64(2), reloaded.Items["b"].Quantity)
	assert.Empty(t, reloaded.Items["b"].Attributes)
}

func TestSet_PartialSyncBumpsRevision(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	require.NoError(t, store.SaveProfile(ctx, emptyDoc(model.ProfileMain, 5)))
	set := NewSet("acc", store, WithClock(fixedClock()))

	p, err := set.Profile(ctx, model.ProfileMain)
	require.NoError(t, err)
	p.SetStat("xp", model.Int(10))

	resp, err := set.ConstructResponse(ctx, model.SyncRequest{Kind: model.ProfileMain, Revision: 5})
	require.NoError(t, err)

	assert.Equal(t, int64(6), resp.ProfileRevision)
	assert.Equal(t, int64(5), resp.ProfileChangesBaseRevision)
	assert.Equal(t, int64(1), resp.ProfileCommandRevision)
	require.Len(t, resp.ProfileChanges, 1)
	assert.Equal(t, model.ChangeStatModified, resp.ProfileChanges[0].Type)
	assert.Equal(t, "xp", resp.ProfileChanges[0].Name)
	assert.Equal(t, int64(10), resp.ProfileChanges[0].Value.IntOr(0))

	assert.Equal(t, int64(6), p.Revision())
	assert.Equal(t, int64(1), p.CommandRevision())
	assert.Equal(t, int64(1), set.TrackedRevisions().Lookup(model.ProfileMain))

	raw, err := json.Marshal(resp.ProfileChanges)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"changeType":"statModified","name":"xp","value":10}]`, string(raw))
}

func TestSet_PartialSyncWithoutChanges(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	require.NoError(t, store.SaveProfile(ctx, emptyDoc(model.ProfileMain, 5)))
	set := NewSet("acc", store)

	resp, err := set.ConstructResponse(ctx, model.SyncRequest{Kind: model.ProfileMain, Revision: 5})
	require.NoError(t, err)

	assert.Equal(t, int64(5), resp.ProfileRevision)
	assert.Equal(t, int64(5), resp.ProfileChangesBaseRevision)
	assert.NotNil(t, resp.ProfileChanges)
	assert.Empty(t, resp.ProfileChanges)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"profileChanges":[]`)
	assert.NotContains(t, string(raw), "multiUpdate")
}

func TestSet_FullSyncFlushesPendingChanges(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	require.NoError(t, store.SaveProfile(ctx, emptyDoc(model.ProfileMain, 5)))
	set := NewSet("acc", store, WithClock(fixedClock()))

	p, err := set.Profile(ctx, model.ProfileMain)
	require.NoError(t, err)
	p.SetStat("xp", model.Int(10))
	_, err = set.ConstructResponse(ctx, model.SyncRequest{Kind: model.ProfileMain, Revision: 5})
	require.NoError(t, err)

	p.SetStat("gold", model.Int(3))
	resp, err := set.ConstructResponse(ctx, model.SyncRequest{Kind: model.ProfileMain, Revision: 3})
	require.NoError(t, err)

	require.Len(t, resp.ProfileChanges, 1)
	full := resp.ProfileChanges[0]
	assert.Equal(t, model.ChangeFullProfileUpdate, full.Type)
	assert.Equal(t, int64(6), full.Profile.Revision)
	assert.Equal(t, int64(3), full.Profile.Stats.Attributes["gold"].IntOr(0))
	assert.Equal(t, int64(6), resp.ProfileRevision)
	assert.Equal(t, int64(6), p.Revision())
	assert.Equal(t, int64(1), p.CommandRevision())
	assert.False(t, p.HasChanges())
}

func TestSet_FullSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	set := NewSet("acc", newMockStore(), WithClock(fixedClock()))
	require.NoError(t, set.LoadAll(ctx))

	req := model.SyncRequest{Kind: model.ProfileMultiplayer, Revision: -1}
	first, err := set.ConstructResponse(ctx, req)
	require.NoError(t, err)
	second, err := set.ConstructResponse(ctx, req)
	require.NoError(t, err)

	a, err := json.Marshal(first.ProfileChanges)
	require.NoError(t, err)
	b, err := json.Marshal(second.ProfileChanges)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.ProfileRevision, second.ProfileRevision)
}

func TestSet_MultiUpdateCarriesOtherProfiles(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	set := NewSet("acc", store, WithClock(fixedClock()))
	require.NoError(t, set.LoadAll(ctx))

	friends, err := set.Profile(ctx, model.ProfileFriends)
	require.NoError(t, err)
	_, err = friends.AddItem(&model.Item{TemplateID: model.FriendInstanceTemplate, Quantity: 1}, "f1")
	require.NoError(t, err)
	friends.AddNotification(model.Notification{Type: "WExpReconcileNotification", Primary: true})

	resp, err := set.ConstructResponse(ctx, model.SyncRequest{
		Kind:     model.ProfileMain,
		Revision: 1,
		ClientRevisions: model.ClientRevisions{
			{ProfileID: model.ProfileFriends, ClientCommandRevision: 4},
		},
	})
	require.NoError(t, err)

	assert.Empty(t, resp.ProfileChanges)
	require.Len(t, resp.MultiUpdate, 1)
	update := resp.MultiUpdate[0]
	assert.Equal(t, model.ProfileFriends, update.ProfileID)
	assert.Equal(t, int64(1), update.ProfileChangesBaseRevision)
	assert.Equal(t, int64(2), update.ProfileRevision)
	assert.Equal(t, int64(4), update.ProfileCommandRevision)
	assert.Len(t, update.ProfileChanges, 1)
	assert.Len(t, update.Notifications, 1)

	_, ok := friends.Item("f1")
	assert.True(t, ok)
	assert.False(t, set.Dirty())
}

func TestSet_ClearNotifications(t *testing.T) {
	ctx := context.Background()
	set := NewSet("acc", newMockStore())
	require.NoError(t, set.LoadAll(ctx))

	main, _ := set.Profile(ctx, model.ProfileMain)
	friends, _ := set.Profile(ctx, model.ProfileFriends)
	main.AddNotification(model.Notification{Type: "a"})
	friends.AddNotification(model.Notification{Type: "b"})

	resp, err := set.ConstructResponse(ctx, model.SyncRequest{Kind: model.ProfileMain, Revision: 1, ClearNotifications: true})
	require.NoError(t, err)
	assert.Len(t, resp.Notifications, 1)
	assert.Empty(t, main.Notifications())
	assert.Len(t, friends.Notifications(), 1)

	_, err = set.ConstructResponse(ctx, model.SyncRequest{Kind: model.ProfileMain, Revision: 1, ClearAllNotifications: true})
	require.NoError(t, err)
	assert.Empty(t, friends.Notifications())
}

func TestSet_NewAccountPersistsTemplates(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	set := NewSet("acc", store, WithClock(fixedClock()))

	p, err := set.Profile(ctx, model.ProfileFriends)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Revision())
	assert.Equal(t, int64(100), p.Stat("max_friend_count").IntOr(0))
	assert.True(t, set.Dirty())

	require.Equal(t, 0, set.Save(ctx))
	assert.False(t, set.Dirty())

	doc, err := store.LoadProfile(ctx, "acc", model.ProfileFriends)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "force_max_friends_to_100", doc.Version)
}

func TestSet_SaveFailureKeepsProfileDirty(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	set := NewSet("acc", store)
	_, err := set.Profile(ctx, model.ProfileMain)
	require.NoError(t, err)

	store.fail = errors.New("disk full")
	assert.Equal(t, 1, set.Save(ctx))
	assert.True(t, set.Dirty())

	store.fail = nil
	assert.Equal(t, 0, set.Save(ctx))
	assert.False(t, set.Dirty())
}
