package repository

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"wex-mcp-api/internal/cache"
	"wex-mcp-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "wex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemory(t *testing.T) Store {
	return NewMemoryStore()
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	stores := map[string]func(*testing.T) Store{
		"sqlite": newSQLite,
		"memory": newMemory,
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func graphJSON(t *testing.T, accountID, acceptInvites string) []byte {
	t.Helper()
	g := model.NewFriendGraph(accountID)
	g.Settings.AcceptInvites = acceptInvites
	data, err := json.Marshal(g)
	require.NoError(t, err)
	return data
}

func TestDocumentRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := model.ProfileKey("acc1", model.ProfileLevels)

		doc, err := s.GetDocument(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, doc)

		require.NoError(t, s.UpsertDocument(ctx, key, []byte(`{"rvn":1}`)))
		require.NoError(t, s.UpsertDocument(ctx, key, []byte(`{"rvn":2}`)))

		doc, err = s.GetDocument(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.JSONEq(t, `{"rvn":2}`, string(doc.RawJSON))
		assert.Equal(t, key, doc.Key)

		other, err := s.GetDocument(ctx, model.ProfileKey("acc1", model.ProfileMain))
		require.NoError(t, err)
		assert.Nil(t, other)
	})
}

func TestBatchUpsertDocuments(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now()
		docs := []model.RawDocument{
			{Key: model.ProfileKey("a", model.ProfileMain), RawJSON: []byte(`{"rvn":3}`), UpdatedAt: now},
			{Key: model.ProfileKey("a", model.ProfileFriends), RawJSON: []byte(`{"rvn":4}`), UpdatedAt: now},
			{Key: model.FriendGraphKey("a"), RawJSON: graphJSON(t, "a", model.AcceptInvitesPublic), UpdatedAt: now},
		}
		require.NoError(t, s.BatchUpsertDocuments(ctx, docs))
		require.NoError(t, s.BatchUpsertDocuments(ctx, nil))

		doc, err := s.GetDocument(ctx, model.ProfileKey("a", model.ProfileFriends))
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.JSONEq(t, `{"rvn":4}`, string(doc.RawJSON))

		stats, err := s.GetStats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, stats.Profiles)
		assert.EqualValues(t, 1, stats.FriendGraphs)
	})
}

func TestAccounts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateAccount(ctx, &model.Account{ID: "a1", DisplayName: "Alpha"}))
		require.NoError(t, s.CreateAccount(ctx, &model.Account{ID: "a2", DisplayName: "alphabet"}))
		require.NoError(t, s.CreateAccount(ctx, &model.Account{ID: "b1", DisplayName: "Beta_1"}))

		account, err := s.GetAccount(ctx, "a1")
		require.NoError(t, err)
		require.NotNil(t, account)
		assert.Equal(t, "Alpha", account.DisplayName)

		missing, err := s.GetAccount(ctx, "zz")
		require.NoError(t, err)
		assert.Nil(t, missing)

		exists, err := s.AccountExists(ctx, "b1")
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = s.AccountExists(ctx, "zz")
		require.NoError(t, err)
		assert.False(t, exists)

		found, err := s.FindAccountsByDisplayNamePrefix(ctx, "ALP", 10)
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, "a1", found[0].ID)
		assert.Equal(t, "a2", found[1].ID)

		// Wildcards in the prefix match literally.
		found, err = s.FindAccountsByDisplayNamePrefix(ctx, "beta_", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		found, err = s.FindAccountsByDisplayNamePrefix(ctx, "%", 10)
		require.NoError(t, err)
		assert.Empty(t, found)

		require.NoError(t, s.CreateAccount(ctx, &model.Account{ID: "a1", DisplayName: "Omega"}))
		account, err = s.GetAccount(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "Omega", account.DisplayName)
	})
}

func TestListAcceptingAccounts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"open", "closed", "fresh"} {
			require.NoError(t, s.CreateAccount(ctx, &model.Account{ID: id, DisplayName: id}))
		}
		require.NoError(t, s.UpsertDocument(ctx, model.FriendGraphKey("open"), graphJSON(t, "open", model.AcceptInvitesPublic)))
		require.NoError(t, s.UpsertDocument(ctx, model.FriendGraphKey("closed"), graphJSON(t, "closed", model.AcceptInvitesPrivate)))
		// A graph without an account is not a candidate.
		require.NoError(t, s.UpsertDocument(ctx, model.FriendGraphKey("ghost"), graphJSON(t, "ghost", model.AcceptInvitesPublic)))

		ids, err := s.ListAcceptingAccounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"fresh", "open"}, ids)
	})
}

type countingAccounts struct {
	AccountRepository
	gets int
}

func (c *countingAccounts) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	c.gets++
	return c.AccountRepository.GetAccount(ctx, id)
}

func TestCachedAccountRepository(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateAccount(ctx, &model.Account{ID: "a1", DisplayName: "Alpha"}))

	mc := cache.NewMemoryCache()
	defer mc.Close()
	counting := &countingAccounts{AccountRepository: store}
	repo := NewCachedAccountRepository(counting, mc, time.Minute)

	for i := 0; i < 3; i++ {
		account, err := repo.GetAccount(ctx, "a1")
		require.NoError(t, err)
		require.NotNil(t, account)
		assert.Equal(t, "Alpha", account.DisplayName)
	}
	assert.Equal(t, 1, counting.gets)

	exists, err := repo.AccountExists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = repo.AccountExists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 2, counting.gets, "missing accounts are cached too")

	require.NoError(t, repo.CreateAccount(ctx, &model.Account{ID: "a1", DisplayName: "Renamed"}))
	account, err := repo.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", account.DisplayName)
	assert.Equal(t, 3, counting.gets)
}

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, `ab\%c\_d\\%`, likePrefix(`Ab%c_d\`))
	assert.Equal(t, defaultSearchLimit, normalizeLimit(0))
	assert.Equal(t, maxSearchLimit, normalizeLimit(1000))
	assert.Equal(t, 7, normalizeLimit(7))
}

type brokenCache struct {
	*cache.MemoryCache
}

func (brokenCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error) {
	return nil, errors.New("cache unreachable")
}

func TestCachedAccountRepositoryBypassesBrokenCache(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateAccount(ctx, &model.Account{ID: "a1", DisplayName: "Alpha"}))

	mc := cache.NewMemoryCache()
	defer mc.Close()
	repo := NewCachedAccountRepository(store, brokenCache{mc}, time.Minute)

	account, err := repo.GetAccount(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "Alpha", account.DisplayName)

	exists, err := repo.AccountExists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)
}
