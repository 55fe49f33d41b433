package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"wex-mcp-api/internal/model"
)

// MemoryStore implements Store in process memory.
// Use this for development/testing; nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[model.DocumentKey]model.RawDocument
	accounts map[string]model.Account
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[model.DocumentKey]model.RawDocument),
		accounts: make(map[string]model.Account),
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// GetDocument returns a copy of the stored document.
func (m *MemoryStore) GetDocument(ctx context.Context, key model.DocumentKey) (*model.RawDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, nil
	}
	doc.RawJSON = copyBytes(doc.RawJSON)
	return &doc, nil
}

// UpsertDocument stores a copy of rawJSON.
func (m *MemoryStore) UpsertDocument(ctx context.Context, key model.DocumentKey, rawJSON []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[key] = model.RawDocument{Key: key, RawJSON: copyBytes(rawJSON), UpdatedAt: time.Now()}
	return nil
}

// BatchUpsertDocuments stores every document under one lock.
func (m *MemoryStore) BatchUpsertDocuments(ctx context.Context, docs []model.RawDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range docs {
		doc.RawJSON = copyBytes(doc.RawJSON)
		m.docs[doc.Key] = doc
	}
	return nil
}

// ListAcceptingAccounts returns accounts whose friend graph is missing or public.
func (m *MemoryStore) ListAcceptingAccounts(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id := range m.accounts {
		doc, ok := m.docs[model.FriendGraphKey(id)]
		if ok {
			var graph model.FriendGraph
			if err := json.Unmarshal(doc.RawJSON, &graph); err != nil {
				return nil, err
			}
			graph.Normalize()
			if graph.Settings.AcceptInvites != model.AcceptInvitesPublic {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetAccount looks up one account by id.
func (m *MemoryStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return nil, nil
	}
	return &account, nil
}

// AccountExists reports whether accountID is registered.
func (m *MemoryStore) AccountExists(ctx context.Context, accountID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.accounts[accountID]
	return ok, nil
}

// CreateAccount registers or renames an account.
func (m *MemoryStore) CreateAccount(ctx context.Context, account *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := *account
	if existing, ok := m.accounts[a.ID]; ok {
		a.CreatedAt = existing.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.accounts[a.ID] = a
	return nil
}

// FindAccountsByDisplayNamePrefix matches display names case-insensitively.
func (m *MemoryStore) FindAccountsByDisplayNamePrefix(ctx context.Context, prefix string, limit int) ([]model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix = strings.ToLower(prefix)
	accounts := []model.Account{}
	for _, a := range m.accounts {
		if strings.HasPrefix(strings.ToLower(a.DisplayName), prefix) {
			accounts = append(accounts, a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		li, lj := strings.ToLower(accounts[i].DisplayName), strings.ToLower(accounts[j].DisplayName)
		if li != lj {
			return li < lj
		}
		return accounts[i].ID < accounts[j].ID
	})
	if limit = normalizeLimit(limit); len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

// GetStats returns document and account counts.
func (m *MemoryStore) GetStats(ctx context.Context) (*model.StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &model.StoreStats{Driver: "memory", Accounts: int64(len(m.accounts))}
	for key := range m.docs {
		switch key.Family {
		case model.FamilyProfile:
			stats.Profiles++
		case model.FamilyFriendGraph:
			stats.FriendGraphs++
		}
	}
	return stats, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
