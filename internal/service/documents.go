package service

import (
	"context"
	"encoding/json"
	"fmt"

	"wex-mcp-api/internal/cache"
	"wex-mcp-api/internal/model"
	"wex-mcp-api/internal/repository"
)

// DocumentBuffer is the write-behind buffer in front of the repository.
type DocumentBuffer interface {
	Add(ctx context.Context, key model.DocumentKey, rawJSON []byte) error
	Get(ctx context.Context, key model.DocumentKey) (*model.BufferedDocument, error)
}

// DocumentStore encodes profiles and friend graphs and persists them through
// the buffer when one is set, otherwise straight to the repository.
type DocumentStore struct {
	repo   repository.DocumentRepository
	buffer DocumentBuffer
}

// NewDocumentStore creates a store writing directly to repo.
// Returns nil if repo is nil (required dependency).
func NewDocumentStore(repo repository.DocumentRepository) *DocumentStore {
	if repo == nil {
		return nil
	}
	return &DocumentStore{repo: repo}
}

// SetBuffer enables write-behind caching.
func (s *DocumentStore) SetBuffer(buffer DocumentBuffer) {
	s.buffer = buffer
}

// saveRaw writes to the buffer when available, falling back to the repository.
func (s *DocumentStore) saveRaw(ctx context.Context, key model.DocumentKey, rawJSON []byte) error {
	if s.buffer != nil {
		return s.buffer.Add(ctx, key, rawJSON)
	}
	return s.repo.UpsertDocument(ctx, key, rawJSON)
}

// loadRaw checks the buffer first, then the repository. Returns nil when missing.
func (s *DocumentStore) loadRaw(ctx context.Context, key model.DocumentKey) ([]byte, error) {
	if s.buffer != nil {
		if doc, err := s.buffer.Get(ctx, key); err == nil && doc != nil {
			return doc.RawJSON, nil
		}
	}

	doc, err := s.repo.GetDocument(ctx, key)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.RawJSON, nil
}

// LoadProfile implements profile.Store.
func (s *DocumentStore) LoadProfile(ctx context.Context, accountID string, kind model.ProfileKind) (*model.Profile, error) {
	key := model.ProfileKey(accountID, kind)
	raw, err := s.loadRaw(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}

	var doc model.Profile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	doc.Normalize()
	return &doc, nil
}

// SaveProfile implements profile.Store.
func (s *DocumentStore) SaveProfile(ctx context.Context, doc *model.Profile) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", doc.ProfileID, err)
	}
	return s.saveRaw(ctx, model.ProfileKey(doc.AccountID, doc.ProfileID), raw)
}

// LoadFriendGraph returns nil, nil when the account has no stored graph.
func (s *DocumentStore) LoadFriendGraph(ctx context.Context, accountID string) (*model.FriendGraph, error) {
	key := model.FriendGraphKey(accountID)
	raw, err := s.loadRaw(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}

	var g model.FriendGraph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	g.AccountID = accountID
	g.Normalize()
	return &g, nil
}

// SaveFriendGraph persists g.
func (s *DocumentStore) SaveFriendGraph(ctx context.Context, g *model.FriendGraph) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode friend graph %s: %w", g.AccountID, err)
	}
	return s.saveRaw(ctx, model.FriendGraphKey(g.AccountID), raw)
}

// CreateFlushFunc creates a flush function for the Redis buffer.
func CreateFlushFunc(repo repository.DocumentRepository) cache.FlushFunc {
	return func(ctx context.Context, docs []*model.BufferedDocument) error {
		batch := make([]model.RawDocument, len(docs))
		for i, doc := range docs {
			batch[i] = model.RawDocument{
				Key:       doc.Key,
				RawJSON:   doc.RawJSON,
				UpdatedAt: doc.UpdatedAt,
			}
		}
		return repo.BatchUpsertDocuments(ctx, batch)
	}
}
