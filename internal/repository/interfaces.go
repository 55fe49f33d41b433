package repository

import (
	"context"

	"wex-mcp-api/internal/model"
)

// DocumentRepository defines persisted document access methods.
type DocumentRepository interface {
	// GetDocument retrieves one raw JSON document. Returns nil, nil when missing.
	GetDocument(ctx context.Context, key model.DocumentKey) (*model.RawDocument, error)

	// UpsertDocument inserts or replaces one raw JSON document.
	UpsertDocument(ctx context.Context, key model.DocumentKey, rawJSON []byte) error

	// BatchUpsertDocuments inserts or replaces many documents efficiently.
	BatchUpsertDocuments(ctx context.Context, docs []model.RawDocument) error

	// ListAcceptingAccounts returns known accounts whose friend settings accept
	// invites. Accounts without a stored friend graph count as accepting.
	ListAcceptingAccounts(ctx context.Context) ([]string, error)

	// GetStats returns statistics about the store.
	GetStats(ctx context.Context) (*model.StoreStats, error)

	// Close closes the repository connection.
	Close() error
}

// AccountRepository defines account data access methods.
type AccountRepository interface {
	// GetAccount returns nil, nil when the account does not exist.
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)

	AccountExists(ctx context.Context, accountID string) (bool, error)

	// CreateAccount registers or renames an account.
	CreateAccount(ctx context.Context, account *model.Account) error

	// FindAccountsByDisplayNamePrefix matches display names case-insensitively.
	FindAccountsByDisplayNamePrefix(ctx context.Context, prefix string, limit int) ([]model.Account, error)
}

// Store is a document repository that also keeps the account table.
type Store interface {
	DocumentRepository
	AccountRepository
}
