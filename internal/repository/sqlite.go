package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"wex-mcp-api/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteStore implements Store using SQLite.
// Thread-safe with WAL mode for high-concurrency reads.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore creates a new SQLite store.
// dbPath is the path to the SQLite database file (e.g., "./data/wex.db")
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[SQLiteStore] Initialized with database: %s", dbPath)
	return &SQLiteStore{db: db}, nil
}

func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS wex_documents (
		family TEXT NOT NULL,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		doc_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (family, account_id, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_account ON wex_documents(account_id);
	CREATE TABLE IF NOT EXISTS wex_accounts (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		display_name_lower TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_name ON wex_accounts(display_name_lower);
	`
	_, err := db.Exec(query)
	return err
}

const sqliteUpsertDocument = `
	INSERT INTO wex_documents (family, account_id, kind, doc_json, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(family, account_id, kind) DO UPDATE SET
		doc_json = excluded.doc_json,
		updated_at = excluded.updated_at`

// UpsertDocument inserts or replaces one raw JSON document.
func (r *SQLiteStore) UpsertDocument(ctx context.Context, key model.DocumentKey, rawJSON []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, sqliteUpsertDocument,
		string(key.Family), key.AccountID, string(key.Kind), string(rawJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", key, err)
	}
	return nil
}

// BatchUpsertDocuments writes all documents in one transaction.
func (r *SQLiteStore) BatchUpsertDocuments(ctx context.Context, docs []model.RawDocument) error {
	if len(docs) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertDocument)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		_, err := stmt.ExecContext(ctx, string(doc.Key.Family), doc.Key.AccountID, string(doc.Key.Kind),
			string(doc.RawJSON), doc.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to batch upsert %s: %w", doc.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetDocument retrieves one raw JSON document.
func (r *SQLiteStore) GetDocument(ctx context.Context, key model.DocumentKey) (*model.RawDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := `SELECT doc_json, updated_at FROM wex_documents WHERE family = ? AND account_id = ? AND kind = ?`

	var rawJSON string
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query, string(key.Family), key.AccountID, string(key.Kind)).Scan(&rawJSON, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	return &model.RawDocument{Key: key, RawJSON: []byte(rawJSON), UpdatedAt: updatedAt}, nil
}

// ListAcceptingAccounts returns accounts whose friend graph is missing or public.
func (r *SQLiteStore) ListAcceptingAccounts(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := `
		SELECT a.id FROM wex_accounts a
		LEFT JOIN wex_documents d
			ON d.family = ? AND d.account_id = a.id AND d.kind = ''
		WHERE d.doc_json IS NULL
			OR COALESCE(json_extract(d.doc_json, '$.settings.acceptInvites'), ?) = ?
		ORDER BY a.id`

	rows, err := r.db.QueryContext(ctx, query, string(model.FamilyFriendGraph), model.AcceptInvitesPublic, model.AcceptInvitesPublic)
	if err != nil {
		return nil, fmt.Errorf("failed to list accepting accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetAccount looks up one account by id.
func (r *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var account model.Account
	err := r.db.QueryRowContext(ctx,
		`SELECT id, display_name, created_at FROM wex_accounts WHERE id = ?`, accountID,
	).Scan(&account.ID, &account.DisplayName, &account.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// AccountExists reports whether accountID is registered.
func (r *SQLiteStore) AccountExists(ctx context.Context, accountID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wex_accounts WHERE id = ?`, accountID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check account: %w", err)
	}
	return count > 0, nil
}

// CreateAccount registers or renames an account.
func (r *SQLiteStore) CreateAccount(ctx context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := account.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wex_accounts (id, display_name, display_name_lower, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			display_name_lower = excluded.display_name_lower`,
		account.ID, account.DisplayName, strings.ToLower(account.DisplayName), created.UTC())
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// FindAccountsByDisplayNamePrefix matches display names case-insensitively.
func (r *SQLiteStore) FindAccountsByDisplayNamePrefix(ctx context.Context, prefix string, limit int) ([]model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, display_name, created_at FROM wex_accounts
		WHERE display_name_lower LIKE ? ESCAPE '\'
		ORDER BY display_name_lower, id
		LIMIT ?`, likePrefix(prefix), normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to search accounts: %w", err)
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetStats returns document and account counts.
func (r *SQLiteStore) GetStats(ctx context.Context) (*model.StoreStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &model.StoreStats{Driver: "sqlite"}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN family = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN family = ? THEN 1 ELSE 0 END), 0)
		FROM wex_documents`, string(model.FamilyProfile), string(model.FamilyFriendGraph),
	).Scan(&stats.Profiles, &stats.FriendGraphs)
	if err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wex_accounts`).Scan(&stats.Accounts); err != nil {
		return nil, err
	}
	return stats, nil
}

// Close closes the database connection.
func (r *SQLiteStore) Close() error {
	return r.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
