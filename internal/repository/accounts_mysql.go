package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"wex-mcp-api/internal/model"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLAccountRepository implements AccountRepository against an external
// MySQL accounts table shared with the login service.
type MySQLAccountRepository struct {
	db *sql.DB
}

// OpenMySQL opens and pings a MySQL pool.
// dsn format: "user:password@tcp(host:3306)/dbname?parseTime=true"
func OpenMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	return db, nil
}

// NewMySQLAccountRepository creates a new MySQL account repository.
func NewMySQLAccountRepository(db *sql.DB) *MySQLAccountRepository {
	return &MySQLAccountRepository{db: db}
}

// GetAccount finds an active account by id.
func (r *MySQLAccountRepository) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	query := `SELECT id, display_name, created_at FROM accounts WHERE id = ? AND is_active = 1 LIMIT 1`

	var account model.Account
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(&account.ID, &account.DisplayName, &account.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// AccountExists checks if accountID exists and is active.
func (r *MySQLAccountRepository) AccountExists(ctx context.Context, accountID string) (bool, error) {
	query := `SELECT COUNT(*) FROM accounts WHERE id = ? AND is_active = 1`

	var count int
	if err := r.db.QueryRowContext(ctx, query, accountID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to validate account: %w", err)
	}
	return count > 0, nil
}

// CreateAccount inserts or renames an account and marks it active.
func (r *MySQLAccountRepository) CreateAccount(ctx context.Context, account *model.Account) error {
	created := account.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, display_name, created_at, is_active)
		VALUES (?, ?, ?, 1)
		ON DUPLICATE KEY UPDATE display_name = VALUES(display_name), is_active = 1`,
		account.ID, account.DisplayName, created)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	log.Printf("[AccountRepository] Registered account %s", account.ID)
	return nil
}

// FindAccountsByDisplayNamePrefix matches display names case-insensitively.
func (r *MySQLAccountRepository) FindAccountsByDisplayNamePrefix(ctx context.Context, prefix string, limit int) ([]model.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, display_name, created_at FROM accounts
		WHERE LOWER(display_name) LIKE ? AND is_active = 1
		ORDER BY LOWER(display_name), id
		LIMIT ?`, likePrefix(strings.TrimSpace(prefix)), normalizeLimit(limit))
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

var _ AccountRepository = (*MySQLAccountRepository)(nil)
