package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"wex-mcp-api/internal/cache"
	"wex-mcp-api/internal/model"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

// likePrefix lowercases prefix and escapes LIKE wildcards.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(strings.ToLower(prefix)) + "%"
}

// CachedAccountRepository caches account lookups in front of another repository.
// Snapshot building resolves the same accounts repeatedly, so hits skip the database.
type CachedAccountRepository struct {
	next AccountRepository
	c    cache.Cache
	ttl  time.Duration
}

// NewCachedAccountRepository wraps next with c. A zero ttl defaults to one minute.
func NewCachedAccountRepository(next AccountRepository, c cache.Cache, ttl time.Duration) *CachedAccountRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedAccountRepository{next: next, c: c, ttl: ttl}
}

func accountCacheKey(accountID string) string {
	return "wex:account:" + accountID
}

// missingAccount is cached for accounts that do not exist.
var missingAccount = []byte("null")

// GetAccount returns the cached account or loads it from the wrapped
// repository. A failing cache falls back to the repository.
func (r *CachedAccountRepository) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	data, err := r.c.GetOrSet(ctx, accountCacheKey(accountID), r.ttl, func() ([]byte, error) {
		account, err := r.next.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return missingAccount, nil
		}
		return json.Marshal(account)
	})
	if err != nil {
		log.Printf("[AccountCache] Lookup of %s bypassed the cache: %v", accountID, err)
		return r.next.GetAccount(ctx, accountID)
	}

	var account *model.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("failed to decode cached account %s: %w", accountID, err)
	}
	return account, nil
}

// AccountExists is answered from the cached account.
func (r *CachedAccountRepository) AccountExists(ctx context.Context, accountID string) (bool, error) {
	account, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	return account != nil, nil
}

// CreateAccount writes through and drops the cached entry.
func (r *CachedAccountRepository) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := r.next.CreateAccount(ctx, account); err != nil {
		return err
	}
	return r.c.Delete(ctx, accountCacheKey(account.ID))
}

// FindAccountsByDisplayNamePrefix is not cached.
func (r *CachedAccountRepository) FindAccountsByDisplayNamePrefix(ctx context.Context, prefix string, limit int) ([]model.Account, error) {
	return r.next.FindAccountsByDisplayNamePrefix(ctx, prefix, limit)
}

var _ AccountRepository = (*CachedAccountRepository)(nil)
