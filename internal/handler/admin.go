package handler

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"wex-mcp-api/internal/model"
	"wex-mcp-api/internal/service"
	"wex-mcp-api/pkg/apierror"
	"wex-mcp-api/pkg/response"
	"wex-mcp-api/pkg/uid"
)

// Buffer is the admin view of the write-behind buffer.
type Buffer interface {
	Count(ctx context.Context) (int64, error)
	Flush(ctx context.Context) error
}

// StoreStats reports document store statistics.
type StoreStats interface {
	GetStats(ctx context.Context) (*model.StoreStats, error)
}

// AccountAdmin manages the account directory.
type AccountAdmin interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	FindAccountsByDisplayNamePrefix(ctx context.Context, prefix string, limit int) ([]model.Account, error)
}

// RegistryAdmin exposes registry bookkeeping.
type RegistryAdmin interface {
	Stats() service.RegistryStats
}

// Sweeper runs an eviction sweep on demand.
type Sweeper interface {
	RunNow() service.SweepResult
}

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	registry  RegistryAdmin
	sweeper   Sweeper
	buffer    Buffer
	store     StoreStats
	accounts  AccountAdmin
	storeType string
	startTime time.Time
}

// AdminConfig holds the dependencies of the admin handler. Buffer may be nil.
type AdminConfig struct {
	Registry  RegistryAdmin
	Sweeper   Sweeper
	Buffer    Buffer
	Store     StoreStats
	Accounts  AccountAdmin
	StoreType string
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	return &AdminHandler{
		registry:  cfg.Registry,
		sweeper:   cfg.Sweeper,
		buffer:    cfg.Buffer,
		store:     cfg.Store,
		accounts:  cfg.Accounts,
		storeType: cfg.StoreType,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.storeType

	// Memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if h.registry != nil {
		stats["registry"] = h.registry.Stats()
	}

	if h.buffer != nil {
		count, err := h.buffer.Count(ctx)
		if err == nil {
			stats["redis_buffer"] = map[string]interface{}{
				"pending_documents": count,
				"status":            "connected",
			}
		} else {
			stats["redis_buffer"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	} else {
		stats["redis_buffer"] = map[string]interface{}{
			"status": "not_configured",
		}
	}

	if h.store != nil {
		storeStats, err := h.store.GetStats(ctx)
		if err == nil {
			stats["store"] = storeStats
		} else {
			stats["store"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// Sweep handles POST /api/v1/admin/registry/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		response.Error(w, apierror.ServiceUnavailable("eviction is not running"))
		return
	}
	response.OK(w, h.sweeper.RunNow())
}

// FlushBuffer handles POST /api/v1/admin/buffer/flush
func (h *AdminHandler) FlushBuffer(w http.ResponseWriter, r *http.Request) {
	if h.buffer == nil {
		response.Error(w, apierror.ServiceUnavailable("redis buffer is not configured"))
		return
	}
	if err := h.buffer.Flush(r.Context()); err != nil {
		response.Error(w, apierror.InternalError(err.Error()))
		return
	}
	response.OK(w, map[string]string{"status": "flushed"})
}

// CreateAccountRequest is the body of POST /api/v1/admin/accounts.
type CreateAccountRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// CreateAccount handles POST /api/v1/admin/accounts
func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeBody(r, &req); err != nil {
		response.Error(w, err)
		return
	}

	req.DisplayName = strings.TrimSpace(req.DisplayName)
	var details []apierror.FieldError
	if req.DisplayName == "" || len(req.DisplayName) > 32 {
		details = append(details, apierror.FieldError{Field: "displayName", Message: "must be 1-32 characters"})
	}
	if req.ID == "" {
		req.ID = uid.NewHex()
	} else if !uid.IsValid(req.ID) {
		details = append(details, apierror.FieldError{Field: "id", Message: "must be a UUID, with or without dashes"})
	}
	if len(details) > 0 {
		response.Error(w, apierror.ValidationError("invalid account", details...))
		return
	}

	account := &model.Account{ID: req.ID, DisplayName: req.DisplayName, CreatedAt: time.Now().UTC()}
	if err := h.accounts.CreateAccount(r.Context(), account); err != nil {
		response.Error(w, apierror.InternalError(err.Error()))
		return
	}
	response.Created(w, account)
}

// SearchAccounts handles GET /api/v1/admin/accounts?prefix=&limit=
func (h *AdminHandler) SearchAccounts(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	accounts, err := h.accounts.FindAccountsByDisplayNamePrefix(r.Context(), prefix, limit)
	if err != nil {
		response.Error(w, apierror.InternalError(err.Error()))
		return
	}
	response.JSONWithMeta(w, http.StatusOK, accounts, 1, limit, int64(len(accounts)))
}
