package handler

import (
	"context"
	"net/http"

	"wex-mcp-api/internal/friends"
	"wex-mcp-api/internal/model"
	"wex-mcp-api/pkg/apierror"
	"wex-mcp-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// FriendsHandler serves the friends service endpoints.
type FriendsHandler struct {
	registry Registry
	friends  *friends.Service
	accounts AccountChecker
}

// NewFriendsHandler creates a new friends handler.
func NewFriendsHandler(registry Registry, friendService *friends.Service, accounts AccountChecker) *FriendsHandler {
	return &FriendsHandler{
		registry: registry,
		friends:  friendService,
		accounts: accounts,
	}
}

// owner returns the accountId path parameter after checking the account exists.
func (h *FriendsHandler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := chi.URLParam(r, "accountId")
	if accountID == "" {
		response.EpicError(w, apierror.BadRequest("accountId is required"))
		return "", false
	}
	exists, err := h.accounts.AccountExists(r.Context(), accountID)
	if err != nil {
		response.EpicError(w, toAPIError(err, accountID))
		return "", false
	}
	if !exists {
		response.EpicError(w, apierror.AccountNotFound(accountID))
		return "", false
	}
	return accountID, true
}

func (h *FriendsHandler) summary(ctx context.Context, accountID string) (*model.FriendGraph, error) {
	unlock := h.registry.Lock(accountID)
	defer unlock()
	return h.friends.Summary(ctx, accountID)
}

// Summary handles GET /friends/api/v1/{accountId}/summary
func (h *FriendsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	g, err := h.summary(r.Context(), accountID)
	if err != nil {
		response.EpicError(w, toAPIError(err, accountID))
		return
	}
	response.Raw(w, http.StatusOK, g)
}

// List handles GET on the per-list views of the summary.
func (h *FriendsHandler) List(list string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := h.owner(w, r)
		if !ok {
			return
		}
		g, err := h.summary(r.Context(), accountID)
		if err != nil {
			response.EpicError(w, toAPIError(err, accountID))
			return
		}

		var out interface{}
		switch list {
		case "friends":
			out = g.Friends
		case "incoming":
			out = g.Incoming
		case "outgoing":
			out = g.Outgoing
		case "suggested":
			out = g.Suggested
		case "blocklist":
			out = g.Blocklist
		default:
			response.EpicError(w, apierror.NotFound(""))
			return
		}
		response.Raw(w, http.StatusOK, out)
	}
}

// RemoveAll handles DELETE /friends/api/v1/{accountId}/friends
func (h *FriendsHandler) RemoveAll(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	g, err := h.summary(ctx, accountID)
	if err != nil {
		response.EpicError(w, toAPIError(err, accountID))
		return
	}

	for _, rel := range g.Friends {
		if err := h.remove(ctx, accountID, rel.AccountID); err != nil {
			response.EpicError(w, toAPIError(err, rel.AccountID))
			return
		}
	}
	g, err = h.summary(ctx, accountID)
	if err != nil {
		response.EpicError(w, toAPIError(err, accountID))
		return
	}
	response.Raw(w, http.StatusOK, g.Friends)
}

func (h *FriendsHandler) remove(ctx context.Context, accountID, friendID string) error {
	unlock := h.registry.Lock(accountID, friendID)
	defer unlock()
	_, err := h.friends.RemoveFriend(ctx, accountID, friendID)
	return err
}

// SendRequest handles POST /friends/api/v1/{accountId}/friends/{friendId}
func (h *FriendsHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	friendID := chi.URLParam(r, "friendId")

	unlock := h.registry.Lock(accountID, friendID)
	err := h.friends.SendRequest(r.Context(), accountID, friendID)
	unlock()
	if err != nil {
		response.EpicError(w, toAPIError(err, friendID))
		return
	}
	response.NoContent(w)
}

// RemoveFriend handles DELETE /friends/api/v1/{accountId}/friends/{friendId}
func (h *FriendsHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	friendID := chi.URLParam(r, "friendId")
	if err := h.remove(r.Context(), accountID, friendID); err != nil {
		response.EpicError(w, toAPIError(err, friendID))
		return
	}
	response.NoContent(w)
}

// AcceptBulk handles POST /friends/api/v1/{accountId}/incoming/accept?targetIds=
func (h *FriendsHandler) AcceptBulk(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	for _, friendID := range r.URL.Query()["targetIds"] {
		unlock := h.registry.Lock(accountID, friendID)
		err := h.friends.Accept(ctx, accountID, friendID)
		unlock()
		if err != nil {
			response.EpicError(w, toAPIError(err, friendID))
			return
		}
	}
	response.NoContent(w)
}

// Block handles POST /friends/api/v1/{accountId}/blocklist/{friendId}
func (h *FriendsHandler) Block(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	friendID := chi.URLParam(r, "friendId")

	unlock := h.registry.Lock(accountID, friendID)
	_, err := h.friends.Block(r.Context(), accountID, friendID)
	unlock()
	if err != nil {
		response.EpicError(w, toAPIError(err, friendID))
		return
	}
	response.NoContent(w)
}

// Unblock handles DELETE /friends/api/v1/{accountId}/blocklist/{friendId}
func (h *FriendsHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	friendID := chi.URLParam(r, "friendId")

	unlock := h.registry.Lock(accountID)
	err := h.friends.Unblock(r.Context(), accountID, friendID)
	unlock()
	if err != nil {
		response.EpicError(w, toAPIError(err, friendID))
		return
	}
	response.NoContent(w)
}

// GetSettings handles GET /friends/api/v1/{accountId}/settings
func (h *FriendsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	g, err := h.summary(r.Context(), accountID)
	if err != nil {
		response.EpicError(w, toAPIError(err, accountID))
		return
	}
	response.Raw(w, http.StatusOK, g.Settings)
}

// UpdateSettings handles PUT and PATCH /friends/api/v1/{accountId}/settings
func (h *FriendsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var patch friends.SettingsPatch
	if err := decodeBody(r, &patch); err != nil {
		response.EpicError(w, err)
		return
	}

	unlock := h.registry.Lock(accountID)
	settings, err := h.friends.UpdateSettings(r.Context(), accountID, patch)
	unlock()
	if err != nil {
		response.EpicError(w, toAPIError(err, accountID))
		return
	}
	response.Raw(w, http.StatusOK, settings)
}

// LegacySummary handles GET /friends/api/public/friends/{accountId}
func (h *FriendsHandler) LegacySummary(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	unlock := h.registry.Lock(accountID)
	list, err := h.friends.LegacySummary(r.Context(), accountID)
	unlock()
	if err != nil {
		response.EpicError(w, toAPIError(err, accountID))
		return
	}
	response.Raw(w, http.StatusOK, list)
}

// LegacyBlocklist handles GET /friends/api/public/blocklist/{accountId}
func (h *FriendsHandler) LegacyBlocklist(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	g, err := h.summary(r.Context(), accountID)
	if err != nil {
		response.EpicError(w, toAPIError(err, accountID))
		return
	}
	response.Raw(w, http.StatusOK, map[string]interface{}{"blockedUsers": g.Blocklist})
}

// ClearBlocklist handles DELETE /friends/api/public/blocklist/{accountId}
func (h *FriendsHandler) ClearBlocklist(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.owner(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	unlock := h.registry.Lock(accountID)
	defer unlock()
	g, err := h.friends.Summary(ctx, accountID)
	if err != nil {
		response.EpicError(w, toAPIError(err, accountID))
		return
	}
	for _, b := range g.Blocklist {
		if err := h.friends.Unblock(ctx, accountID, b.AccountID); err != nil {
			response.EpicError(w, toAPIError(err, b.AccountID))
			return
		}
	}
	response.Raw(w, http.StatusOK, map[string]interface{}{"blockedUsers": []model.BlockedAccount{}})
}
