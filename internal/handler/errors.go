package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"wex-mcp-api/internal/friends"
	"wex-mcp-api/internal/profile"
	"wex-mcp-api/pkg/apierror"
)

const maxBodySize = 1 << 20

// toAPIError maps domain errors to client errors. subject is the id the
// failing operation targeted, if any.
func toAPIError(err error, subject string) *apierror.Error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var out *apierror.Error
	switch {
	case errors.Is(err, profile.ErrItemNotFound):
		out = apierror.ItemNotFound(subject)
	case errors.Is(err, profile.ErrInvalidItem):
		out = apierror.BadRequest(err.Error())
	case errors.Is(err, friends.ErrAccountNotFound):
		out = apierror.AccountNotFound(subject)
	case errors.Is(err, friends.ErrDuplicateFriendship):
		out = apierror.DuplicateFriendship(subject)
	case errors.Is(err, friends.ErrRequestAlreadySent):
		out = apierror.FriendRequestAlreadySent(subject)
	case errors.Is(err, friends.ErrCannotFriend):
		out = apierror.CannotFriendDueToSettings(subject)
	case errors.Is(err, friends.ErrFriendshipNotFound):
		out = apierror.FriendshipNotFound(subject)
	case errors.Is(err, friends.ErrFriendUnavailable):
		out = apierror.FriendUnavailable(subject)
	case errors.Is(err, friends.ErrSelfRelation), errors.Is(err, friends.ErrInvalidSettings):
		return apierror.BadRequest(err.Error())
	default:
		log.Printf("[Handler] Unexpected error: %v", err)
		return apierror.InternalError("")
	}
	if subject == "" {
		out.Message = err.Error()
	}
	return out
}

// decodeBody unmarshals the request body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return apierror.BadRequest("failed to read request body")
	}
	defer r.Body.Close()

	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apierror.BadRequest("invalid JSON")
	}
	return nil
}
