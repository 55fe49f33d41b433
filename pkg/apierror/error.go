package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes shared with game clients.
const (
	CodeDuplicateFriendship       = "errors.com.epicgames.friends.duplicate_friendship"
	CodeFriendRequestAlreadySent  = "errors.com.epicgames.friends.friend_request_already_sent"
	CodeCannotFriendDueToSettings = "errors.com.epicgames.friends.cannot_friend_due_to_target_settings"
	CodeFriendshipNotFound        = "errors.com.epicgames.friends.friendship_not_found"
	CodeFriendUnavailable         = "errors.com.epicgames.world_explorers.friend_unavailable"
	CodeInvalidProfileID          = "errors.com.epicgames.modules.profile.invalid_profile_id_param"
	CodeOperationNotFound         = "errors.com.epicgames.modules.profile.operation_not_found"
	CodeProfileNotFound           = "errors.com.epicgames.modules.profile.profile_not_found"
	CodeItemNotFound              = "errors.com.epicgames.world_explorers.not_found"
	CodeAccountNotFound           = "errors.com.epicgames.account.account_not_found"
	CodeNotImplemented            = "errors.com.epicgames.not_implemented"
	CodeValidationFailed          = "errors.com.epicgames.validation.validation_failed"
	CodeServerError               = "errors.com.epicgames.common.server_error"
)

const (
	serviceWex     = "WEX"
	serviceAccount = "com.epicgames.account.public"
)

// Error represents a structured API error response.
type Error struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`

	// Fields used by the game-client error shape.
	NumericCode int      `json:"-"`
	MessageVars []string `json:"-"`
	Service     string   `json:"-"`
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// WithDetails adds field-level error details.
func (e *Error) WithDetails(details ...FieldError) *Error {
	e.Details = details
	return e
}

// ToJSON converts the error to JSON bytes.
func (e *Error) ToJSON() []byte {
	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}

	if len(e.Details) > 0 {
		response["error"].(map[string]interface{})["details"] = e.Details
	}

	data, _ := json.Marshal(response)
	return data
}

// EpicJSON renders the error in the shape game clients parse.
func (e *Error) EpicJSON() []byte {
	vars := e.MessageVars
	if vars == nil {
		vars = []string{}
	}
	service := e.Service
	if service == "" {
		service = serviceWex
	}
	code := e.Code
	if e.NumericCode == 0 && e.Service == "" {
		switch e.StatusCode {
		case http.StatusBadRequest:
			code = CodeValidationFailed
		case http.StatusInternalServerError, http.StatusServiceUnavailable:
			code = CodeServerError
		}
	}

	data, _ := json.Marshal(map[string]interface{}{
		"errorCode":          code,
		"errorMessage":       e.Message,
		"messageVars":        vars,
		"numericErrorCode":   e.NumericCode,
		"originatingService": service,
		"intent":             "prod",
	})
	return data
}

func wexError(status int, code, message string, numeric int, vars ...string) *Error {
	return &Error{
		StatusCode:  status,
		Code:        code,
		Message:     message,
		NumericCode: numeric,
		MessageVars: vars,
		Service:     serviceWex,
	}
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
	}
}

// ValidationError creates a 400 error with validation details.
func ValidationError(message string, details ...FieldError) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
		Message:    message,
		Details:    details,
	}
}

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return &Error{
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// Forbidden creates a 403 Forbidden error.
func Forbidden(message string) *Error {
	if message == "" {
		message = "Access denied"
	}
	return &Error{
		StatusCode: http.StatusForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
	}
}

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return &Error{
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    message,
	}
}

// Conflict creates a 409 Conflict error.
func Conflict(message string) *Error {
	return &Error{
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
	}
}

// ServiceUnavailable creates a 503 Service Unavailable error.
func ServiceUnavailable(message string) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    message,
	}
}

// AccountNotFound creates a 404 error for an unknown account id.
func AccountNotFound(accountID string) *Error {
	e := wexError(http.StatusNotFound, CodeAccountNotFound,
		fmt.Sprintf("Sorry, we couldn't find an account for %s", accountID), 18007, accountID)
	e.Service = serviceAccount
	return e
}

// ItemNotFound creates an error for an unknown item id.
func ItemNotFound(itemID string) *Error {
	return wexError(http.StatusNotFound, CodeItemNotFound,
		fmt.Sprintf("Could not find item %s", itemID), 0, itemID)
}

// InvalidProfileID creates an error for an unknown profile id parameter.
func InvalidProfileID(profileID string) *Error {
	return wexError(http.StatusBadRequest, CodeInvalidProfileID,
		fmt.Sprintf("Unable to find template configuration for profile %s", profileID), 12806, profileID)
}

// ProfileNotFound creates an error for a profile that cannot be loaded.
func ProfileNotFound(accountID string) *Error {
	return wexError(http.StatusNotFound, CodeProfileNotFound,
		fmt.Sprintf("Unable to find profile for account %s", accountID), 18007, accountID)
}

// OperationNotFound creates an error for an unknown profile command.
func OperationNotFound(command string) *Error {
	return wexError(http.StatusNotFound, CodeOperationNotFound,
		fmt.Sprintf("Operation %s not found", command), 12813, command)
}

// NotImplemented creates a 501 error for commands that are not supported.
func NotImplemented(message string) *Error {
	if message == "" {
		message = "Sorry, the resource you were trying to access is not implemented"
	}
	return wexError(http.StatusNotImplemented, CodeNotImplemented, message, 1001)
}

// DuplicateFriendship creates an error for a relation that already exists.
func DuplicateFriendship(friendID string) *Error {
	return wexError(http.StatusConflict, CodeDuplicateFriendship,
		fmt.Sprintf("Friendship with %s already exists", friendID), 14014, friendID)
}

// FriendRequestAlreadySent creates an error for a repeated outgoing request.
func FriendRequestAlreadySent(friendID string) *Error {
	return wexError(http.StatusConflict, CodeFriendRequestAlreadySent,
		fmt.Sprintf("Friendship request has already been sent to %s", friendID), 14014, friendID)
}

// CannotFriendDueToSettings creates an error for a target that refuses requests.
func CannotFriendDueToSettings(friendID string) *Error {
	return wexError(http.StatusForbidden, CodeCannotFriendDueToSettings,
		fmt.Sprintf("Could not send friend request to %s due to their settings", friendID), 14002, friendID)
}

// FriendshipNotFound creates an error for a missing relation.
func FriendshipNotFound(friendID string) *Error {
	return wexError(http.StatusNotFound, CodeFriendshipNotFound,
		fmt.Sprintf("Friendship with %s does not exist", friendID), 14004, friendID)
}

// FriendUnavailable creates a 410 error for a legacy friend without an account here.
func FriendUnavailable(friendID string) *Error {
	return wexError(http.StatusGone, CodeFriendUnavailable,
		"Unfortunately, this friend has not imported their saved account to this server", 0, friendID)
}
