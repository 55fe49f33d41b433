package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"wex-mcp-api/pkg/apierror"
	"wex-mcp-api/pkg/response"
)

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// APIKeys lists accepted keys. An empty list disables the check.
	APIKeys []string

	// PublicPaths are served without a key. Entries ending in "/" match as prefixes.
	PublicPaths []string
}

// NewAuthMiddleware creates an API key middleware. The key is read from
// X-API-Key or an "Authorization: Bearer" header.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(cfg.APIKeys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path, cfg.PublicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					apiKey = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if apiKey == "" {
				response.Error(w, apierror.Unauthorized("Authentication required. Use the X-API-Key header."))
				return
			}
			if !isValidKey(apiKey, cfg.APIKeys) {
				response.Error(w, apierror.Unauthorized("Invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireKey guards a route group with a single key sent in header.
func RequireKey(header, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				response.Error(w, apierror.Forbidden("admin access is disabled"))
				return
			}
			if !isValidKey(r.Header.Get(header), []string{key}) {
				response.Error(w, apierror.Unauthorized("Invalid "+header))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

// isValidKey checks if the provided key is in the valid keys list.
func isValidKey(key string, validKeys []string) bool {
	if key == "" {
		return false
	}
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
