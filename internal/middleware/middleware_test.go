package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	auth := NewAuthMiddleware(AuthConfig{
		APIKeys:     []string{"k1", "k2"},
		PublicPaths: []string{"/api/v1/health", "/public/"},
	})(okHandler)

	tests := []struct {
		name   string
		path   string
		header string
		value  string
		status int
	}{
		{"missing key", "/wex/api", "", "", http.StatusUnauthorized},
		{"wrong key", "/wex/api", "X-API-Key", "nope", http.StatusUnauthorized},
		{"api key header", "/wex/api", "X-API-Key", "k2", http.StatusOK},
		{"bearer token", "/wex/api", "Authorization", "Bearer k1", http.StatusOK},
		{"basic auth is ignored", "/wex/api", "Authorization", "Basic k1", http.StatusUnauthorized},
		{"exact public path", "/api/v1/health", "", "", http.StatusOK},
		{"public prefix", "/public/anything", "", "", http.StatusOK},
		{"prefix needs trailing slash", "/api/v1/healthz", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.status, serve(auth, req).Code)
		})
	}
}

func TestAuthMiddlewareWithoutKeys(t *testing.T) {
	auth := NewAuthMiddleware(AuthConfig{})(okHandler)
	rec := serve(auth, httptest.NewRequest(http.MethodGet, "/wex/api", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireKey(t *testing.T) {
	req := func(key string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
		if key != "" {
			r.Header.Set("X-Admin-Key", key)
		}
		return r
	}

	disabled := RequireKey("X-Admin-Key", "")(okHandler)
	assert.Equal(t, http.StatusForbidden, serve(disabled, req("anything")).Code)

	guarded := RequireKey("X-Admin-Key", "secret")(okHandler)
	assert.Equal(t, http.StatusUnauthorized, serve(guarded, req("")).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(guarded, req("wrong")).Code)
	assert.Equal(t, http.StatusOK, serve(guarded, req("secret")).Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-id")
	rec = serve(h, req)
	assert.Equal(t, "client-id", seen)
	assert.Equal(t, "client-id", rec.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	h := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/wex/api", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}
