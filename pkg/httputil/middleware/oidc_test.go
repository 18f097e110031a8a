package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeflare/crudrouter/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// introspector is a resource server backed by a local introspection endpoint
// that knows a fixed set of tokens.
type introspector struct {
	srv *httptest.Server
}

func (i *introspector) IntrospectionURL() string { return i.srv.URL + "/introspect" }
func (i *introspector) TokenEndpoint() string    { return i.srv.URL + "/token" }
func (i *introspector) HttpClient() *http.Client { return i.srv.Client() }
func (i *introspector) AuthFn() (any, error)     { return nil, nil }

func newIntrospector(t *testing.T) *introspector {
	tokens := map[string]map[string]any{
		"reader":  {"active": true, "sub": "alice", "scope": "potatoes:read"},
		"writer":  {"active": true, "sub": "bob", "scope": "potatoes:read potatoes:write"},
		"revoked": {"active": false},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		resp, ok := tokens[r.PostForm.Get("token")]
		if !ok {
			resp = map[string]any{"active": false}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return &introspector{srv: srv}
}

func TestNewResourceServerRequiresConfig(t *testing.T) {
	_, err := NewResourceServer(context.Background(), OIDCProviderConfig{Issuer: "https://issuer.example.com"})
	assert.Error(t, err)
}

func TestVerifyOIDCToken(t *testing.T) {
	server := newIntrospector(t)

	tests := []struct {
		name           string
		authHeader     string
		opts           []OIDCOption
		expectedStatus int
		expectedBody   string
	}{
		{name: "missing header", expectedStatus: http.StatusUnauthorized, expectedBody: `{"detail":"Authorization header missing"}`},
		{name: "basic scheme", authHeader: "Basic dXNlcjpwYXNz", expectedStatus: http.StatusUnauthorized, expectedBody: `{"detail":"Invalid token format"}`},
		{name: "unknown token", authHeader: "Bearer nope", expectedStatus: http.StatusUnauthorized, expectedBody: `{"detail":"Invalid token"}`},
		{name: "revoked token", authHeader: "Bearer revoked", expectedStatus: http.StatusUnauthorized, expectedBody: `{"detail":"Invalid token"}`},
		{name: "active token", authHeader: "Bearer reader", expectedStatus: http.StatusOK, expectedBody: `{"sub":"alice"}`},
		{name: "lower-case scheme", authHeader: "bearer reader", expectedStatus: http.StatusOK, expectedBody: `{"sub":"alice"}`},
		{
			name: "missing scope", authHeader: "Bearer reader", opts: []OIDCOption{RequireScopes("potatoes:write")},
			expectedStatus: http.StatusForbidden, expectedBody: `{"detail":"Insufficient scope"}`,
		},
		{
			name: "granted scope", authHeader: "Bearer writer", opts: []OIDCOption{RequireScopes("potatoes:write")},
			expectedStatus: http.StatusOK, expectedBody: `{"sub":"bob"}`,
		},
		{name: "passthrough without token", opts: []OIDCOption{Passthrough()}, expectedStatus: http.StatusOK, expectedBody: `{"sub":""}`},
		{
			name: "passthrough still rejects bad tokens", authHeader: "Bearer nope", opts: []OIDCOption{Passthrough()},
			expectedStatus: http.StatusUnauthorized, expectedBody: `{"detail":"Invalid token"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/potatoes/1", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			VerifyOIDCToken(server, tt.opts...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sub := ""
				if user, ok := httputil.OIDCUser(r); ok {
					sub = user.Subject
				}
				httputil.JSON(w, http.StatusOK, map[string]string{"sub": sub})
			})).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.JSONEq(t, tt.expectedBody, rr.Body.String())
		})
	}
}
