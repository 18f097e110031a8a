package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/edgeflare/crudrouter/pkg/httputil"
)

// BasicAuthConfig holds the username-password pairs for basic authentication.
type BasicAuthConfig struct {
	Credentials map[string]string
	// Realm defaults to "Restricted".
	Realm string
}

// BasicAuthCreds creates a BasicAuthConfig accepting the given username/password pairs.
func BasicAuthCreds(credentials map[string]string) *BasicAuthConfig {
	return &BasicAuthConfig{Credentials: credentials}
}

// VerifyBasicAuth is a guard admitting only requests with valid basic-auth
// credentials. The authenticated username is stored in the request context.
func VerifyBasicAuth(config *BasicAuthConfig) func(http.Handler) http.Handler {
	realm := config.Realm
	if realm == "" {
		realm = "Restricted"
	}
	challenge := `Basic realm="` + realm + `"`

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				w.Header().Set("WWW-Authenticate", challenge)
				httputil.Error(w, http.StatusUnauthorized, "Authorization header missing")
				return
			}
			if !strings.HasPrefix(authHeader, "Basic ") {
				httputil.Error(w, http.StatusUnauthorized, "Invalid authorization format")
				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "Invalid credentials format")
				return
			}

			expected, known := config.Credentials[username]
			// constant time whether or not the user exists
			match := subtle.ConstantTimeCompare([]byte(password), []byte(expected)) == 1
			if !known || !match {
				w.Header().Set("WWW-Authenticate", challenge)
				httputil.Error(w, http.StatusUnauthorized, "Invalid credentials")
				return
			}

			ctx := context.WithValue(r.Context(), httputil.BasicAuthCtxKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
