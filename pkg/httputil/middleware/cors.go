package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSOptions defines configuration for CORS.
type CORSOptions struct {
	// AllowedOrigins lists the origins allowed to call the API; "*" allows any.
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	// MaxAge is how long, in seconds, a preflight response may be cached. 0 omits the header.
	MaxAge int
}

// DefaultCORSOptions returns CORS options allowing any origin to call the generated endpoints.
func DefaultCORSOptions() *CORSOptions {
	return &CORSOptions{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Accept", "Origin", "X-Request-Id"},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         600,
	}
}

// CORSWithOptions creates a CORS middleware with the provided configuration.
// If options is nil, DefaultCORSOptions is used. Requests whose Origin is not
// allowed get no CORS headers. Preflight requests are answered with 204.
func CORSWithOptions(options *CORSOptions) func(http.Handler) http.Handler {
	if options == nil {
		options = DefaultCORSOptions()
	}
	anyOrigin := slices.Contains(options.AllowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && (anyOrigin || slices.Contains(options.AllowedOrigins, origin))

			if allowed {
				h := w.Header()
				h.Add("Vary", "Origin")
				if anyOrigin && !options.AllowCredentials {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
				}
				if len(options.AllowedMethods) > 0 {
					h.Set("Access-Control-Allow-Methods", strings.Join(options.AllowedMethods, ","))
				}
				if len(options.AllowedHeaders) > 0 {
					h.Set("Access-Control-Allow-Headers", strings.Join(options.AllowedHeaders, ","))
				}
				if len(options.ExposedHeaders) > 0 {
					h.Set("Access-Control-Expose-Headers", strings.Join(options.ExposedHeaders, ","))
				}
				if options.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if options.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(options.MaxAge))
				}
			}

			// Handle preflight request
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
