package httputil

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

// Middleware defines a function type that represents a middleware. Middleware functions wrap an
// http.Handler to modify or enhance its behavior.
type Middleware func(http.Handler) http.Handler

// RouterOptions is a function type that represents options to configure a Router.
type RouterOptions func(*Router)

// Router is the main structure for handling HTTP routing and middleware.
// Middleware added to the root router wraps the whole mux, so it also sees
// unmatched requests and the mux's automatic 404/405 responses. Middleware added
// to a group wraps only the group's routes.
type Router struct {
	mux        *http.ServeMux
	server     *http.Server
	prefix     string
	global     *[]Middleware
	middleware []Middleware
	group      bool
	patterns   *[]string
	mu         *sync.RWMutex
}

// NewRouter creates a new instance of Router with the given options.
func NewRouter(opts ...RouterOptions) *Router {
	r := &Router{
		mux: http.NewServeMux(),
		server: &http.Server{
			ReadHeaderTimeout: 10 * time.Second,
		},
		global:   &[]Middleware{},
		patterns: &[]string{},
		mu:       &sync.RWMutex{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithServerOptions returns a RouterOptions function that sets custom http.Server options.
func WithServerOptions(opts ...func(*http.Server)) RouterOptions {
	return func(r *Router) {
		for _, opt := range opts {
			opt(r.server)
		}
	}
}

// WithPrefix mounts every route of the router under prefix, eg "/api/v1".
func WithPrefix(prefix string) RouterOptions {
	return func(r *Router) {
		r.prefix = strings.TrimSuffix(prefix, "/")
	}
}

// Use adds one or more middleware to the router. At least one middleware must be provided.
// Middleware functions are applied in the order they are added.
func (r *Router) Use(mw Middleware, additional ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.group {
		*r.global = append(*r.global, mw)
		*r.global = append(*r.global, additional...)
		return
	}
	r.middleware = append(r.middleware, mw)
	r.middleware = append(r.middleware, additional...)
}

// Group creates a new sub-router with a specified prefix. The sub-router inherits the group
// middleware of its parent; root middleware already applies to every request.
func (r *Router) Group(prefix string) *Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Router{
		mux:        r.mux,
		middleware: slices.Clone(r.middleware),
		server:     r.server,
		prefix:     r.prefix + prefix,
		global:     r.global,
		group:      true,
		patterns:   r.patterns,
		mu:         r.mu,
	}
}

// Handle registers an HTTP handler for a method and pattern as introduced in
// [Routing Enhancements for Go 1.22](https://go.dev/blog/routing-enhancements).
// The handler `METHOD /pattern` on a route group with a /prefix resolves to `METHOD /prefix/pattern`.
// Like http.ServeMux, it panics on a malformed or conflicting pattern.
func (r *Router) Handle(methodPattern string, handler http.Handler) {
	method, pattern, ok := strings.Cut(methodPattern, " ")
	if !ok || method == "" || pattern == "" {
		panic(fmt.Sprintf("httputil: invalid method pattern %q", methodPattern))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// middleware added to a group applies to its routes only
	finalHandler := handler
	for i := len(r.middleware) - 1; i >= 0; i-- {
		finalHandler = r.middleware[i](finalHandler)
	}
	fullPattern := fmt.Sprintf("%s %s%s", method, r.prefix, pattern)

	r.mux.Handle(fullPattern, finalHandler)
	*r.patterns = append(*r.patterns, fullPattern)
}

// Routes returns the registered `METHOD /pattern` strings in registration order.
func (r *Router) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(*r.patterns)
}

// ServeHTTP dispatches the request through the root middleware and the router's mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.applyMiddleware().ServeHTTP(w, req)
}

// ListenAndServe starts the HTTP server on addr.
func (r *Router) ListenAndServe(addr string) error {
	r.server.Addr = addr
	r.server.Handler = r.applyMiddleware()
	return r.server.ListenAndServe()
}

// applyMiddleware wraps the mux with the root middleware.
func (r *Router) applyMiddleware() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var handler http.Handler = r.mux
	for i := len(*r.global) - 1; i >= 0; i-- {
		handler = (*r.global)[i](handler)
	}
	return handler
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}
