package middleware

import (
	"context"
	"net/http"

	"github.com/edgeflare/crudrouter/pkg/httputil"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

// maxRequestIDLen bounds inbound request IDs echoed back to clients.
const maxRequestIDLen = 128

// RequestID assigns each request an ID, stores it in the request context and
// echoes it in the X-Request-Id response header. An ID already in the context or
// sent by the client is kept; otherwise a random UUID is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := httputil.RequestID(r)
		if reqID == "" {
			if in := r.Header.Get(RequestIDHeader); in != "" && len(in) <= maxRequestIDLen {
				reqID = in
			} else {
				reqID = uuid.NewString()
			}
		}

		ctx := context.WithValue(r.Context(), httputil.RequestIDCtxKey, reqID)
		w.Header().Set(RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
