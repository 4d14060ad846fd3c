package v1

import (
    "net/http"

    "github.com/google/uuid"
    "github.com/tinoosan/magnetron/internal/reqid"
)

const headerRequestID = "X-Request-ID"

// maxRequestIDLen caps honored incoming ids; longer ones are replaced.
const maxRequestIDLen = 128

// RequestID ensures every request has a correlation ID in context and headers.
// - Honors incoming X-Request-ID if present and sane, otherwise generates a UUIDv4.
// - Stores the value in request context via reqid.With.
// - Echoes the value in the response header.
func RequestID(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        id := r.Header.Get(headerRequestID)
        if id == "" || len(id) > maxRequestIDLen {
            id = uuid.NewString()
        }
        ctx := reqid.With(r.Context(), id)
        w.Header().Set(headerRequestID, id)
        next.ServeHTTP(w, r.WithContext(ctx))
    })
}
