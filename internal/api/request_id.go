package api

import (
	"context"
	"net/http"

	"github.com/dunamismax/layerflow/internal/id"
)

const headerRequestID = "X-Request-ID"

type requestIDKey struct{}

// withRequestID accepts a well-formed caller id or mints one, and echoes it
// on the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if !id.Valid(requestID) {
			requestID = id.New()
		}
		w.Header().Set(headerRequestID, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}
