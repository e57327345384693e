package middleware

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/bidengine/internal/service"
)

// Identity headers set by the gateway in front of the engine.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Identity attaches the caller named by the identity headers to the request
// context. Requests without a user id proceed anonymously; the service
// decides which operations need one.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := service.Caller{
				UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
				Role:   service.ParseRole(r.Header.Get(HeaderUserRole)),
			}
			next.ServeHTTP(w, r.WithContext(service.WithCaller(r.Context(), c)))
		})
	}
}
