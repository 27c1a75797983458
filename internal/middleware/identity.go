package middleware

import (
	"net/http"

	"meshbridge/internal/service"
)

// UserIDHeader names the local user a request acts for.
const UserIDHeader = "X-User-ID"

// IdentityMiddleware puts the caller's user ID on the request context, where
// the messaging service's sender resolver finds it. With verbose set, message
// logs for the request include content and unmasked IDs.
func IdentityMiddleware(verbose bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if userID := r.Header.Get(UserIDHeader); userID != "" {
				ctx = service.WithSenderID(ctx, userID)
			}
			if verbose {
				ctx = service.WithVerbose(ctx, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
