// ABOUTME: HTTP middleware that authenticates requests before they reach handlers
// ABOUTME: Attaches the resolved identity to the request context or answers 401

package auth

import (
	"net/http"
)

// RequireIdentity rejects requests that do not authenticate and attaches the
// identity to the context of those that do. onReject, if non-nil, is called
// for every rejection.
func RequireIdentity(a *Authenticator, onReject func(*http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r)
			if err != nil {
				if onReject != nil {
					onReject(r, err)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthenticated"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
