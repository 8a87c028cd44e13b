package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth validates requests against the configured API key, accepted either as
// "Authorization: Bearer <key>" or in the X-API-Key header. An empty key
// disables authentication entirely; the decision is made once, not per
// request. The response never distinguishes a missing key from a wrong one.
func Auth(apiKey string) func(http.Handler) http.Handler {
	if apiKey == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if got == "" {
				got = strings.TrimSpace(r.Header.Get("X-API-Key"))
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				deny(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
