// Package middleware wraps the trading API with authentication, CORS,
// request logging, and distributed rate limiting. The API is read-only;
// the middleware is tuned for operators polling a headless bot, not for a
// general web application.
package middleware

import "net/http"

// deny writes a JSON error without pulling in the handler package.
func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
