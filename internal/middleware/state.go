// Package middleware provides HTTP middlewares for the local OAuth callback
// server: state verification and request logging.
package middleware

import (
	"crypto/subtle"
	"net/http"
)

// StateParam is the query parameter carrying the OAuth state.
const StateParam = "state"

// RequireState is a middleware that rejects callback requests whose state
// query parameter does not match expected.
//
// The comparison runs in constant time. Requests without a state, or with a
// foreign one, get 400 Bad Request and never reach next.
func RequireState(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get(StateParam)
			if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				http.Error(w, "invalid state", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
