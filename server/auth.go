package server

import (
	"context"
	"crypto/subtle"
	"net/http"
)

// AccessTokenHeader carries the caller's access token. Authorization and
// X-Api-Key are reserved for the model provider key.
const AccessTokenHeader = "X-Access-Token"

type userKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the authenticated user of a request.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// authenticate binds every API request to a user. With access tokens
// configured the token selects the user and requests without a valid token
// are rejected; otherwise all requests belong to defaultUser.
func authenticate(tokens map[string]string, defaultUser string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(tokens) == 0 {
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), defaultUser)))
				return
			}

			token := r.Header.Get(AccessTokenHeader)
			if token == "" {
				respondUnauthorized(w, "access token required, set the "+AccessTokenHeader+" header")
				return
			}

			userID, ok := lookupToken(tokens, token)
			if !ok {
				respondUnauthorized(w, "invalid access token")
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
		})
	}
}

func lookupToken(tokens map[string]string, candidate string) (string, bool) {
	var (
		userID string
		found  bool
	)
	for token, user := range tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			userID, found = user, true
		}
	}
	return userID, found
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Token realm="agentstream"`)
	respondError(w, http.StatusUnauthorized, message)
}
