package auth

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// HashToken produces the value stored as admin_token_hash.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// RequireToken wraps a handler with a bearer token check against a bcrypt hash.
// An empty hash leaves the handler unprotected.
func RequireToken(hash string, next http.HandlerFunc) http.HandlerFunc {
	if hash == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(token))) != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next(w, r)
	}
}
