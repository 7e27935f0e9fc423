package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const bearerPrefix = "Bearer "

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireToken rejects requests without the configured bearer token.
// When no token is configured every request passes.
func (s *server) requireToken(next http.Handler) http.Handler {
	auth := &s.cfg.API.Auth
	if !auth.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) ||
			!s.tokenMatches(header[len(bearerPrefix):]) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{"unauthorized"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// tokenMatches compares against the plain token first, then the bcrypt
// hash.
func (s *server) tokenMatches(token string) bool {
	auth := &s.cfg.API.Auth

	if auth.Token != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(auth.Token)) == 1 {
		return true
	}

	if auth.TokenHash != "" &&
		bcrypt.CompareHashAndPassword([]byte(auth.TokenHash), []byte(token)) == nil {
		return true
	}

	return false
}
