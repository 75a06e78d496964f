// Package auth resolves the DAV principal for incoming requests.
//
// CalDAV clients authenticate with HTTP Basic using a per-client app
// password (bcrypt-hashed at rest). Browser login flows are a separate
// concern and not part of this server.
package auth

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/taskcal-dev/taskcal/internal/store"
)

// Service authenticates DAV requests against the user store.
type Service struct {
	store *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// RequireDAVAuth resolves Basic credentials to a user and stores it in the
// request context. The username part accepts either the account username or
// email; the password is checked against the user's active app passwords.
func (s *Service) RequireDAVAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, secret, ok := r.BasicAuth()
		if !ok {
			unauthorized(w)
			return
		}

		user, err := s.store.Users.GetByPrincipal(r.Context(), principal)
		if err != nil {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		if user == nil || !s.verifyAppPassword(r, user.ID, secret) {
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (s *Service) verifyAppPassword(r *http.Request, userID int64, secret string) bool {
	passwords, err := s.store.AppPasswords.ListActiveByUser(r.Context(), userID)
	if err != nil {
		return false
	}
	for _, pw := range passwords {
		if bcrypt.CompareHashAndPassword([]byte(pw.SecretHash), []byte(secret)) == nil {
			return true
		}
	}
	return false
}

// HashAppPassword hashes a freshly minted app password for storage.
func HashAppPassword(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="taskcal"`)
	http.Error(w, "authentication required", http.StatusUnauthorized)
}
