package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

type ctxKey struct{}

// HashToken returns the stored form of an API token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewToken returns a fresh random API token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// Bootstrap creates username with token when the user does not exist yet.
func Bootstrap(ctx context.Context, store Store, username, token string) (*User, bool, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(token) == "" {
		return nil, false, errors.New("bootstrap user and token are required")
	}
	user, err := store.CreateUser(ctx, username, HashToken(token))
	switch {
	case err == nil:
		return user, true, nil
	case errors.Is(err, ErrConflict):
		existing, lookupErr := store.UserByTokenHash(ctx, HashToken(token))
		if lookupErr != nil {
			return nil, false, fmt.Errorf("bootstrap user %q exists with a different token", username)
		}
		return existing, false, nil
	default:
		return nil, false, err
	}
}

func userFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

// authenticate resolves the bearer token to a user, caching hits for TokenCacheTTL.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			respondError(w, http.StatusUnauthorized, errors.New("bearer token required"))
			return
		}
		hash := HashToken(raw)

		var user User
		if item := a.tokens.Get(hash); item != nil {
			user = item.Value()
		} else {
			ctx, cancel := withTimeout(r.Context())
			found, err := a.store.UserByTokenHash(ctx, hash)
			cancel()
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					respondError(w, http.StatusUnauthorized, errors.New("invalid token"))
					return
				}
				respondError(w, http.StatusInternalServerError, err)
				return
			}
			user = *found
			a.tokens.Set(hash, user, ttlcache.DefaultTTL)
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}
