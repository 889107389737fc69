package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ignite/txmail/internal/pkg/httputil"
	"github.com/ignite/txmail/internal/repository/postgres"
)

// KeyResolver maps a raw API key to the domain it belongs to.
type KeyResolver interface {
	DomainForKey(ctx context.Context, key string) (string, error)
}

type domainKey struct{}

// WithDomain returns a context scoped to domainID.
func WithDomain(ctx context.Context, domainID string) context.Context {
	return context.WithValue(ctx, domainKey{}, domainID)
}

// DomainFrom returns the authenticated domain of the request.
func DomainFrom(ctx context.Context) string {
	id, _ := ctx.Value(domainKey{}).(string)
	return id
}

// RequireAPIKey authenticates "Authorization: Bearer <key>" and scopes the
// request to the key's domain.
func RequireAPIKey(keys KeyResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			key, ok := strings.CutPrefix(auth, "Bearer ")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				httputil.Unauthorized(w)
				return
			}
			domainID, err := keys.DomainForKey(r.Context(), key)
			if errors.Is(err, postgres.ErrUnknownKey) {
				httputil.Unauthorized(w)
				return
			}
			if err != nil {
				httputil.InternalError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithDomain(r.Context(), domainID)))
		})
	}
}
