package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/changetrack/internal/entityloader"
	"github.com/rpattn/changetrack/internal/repository"
)

type ctxKey string

const entityLoaderKey ctxKey = "entityLoader"

// LoaderMiddleware attaches a request scoped entity loader to the context so
// object ID lookups of one request share batches.
func LoaderMiddleware(store repository.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := entityloader.NewEntityLoader(store.Rows())
			ctx := context.WithValue(r.Context(), entityLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// EntityLoaderFromContext retrieves the request loader, or nil outside a
// request served through LoaderMiddleware.
func EntityLoaderFromContext(ctx context.Context) *entityloader.EntityLoader {
	if l, ok := ctx.Value(entityLoaderKey).(*entityloader.EntityLoader); ok {
		return l
	}
	return nil
}
