package middleware

import (
	"net/http"
	"strings"

	"github.com/rpattn/changetrack/internal/auth"
)

// ActorHeader carries the acting user of a request.
const ActorHeader = "X-Actor"

// ActorMiddleware stores the request's actor in the context. The actor comes
// from the X-Actor header or, failing that, the basic auth user name.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			if user, _, ok := r.BasicAuth(); ok {
				actor = user
			}
		}
		ctx := r.Context()
		if actor != "" {
			ctx = auth.ContextWithActor(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
