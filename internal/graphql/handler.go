package graphql

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/transport"

	"github.com/rpattn/changetrack/internal/middleware"
	"github.com/rpattn/changetrack/internal/service"
)

// NewHandler serves the schema over GET and POST. Every request gets its own
// entity loader.
func NewHandler(svc *service.Service, defaultLocale string, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	es, err := NewExecutableSchema(NewResolver(svc, defaultLocale, logger))
	if err != nil {
		return nil, fmt.Errorf("failed to build graphql schema: %w", err)
	}

	srv := handler.New(es)
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	srv.Use(middleware.OperationLoggerExtension{Logger: logger})

	return middleware.LoaderMiddleware(svc.Store())(srv), nil
}
