// Package httpapi exposes entity CRUD, change lists, exports and the GraphQL
// endpoint over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/export"
	"github.com/rpattn/changetrack/internal/graphql"
	"github.com/rpattn/changetrack/internal/i18n"
	"github.com/rpattn/changetrack/internal/ingestion"
	"github.com/rpattn/changetrack/internal/middleware"
	"github.com/rpattn/changetrack/internal/repository"
	"github.com/rpattn/changetrack/internal/service"
)

// Options configure the HTTP surface.
type Options struct {
	AllowedOrigins []string
	Labels         *i18n.Bundle
	// DefaultLocale applies to requests that name no locale.
	DefaultLocale string
}

// API serves the HTTP endpoints.
type API struct {
	svc           *service.Service
	defaultLocale string
	logger        *slog.Logger
}

// NewHandler builds the HTTP handler with logging, actor and CORS middleware.
// GraphQL queries are served on /graphql.
func NewHandler(svc *service.Service, opts Options, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	api := &API{svc: svc, defaultLocale: opts.DefaultLocale, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /changes", api.listChanges)
	mux.Handle("GET /changes/export", export.NewHTTPHandler(svc.Reader(), svc.Store().ChangeLog(), opts.Labels, logger))
	mux.Handle("POST /import", ingestion.NewHTTPHandler(ingestion.NewService(svc, logger)))
	mux.HandleFunc("POST /entities/{entity}", api.create)
	mux.HandleFunc("GET /entities/{entity}/{key}", api.read)
	mux.HandleFunc("PATCH /entities/{entity}/{key}", api.update)
	mux.HandleFunc("DELETE /entities/{entity}/{key}", api.remove)
	if gql, err := graphql.NewHandler(svc, opts.DefaultLocale, logger); err != nil {
		logger.Error("graphql endpoint disabled", "error", err)
	} else {
		mux.Handle("/graphql", gql)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	return corsHandler.Handler(middleware.LoggingMiddleware(logger)(middleware.ActorMiddleware(mux)))
}

func (a *API) listChanges(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ChangeFilter{
		Entity:        query.Get("entity"),
		EntityKey:     query.Get("key"),
		RootEntity:    query.Get("rootEntity"),
		RootEntityKey: query.Get("rootKey"),
		Attribute:     query.Get("attribute"),
	}
	if raw := query.Get("modification"); raw != "" {
		mod, err := domain.ParseModification(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Modification = mod
	}
	var err error
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		http.Error(w, "invalid offset", http.StatusBadRequest)
		return
	}

	entries, err := a.svc.Reader().List(r.Context(), a.svc.Store().ChangeLog(), filter, a.locale(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	body, err := decodeRow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	row, err := a.svc.Create(r.Context(), entity, body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (a *API) read(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	key, err := a.parseKey(w, r, entity)
	if err != nil {
		return
	}
	withChanges, _ := strconv.ParseBool(r.URL.Query().Get("changes"))
	row, err := a.svc.Read(r.Context(), entity, key, service.ReadOptions{WithChanges: withChanges, Locale: a.locale(r)})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (a *API) update(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	key, err := a.parseKey(w, r, entity)
	if err != nil {
		return
	}
	body, err := decodeRow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	row, err := a.svc.Update(r.Context(), entity, key, body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (a *API) remove(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	key, err := a.parseKey(w, r, entity)
	if err != nil {
		return
	}
	if err := a.svc.Delete(r.Context(), entity, key); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) parseKey(w http.ResponseWriter, r *http.Request, entity string) (domain.EntityKey, error) {
	key, err := a.svc.ParseKey(entity, r.PathValue("key"))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, service.ErrUnknownEntity) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
	}
	return key, err
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnknownEntity), errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConfiguration), errors.Is(err, service.ErrInvalidPayload):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPersistence):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func (a *API) locale(r *http.Request) string {
	if l := r.URL.Query().Get("locale"); l != "" {
		return l
	}
	if l := r.Header.Get("Accept-Language"); l != "" {
		return l
	}
	return a.defaultLocale
}

func intParam(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid number")
	}
	return n, nil
}

// decodeRow reads a JSON object. Numbers become int64 when integral and
// float64 otherwise.
func decodeRow(r *http.Request) (domain.Row, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return normalizeNumbers(body).(domain.Row), nil
}

func normalizeNumbers(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		row := make(domain.Row, len(typed))
		for k, v := range typed {
			row[k] = normalizeNumbers(v)
		}
		return row
	case []any:
		for i, v := range typed {
			typed[i] = normalizeNumbers(v)
		}
		return typed
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
