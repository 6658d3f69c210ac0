package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rpattn/changetrack/internal/display"
	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/entityloader"
	"github.com/rpattn/changetrack/internal/middleware"
	"github.com/rpattn/changetrack/internal/registry"
	"github.com/rpattn/changetrack/internal/repository"
	"github.com/rpattn/changetrack/internal/service"
)

// Resolver answers the change tracking queries from the service's registry,
// store and change reader.
type Resolver struct {
	svc           *service.Service
	defaultLocale string
	logger        *slog.Logger
}

// NewResolver creates a resolver. defaultLocale applies to queries that name
// no locale.
func NewResolver(svc *service.Service, defaultLocale string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{svc: svc, defaultLocale: defaultLocale, logger: logger}
}

// Instance is one tracked row exposed with its change list.
type Instance struct {
	Entity string
	Key    domain.EntityKey
	Row    domain.Row
	Locale string
}

// TrackedEntities lists the change tracked entities in model order.
func (r *Resolver) TrackedEntities(ctx context.Context) []*registry.TrackedEntity {
	return r.svc.Registry().Entities()
}

// Changes lists the change records matching filter.
func (r *Resolver) Changes(ctx context.Context, filter domain.ChangeFilter, locale string) ([]domain.DisplayChangeEntry, error) {
	entries, err := r.svc.Reader().List(ctx, r.svc.Store().ChangeLog(), filter, r.locale(locale))
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	return entries, nil
}

// Instance reads one tracked row. A missing row resolves to nil.
func (r *Resolver) Instance(ctx context.Context, entity, key, locale string) (*Instance, error) {
	if _, ok := r.svc.Registry().Entity(entity); !ok {
		return nil, fmt.Errorf("%s is not change tracked", entity)
	}
	parsed, err := r.svc.ParseKey(entity, key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	row, err := r.svc.Read(ctx, entity, parsed, service.ReadOptions{})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", entity, err)
	}
	return &Instance{Entity: entity, Key: parsed, Row: row, Locale: r.locale(locale)}, nil
}

// InstanceObjectID renders the object ID of inst through the request loader.
func (r *Resolver) InstanceObjectID(ctx context.Context, inst *Instance) string {
	te, _ := r.svc.Registry().Entity(inst.Entity)
	lookup := middleware.EntityLoaderFromContext(ctx)
	if lookup == nil {
		lookup = entityloader.NewEntityLoader(r.svc.Store().Rows())
	}
	return display.NewResolver(lookup, r.logger).ObjectID(ctx, te, inst.Row)
}

// InstanceChanges reads back the change list of inst, narrowed by filter.
func (r *Resolver) InstanceChanges(ctx context.Context, inst *Instance, filter domain.ChangeFilter) ([]domain.DisplayChangeEntry, error) {
	entries, err := r.svc.Reader().Related(ctx, r.svc.Store().ChangeLog(), inst.Entity, inst.Key, filter, inst.Locale)
	if err != nil {
		return nil, fmt.Errorf("failed to read changes: %w", err)
	}
	return entries, nil
}

func (r *Resolver) locale(requested string) string {
	if requested != "" {
		return requested
	}
	return r.defaultLocale
}

func (r *Resolver) fieldResolvers() map[string]map[string]fieldResolver {
	return map[string]map[string]fieldResolver{
		"Query": {
			"trackedEntities": func(ctx context.Context, _ any, _ map[string]any) (any, error) {
				entities := r.TrackedEntities(ctx)
				out := make([]any, len(entities))
				for i, te := range entities {
					out[i] = trackedEntityToGraph(te)
				}
				return out, nil
			},
			"changes": func(ctx context.Context, _ any, args map[string]any) (any, error) {
				filter, err := changeFilterArg(args["filter"])
				if err != nil {
					return nil, err
				}
				entries, err := r.Changes(ctx, filter, stringArg(args["locale"]))
				if err != nil {
					return nil, err
				}
				return changesToGraph(entries), nil
			},
			"instance": func(ctx context.Context, _ any, args map[string]any) (any, error) {
				inst, err := r.Instance(ctx, stringArg(args["entity"]), stringArg(args["key"]), stringArg(args["locale"]))
				if err != nil || inst == nil {
					return nil, err
				}
				return inst, nil
			},
		},
		"Instance": {
			"entity": func(_ context.Context, parent any, _ map[string]any) (any, error) {
				return parent.(*Instance).Entity, nil
			},
			"key": func(_ context.Context, parent any, _ map[string]any) (any, error) {
				return parent.(*Instance).Key.String(), nil
			},
			"objectID": func(ctx context.Context, parent any, _ map[string]any) (any, error) {
				return r.InstanceObjectID(ctx, parent.(*Instance)), nil
			},
			"data": func(_ context.Context, parent any, _ map[string]any) (any, error) {
				return parent.(*Instance).Row, nil
			},
			"changes": func(ctx context.Context, parent any, args map[string]any) (any, error) {
				filter, err := changeFilterArg(args)
				if err != nil {
					return nil, err
				}
				entries, err := r.InstanceChanges(ctx, parent.(*Instance), filter)
				if err != nil {
					return nil, err
				}
				return changesToGraph(entries), nil
			},
		},
	}
}

func trackedEntityToGraph(te *registry.TrackedEntity) map[string]any {
	attributes := make([]any, len(te.TrackedAttributes))
	for i, attr := range te.TrackedAttributes {
		attributes[i] = attr.Name
	}
	keys := make([]any, len(te.KeyAttributes))
	for i, key := range te.KeyAttributes {
		keys[i] = key
	}
	var root any
	if n := len(te.RootPath); n > 0 {
		root = te.RootPath[n-1].Parent
	}
	return map[string]any{
		"name":       te.Name,
		"label":      te.Label,
		"keys":       keys,
		"attributes": attributes,
		"root":       root,
	}
}

func changesToGraph(entries []domain.DisplayChangeEntry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{
			"entity":           e.Entity,
			"entityLabel":      e.EntityLabel,
			"entityKey":        e.EntityKey,
			"objectID":         e.ObjectID,
			"parentObjectID":   e.ParentObjectID,
			"attribute":        e.Attribute,
			"modification":     e.Modification,
			"valueChangedFrom": e.ValueChangedFrom,
			"valueChangedTo":   e.ValueChangedTo,
			"actor":            e.Actor,
			"timestamp":        e.Timestamp,
		}
	}
	return out
}

// changeFilterArg reads a ChangeFilter input. A nil input filters nothing.
func changeFilterArg(raw any) (domain.ChangeFilter, error) {
	var filter domain.ChangeFilter
	in, _ := raw.(map[string]any)
	if in == nil {
		return filter, nil
	}
	filter.Entity = stringArg(in["entity"])
	filter.EntityKey = stringArg(in["entityKey"])
	filter.RootEntity = stringArg(in["rootEntity"])
	filter.RootEntityKey = stringArg(in["rootEntityKey"])
	filter.Attribute = stringArg(in["attribute"])
	if mod := stringArg(in["modification"]); mod != "" {
		parsed, err := domain.ParseModification(mod)
		if err != nil {
			return filter, err
		}
		filter.Modification = parsed
	}
	var err error
	if filter.Limit, err = intArg(in["limit"]); err != nil {
		return filter, fmt.Errorf("invalid limit: %w", err)
	}
	if filter.Offset, err = intArg(in["offset"]); err != nil {
		return filter, fmt.Errorf("invalid offset: %w", err)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return filter, errors.New("limit and offset must not be negative")
	}
	return filter, nil
}

func stringArg(v any) string {
	s, _ := v.(string)
	return s
}

// intArg accepts the shapes an Int argument arrives in: int64 from query
// literals and json.Number or float64 from variables.
func intArg(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}
