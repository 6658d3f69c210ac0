// Package display turns stored values into the human-readable strings written
// to change records: object ids, association targets, code list names and
// struct values.
package display

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model"
	"github.com/rpattn/changetrack/internal/registry"
)

const (
	// ObjectIDSeparator joins the groups of an object id rule.
	ObjectIDSeparator = ", "
	// ValueSeparator joins the fields displayed for one value.
	ValueSeparator = " "
)

// Thunk waits for a pending row lookup. A nil row means the target does not
// exist.
type Thunk func() (domain.Row, error)

// Lookup loads the current row of an association target.
type Lookup interface {
	Load(ctx context.Context, entity string, key domain.EntityKey) Thunk
}

// LookupFunc adapts a plain function to Lookup.
type LookupFunc func(ctx context.Context, entity string, key domain.EntityKey) (domain.Row, error)

// Load calls f.
func (f LookupFunc) Load(ctx context.Context, entity string, key domain.EntityKey) Thunk {
	row, err := f(ctx, entity, key)
	return func() (domain.Row, error) { return row, err }
}

// Resolver resolves display values against a single row snapshot. It keeps no
// state between calls.
type Resolver struct {
	lookup Lookup
	logger *slog.Logger
}

// NewResolver returns a resolver reading association targets through lookup.
func NewResolver(lookup Lookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, logger: logger}
}

// ObjectID resolves the human-readable label of an instance. An empty rule
// yields the empty string.
func (r *Resolver) ObjectID(ctx context.Context, te *registry.TrackedEntity, row domain.Row) string {
	if te == nil || len(te.ObjectIDRule) == 0 || row == nil {
		return ""
	}
	return r.render(ctx, te.ObjectIDRule, row, ObjectIDSeparator)
}

// Value resolves the display value of one tracked attribute of row.
func (r *Resolver) Value(ctx context.Context, attr registry.Attribute, row domain.Row) string {
	if row == nil {
		return ""
	}
	switch attr.Kind {
	case model.KindAssociation:
		if _, ok := Identity(attr, row); !ok {
			return ""
		}
		return r.render(ctx, attr.Display, row, ValueSeparator)
	case model.KindStruct:
		return r.render(ctx, attr.Display, row, ValueSeparator)
	}
	return Format(row[attr.Name], attr.Type)
}

// Identity returns the comparable identity of an attribute value: the
// normalized scalar, the foreign key tuple of an association or the
// normalized sub-fields of a struct. It reports false when the value is
// absent.
func Identity(attr registry.Attribute, row domain.Row) (string, bool) {
	switch attr.Kind {
	case model.KindAssociation:
		parts := make([]string, 0, len(attr.Columns))
		for _, column := range attr.Columns {
			value := row[column]
			if value == nil {
				return "", false
			}
			parts = append(parts, Format(value, ""))
		}
		return strings.Join(parts, "\x1f"), len(parts) > 0
	case model.KindStruct:
		nested, ok := domain.AsRow(row[attr.Name])
		if !ok {
			return "", false
		}
		parts := make([]string, len(attr.Fields))
		empty := true
		for i, field := range attr.Fields {
			parts[i] = Format(nested[field.Name], field.Type)
			if parts[i] != "" {
				empty = false
			}
		}
		return strings.Join(parts, "\x1f"), !empty
	}
	value := Format(row[attr.Name], attr.Type)
	return value, value != ""
}

func (r *Resolver) render(ctx context.Context, rule registry.Rule, row domain.Row, sep string) string {
	loads := newLoadSet(r.lookup)
	for _, group := range rule {
		for _, path := range group.Paths {
			if len(path.Hops) == 0 {
				continue
			}
			if key, ok := path.Hops[0].TargetKey(row); ok {
				loads.start(ctx, path.Hops[0].Target, key)
			}
		}
	}

	var groups []string
	for _, group := range rule {
		var fields []string
		for _, path := range group.Paths {
			if value := r.resolvePath(ctx, loads, path, row); value != "" {
				fields = append(fields, value)
			}
		}
		if len(fields) > 0 {
			groups = append(groups, strings.Join(fields, ValueSeparator))
		}
	}
	return strings.Join(groups, sep)
}

func (r *Resolver) resolvePath(ctx context.Context, loads *loadSet, path registry.Path, row domain.Row) string {
	current := row
	for _, hop := range path.Hops {
		key, ok := hop.TargetKey(current)
		if !ok {
			return ""
		}
		target, err := loads.wait(ctx, hop.Target, key)
		if err != nil {
			r.logger.WarnContext(ctx, "display value lookup failed",
				"entity", hop.Target,
				"key", key.String(),
				"error", domain.NewTrackingError(domain.ErrorKindResolution, hop.Target, err))
			return ""
		}
		if target == nil {
			return ""
		}
		current = target
	}
	value, _ := current.Lookup(path.Field...)
	return Format(value, path.Type)
}

// loadSet deduplicates the lookups of one render call.
type loadSet struct {
	lookup  Lookup
	pending map[string]Thunk
}

func newLoadSet(lookup Lookup) *loadSet {
	return &loadSet{lookup: lookup, pending: map[string]Thunk{}}
}

func (s *loadSet) start(ctx context.Context, entity string, key domain.EntityKey) Thunk {
	id := entity + "|" + key.String()
	if thunk, ok := s.pending[id]; ok {
		return thunk
	}
	thunk := Thunk(func() (domain.Row, error) { return nil, nil })
	if s.lookup != nil {
		thunk = s.lookup.Load(ctx, entity, key)
	}
	s.pending[id] = thunk
	return thunk
}

func (s *loadSet) wait(ctx context.Context, entity string, key domain.EntityKey) (domain.Row, error) {
	return s.start(ctx, entity, key)()
}
