// Package diff computes the field level change records of one entity
// instance from its before and after snapshots.
package diff

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rpattn/changetrack/internal/display"
	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/registry"
)

// Options switch off record generation per modification kind.
type Options struct {
	DisableCreateTracking bool
	DisableUpdateTracking bool
	DisableDeleteTracking bool
}

// Disabled reports whether records of kind m are suppressed.
func (o Options) Disabled(m domain.Modification) bool {
	switch m {
	case domain.ModificationCreate:
		return o.DisableCreateTracking
	case domain.ModificationUpdate:
		return o.DisableUpdateTracking
	case domain.ModificationDelete:
		return o.DisableDeleteTracking
	}
	return false
}

// Change is one instance affected by a mutation. Before is nil on create and
// After is nil on delete. ObjectID, when set, is used instead of resolving the
// instance label again.
type Change struct {
	Entity         *registry.TrackedEntity
	Before         domain.Row
	After          domain.Row
	Modification   domain.Modification
	ObjectID       *string
	ParentObjectID string
}

// Engine diffs instances against the tracked attributes of their entity.
type Engine struct {
	resolver *display.Resolver
	opts     Options
	logger   *slog.Logger
}

// NewEngine creates an engine resolving display values with resolver.
func NewEngine(resolver *display.Resolver, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{resolver: resolver, opts: opts, logger: logger}
}

// Options returns the tracking switches of the engine.
func (e *Engine) Options() Options { return e.opts }

type pending struct {
	attr     registry.Attribute
	from, to string
}

// Diff returns one record per changed tracked attribute, in attribute order.
// Records carry the instance identity and display values; provenance and root
// linkage are stamped by the caller.
func (e *Engine) Diff(ctx context.Context, c Change) ([]domain.ChangeRecord, error) {
	te := c.Entity
	if te == nil {
		return nil, fmt.Errorf("%w: change without entity metadata", domain.ErrConsistency)
	}
	if !c.Modification.Valid() {
		return nil, domain.NewTrackingError(domain.ErrorKindConsistency, te.Name,
			fmt.Errorf("unknown modification %q", c.Modification))
	}
	if e.opts.Disabled(c.Modification) {
		return nil, nil
	}

	before, after := c.Before, c.After
	switch c.Modification {
	case domain.ModificationCreate:
		if after == nil {
			return nil, domain.NewTrackingError(domain.ErrorKindConsistency, te.Name, fmt.Errorf("create without data"))
		}
		before = nil
	case domain.ModificationDelete:
		if before == nil {
			return nil, domain.NewTrackingError(domain.ErrorKindConsistency, te.Name, fmt.Errorf("delete without prior data"))
		}
		after = nil
	case domain.ModificationUpdate:
		if after == nil {
			return nil, domain.NewTrackingError(domain.ErrorKindConsistency, te.Name, fmt.Errorf("update without data"))
		}
		if before == nil {
			e.logger.WarnContext(ctx, "update without prior data, diffing as newly created",
				"entity", te.Name,
				"error", domain.NewTrackingError(domain.ErrorKindConsistency, te.Name, fmt.Errorf("missing before snapshot")))
		}
	}

	subject := after
	if subject == nil {
		subject = before
	}
	key, ok := te.Key(subject)
	if !ok {
		return nil, domain.NewTrackingError(domain.ErrorKindConsistency, te.Name, fmt.Errorf("instance without complete key"))
	}

	var changes []pending
	for _, attr := range te.TrackedAttributes {
		if p, changed := e.compare(ctx, attr, before, after); changed {
			changes = append(changes, p)
		}
	}
	if len(changes) == 0 {
		return nil, nil
	}

	var objectID string
	if c.ObjectID != nil {
		objectID = *c.ObjectID
	} else {
		objectID = e.resolver.ObjectID(ctx, te, subject)
	}
	records := make([]domain.ChangeRecord, len(changes))
	for i, p := range changes {
		records[i] = domain.ChangeRecord{
			ID:               uuid.New(),
			Entity:           te.Name,
			EntityKey:        key.String(),
			Attribute:        p.attr.Name,
			AttributeLabel:   p.attr.Label,
			ValueDataType:    p.attr.ValueDataType(),
			Modification:     c.Modification,
			ValueChangedFrom: p.from,
			ValueChangedTo:   p.to,
			ObjectID:         objectID,
			ParentObjectID:   c.ParentObjectID,
		}
	}
	return records, nil
}

// compare compares identities first and resolves display values only for
// attributes whose identity changed.
func (e *Engine) compare(ctx context.Context, attr registry.Attribute, before, after domain.Row) (pending, bool) {
	var (
		fromID, toID string
		hasFrom      bool
		hasTo        bool
	)
	if before != nil {
		fromID, hasFrom = display.Identity(attr, before)
	}
	if after != nil {
		toID, hasTo = display.Identity(attr, after)
	}
	if !hasFrom && !hasTo {
		return pending{}, false
	}
	if hasFrom == hasTo && fromID == toID {
		return pending{}, false
	}

	p := pending{attr: attr}
	if hasFrom {
		p.from = e.resolver.Value(ctx, attr, before)
	}
	if hasTo {
		p.to = e.resolver.Value(ctx, attr, after)
	}
	return p, p.from != p.to
}
