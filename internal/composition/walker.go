// Package composition extends diffing across composition hierarchies: deep
// inserts, nested updates and cascading deletes are diffed instance by
// instance and every record is attributed to the composition root.
package composition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/changetrack/internal/diff"
	"github.com/rpattn/changetrack/internal/display"
	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/registry"
)

// Stage is the progress of one change capture.
type Stage string

const (
	StageReceived        Stage = "received"
	StageRootResolved    Stage = "root_resolved"
	StageDiffing         Stage = "diffing"
	StageStamped         Stage = "stamped"
	StageHandedToAdapter Stage = "handed_to_adapter"
)

// Event is a mutation of one entity instance. Before and After are deep
// snapshots: composed children are nested under their composition element.
type Event struct {
	Entity       string
	Modification domain.Modification
	Before       domain.Row
	After        domain.Row
	Actor        string
	Timestamp    time.Time
	ChangeSetID  uuid.UUID
}

// Instance identifies one entity instance.
type Instance struct {
	Entity string
	Key    domain.EntityKey
}

// Result is the outcome of a walk.
type Result struct {
	Records []domain.ChangeRecord
	Deleted []Instance
	Root    Instance
	Stage   Stage
}

// Walker diffs every instance reached from an event.
type Walker struct {
	registry *registry.Registry
	engine   *diff.Engine
	resolver *display.Resolver
	lookup   display.Lookup
	logger   *slog.Logger
}

// NewWalker creates a walker. lookup loads parent rows when the event targets
// a composed child directly.
func NewWalker(reg *registry.Registry, engine *diff.Engine, resolver *display.Resolver, lookup display.Lookup, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{registry: reg, engine: engine, resolver: resolver, lookup: lookup, logger: logger}
}

type parentInfo struct {
	entity   string
	key      string
	objectID string
}

type walkState struct {
	event   Event
	root    Instance
	ordinal int
	result  Result
}

// Walk diffs the event's instance and all composed descendants. On error the
// whole capture is abandoned; the returned stage tells where it stopped.
func (w *Walker) Walk(ctx context.Context, event Event) (Result, error) {
	st := &walkState{event: event, result: Result{Stage: StageReceived}}
	if !event.Modification.Valid() {
		return st.result, fmt.Errorf("%w: unknown modification %q", domain.ErrConsistency, event.Modification)
	}
	node, ok := w.registry.Node(event.Entity)
	if !ok {
		return st.result, fmt.Errorf("%w: unknown entity %s", domain.ErrConsistency, event.Entity)
	}
	subject := event.After
	if subject == nil {
		subject = event.Before
	}
	key, ok := domain.KeyFromRow(node.Keys, subject)
	if !ok {
		return st.result, domain.NewTrackingError(domain.ErrorKindConsistency, event.Entity, fmt.Errorf("event without complete key"))
	}

	parent, root, err := w.resolveRoot(ctx, node, Instance{Entity: event.Entity, Key: key}, subject)
	if err != nil {
		return st.result, fmt.Errorf("change capture abandoned at %s: %w", st.result.Stage, err)
	}
	st.root = root
	st.result.Root = root
	st.result.Stage = StageRootResolved

	st.result.Stage = StageDiffing
	if err := w.visit(ctx, st, node, event.Modification, event.Before, event.After, parent); err != nil {
		return st.result, fmt.Errorf("change capture abandoned at %s: %w", st.result.Stage, err)
	}
	st.result.Stage = StageStamped
	return st.result, nil
}

// resolveRoot follows the static root path upward. An event on a composition
// root is its own root.
func (w *Walker) resolveRoot(ctx context.Context, node *registry.Node, self Instance, row domain.Row) (parentInfo, Instance, error) {
	var parent parentInfo
	root := self
	current := row
	for i, link := range node.RootPath {
		parentKey, ok := link.ParentKey(current)
		if !ok {
			break
		}
		root = Instance{Entity: link.Parent, Key: parentKey}
		if w.lookup == nil {
			break
		}
		parentRow, err := w.lookup.Load(ctx, link.Parent, parentKey)()
		if err != nil {
			return parentInfo{}, Instance{}, fmt.Errorf("failed to load parent %s: %w", link.Parent, err)
		}
		if i == 0 {
			parent = parentInfo{entity: link.Parent, key: parentKey.String()}
			if te, tracked := w.registry.Entity(link.Parent); tracked && parentRow != nil {
				parent.objectID = w.resolver.ObjectID(ctx, te, parentRow)
			}
		}
		if parentRow == nil {
			break
		}
		current = parentRow
	}
	return parent, root, nil
}

func (w *Walker) visit(ctx context.Context, st *walkState, node *registry.Node, mod domain.Modification, before, after domain.Row, parent parentInfo) error {
	subject := after
	if subject == nil {
		subject = before
	}
	key, ok := domain.KeyFromRow(node.Keys, subject)
	if !ok {
		return domain.NewTrackingError(domain.ErrorKindConsistency, node.Name, fmt.Errorf("instance without complete key"))
	}

	var objectID string
	if te, tracked := w.registry.Entity(node.Name); tracked {
		objectID = w.resolver.ObjectID(ctx, te, subject)
		records, err := w.engine.Diff(ctx, diff.Change{
			Entity:         te,
			Before:         before,
			After:          after,
			Modification:   mod,
			ObjectID:       &objectID,
			ParentObjectID: parent.objectID,
		})
		if err != nil {
			return err
		}
		for i := range records {
			st.ordinal++
			rec := &records[i]
			rec.ChangeSetID = st.event.ChangeSetID
			rec.RootEntity = st.root.Entity
			rec.RootEntityKey = st.root.Key.String()
			rec.ParentEntity = parent.entity
			rec.ParentEntityKey = parent.key
			rec.Actor = st.event.Actor
			rec.Timestamp = st.event.Timestamp
			rec.Ordinal = st.ordinal
		}
		st.result.Records = append(st.result.Records, records...)
		if mod == domain.ModificationDelete {
			st.result.Deleted = append(st.result.Deleted, Instance{Entity: node.Name, Key: key})
		}
	}

	self := parentInfo{entity: node.Name, key: key.String(), objectID: objectID}
	for _, comp := range node.Compositions {
		child, ok := w.registry.Node(comp.Child)
		if !ok {
			continue
		}
		if err := w.visitChildren(ctx, st, child, comp, mod, before, after, self); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) visitChildren(ctx context.Context, st *walkState, child *registry.Node, comp registry.Composition, mod domain.Modification, before, after domain.Row, self parentInfo) error {
	var beforeChildren, afterChildren []domain.Row
	if before != nil {
		beforeChildren, _ = domain.AsRows(before[comp.Element])
	}
	carried := false
	if after != nil {
		_, carried = after[comp.Element]
		afterChildren, _ = domain.AsRows(after[comp.Element])
	}

	bind := func(row domain.Row) domain.Row {
		parentRow := after
		if parentRow == nil {
			parentRow = before
		}
		if _, ok := comp.Link.ParentKey(row); ok {
			return row
		}
		bound := row.Clone()
		comp.Link.Bind(parentRow, bound)
		return bound
	}

	switch mod {
	case domain.ModificationCreate:
		for _, row := range afterChildren {
			if err := w.visit(ctx, st, child, domain.ModificationCreate, nil, bind(row), self); err != nil {
				return err
			}
		}
	case domain.ModificationDelete:
		for _, row := range beforeChildren {
			if err := w.visit(ctx, st, child, domain.ModificationDelete, bind(row), nil, self); err != nil {
				return err
			}
		}
	case domain.ModificationUpdate:
		if !carried {
			return nil
		}
		previous := make(map[string]domain.Row, len(beforeChildren))
		for _, row := range beforeChildren {
			if key, ok := domain.KeyFromRow(child.Keys, row); ok {
				previous[key.String()] = row
			}
		}
		seen := make(map[string]bool, len(afterChildren))
		for _, row := range afterChildren {
			key, ok := domain.KeyFromRow(child.Keys, row)
			if !ok {
				return domain.NewTrackingError(domain.ErrorKindConsistency, child.Name, fmt.Errorf("composed instance without complete key"))
			}
			seen[key.String()] = true
			if old, exists := previous[key.String()]; exists {
				if err := w.visit(ctx, st, child, domain.ModificationUpdate, bind(old), bind(row), self); err != nil {
					return err
				}
				continue
			}
			if err := w.visit(ctx, st, child, domain.ModificationCreate, nil, bind(row), self); err != nil {
				return err
			}
		}
		for _, row := range beforeChildren {
			key, ok := domain.KeyFromRow(child.Keys, row)
			if !ok || seen[key.String()] {
				continue
			}
			if err := w.visit(ctx, st, child, domain.ModificationDelete, bind(row), nil, self); err != nil {
				return err
			}
		}
	}
	return nil
}
