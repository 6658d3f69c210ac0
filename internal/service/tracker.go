package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rpattn/changetrack/internal/composition"
	"github.com/rpattn/changetrack/internal/diff"
	"github.com/rpattn/changetrack/internal/display"
	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/entityloader"
	"github.com/rpattn/changetrack/internal/metrics"
	"github.com/rpattn/changetrack/internal/predicate"
	"github.com/rpattn/changetrack/internal/registry"
)

// tracker captures change records through the service hooks.
type tracker struct {
	s      *Service
	logger *slog.Logger
}

func newTracker(s *Service) *tracker {
	return &tracker{s: s, logger: s.logger.With("component", "changetrack")}
}

func (t *tracker) register() {
	reg := t.s.registry
	if !reg.Configured() {
		return
	}
	for _, entity := range reg.Model().Entities {
		node, ok := reg.Node(entity.Name)
		if !ok || !t.covers(node, map[string]bool{}) {
			continue
		}
		t.s.BeforeCreate(entity.Name, t.before)
		t.s.BeforeUpdate(entity.Name, t.before)
		t.s.BeforeDelete(entity.Name, t.before)
	}
	for _, te := range reg.Entities() {
		t.s.AfterRead(te.Name, t.attachChanges)
	}
}

// covers reports whether node or one of its composed descendants is tracked.
func (t *tracker) covers(node *registry.Node, visiting map[string]bool) bool {
	if _, tracked := t.s.registry.Entity(node.Name); tracked {
		return true
	}
	if visiting[node.Name] {
		return false
	}
	visiting[node.Name] = true
	for _, comp := range node.Compositions {
		if child, ok := t.s.registry.Node(comp.Child); ok && t.covers(child, visiting) {
			return true
		}
	}
	return false
}

// before diffs deletes while the rows still exist, and creates and updates
// once the write is done.
func (t *tracker) before(ctx context.Context, m *Mutation) error {
	if m.Modification == domain.ModificationDelete {
		result, ok := t.walk(ctx, m, m.Before, nil)
		if !ok {
			return nil
		}
		m.OnBeforeCommit(func(ctx context.Context) error {
			return t.persist(ctx, m, result)
		})
		return nil
	}
	m.OnBeforeCommit(func(ctx context.Context) error {
		result, ok := t.walk(ctx, m, m.Before, m.After)
		if !ok {
			return nil
		}
		return t.persist(ctx, m, result)
	})
	return nil
}

// walk runs the composition walker with a loader bound to the mutation's
// transaction. A failed walk is logged and reported as not ok; the mutation
// goes on without records.
func (t *tracker) walk(ctx context.Context, m *Mutation, before, after domain.Row) (composition.Result, bool) {
	loader := entityloader.NewEntityLoader(m.Session.Rows())
	resolver := display.NewResolver(loader, t.logger)
	engine := diff.NewEngine(resolver, t.s.opts.Tracking, t.logger)
	walker := composition.NewWalker(t.s.registry, engine, resolver, loader, t.logger)

	start := time.Now()
	result, err := walker.Walk(ctx, composition.Event{
		Entity:       m.Entity,
		Modification: m.Modification,
		Before:       before,
		After:        after,
		Actor:        m.Actor,
		Timestamp:    m.Timestamp,
		ChangeSetID:  m.ChangeSetID,
	})
	metrics.WalkDuration.WithLabelValues(m.Entity, string(m.Modification)).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := errorKind(err)
		metrics.TrackingFailures.WithLabelValues(m.Entity, string(kind)).Inc()
		t.logger.Warn("change capture abandoned",
			"entity", m.Entity,
			"key", m.Key.String(),
			"modification", m.Modification,
			"stage", result.Stage,
			"kind", kind,
			"error", err)
		return result, false
	}
	return result, true
}

// persist applies the retention policy and writes the records. Errors here
// roll the mutation back.
func (t *tracker) persist(ctx context.Context, m *Mutation, result composition.Result) error {
	log := m.Session.ChangeLog()
	records := result.Records

	if !t.s.opts.PreserveDeletes && len(result.Deleted) > 0 {
		purge := t.retention(result.Deleted)
		purged, err := log.Purge(ctx, purge)
		if err != nil {
			return domain.NewTrackingError(domain.ErrorKindPersistence, m.Entity, err)
		}
		metrics.RecordsPurged.Add(float64(purged))
		kept := records[:0]
		for _, rec := range records {
			if !predicate.Eval(purge, rec.Column) {
				kept = append(kept, rec)
			}
		}
		records = kept
	}

	if len(records) > 0 {
		if err := log.Insert(ctx, records); err != nil {
			return domain.NewTrackingError(domain.ErrorKindPersistence, m.Entity, err)
		}
		for _, rec := range records {
			metrics.RecordsWritten.WithLabelValues(rec.Entity, string(rec.Modification)).Inc()
		}
	}
	result.Stage = composition.StageHandedToAdapter
	t.logger.Debug("change set written",
		"entity", m.Entity,
		"change_set", m.ChangeSetID,
		"records", len(records),
		"deleted", len(result.Deleted),
		"stage", result.Stage)
	return nil
}

// retention matches every record of the deleted instances, including records
// attributed to them as composition root.
func (t *tracker) retention(deleted []composition.Instance) predicate.Predicate {
	terms := make([]predicate.Predicate, 0, len(deleted))
	for _, inst := range deleted {
		te, ok := t.s.registry.Entity(inst.Entity)
		if !ok {
			continue
		}
		terms = append(terms, te.Changes.On(inst.Entity, inst.Key))
	}
	return predicate.Or(terms...)
}

// attachChanges adds the change list under the derived association when the
// read asks for it.
func (t *tracker) attachChanges(ctx context.Context, req *ReadRequest) error {
	if !req.Options.WithChanges {
		return nil
	}
	entries, err := t.s.reader.ReadBack(ctx, req.Session.ChangeLog(), req.Entity, req.Key, req.Options.Locale)
	if err != nil {
		return err
	}
	req.Row[registry.ChangesAssociation] = entries
	return nil
}

func errorKind(err error) domain.ErrorKind {
	var te *domain.TrackingError
	if errors.As(err, &te) {
		return te.Kind
	}
	return domain.ErrorKindConsistency
}
