// Package changes reads persisted change records back as display-ready change
// lists.
package changes

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/i18n"
	"github.com/rpattn/changetrack/internal/predicate"
	"github.com/rpattn/changetrack/internal/registry"
	"github.com/rpattn/changetrack/internal/repository"
)

// Reader flattens change records into DisplayChangeEntry lists.
type Reader struct {
	registry *registry.Registry
	labels   *i18n.Bundle
}

// NewReader creates a reader. A nil bundle uses the built-in labels.
func NewReader(reg *registry.Registry, labels *i18n.Bundle) *Reader {
	if labels == nil {
		labels = i18n.Default()
	}
	return &Reader{registry: reg, labels: labels}
}

// ReadBack returns the change list of one tracked instance through its
// derived changes association: its own records and, for composition roots,
// the records of every descendant.
func (r *Reader) ReadBack(ctx context.Context, log repository.ChangeLogRepository, entity string, key domain.EntityKey, locale string) ([]domain.DisplayChangeEntry, error) {
	te, ok := r.registry.Entity(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not change tracked", domain.ErrConfiguration, entity)
	}
	records, err := log.List(ctx, te.Changes.On(entity, key), repository.Page{})
	if err != nil {
		return nil, fmt.Errorf("failed to read changes of %s: %w", entity, err)
	}
	return r.Flatten(records, locale), nil
}

// Related reads back the change list of one tracked instance narrowed by the
// attribute and modification of filter and paged by its limit and offset.
// Entity and key fields of filter are ignored.
func (r *Reader) Related(ctx context.Context, log repository.ChangeLogRepository, entity string, key domain.EntityKey, filter domain.ChangeFilter, locale string) ([]domain.DisplayChangeEntry, error) {
	te, ok := r.registry.Entity(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not change tracked", domain.ErrConfiguration, entity)
	}
	narrow := FilterPredicate(domain.ChangeFilter{Attribute: filter.Attribute, Modification: filter.Modification})
	records, err := log.List(ctx, predicate.And(te.Changes.On(entity, key), narrow), repository.Page{Limit: filter.Limit, Offset: filter.Offset})
	if err != nil {
		return nil, fmt.Errorf("failed to read changes of %s: %w", entity, err)
	}
	return r.Flatten(records, locale), nil
}

// List returns the change list matching filter.
func (r *Reader) List(ctx context.Context, log repository.ChangeLogRepository, filter domain.ChangeFilter, locale string) ([]domain.DisplayChangeEntry, error) {
	records, err := log.List(ctx, FilterPredicate(filter), repository.Page{Limit: filter.Limit, Offset: filter.Offset})
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	return r.Flatten(records, locale), nil
}

// Flatten converts records to display entries, dropping internal fields and
// localizing labels.
func (r *Reader) Flatten(records []domain.ChangeRecord, locale string) []domain.DisplayChangeEntry {
	loc := r.labels.Localizer(locale)
	entries := make([]domain.DisplayChangeEntry, len(records))
	for i, rec := range records {
		attribute := rec.AttributeLabel
		if attribute == "" {
			attribute = rec.Attribute
		}
		entries[i] = domain.DisplayChangeEntry{
			Entity:           rec.Entity,
			EntityLabel:      loc.Text(rec.Entity, r.registry.Label(rec.Entity)),
			EntityKey:        rec.EntityKey,
			ObjectID:         rec.ObjectID,
			ParentObjectID:   rec.ParentObjectID,
			Attribute:        loc.Text(i18n.AttributeKey(rec.Entity, rec.Attribute), attribute),
			Modification:     loc.Modification(rec.Modification),
			ValueChangedFrom: rec.ValueChangedFrom,
			ValueChangedTo:   rec.ValueChangedTo,
			Actor:            rec.Actor,
			Timestamp:        rec.Timestamp,
		}
	}
	return entries
}

// FilterPredicate translates a change filter into a predicate. Empty fields
// do not filter.
func FilterPredicate(f domain.ChangeFilter) predicate.Predicate {
	var terms []predicate.Predicate
	add := func(column, value string) {
		if strings.TrimSpace(value) != "" {
			terms = append(terms, predicate.Eq(column, value))
		}
	}
	add(domain.ColumnEntity, f.Entity)
	add(domain.ColumnEntityKey, f.EntityKey)
	add(domain.ColumnRootEntity, f.RootEntity)
	add(domain.ColumnRootEntityKey, f.RootEntityKey)
	add(domain.ColumnAttribute, f.Attribute)
	add(domain.ColumnModification, string(f.Modification))
	return predicate.And(terms...)
}
