package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/ident"
	"github.com/rpattn/changetrack/internal/model"
	"github.com/rpattn/changetrack/internal/predicate"
)

// rowRepository implements RowStore with plain SQL built from the model.
type rowRepository struct {
	q     querier
	model *model.Model
}

func (r *rowRepository) entity(name string) (*model.Entity, error) {
	entity, ok := r.model.Entity(name)
	if !ok {
		return nil, fmt.Errorf("unknown entity %s", name)
	}
	return entity, nil
}

// Get retrieves a row by key
func (r *rowRepository) Get(ctx context.Context, entity string, key domain.EntityKey) (domain.Row, error) {
	rows, err := r.Find(ctx, entity, predicate.Key(key))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// GetMany retrieves the rows for several keys. Missing keys are skipped.
func (r *rowRepository) GetMany(ctx context.Context, entity string, keys []domain.EntityKey) ([]domain.Row, error) {
	if len(keys) == 0 {
		return []domain.Row{}, nil
	}
	return r.Find(ctx, entity, predicate.Keys(keys))
}

// Find lists the rows matching where
func (r *rowRepository) Find(ctx context.Context, entity string, where predicate.Predicate) ([]domain.Row, error) {
	meta, err := r.entity(entity)
	if err != nil {
		return nil, err
	}
	columns := meta.Columns()
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = ident.Quote(column)
	}
	cond, args := predicate.SQL(where, ident.Quote, nil)
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(quoted, ", "), quoteTable(meta), cond)

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", entity, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s rows: %w", entity, err)
	}

	out := make([]domain.Row, len(maps))
	for i, m := range maps {
		row := make(domain.Row, len(m))
		for column, value := range m {
			row[column] = normalizeValue(value)
		}
		out[i] = row
	}
	return out, nil
}

// Insert writes a new row. Only stored columns present in row are written.
func (r *rowRepository) Insert(ctx context.Context, entity string, row domain.Row) error {
	meta, err := r.entity(entity)
	if err != nil {
		return err
	}
	var (
		columns      []string
		placeholders []string
		args         []any
	)
	for _, column := range meta.Columns() {
		value, ok := row[column]
		if !ok {
			continue
		}
		encoded, err := encodeValue(meta, column, value)
		if err != nil {
			return err
		}
		args = append(args, encoded)
		columns = append(columns, ident.Quote(column))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	if len(columns) == 0 {
		return fmt.Errorf("failed to insert %s: no columns", entity)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteTable(meta), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := r.q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to insert %s: %w", entity, err)
	}
	return nil
}

// Update writes the stored columns present in row to the row identified by key.
func (r *rowRepository) Update(ctx context.Context, entity string, key domain.EntityKey, row domain.Row) error {
	meta, err := r.entity(entity)
	if err != nil {
		return err
	}
	var (
		sets []string
		args []any
	)
	for _, column := range meta.Columns() {
		value, ok := row[column]
		if !ok {
			continue
		}
		if _, isKey := key.Value(column); isKey {
			continue
		}
		encoded, err := encodeValue(meta, column, value)
		if err != nil {
			return err
		}
		args = append(args, encoded)
		sets = append(sets, fmt.Sprintf("%s = $%d", ident.Quote(column), len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	cond, args := predicate.SQL(predicate.Key(key), ident.Quote, args)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		quoteTable(meta), strings.Join(sets, ", "), cond)
	tag, err := r.q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row identified by key
func (r *rowRepository) Delete(ctx context.Context, entity string, key domain.EntityKey) error {
	meta, err := r.entity(entity)
	if err != nil {
		return err
	}
	cond, args := predicate.SQL(predicate.Key(key), ident.Quote, nil)
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteTable(meta), cond)
	tag, err := r.q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", entity, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func quoteTable(meta *model.Entity) string {
	return ident.QuoteQualified(ident.SplitQualified(meta.Table))
}

// encodeValue marshals struct-typed elements, stored as jsonb documents.
func encodeValue(meta *model.Entity, column string, value any) (any, error) {
	el, ok := meta.Element(column)
	if !ok || el.Kind != model.KindStruct || value == nil {
		return value, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s.%s: %w", meta.Name, column, err)
	}
	return data, nil
}

// normalizeValue converts pgx scan results into the plain values rows carry.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case pgtype.Numeric:
		v, err := typed.Value()
		if err != nil {
			return nil
		}
		return v
	case pgtype.Time:
		if !typed.Valid {
			return nil
		}
		return time.Time{}.Add(time.Duration(typed.Microseconds) * time.Microsecond).Format("15:04:05")
	case [16]byte:
		return uuid.UUID(typed).String()
	case map[string]any:
		return domain.Row(typed)
	}
	return value
}
