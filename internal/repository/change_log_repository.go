package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/ident"
	"github.com/rpattn/changetrack/internal/predicate"
)

const changeLogTable = "change_logs"

const changeLogColumns = `id, change_set_id, entity, entity_key, root_entity, root_entity_key,
	parent_entity, parent_entity_key, attribute, attribute_label, value_data_type, modification,
	value_changed_from, value_changed_to, object_id, parent_object_id, actor, created_at, ordinal`

// changeLogRow mirrors the change_logs table.
type changeLogRow struct {
	ID               uuid.UUID `db:"id"`
	ChangeSetID      uuid.UUID `db:"change_set_id"`
	Entity           string    `db:"entity"`
	EntityKey        string    `db:"entity_key"`
	RootEntity       string    `db:"root_entity"`
	RootEntityKey    string    `db:"root_entity_key"`
	ParentEntity     string    `db:"parent_entity"`
	ParentEntityKey  string    `db:"parent_entity_key"`
	Attribute        string    `db:"attribute"`
	AttributeLabel   string    `db:"attribute_label"`
	ValueDataType    string    `db:"value_data_type"`
	Modification     string    `db:"modification"`
	ValueChangedFrom string    `db:"value_changed_from"`
	ValueChangedTo   string    `db:"value_changed_to"`
	ObjectID         string    `db:"object_id"`
	ParentObjectID   string    `db:"parent_object_id"`
	Actor            string    `db:"actor"`
	CreatedAt        time.Time `db:"created_at"`
	Ordinal          int32     `db:"ordinal"`
}

// changeLogRepository implements ChangeLogRepository
type changeLogRepository struct {
	q querier
}

// Insert writes the records in one batch round trip
func (r *changeLogRepository) Insert(ctx context.Context, records []domain.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}
	sql := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		ident.Quote(changeLogTable), changeLogColumns)

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(sql,
			rec.ID, rec.ChangeSetID, rec.Entity, rec.EntityKey, rec.RootEntity, rec.RootEntityKey,
			rec.ParentEntity, rec.ParentEntityKey, rec.Attribute, rec.AttributeLabel, rec.ValueDataType,
			string(rec.Modification), rec.ValueChangedFrom, rec.ValueChangedTo, rec.ObjectID,
			rec.ParentObjectID, rec.Actor, rec.Timestamp, int32(rec.Ordinal),
		)
	}

	results := r.q.SendBatch(ctx, batch)
	for i := range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert change record %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close change record batch: %w", err)
	}
	return nil
}

// Purge deletes the records matching where and reports how many were removed
func (r *changeLogRepository) Purge(ctx context.Context, where predicate.Predicate) (int64, error) {
	cond, args := predicate.SQL(where, ident.Quote, nil)
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", ident.Quote(changeLogTable), cond)
	tag, err := r.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge change records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List returns the records matching where, oldest first
func (r *changeLogRepository) List(ctx context.Context, where predicate.Predicate, page Page) ([]domain.ChangeRecord, error) {
	cond, args := predicate.SQL(where, ident.Quote, nil)
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY created_at, change_set_id, ordinal",
		changeLogColumns, ident.Quote(changeLogTable), cond)
	if page.Limit > 0 {
		args = append(args, page.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list change records: %w", err)
	}
	stored, err := pgx.CollectRows(rows, pgx.RowToStructByName[changeLogRow])
	if err != nil {
		return nil, fmt.Errorf("failed to scan change records: %w", err)
	}

	records := make([]domain.ChangeRecord, len(stored))
	for i, row := range stored {
		records[i] = domain.ChangeRecord{
			ID:               row.ID,
			ChangeSetID:      row.ChangeSetID,
			Entity:           row.Entity,
			EntityKey:        row.EntityKey,
			RootEntity:       row.RootEntity,
			RootEntityKey:    row.RootEntityKey,
			ParentEntity:     row.ParentEntity,
			ParentEntityKey:  row.ParentEntityKey,
			Attribute:        row.Attribute,
			AttributeLabel:   row.AttributeLabel,
			ValueDataType:    row.ValueDataType,
			Modification:     domain.Modification(row.Modification),
			ValueChangedFrom: row.ValueChangedFrom,
			ValueChangedTo:   row.ValueChangedTo,
			ObjectID:         row.ObjectID,
			ParentObjectID:   row.ParentObjectID,
			Actor:            row.Actor,
			Timestamp:        row.CreatedAt,
			Ordinal:          int(row.Ordinal),
		}
	}
	return records, nil
}
