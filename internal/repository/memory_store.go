package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model"
	"github.com/rpattn/changetrack/internal/predicate"
)

// MemoryStore is an in-process Store used by tests and the demo server.
// Transactions run one at a time against a copy of the data that replaces the
// committed state only when fn succeeds.
type MemoryStore struct {
	model *model.Model

	txMu  sync.Mutex
	mu    sync.RWMutex
	state *memoryState
}

type memoryTable struct {
	rows  map[string]domain.Row
	order []string
}

type memoryState struct {
	tables  map[string]*memoryTable
	changes []domain.ChangeRecord
}

// NewMemoryStore creates an empty store for the entities of m.
func NewMemoryStore(m *model.Model) *MemoryStore {
	return &MemoryStore{model: m, state: &memoryState{tables: map[string]*memoryTable{}}}
}

// Rows returns a row store that applies each call directly.
func (s *MemoryStore) Rows() RowStore {
	return &memoryRows{session: &memorySession{store: s}}
}

// ChangeLog returns a change log repository that applies each call directly.
func (s *MemoryStore) ChangeLog() ChangeLogRepository {
	return &memoryChangeLog{session: &memorySession{store: s}}
}

// WithTx runs fn against a private copy of the data.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(Session) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	working := s.state.clone()
	s.mu.RUnlock()

	if err := fn(&memorySession{store: s, tx: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.mu.Lock()
	s.state = working
	s.mu.Unlock()
	return nil
}

func (st *memoryState) clone() *memoryState {
	out := &memoryState{
		tables:  make(map[string]*memoryTable, len(st.tables)),
		changes: append([]domain.ChangeRecord(nil), st.changes...),
	}
	for name, table := range st.tables {
		copied := &memoryTable{
			rows:  make(map[string]domain.Row, len(table.rows)),
			order: append([]string(nil), table.order...),
		}
		for id, row := range table.rows {
			copied.rows[id] = row.Clone()
		}
		out.tables[name] = copied
	}
	return out
}

// peek returns the table without creating it, for use under a read lock.
func (st *memoryState) peek(name string) *memoryTable {
	if table, ok := st.tables[name]; ok {
		return table
	}
	return &memoryTable{}
}

func (st *memoryState) table(name string) *memoryTable {
	table, ok := st.tables[name]
	if !ok {
		table = &memoryTable{rows: map[string]domain.Row{}}
		st.tables[name] = table
	}
	return table
}

type memorySession struct {
	store *MemoryStore
	tx    *memoryState
}

func (s *memorySession) Rows() RowStore { return &memoryRows{session: s} }

func (s *memorySession) ChangeLog() ChangeLogRepository { return &memoryChangeLog{session: s} }

func (s *memorySession) read(fn func(*memoryState)) {
	if s.tx != nil {
		fn(s.tx)
		return
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	fn(s.store.state)
}

func (s *memorySession) write(fn func(*memoryState) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return fn(s.store.state)
}

type memoryRows struct {
	session *memorySession
}

func (r *memoryRows) entity(name string) (*model.Entity, error) {
	entity, ok := r.session.store.model.Entity(name)
	if !ok {
		return nil, fmt.Errorf("unknown entity %s", name)
	}
	return entity, nil
}

func (r *memoryRows) Get(ctx context.Context, entity string, key domain.EntityKey) (domain.Row, error) {
	if _, err := r.entity(entity); err != nil {
		return nil, err
	}
	var row domain.Row
	r.session.read(func(st *memoryState) {
		if stored, ok := st.peek(entity).rows[key.String()]; ok {
			row = stored.Clone()
		}
	})
	if row == nil {
		return nil, ErrNotFound
	}
	return row, nil
}

func (r *memoryRows) GetMany(ctx context.Context, entity string, keys []domain.EntityKey) ([]domain.Row, error) {
	if _, err := r.entity(entity); err != nil {
		return nil, err
	}
	out := make([]domain.Row, 0, len(keys))
	r.session.read(func(st *memoryState) {
		table := st.peek(entity)
		for _, key := range keys {
			if stored, ok := table.rows[key.String()]; ok {
				out = append(out, stored.Clone())
			}
		}
	})
	return out, nil
}

func (r *memoryRows) Find(ctx context.Context, entity string, where predicate.Predicate) ([]domain.Row, error) {
	if _, err := r.entity(entity); err != nil {
		return nil, err
	}
	var out []domain.Row
	r.session.read(func(st *memoryState) {
		table := st.peek(entity)
		for _, id := range table.order {
			row := table.rows[id]
			if predicate.Eval(where, rowGetter(row)) {
				out = append(out, row.Clone())
			}
		}
	})
	return out, nil
}

func (r *memoryRows) Insert(ctx context.Context, entity string, row domain.Row) error {
	meta, err := r.entity(entity)
	if err != nil {
		return err
	}
	key, ok := domain.KeyFromRow(meta.KeyNames(), row)
	if !ok {
		return fmt.Errorf("failed to insert %s: incomplete key", entity)
	}
	stored := project(meta, row, nil)
	return r.session.write(func(st *memoryState) error {
		table := st.table(entity)
		id := key.String()
		if _, exists := table.rows[id]; exists {
			return fmt.Errorf("failed to insert %s: duplicate key %s", entity, id)
		}
		table.rows[id] = stored
		table.order = append(table.order, id)
		return nil
	})
}

func (r *memoryRows) Update(ctx context.Context, entity string, key domain.EntityKey, row domain.Row) error {
	meta, err := r.entity(entity)
	if err != nil {
		return err
	}
	return r.session.write(func(st *memoryState) error {
		table := st.table(entity)
		current, ok := table.rows[key.String()]
		if !ok {
			return ErrNotFound
		}
		table.rows[key.String()] = project(meta, row, current)
		return nil
	})
}

func (r *memoryRows) Delete(ctx context.Context, entity string, key domain.EntityKey) error {
	if _, err := r.entity(entity); err != nil {
		return err
	}
	return r.session.write(func(st *memoryState) error {
		table := st.table(entity)
		id := key.String()
		if _, ok := table.rows[id]; !ok {
			return ErrNotFound
		}
		delete(table.rows, id)
		for i, existing := range table.order {
			if existing == id {
				table.order = append(table.order[:i], table.order[i+1:]...)
				break
			}
		}
		return nil
	})
}

// project copies the stored columns of row over base, dropping compositions
// and unknown keys.
func project(meta *model.Entity, row, base domain.Row) domain.Row {
	out := base.Clone()
	if out == nil {
		out = domain.Row{}
	}
	for _, column := range meta.Columns() {
		if value, ok := row[column]; ok {
			out[column] = domain.CloneValue(value)
		}
	}
	return out
}

func rowGetter(row domain.Row) predicate.Getter {
	return func(column string) (any, bool) {
		value, ok := row[column]
		return value, ok
	}
}

type memoryChangeLog struct {
	session *memorySession
}

func (r *memoryChangeLog) Insert(ctx context.Context, records []domain.ChangeRecord) error {
	return r.session.write(func(st *memoryState) error {
		st.changes = append(st.changes, records...)
		return nil
	})
}

func (r *memoryChangeLog) Purge(ctx context.Context, where predicate.Predicate) (int64, error) {
	var purged int64
	err := r.session.write(func(st *memoryState) error {
		kept := st.changes[:0:0]
		for _, rec := range st.changes {
			if predicate.Eval(where, rec.Column) {
				purged++
				continue
			}
			kept = append(kept, rec)
		}
		st.changes = kept
		return nil
	})
	return purged, err
}

func (r *memoryChangeLog) List(ctx context.Context, where predicate.Predicate, page Page) ([]domain.ChangeRecord, error) {
	var out []domain.ChangeRecord
	r.session.read(func(st *memoryState) {
		for _, rec := range st.changes {
			if predicate.Eval(where, rec.Column) {
				out = append(out, rec)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if page.Offset > 0 {
		if page.Offset >= len(out) {
			return []domain.ChangeRecord{}, nil
		}
		out = out[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(out) {
		out = out[:page.Limit]
	}
	return out, nil
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Session = (*memorySession)(nil)
)
