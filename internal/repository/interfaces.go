package repository

import (
	"context"
	"errors"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/predicate"
)

// ErrNotFound is returned when no row matches a key.
var ErrNotFound = errors.New("not found")

// RowStore defines the row primitives of the host's relational store. Rows are
// flat: compositions are stored as separate rows linked by backlink columns.
type RowStore interface {
	Get(ctx context.Context, entity string, key domain.EntityKey) (domain.Row, error)
	GetMany(ctx context.Context, entity string, keys []domain.EntityKey) ([]domain.Row, error)
	Find(ctx context.Context, entity string, where predicate.Predicate) ([]domain.Row, error)
	Insert(ctx context.Context, entity string, row domain.Row) error
	Update(ctx context.Context, entity string, key domain.EntityKey, row domain.Row) error
	Delete(ctx context.Context, entity string, key domain.EntityKey) error
}

// Page limits a listing. A zero Limit lists everything.
type Page struct {
	Limit  int
	Offset int
}

// ChangeLogRepository defines the operations on persisted change records.
type ChangeLogRepository interface {
	Insert(ctx context.Context, records []domain.ChangeRecord) error
	Purge(ctx context.Context, where predicate.Predicate) (int64, error)
	List(ctx context.Context, where predicate.Predicate, page Page) ([]domain.ChangeRecord, error)
}

// Session groups the repositories bound to one connection or transaction.
type Session interface {
	Rows() RowStore
	ChangeLog() ChangeLogRepository
}

// Store is a Session that can open transactions. Everything done through the
// Session passed to fn commits or rolls back together.
type Store interface {
	Session
	WithTx(ctx context.Context, fn func(Session) error) error
}
