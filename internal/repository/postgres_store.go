package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/changetrack/internal/db"
	"github.com/rpattn/changetrack/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	conn  *db.Connection
	model *model.Model
}

// NewPostgresStore creates a store for the entities of m.
func NewPostgresStore(conn *db.Connection, m *model.Model) *PostgresStore {
	return &PostgresStore{conn: conn, model: m}
}

// Rows returns a row store outside any transaction.
func (s *PostgresStore) Rows() RowStore {
	return &rowRepository{q: s.conn.Pool, model: s.model}
}

// ChangeLog returns a change log repository outside any transaction.
func (s *PostgresStore) ChangeLog() ChangeLogRepository {
	return &changeLogRepository{q: s.conn.Pool}
}

// WithTx runs fn in a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Session) error) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(postgresSession{q: tx, model: s.model})
	})
}

type postgresSession struct {
	q     querier
	model *model.Model
}

func (s postgresSession) Rows() RowStore {
	return &rowRepository{q: s.q, model: s.model}
}

func (s postgresSession) ChangeLog() ChangeLogRepository {
	return &changeLogRepository{q: s.q}
}

var (
	_ Store   = (*PostgresStore)(nil)
	_ Session = postgresSession{}
)
