package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/repository"
)

// Mutation is the pending write handed to before hooks. Handlers run inside
// the mutation's transaction, before the row write.
type Mutation struct {
	Entity       string
	Modification domain.Modification
	Key          domain.EntityKey
	// Data is the deep payload: the full instance on create, the patch on
	// update and nil on delete.
	Data domain.Row
	// Before is the deep snapshot before the write, nil on create.
	Before domain.Row
	// After is the deep snapshot after the write. It is filled before the
	// before-commit callbacks run and stays nil on delete.
	After domain.Row

	Session     repository.Session
	ChangeSetID uuid.UUID
	Actor       string
	Timestamp   time.Time

	beforeCommit []func(ctx context.Context) error
}

// OnBeforeCommit registers fn to run after the write and before the
// transaction commits. An error from fn rolls the mutation back.
func (m *Mutation) OnBeforeCommit(fn func(ctx context.Context) error) {
	m.beforeCommit = append(m.beforeCommit, fn)
}

// MutationHandler is a before-create, before-update or before-delete hook.
type MutationHandler func(ctx context.Context, m *Mutation) error

// ReadRequest is handed to after-read hooks.
type ReadRequest struct {
	Entity  string
	Key     domain.EntityKey
	Row     domain.Row
	Options ReadOptions
	Session repository.Session
}

// ReadHandler is an after-read hook. It may add fields to req.Row.
type ReadHandler func(ctx context.Context, req *ReadRequest) error

// ReadOptions tune Read.
type ReadOptions struct {
	WithChanges bool
	Locale      string
}

type hookTable struct {
	before map[domain.Modification]map[string][]MutationHandler
	after  map[string][]ReadHandler
}

func newHookTable() *hookTable {
	return &hookTable{
		before: map[domain.Modification]map[string][]MutationHandler{
			domain.ModificationCreate: {},
			domain.ModificationUpdate: {},
			domain.ModificationDelete: {},
		},
		after: map[string][]ReadHandler{},
	}
}

// BeforeCreate registers h for creates of entity.
func (s *Service) BeforeCreate(entity string, h MutationHandler) {
	s.registerBefore(domain.ModificationCreate, entity, h)
}

// BeforeUpdate registers h for updates of entity.
func (s *Service) BeforeUpdate(entity string, h MutationHandler) {
	s.registerBefore(domain.ModificationUpdate, entity, h)
}

// BeforeDelete registers h for deletes of entity.
func (s *Service) BeforeDelete(entity string, h MutationHandler) {
	s.registerBefore(domain.ModificationDelete, entity, h)
}

// AfterRead registers h for reads of entity.
func (s *Service) AfterRead(entity string, h ReadHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks.after[entity] = append(s.hooks.after[entity], h)
}

func (s *Service) registerBefore(mod domain.Modification, entity string, h MutationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks.before[mod][entity] = append(s.hooks.before[mod][entity], h)
}

func (s *Service) beforeHandlers(mod domain.Modification, entity string) []MutationHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]MutationHandler(nil), s.hooks.before[mod][entity]...)
}

func (s *Service) afterReadHandlers(entity string) []ReadHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ReadHandler(nil), s.hooks.after[entity]...)
}
