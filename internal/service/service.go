// Package service hosts the CRUD operations of the model's entities and runs
// registered hooks around them. Change tracking plugs in as a set of hooks.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/changetrack/internal/auth"
	"github.com/rpattn/changetrack/internal/changes"
	"github.com/rpattn/changetrack/internal/diff"
	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model"
	"github.com/rpattn/changetrack/internal/registry"
	"github.com/rpattn/changetrack/internal/repository"
	"github.com/rpattn/changetrack/pkg/validator"
)

var (
	// ErrUnknownEntity is returned for entities the model does not declare.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrInvalidPayload is returned when a payload does not match the model.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Options configure the service and the change tracking hooks.
type Options struct {
	Tracking        diff.Options
	PreserveDeletes bool
	// ValidatePayloads checks create and update payloads against the model
	// before anything is written.
	ValidatePayloads bool
	// Now stamps change sets. Defaults to time.Now.
	Now func() time.Time
}

// Service runs mutations and reads against a Store.
type Service struct {
	registry *registry.Registry
	store    repository.Store
	reader   *changes.Reader
	rows     *validator.RowValidator
	opts     Options
	logger   *slog.Logger

	mu    sync.RWMutex
	hooks *hookTable
}

// New creates a service and registers the change tracking hooks for every
// entity whose composition tree holds a tracked entity.
func New(reg *registry.Registry, store repository.Store, reader *changes.Reader, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if reader == nil {
		reader = changes.NewReader(reg, nil)
	}
	s := &Service{
		registry: reg,
		store:    store,
		reader:   reader,
		rows:     validator.NewRowValidator(reg.Model()),
		opts:     opts,
		logger:   logger,
		hooks:    newHookTable(),
	}
	newTracker(s).register()
	return s
}

// Registry returns the resolved change tracking registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Store returns the underlying store.
func (s *Service) Store() repository.Store { return s.store }

// Reader returns the change list reader.
func (s *Service) Reader() *changes.Reader { return s.reader }

// Create inserts a deep instance: composed children nested under their
// composition elements are inserted with it. Missing UUID keys are generated.
// It returns the stored deep snapshot.
func (s *Service) Create(ctx context.Context, entity string, data domain.Row) (domain.Row, error) {
	node, err := s.node(entity)
	if err != nil {
		return nil, err
	}
	if err := s.validate(entity, data, false); err != nil {
		return nil, err
	}
	payload := data.Clone()
	if err := s.prepare(node, payload); err != nil {
		return nil, err
	}
	key, ok := domain.KeyFromRow(node.Keys, payload)
	if !ok {
		return nil, fmt.Errorf("failed to create %s: incomplete key", entity)
	}

	var created domain.Row
	err = s.store.WithTx(ctx, func(sess repository.Session) error {
		m := s.newMutation(ctx, entity, domain.ModificationCreate, key, sess)
		m.Data = payload
		if err := s.runBefore(ctx, m); err != nil {
			return err
		}
		if err := insertDeep(ctx, s.registry, sess.Rows(), node, payload); err != nil {
			return fmt.Errorf("failed to create %s: %w", entity, err)
		}
		after, err := loadDeep(ctx, s.registry, sess.Rows(), node, key)
		if err != nil {
			return fmt.Errorf("failed to reload %s: %w", entity, err)
		}
		m.After = after
		if err := m.commit(ctx); err != nil {
			return err
		}
		created = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update applies patch to the instance. Plain elements missing from patch
// keep their value. A composition carried in patch replaces the stored
// children: matching keys are updated, new ones inserted, missing ones
// deleted.
func (s *Service) Update(ctx context.Context, entity string, key domain.EntityKey, patch domain.Row) (domain.Row, error) {
	node, err := s.node(entity)
	if err != nil {
		return nil, err
	}
	if err := s.validate(entity, patch, true); err != nil {
		return nil, err
	}
	payload := patch.Clone()

	var updated domain.Row
	err = s.store.WithTx(ctx, func(sess repository.Session) error {
		before, err := loadDeep(ctx, s.registry, sess.Rows(), node, key)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", entity, err)
		}
		for _, part := range key {
			payload[part.Attribute] = before[part.Attribute]
		}
		if err := s.prepare(node, payload); err != nil {
			return err
		}
		m := s.newMutation(ctx, entity, domain.ModificationUpdate, key, sess)
		m.Data = payload
		m.Before = before
		if err := s.runBefore(ctx, m); err != nil {
			return err
		}
		if err := updateDeep(ctx, s.registry, sess.Rows(), node, key, before, payload); err != nil {
			return fmt.Errorf("failed to update %s: %w", entity, err)
		}
		after, err := loadDeep(ctx, s.registry, sess.Rows(), node, key)
		if err != nil {
			return fmt.Errorf("failed to reload %s: %w", entity, err)
		}
		m.After = after
		if err := m.commit(ctx); err != nil {
			return err
		}
		updated = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the instance and its composed children.
func (s *Service) Delete(ctx context.Context, entity string, key domain.EntityKey) error {
	node, err := s.node(entity)
	if err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(sess repository.Session) error {
		before, err := loadDeep(ctx, s.registry, sess.Rows(), node, key)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", entity, err)
		}
		m := s.newMutation(ctx, entity, domain.ModificationDelete, key, sess)
		m.Before = before
		if err := s.runBefore(ctx, m); err != nil {
			return err
		}
		if err := deleteDeep(ctx, s.registry, sess.Rows(), node, before); err != nil {
			return fmt.Errorf("failed to delete %s: %w", entity, err)
		}
		return m.commit(ctx)
	})
}

// Read returns the deep snapshot of one instance after running the
// after-read hooks.
func (s *Service) Read(ctx context.Context, entity string, key domain.EntityKey, opts ReadOptions) (domain.Row, error) {
	node, err := s.node(entity)
	if err != nil {
		return nil, err
	}
	row, err := loadDeep(ctx, s.registry, s.store.Rows(), node, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", entity, err)
	}
	req := &ReadRequest{Entity: entity, Key: key, Row: row, Options: opts, Session: s.store}
	for _, h := range s.afterReadHandlers(entity) {
		if err := h(ctx, req); err != nil {
			return nil, err
		}
	}
	return req.Row, nil
}

// ParseKey parses a serialized key and coerces its values to the types of
// the entity's key elements.
func (s *Service) ParseKey(entity, serialized string) (domain.EntityKey, error) {
	declared, ok := s.registry.Model().Entity(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	key, err := domain.ParseEntityKey(serialized)
	if err != nil {
		return nil, err
	}
	if len(key) != len(declared.KeyNames()) {
		return nil, fmt.Errorf("key %q does not match the keys of %s", serialized, entity)
	}
	for i, part := range key {
		el, ok := declared.Element(part.Attribute)
		if !ok || !el.Key {
			return nil, fmt.Errorf("%s is not a key of %s", part.Attribute, entity)
		}
		value, err := el.Coerce(fmt.Sprint(part.Value))
		if err != nil {
			return nil, fmt.Errorf("invalid key value for %s.%s: %w", entity, part.Attribute, err)
		}
		key[i].Value = value
	}
	return key, nil
}

func (s *Service) validate(entity string, row domain.Row, partial bool) error {
	if !s.opts.ValidatePayloads {
		return nil
	}
	if result := s.rows.ValidateRow(entity, row, partial); !result.IsValid {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, result.Error())
	}
	return nil
}

func (s *Service) node(entity string) (*registry.Node, error) {
	node, ok := s.registry.Node(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return node, nil
}

func (s *Service) newMutation(ctx context.Context, entity string, mod domain.Modification, key domain.EntityKey, sess repository.Session) *Mutation {
	return &Mutation{
		Entity:       entity,
		Modification: mod,
		Key:          key,
		Session:      sess,
		ChangeSetID:  uuid.New(),
		Actor:        auth.ActorOrAnonymous(ctx),
		Timestamp:    s.opts.Now().UTC(),
	}
}

func (s *Service) runBefore(ctx context.Context, m *Mutation) error {
	for _, h := range s.beforeHandlers(m.Modification, m.Entity) {
		if err := h(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mutation) commit(ctx context.Context) error {
	for _, fn := range m.beforeCommit {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// prepare fills missing UUID keys and binds backlinks throughout a deep
// payload.
func (s *Service) prepare(node *registry.Node, row domain.Row) error {
	declared, ok := s.registry.Model().Entity(node.Name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, node.Name)
	}
	for _, name := range node.Keys {
		if value, ok := row[name]; ok && value != nil {
			continue
		}
		el, _ := declared.Element(name)
		if el != nil && el.Type == model.TypeUUID {
			row[name] = uuid.NewString()
		}
	}
	for _, comp := range node.Compositions {
		value, carried := row[comp.Element]
		if !carried || value == nil {
			continue
		}
		children, ok := domain.AsRows(value)
		if !ok {
			return fmt.Errorf("%s.%s must hold nested rows", node.Name, comp.Element)
		}
		child, ok := s.registry.Node(comp.Child)
		if !ok {
			continue
		}
		for _, c := range children {
			comp.Link.Bind(row, c)
			if err := s.prepare(child, c); err != nil {
				return err
			}
		}
		row[comp.Element] = children
	}
	return nil
}
