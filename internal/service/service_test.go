package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/changetrack/internal/auth"
	"github.com/rpattn/changetrack/internal/diff"
	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model/modeltest"
	"github.com/rpattn/changetrack/internal/registry"
	"github.com/rpattn/changetrack/internal/repository"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc   *Service
	store *repository.MemoryStore
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	m := modeltest.Load(t)
	reg := registry.Resolve(m, registry.Options{}, quietLogger())
	store := repository.NewMemoryStore(m)
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	opts.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return fixture{svc: New(reg, store, nil, opts, quietLogger()), store: store}
}

func (f fixture) records(t *testing.T) []domain.ChangeRecord {
	t.Helper()
	records, err := f.store.ChangeLog().List(context.Background(), nil, repository.Page{})
	if err != nil {
		t.Fatalf("list change log: %v", err)
	}
	return records
}

func key(id string) domain.EntityKey {
	return domain.EntityKey{{Attribute: "ID", Value: id}}
}

func byAttribute(records []domain.ChangeRecord, entity string) map[string]domain.ChangeRecord {
	out := map[string]domain.ChangeRecord{}
	for _, rec := range records {
		if rec.Entity == entity {
			out[rec.Attribute] = rec
		}
	}
	return out
}

func TestCreateDeepInsertAttributesChildrenToRoot(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := auth.ContextWithActor(context.Background(), "alice")

	created, err := f.svc.Create(ctx, "shop.BookStores", domain.Row{
		"ID":   "s1",
		"name": "Book Store",
		"books": []any{
			map[string]any{"title": "New Book", "stock": 25},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	books, _ := domain.AsRows(created["books"])
	if len(books) != 1 || books[0]["ID"] == nil || books[0]["store_ID"] != "s1" {
		t.Fatalf("expected generated key and bound backlink, got %+v", books)
	}

	records := f.records(t)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %+v", records)
	}
	for i, rec := range records {
		if rec.RootEntity != "shop.BookStores" || rec.RootEntityKey != "ID=s1" {
			t.Fatalf("record not attributed to root: %+v", rec)
		}
		if rec.Actor != "alice" || rec.Modification != domain.ModificationCreate || rec.Ordinal != i+1 {
			t.Fatalf("unexpected stamp %+v", rec)
		}
	}
	book := byAttribute(records, "shop.Books")
	if book["title"].ValueChangedTo != "New Book" || book["title"].ParentObjectID != "Book Store" {
		t.Fatalf("unexpected book title record %+v", book["title"])
	}
	if book["stock"].ValueChangedTo != "25" {
		t.Fatalf("unexpected stock record %+v", book["stock"])
	}
}

func TestUpdateRecordsOnlyChangedAttributes(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, "shop.Books", domain.Row{"ID": "b1", "title": "Emma", "stock": 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Update(ctx, "shop.Books", key("b1"), domain.Row{"title": "Persuasion", "stock": 3}); err != nil {
		t.Fatalf("update: %v", err)
	}

	var updates []domain.ChangeRecord
	for _, rec := range f.records(t) {
		if rec.Modification == domain.ModificationUpdate {
			updates = append(updates, rec)
		}
	}
	if len(updates) != 1 {
		t.Fatalf("expected one update record, got %+v", updates)
	}
	rec := updates[0]
	if rec.Attribute != "title" || rec.ValueChangedFrom != "Emma" || rec.ValueChangedTo != "Persuasion" || rec.ObjectID != "Persuasion" {
		t.Fatalf("unexpected update record %+v", rec)
	}
	if rec.Actor != auth.AnonymousActor {
		t.Fatalf("expected anonymous actor, got %q", rec.Actor)
	}
}

func TestCreateTrackingDisabledStillTracksUpdates(t *testing.T) {
	f := newFixture(t, Options{Tracking: diff.Options{DisableCreateTracking: true}})
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, "shop.Authors", domain.Row{"ID": "a1", "firstName": "Jane", "lastName": "Austen"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := f.records(t); len(got) != 0 {
		t.Fatalf("expected no create records, got %+v", got)
	}
	if _, err := f.svc.Update(ctx, "shop.Authors", key("a1"), domain.Row{"lastName": "Eyre"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	records := f.records(t)
	if len(records) != 1 || records[0].Attribute != "lastName" || records[0].ValueChangedFrom != "Austen" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestUpdateClearsAssociation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, "shop.Authors", domain.Row{"ID": "a1", "firstName": "Jane", "lastName": "Austen"}); err != nil {
		t.Fatalf("create author: %v", err)
	}
	if _, err := f.svc.Create(ctx, "shop.Books", domain.Row{"ID": "b1", "title": "Emma", "author_ID": "a1"}); err != nil {
		t.Fatalf("create book: %v", err)
	}
	if _, err := f.svc.Update(ctx, "shop.Books", key("b1"), domain.Row{"author_ID": nil}); err != nil {
		t.Fatalf("update: %v", err)
	}
	var cleared *domain.ChangeRecord
	records := f.records(t)
	for i, rec := range records {
		if rec.Entity == "shop.Books" && rec.Modification == domain.ModificationUpdate {
			cleared = &records[i]
		}
	}
	if cleared == nil || cleared.Attribute != "author" || cleared.ValueChangedFrom != "Jane Austen" || cleared.ValueChangedTo != "" {
		t.Fatalf("unexpected association record %+v", cleared)
	}
}

func TestDeleteWithoutPreserveDeletesPurgesHistory(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.svc.Create(ctx, "shop.BookStores", domain.Row{
		"ID":    "s1",
		"name":  "Book Store",
		"books": []any{map[string]any{"ID": "b1", "title": "Emma"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.Delete(ctx, "shop.BookStores", key("s1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := f.records(t); len(got) != 0 {
		t.Fatalf("expected purged history, got %+v", got)
	}
	if _, err := f.store.Rows().Get(ctx, "shop.Books", key("b1")); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected cascaded delete, got %v", err)
	}
}

func TestDeleteWithPreserveDeletesKeepsHistory(t *testing.T) {
	f := newFixture(t, Options{PreserveDeletes: true})
	ctx := context.Background()
	_, err := f.svc.Create(ctx, "shop.BookStores", domain.Row{
		"ID":    "s1",
		"name":  "Book Store",
		"books": []any{map[string]any{"ID": "b1", "title": "Emma"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.Delete(ctx, "shop.BookStores", key("s1")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	counts := map[domain.Modification]int{}
	for _, rec := range f.records(t) {
		counts[rec.Modification]++
	}
	if counts[domain.ModificationCreate] != 2 || counts[domain.ModificationDelete] != 2 {
		t.Fatalf("expected create and delete records to remain, got %v", counts)
	}
}

func TestUpdateSyncsCarriedComposition(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.svc.Create(ctx, "shop.BookStores", domain.Row{
		"ID":   "s1",
		"name": "Book Store",
		"books": []any{
			map[string]any{"ID": "b1", "title": "Emma"},
			map[string]any{"ID": "b2", "title": "Sanditon"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := f.svc.Update(ctx, "shop.BookStores", key("s1"), domain.Row{
		"books": []any{
			map[string]any{"ID": "b1", "title": "Emma (2nd ed.)"},
			map[string]any{"ID": "b3", "title": "Persuasion"},
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if books, _ := domain.AsRows(updated["books"]); len(books) != 2 {
		t.Fatalf("expected two books after update, got %+v", updated["books"])
	}

	var sawUpdate, sawCreate bool
	for _, rec := range f.records(t) {
		if rec.EntityKey == "ID=b2" {
			t.Fatalf("expected removed book history to be purged, got %+v", rec)
		}
		if rec.EntityKey == "ID=b1" && rec.Modification == domain.ModificationUpdate {
			sawUpdate = rec.ValueChangedTo == "Emma (2nd ed.)" && rec.RootEntityKey == "ID=s1"
		}
		if rec.EntityKey == "ID=b3" && rec.Modification == domain.ModificationCreate {
			sawCreate = rec.ParentObjectID == "Book Store"
		}
	}
	if !sawUpdate || !sawCreate {
		t.Fatalf("expected nested update and create records, update=%v create=%v", sawUpdate, sawCreate)
	}
}

func TestReadAttachesChangesOnRequest(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.svc.Create(ctx, "shop.BookStores", domain.Row{
		"ID":    "s1",
		"name":  "Book Store",
		"books": []any{map[string]any{"ID": "b1", "title": "Emma"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	plain, err := f.svc.Read(ctx, "shop.BookStores", key("s1"), ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, ok := plain[registry.ChangesAssociation]; ok {
		t.Fatalf("expected no changes without asking")
	}

	row, err := f.svc.Read(ctx, "shop.BookStores", key("s1"), ReadOptions{WithChanges: true, Locale: "en"})
	if err != nil {
		t.Fatalf("read with changes: %v", err)
	}
	entries, ok := row[registry.ChangesAssociation].([]domain.DisplayChangeEntry)
	if !ok || len(entries) != 2 {
		t.Fatalf("expected root and child entries, got %#v", row[registry.ChangesAssociation])
	}
	if entries[1].Entity != "shop.Books" || entries[1].ObjectID != "Emma" {
		t.Fatalf("unexpected child entry %+v", entries[1])
	}
}

type failingLog struct {
	repository.ChangeLogRepository
}

func (failingLog) Insert(context.Context, []domain.ChangeRecord) error {
	return errors.New("disk full")
}

type failingSession struct {
	repository.Session
}

func (s failingSession) ChangeLog() repository.ChangeLogRepository {
	return failingLog{s.Session.ChangeLog()}
}

type failingStore struct {
	repository.Store
}

func (s failingStore) WithTx(ctx context.Context, fn func(repository.Session) error) error {
	return s.Store.WithTx(ctx, func(sess repository.Session) error {
		return fn(failingSession{sess})
	})
}

func TestPersistenceFailureRollsBackMutation(t *testing.T) {
	m := modeltest.Load(t)
	reg := registry.Resolve(m, registry.Options{}, quietLogger())
	store := repository.NewMemoryStore(m)
	svc := New(reg, failingStore{store}, nil, Options{}, quietLogger())
	ctx := context.Background()

	_, err := svc.Create(ctx, "shop.Books", domain.Row{"ID": "b1", "title": "Emma"})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if _, err := store.Rows().Get(ctx, "shop.Books", key("b1")); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected rolled back insert, got %v", err)
	}
}

type unreachableRows struct {
	repository.RowStore
}

func (unreachableRows) GetMany(context.Context, string, []domain.EntityKey) ([]domain.Row, error) {
	return nil, errors.New("connection reset")
}

type lookupFailingSession struct {
	repository.Session
}

func (s lookupFailingSession) Rows() repository.RowStore {
	return unreachableRows{s.Session.Rows()}
}

type lookupFailingStore struct {
	repository.Store
}

func (s lookupFailingStore) WithTx(ctx context.Context, fn func(repository.Session) error) error {
	return s.Store.WithTx(ctx, func(sess repository.Session) error {
		return fn(lookupFailingSession{sess})
	})
}

func TestCaptureFailureStillCommitsMutation(t *testing.T) {
	m := modeltest.Load(t)
	reg := registry.Resolve(m, registry.Options{}, quietLogger())
	store := repository.NewMemoryStore(m)
	svc := New(reg, lookupFailingStore{store}, nil, Options{}, quietLogger())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "shop.Books", domain.Row{"ID": "b1", "title": "Emma", "store_ID": "s1"}); err != nil {
		t.Fatalf("expected the mutation to succeed, got %v", err)
	}
	if _, err := store.Rows().Get(ctx, "shop.Books", key("b1")); err != nil {
		t.Fatalf("expected committed book, got %v", err)
	}
	records, err := store.ChangeLog().List(ctx, nil, repository.Page{})
	if err != nil {
		t.Fatalf("list change log: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected the failed capture to write nothing, got %+v", records)
	}
}

func TestUntrackedEntityWritesNoRecords(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, "shop.Customers", domain.Row{"name": "Ann"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := f.records(t); len(got) != 0 {
		t.Fatalf("expected no records, got %+v", got)
	}
}

func TestBeforeHookErrorAbortsMutation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, "shop.Customers", domain.Row{"ID": "c1", "name": "Ann"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var seen *Mutation
	f.svc.BeforeUpdate("shop.Customers", func(_ context.Context, m *Mutation) error {
		seen = m
		return errors.New("frozen")
	})
	if _, err := f.svc.Update(ctx, "shop.Customers", key("c1"), domain.Row{"name": "Bob"}); err == nil {
		t.Fatalf("expected hook error")
	}
	if seen == nil || seen.Before["name"] != "Ann" || seen.Data["name"] != "Bob" {
		t.Fatalf("unexpected mutation seen by hook %+v", seen)
	}
	row, err := f.svc.Read(ctx, "shop.Customers", key("c1"), ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if row["name"] != "Ann" {
		t.Fatalf("expected unchanged row, got %+v", row)
	}
}

func TestUnknownEntity(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.svc.Create(context.Background(), "shop.Nope", domain.Row{}); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected unknown entity, got %v", err)
	}
}

func TestParseKeyCoercesValues(t *testing.T) {
	f := newFixture(t, Options{})
	k, err := f.svc.ParseKey("shop.Prices", "currency=EUR;region=EU")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if k.String() != "currency=EUR;region=EU" {
		t.Fatalf("unexpected key %v", k)
	}
	if _, err := f.svc.ParseKey("shop.Prices", "amount=3"); err == nil {
		t.Fatalf("expected error for non-key attribute")
	}
}

func TestValidatePayloadsRejectsBeforeWriting(t *testing.T) {
	f := newFixture(t, Options{ValidatePayloads: true})
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "shop.Books", domain.Row{"title": "Emma", "stock": "lots"})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
	found, _ := f.store.Rows().Find(ctx, "shop.Books", nil)
	if len(found) != 0 {
		t.Fatalf("expected nothing written, got %+v", found)
	}

	created, err := f.svc.Create(ctx, "shop.Books", domain.Row{"title": "Emma", "stock": int64(2)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := uuid.Parse(created["ID"].(string)); err != nil {
		t.Fatalf("expected generated UUID key, got %v", created["ID"])
	}
}
