package changes

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/i18n"
	"github.com/rpattn/changetrack/internal/model/modeltest"
	"github.com/rpattn/changetrack/internal/predicate"
	"github.com/rpattn/changetrack/internal/registry"
	"github.com/rpattn/changetrack/internal/repository"
)

func seed(t *testing.T) (*Reader, *repository.MemoryStore) {
	t.Helper()
	m := modeltest.Load(t)
	reg := registry.Resolve(m, registry.Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	store := repository.NewMemoryStore(m)
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	err := store.ChangeLog().Insert(context.Background(), []domain.ChangeRecord{
		{Entity: "shop.BookStores", EntityKey: "ID=s1", RootEntity: "shop.BookStores", RootEntityKey: "ID=s1",
			Attribute: "name", AttributeLabel: "name", Modification: domain.ModificationCreate,
			ValueChangedTo: "Book Store", ObjectID: "Book Store", Actor: "alice", Timestamp: at},
		{Entity: "shop.Books", EntityKey: "ID=b1", RootEntity: "shop.BookStores", RootEntityKey: "ID=s1",
			Attribute: "title", AttributeLabel: "title", Modification: domain.ModificationCreate,
			ValueChangedTo: "Emma", ObjectID: "Emma", ParentObjectID: "Book Store", Actor: "alice", Timestamp: at},
		{Entity: "shop.Books", EntityKey: "ID=b2", RootEntity: "shop.Books", RootEntityKey: "ID=b2",
			Attribute: "title", AttributeLabel: "title", Modification: domain.ModificationUpdate,
			ValueChangedFrom: "A", ValueChangedTo: "B", ObjectID: "B", Actor: "bob", Timestamp: at.Add(time.Minute)},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	labels, err := i18n.Load(strings.NewReader(`
default: en
locales:
  de:
    shop.Books: Buch
    shop.Books.title: Titel
`))
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	return NewReader(reg, labels), store
}

func TestReadBackIncludesDescendantsOfRoot(t *testing.T) {
	reader, store := seed(t)
	key := domain.EntityKey{{Attribute: "ID", Value: "s1"}}

	entries, err := reader.ReadBack(context.Background(), store.ChangeLog(), "shop.BookStores", key, "en")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected root and child entries, got %+v", entries)
	}
	if entries[0].EntityLabel != "Book Store" || entries[1].ParentObjectID != "Book Store" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestRelatedNarrowsAndPagesReadBack(t *testing.T) {
	reader, store := seed(t)
	key := domain.EntityKey{{Attribute: "ID", Value: "s1"}}

	entries, err := reader.Related(context.Background(), store.ChangeLog(), "shop.BookStores", key,
		domain.ChangeFilter{Attribute: "title", Entity: "shop.Authors"}, "en")
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if len(entries) != 1 || entries[0].EntityKey != "ID=b1" {
		t.Fatalf("expected the child title entry only, got %+v", entries)
	}

	entries, err = reader.Related(context.Background(), store.ChangeLog(), "shop.BookStores", key,
		domain.ChangeFilter{Offset: 1}, "en")
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if len(entries) != 1 || entries[0].Entity != "shop.Books" {
		t.Fatalf("expected offset to skip the root entry, got %+v", entries)
	}
}

func TestReadBackOfUntrackedEntityFails(t *testing.T) {
	reader, store := seed(t)
	_, err := reader.ReadBack(context.Background(), store.ChangeLog(), "shop.Customers", domain.EntityKey{{Attribute: "ID", Value: "c"}}, "")
	if err == nil {
		t.Fatalf("expected error for untracked entity")
	}
}

func TestFlattenLocalizesLabels(t *testing.T) {
	reader, store := seed(t)
	entries, err := reader.List(context.Background(), store.ChangeLog(), domain.ChangeFilter{EntityKey: "ID=b2"}, "de-DE")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %+v", entries)
	}
	e := entries[0]
	if e.EntityLabel != "Buch" || e.Attribute != "Titel" {
		t.Fatalf("expected german labels, got %+v", e)
	}
	if e.Modification == string(domain.ModificationUpdate) {
		t.Fatalf("expected localized modification, got %q", e.Modification)
	}
}

func TestFilterPredicateSkipsEmptyFields(t *testing.T) {
	p := FilterPredicate(domain.ChangeFilter{Entity: "shop.Books", Modification: domain.ModificationUpdate})
	rec := domain.ChangeRecord{Entity: "shop.Books", Modification: domain.ModificationUpdate, Attribute: "x"}
	if !predicate.Eval(p, rec.Column) {
		t.Fatalf("expected record to match")
	}
	rec.Modification = domain.ModificationCreate
	if predicate.Eval(p, rec.Column) {
		t.Fatalf("expected modification to filter")
	}
	if !predicate.Eval(FilterPredicate(domain.ChangeFilter{}), rec.Column) {
		t.Fatalf("expected empty filter to match everything")
	}
}
