package composition

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/changetrack/internal/diff"
	"github.com/rpattn/changetrack/internal/display"
	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model/modeltest"
	"github.com/rpattn/changetrack/internal/registry"
)

var stored = map[string]domain.Row{
	"shop.BookStores|ID=s1": {"ID": "s1", "name": "Book Store"},
	"shop.Books|ID=b1":      {"ID": "b1", "title": "Emma", "store_ID": "s1"},
}

func newWalker(t *testing.T, opts diff.Options) *Walker {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.Resolve(modeltest.Load(t), registry.Options{}, logger)
	lookup := display.LookupFunc(func(_ context.Context, entity string, key domain.EntityKey) (domain.Row, error) {
		return stored[entity+"|"+key.String()], nil
	})
	resolver := display.NewResolver(lookup, logger)
	return NewWalker(reg, diff.NewEngine(resolver, opts, logger), resolver, lookup, logger)
}

func newEvent(entity string, mod domain.Modification, before, after domain.Row) Event {
	return Event{
		Entity:       entity,
		Modification: mod,
		Before:       before,
		After:        after,
		Actor:        "alice",
		Timestamp:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		ChangeSetID:  uuid.New(),
	}
}

func recordsFor(records []domain.ChangeRecord, entity string) []domain.ChangeRecord {
	var out []domain.ChangeRecord
	for _, rec := range records {
		if rec.Entity == entity {
			out = append(out, rec)
		}
	}
	return out
}

func TestDeepInsertAttributesChildrenToRoot(t *testing.T) {
	walker := newWalker(t, diff.Options{})
	after := domain.Row{
		"ID":   "s9",
		"name": "Book Store",
		"books": []any{
			map[string]any{"ID": "b9", "title": "New Book", "stock": 25},
		},
	}

	event := newEvent("shop.BookStores", domain.ModificationCreate, nil, after)
	result, err := walker.Walk(context.Background(), event)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if result.Stage != StageStamped || result.Root.Entity != "shop.BookStores" {
		t.Fatalf("unexpected result %+v", result)
	}

	books := recordsFor(result.Records, "shop.Books")
	if len(books) != 2 {
		t.Fatalf("expected title and stock records for the child, got %+v", books)
	}
	for _, rec := range books {
		if rec.ObjectID != "New Book" || rec.ParentObjectID != "Book Store" {
			t.Fatalf("unexpected child labels %+v", rec)
		}
		if rec.RootEntity != "shop.BookStores" || rec.RootEntityKey != "ID=s9" {
			t.Fatalf("expected child stamped with root, got %+v", rec)
		}
		if rec.ParentEntity != "shop.BookStores" || rec.ParentEntityKey != "ID=s9" {
			t.Fatalf("expected parent linkage, got %+v", rec)
		}
		if rec.Actor != "alice" || rec.ChangeSetID != event.ChangeSetID || !rec.Timestamp.Equal(event.Timestamp) {
			t.Fatalf("expected provenance stamped, got %+v", rec)
		}
	}

	stores := recordsFor(result.Records, "shop.BookStores")
	if len(stores) != 1 || stores[0].ParentObjectID != "" || stores[0].RootEntityKey != "ID=s9" {
		t.Fatalf("unexpected root records %+v", stores)
	}
	for i, rec := range result.Records {
		if rec.Ordinal != i+1 {
			t.Fatalf("expected ordinals in record order, got %d at %d", rec.Ordinal, i)
		}
	}
}

func TestCascadingDelete(t *testing.T) {
	walker := newWalker(t, diff.Options{})
	before := domain.Row{
		"ID":   "s1",
		"name": "Book Store",
		"books": []domain.Row{{
			"ID":       "b1",
			"title":    "Emma",
			"store_ID": "s1",
			"chapters": []domain.Row{{"ID": "c1", "title": "Chapter 1", "book_ID": "b1"}},
		}},
	}

	result, err := walker.Walk(context.Background(), newEvent("shop.BookStores", domain.ModificationDelete, before, nil))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(result.Deleted) != 3 {
		t.Fatalf("expected store, book and chapter deleted, got %+v", result.Deleted)
	}
	chapters := recordsFor(result.Records, "shop.Chapters")
	if len(chapters) != 1 || chapters[0].ParentObjectID != "Emma" || chapters[0].RootEntityKey != "ID=s1" {
		t.Fatalf("unexpected chapter records %+v", chapters)
	}
	for _, rec := range result.Records {
		if rec.Modification != domain.ModificationDelete || rec.ValueChangedTo != "" {
			t.Fatalf("unexpected cascade record %+v", rec)
		}
	}
}

func TestDeleteTrackingOffStillReportsDeletedInstances(t *testing.T) {
	walker := newWalker(t, diff.Options{DisableDeleteTracking: true})
	before := domain.Row{"ID": "s1", "name": "Book Store", "books": []domain.Row{{"ID": "b1", "title": "Emma"}}}

	result, err := walker.Walk(context.Background(), newEvent("shop.BookStores", domain.ModificationDelete, before, nil))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(result.Records) != 0 || len(result.Deleted) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestNestedUpdateMatchesChildrenByKey(t *testing.T) {
	walker := newWalker(t, diff.Options{})
	before := domain.Row{
		"ID":   "s1",
		"name": "Book Store",
		"books": []domain.Row{
			{"ID": "b1", "title": "Emma", "stock": 3, "store_ID": "s1"},
			{"ID": "b2", "title": "Persuasion", "store_ID": "s1"},
		},
	}
	after := domain.Row{
		"ID":   "s1",
		"name": "Book Store",
		"books": []domain.Row{
			{"ID": "b1", "title": "Emma", "stock": 5, "store_ID": "s1"},
			{"ID": "b3", "title": "Mansfield Park"},
		},
	}

	result, err := walker.Walk(context.Background(), newEvent("shop.BookStores", domain.ModificationUpdate, before, after))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}

	byKey := map[string][]domain.ChangeRecord{}
	for _, rec := range result.Records {
		byKey[rec.EntityKey] = append(byKey[rec.EntityKey], rec)
	}
	if recs := byKey["ID=b1"]; len(recs) != 1 || recs[0].Attribute != "stock" || recs[0].Modification != domain.ModificationUpdate {
		t.Fatalf("unexpected update records %+v", recs)
	}
	if recs := byKey["ID=b2"]; len(recs) != 1 || recs[0].Modification != domain.ModificationDelete {
		t.Fatalf("unexpected removal records %+v", recs)
	}
	if recs := byKey["ID=b3"]; len(recs) != 1 || recs[0].Modification != domain.ModificationCreate || recs[0].ParentObjectID != "Book Store" {
		t.Fatalf("unexpected insert records %+v", recs)
	}
	if len(result.Deleted) != 1 || result.Deleted[0].Key.String() != "ID=b2" {
		t.Fatalf("unexpected deleted instances %+v", result.Deleted)
	}
}

func TestUpdateWithoutCompositionLeavesChildrenAlone(t *testing.T) {
	walker := newWalker(t, diff.Options{})
	before := domain.Row{"ID": "s1", "name": "Book Store", "books": []domain.Row{{"ID": "b1", "title": "Emma"}}}
	after := domain.Row{"ID": "s1", "name": "Books & More"}

	result, err := walker.Walk(context.Background(), newEvent("shop.BookStores", domain.ModificationUpdate, before, after))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(result.Records) != 1 || result.Records[0].Attribute != "name" || len(result.Deleted) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestDirectChildMutationResolvesRoot(t *testing.T) {
	walker := newWalker(t, diff.Options{})
	after := domain.Row{"ID": "c2", "title": "Epilogue", "book_ID": "b1"}

	result, err := walker.Walk(context.Background(), newEvent("shop.Chapters", domain.ModificationCreate, nil, after))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if result.Root.Entity != "shop.BookStores" || result.Root.Key.String() != "ID=s1" {
		t.Fatalf("expected root book store, got %+v", result.Root)
	}
	rec := result.Records[0]
	if rec.RootEntityKey != "ID=s1" || rec.ParentEntity != "shop.Books" || rec.ParentEntityKey != "ID=b1" || rec.ParentObjectID != "Emma" {
		t.Fatalf("unexpected linkage %+v", rec)
	}
}

func TestWalkRejectsUnknownEntity(t *testing.T) {
	walker := newWalker(t, diff.Options{})
	result, err := walker.Walk(context.Background(), newEvent("shop.Unknown", domain.ModificationCreate, nil, domain.Row{"ID": "x"}))
	if err == nil || result.Stage != StageReceived {
		t.Fatalf("expected walk to stop at %s, got %v (%s)", StageReceived, err, result.Stage)
	}
}
