package display

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model"
	"github.com/rpattn/changetrack/internal/model/modeltest"
	"github.com/rpattn/changetrack/internal/registry"
)

type stubLookup struct {
	rows  map[string]domain.Row
	calls int
	fail  bool
}

func (s *stubLookup) find(_ context.Context, entity string, key domain.EntityKey) (domain.Row, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("connection reset")
	}
	return s.rows[entity+"|"+key.String()], nil
}

func newFixture(t *testing.T) (*registry.Registry, *stubLookup, *Resolver) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.Resolve(modeltest.Load(t), registry.Options{}, logger)
	lookup := &stubLookup{rows: map[string]domain.Row{
		"shop.Authors|ID=a1":   {"ID": "a1", "firstName": "Jane", "lastName": "Austen"},
		"shop.Genres|code=FIC": {"code": "FIC", "name": "Fiction"},
	}}
	return reg, lookup, NewResolver(LookupFunc(lookup.find), logger)
}

func TestObjectID(t *testing.T) {
	reg, _, resolver := newFixture(t)
	ctx := context.Background()

	books, _ := reg.Entity("shop.Books")
	if got := resolver.ObjectID(ctx, books, domain.Row{"ID": "b1", "title": "Emma"}); got != "Emma" {
		t.Fatalf("unexpected object id %q", got)
	}

	prices, _ := reg.Entity("shop.Prices")
	got := resolver.ObjectID(ctx, prices, domain.Row{"region": "EU", "currency": "EUR"})
	if got != "EU, EUR" {
		t.Fatalf("unexpected composite object id %q", got)
	}
	if got := resolver.ObjectID(ctx, prices, domain.Row{"region": "EU"}); got != "EU" {
		t.Fatalf("expected empty parts to be skipped, got %q", got)
	}
}

func TestAssociationValue(t *testing.T) {
	reg, lookup, resolver := newFixture(t)
	ctx := context.Background()
	books, _ := reg.Entity("shop.Books")
	author, _ := books.Attribute("author")

	if got := resolver.Value(ctx, author, domain.Row{"author_ID": "a1"}); got != "Jane Austen" {
		t.Fatalf("unexpected author display %q", got)
	}
	if lookup.calls != 1 {
		t.Fatalf("expected one lookup for both author fields, got %d", lookup.calls)
	}

	lookup.calls = 0
	if got := resolver.Value(ctx, author, domain.Row{"author_ID": nil}); got != "" {
		t.Fatalf("expected null association to display empty, got %q", got)
	}
	if lookup.calls != 0 {
		t.Fatalf("expected no lookup for a null foreign key")
	}

	if got := resolver.Value(ctx, author, domain.Row{"author_ID": "gone"}); got != "" {
		t.Fatalf("expected missing target to display empty, got %q", got)
	}

	lookup.fail = true
	if got := resolver.Value(ctx, author, domain.Row{"author_ID": "a1"}); got != "" {
		t.Fatalf("expected failed lookup to display empty, got %q", got)
	}
}

func TestCodeListAndStructValues(t *testing.T) {
	reg, _, resolver := newFixture(t)
	ctx := context.Background()

	books, _ := reg.Entity("shop.Books")
	genre, _ := books.Attribute("genre")
	if got := resolver.Value(ctx, genre, domain.Row{"genre_code": "FIC"}); got != "Fiction" {
		t.Fatalf("expected code list name, got %q", got)
	}

	stores, _ := reg.Entity("shop.BookStores")
	address, _ := stores.Attribute("address")
	row := domain.Row{"address": map[string]any{"street": "Main St 1", "city": "Bath"}}
	if got := resolver.Value(ctx, address, row); got != "Main St 1 Bath" {
		t.Fatalf("unexpected struct display %q", got)
	}

	manager, _ := stores.Attribute("manager")
	if got := resolver.Value(ctx, manager, domain.Row{"manager_ID": "a1"}); got != "Austen" {
		t.Fatalf("expected configured manager path, got %q", got)
	}
}

func TestIdentity(t *testing.T) {
	reg, _, _ := newFixture(t)
	books, _ := reg.Entity("shop.Books")
	author, _ := books.Attribute("author")
	published, _ := books.Attribute("published")

	a, _ := Identity(author, domain.Row{"author_ID": "a1"})
	b, _ := Identity(author, domain.Row{"author_ID": "a2"})
	if a == b {
		t.Fatalf("expected different targets to differ")
	}
	if _, ok := Identity(author, domain.Row{}); ok {
		t.Fatalf("expected missing association to be absent")
	}

	x, _ := Identity(published, domain.Row{"published": "2024-03-01"})
	y, _ := Identity(published, domain.Row{"published": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
	if x != y {
		t.Fatalf("expected date forms to compare equal, got %q and %q", x, y)
	}
}

func TestFormat(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	tests := []struct {
		name  string
		value any
		typ   model.DataType
		want  string
	}{
		{name: "nil", value: nil, typ: model.TypeString, want: ""},
		{name: "whitespace", value: "   ", typ: model.TypeString, want: "   "},
		{name: "integer from json", value: float64(25), typ: model.TypeInteger, want: "25"},
		{name: "decimal trailing zeros", value: "10.50", typ: model.TypeDecimal, want: "10.5"},
		{name: "decimal whole", value: "12.000", typ: model.TypeDecimal, want: "12"},
		{name: "date string", value: "2024-03-01", typ: model.TypeDate, want: "2024-03-01"},
		{name: "datetime zone", value: time.Date(2024, 3, 1, 13, 0, 0, 0, berlin), typ: model.TypeDateTime, want: "2024-03-01T12:00:00Z"},
		{name: "datetime precision", value: "2024-03-01T12:00:00.123Z", typ: model.TypeDateTime, want: "2024-03-01T12:00:00Z"},
		{name: "timestamp", value: "2024-03-01T12:00:00.123456Z", typ: model.TypeTimestamp, want: "2024-03-01T12:00:00.123Z"},
		{name: "time", value: "08:30:00.000", typ: model.TypeTime, want: "08:30:00"},
		{name: "boolean", value: true, typ: model.TypeBoolean, want: "true"},
		{name: "uuid", value: "3F2504E0-4F89-11D3-9A0C-0305E82C3301", typ: model.TypeUUID, want: "3f2504e0-4f89-11d3-9a0c-0305e82c3301"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Format(tt.value, tt.typ); got != tt.want {
				t.Fatalf("Format(%v, %s) = %q, want %q", tt.value, tt.typ, got, tt.want)
			}
		})
	}
}
