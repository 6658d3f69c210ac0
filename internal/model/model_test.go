package model_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/rpattn/changetrack/internal/model"
	"github.com/rpattn/changetrack/internal/model/modeltest"
)

func TestLoadBookshop(t *testing.T) {
	m := modeltest.Load(t)

	books, ok := m.Entity("shop.Books")
	if !ok {
		t.Fatalf("expected qualified entity name")
	}
	if books.Table != "shop_books" {
		t.Fatalf("unexpected default table %q", books.Table)
	}
	author, _ := books.Element("author")
	if author.Kind != model.KindAssociation || author.Cardinality != model.CardinalityOne {
		t.Fatalf("unexpected author element %+v", author)
	}
	if !reflect.DeepEqual(author.ForeignKeyColumns(), []string{"author_ID"}) {
		t.Fatalf("unexpected foreign key columns %v", author.ForeignKeyColumns())
	}
	chapters, _ := books.Element("chapters")
	if chapters.Cardinality != model.CardinalityMany || chapters.Target != "shop.Chapters" {
		t.Fatalf("unexpected composition %+v", chapters)
	}

	genres, _ := m.Entity("shop.Genres")
	if genres.DisplayField != "name" {
		t.Fatalf("expected code list display field default, got %q", genres.DisplayField)
	}

	want := []string{"ID", "title", "stock", "price", "published", "author_ID", "genre_code", "store_ID", "internalNote"}
	if got := books.Columns(); !reflect.DeepEqual(got, want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
}

func TestAnnotationForms(t *testing.T) {
	m := modeltest.Load(t)
	books, _ := m.Entity("shop.Books")

	if !books.Changelog.Set || !reflect.DeepEqual(books.Changelog.Paths, []string{"title"}) {
		t.Fatalf("unexpected entity annotation %+v", books.Changelog)
	}
	note, _ := books.Element("internalNote")
	if !note.Changelog.Set || note.Changelog.Enabled {
		t.Fatalf("expected explicit opt-out, got %+v", note.Changelog)
	}
	title, _ := books.Element("title")
	if title.Changelog.Set {
		t.Fatalf("expected unannotated element")
	}
}

func TestLoadRejectsInvalidModels(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown target",
			doc:  "entities:\n  - name: A\n    elements:\n      - {name: ID, key: true}\n      - {name: b, target: Missing}\n",
			want: "unknown target",
		},
		{
			name: "duplicate element",
			doc:  "entities:\n  - name: A\n    elements:\n      - {name: ID, key: true}\n      - {name: ID}\n",
			want: "duplicate element",
		},
		{
			name: "composition without backlink",
			doc:  "entities:\n  - name: A\n    elements:\n      - {name: ID, key: true}\n      - {name: items, kind: composition, target: B}\n  - name: B\n    elements:\n      - {name: ID, key: true}\n",
			want: "without backlink",
		},
		{
			name: "to-many association",
			doc:  "entities:\n  - name: A\n    elements:\n      - {name: ID, key: true}\n      - {name: b, target: A, cardinality: many}\n",
			want: "to-many",
		},
		{
			name: "bad annotation",
			doc:  "entities:\n  - name: A\n    changelog: {paths: x}\n    elements:\n      - {name: ID, key: true}\n",
			want: "changelog annotation",
		},
		{
			name: "unknown field",
			doc:  "entities:\n  - name: A\n    tracked: true\n    elements:\n      - {name: ID, key: true}\n",
			want: "tracked",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := model.Parse(tt.doc)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	el := model.Element{Name: "stock", Type: model.TypeInteger}
	v, err := el.Coerce("25")
	if err != nil || v != int64(25) {
		t.Fatalf("unexpected coerce result %v (%v)", v, err)
	}
	if _, err := (model.Element{Type: model.TypeUUID}).Coerce("not-a-uuid"); err == nil {
		t.Fatalf("expected invalid uuid to fail")
	}
}

func TestFinalizeIsRepeatableAndReportsEveryProblem(t *testing.T) {
	m := &model.Model{Entities: []model.Entity{
		{Name: "Authors", Elements: []model.Element{{Name: "ID", Key: true}}},
		{Name: "Books", Elements: []model.Element{
			{Name: "ID", Key: true},
			{Name: "author", Target: "Authors"},
		}},
	}}
	for i := 0; i < 2; i++ {
		if err := m.Finalize(); err != nil {
			t.Fatalf("finalize #%d: %v", i+1, err)
		}
	}
	books, _ := m.Entity("Books")
	author, _ := books.Element("author")
	if author.Kind != model.KindAssociation || len(author.ForeignKeys) != 1 || author.ForeignKeys[0] != "ID" {
		t.Fatalf("expected association defaults, got %+v", author)
	}

	broken := &model.Model{Entities: []model.Entity{
		{Name: "A", Elements: []model.Element{{Name: "x", Target: "Missing"}}},
		{Name: "B", Elements: []model.Element{{Name: "y", Kind: "widget"}}},
	}}
	err := broken.Finalize()
	if err == nil || !strings.Contains(err.Error(), "unknown target") || !strings.Contains(err.Error(), "unknown element kind") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}
