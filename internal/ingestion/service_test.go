package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/changetrack/internal/changes"
	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model/modeltest"
	"github.com/rpattn/changetrack/internal/registry"
	"github.com/rpattn/changetrack/internal/repository"
	"github.com/rpattn/changetrack/internal/service"
)

func newIngestion(t *testing.T) (*Service, *repository.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := modeltest.Load(t)
	store := repository.NewMemoryStore(m)
	svc := service.New(registry.Resolve(m, registry.Options{}, logger), store, nil, service.Options{}, logger)
	return NewService(svc, logger), store
}

const (
	emmaID       = "0b6d3e4c-59a4-4b1e-9a43-6f2a3c1d2e01"
	persuasionID = "0b6d3e4c-59a4-4b1e-9a43-6f2a3c1d2e02"
)

func TestServiceIngestCreatesAndUpdates(t *testing.T) {
	ingest, store := newIngestion(t)
	ctx := context.Background()

	data := "ID,Title,stock,author.ID,notes\n" +
		emmaID + ",Emma,3,,x\n" +
		persuasionID + ",Persuasion,oops,,\n" +
		",Sanditon,1,,\n"
	summary, err := ingest.Ingest(ctx, Request{Entity: "shop.Books", FileName: "books.csv", Data: strings.NewReader(data)})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if summary.TotalRows != 3 || summary.Created != 2 || summary.InvalidRows != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.IgnoredColumns) != 1 || summary.IgnoredColumns[0] != "notes" {
		t.Fatalf("expected notes to be ignored, got %v", summary.IgnoredColumns)
	}
	if summary.Errors[0].RowNumber != 3 {
		t.Fatalf("expected error on row 3, got %+v", summary.Errors)
	}

	row, err := store.Rows().Get(ctx, "shop.Books", domain.EntityKey{{Attribute: "ID", Value: emmaID}})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row["stock"] != int64(3) {
		t.Fatalf("expected coerced stock, got %#v", row["stock"])
	}

	summary, err = ingest.Ingest(ctx, Request{Entity: "shop.Books", FileName: "books.csv", Data: strings.NewReader("ID,title\n" + emmaID + ",Emma II\n")})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if summary.Updated != 1 || summary.Created != 0 {
		t.Fatalf("expected an update, got %+v", summary)
	}

	records, _ := store.ChangeLog().List(ctx, changes.FilterPredicate(domain.ChangeFilter{Modification: domain.ModificationUpdate}), repository.Page{})
	if len(records) != 1 || records[0].ValueChangedTo != "Emma II" {
		t.Fatalf("expected tracked update, got %+v", records)
	}
}

func TestServiceIngestReadsExcel(t *testing.T) {
	ingest, store := newIngestion(t)
	ctx := context.Background()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	_ = f.SetSheetRow(sheet, "A1", &[]any{"region", "currency", "amount"})
	_ = f.SetSheetRow(sheet, "A2", &[]any{"EU", "EUR", "9.90"})
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	summary, err := ingest.Ingest(ctx, Request{Entity: "shop.Prices", FileName: "prices.xlsx", Data: &buf})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if summary.Created != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	key := domain.EntityKey{{Attribute: "region", Value: "EU"}, {Attribute: "currency", Value: "EUR"}}
	if _, err := store.Rows().Get(ctx, "shop.Prices", key); err != nil {
		t.Fatalf("expected imported price: %v", err)
	}
}

func TestServiceIngestRejectsInput(t *testing.T) {
	ingest, _ := newIngestion(t)
	ctx := context.Background()

	if _, err := ingest.Ingest(ctx, Request{Entity: "shop.Books", FileName: "books.json", Data: strings.NewReader("{}")}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if _, err := ingest.Ingest(ctx, Request{Entity: "shop.Nope", FileName: "x.csv", Data: strings.NewReader("a\n1\n")}); !errors.Is(err, service.ErrUnknownEntity) {
		t.Fatalf("expected unknown entity, got %v", err)
	}
	if _, err := ingest.Ingest(ctx, Request{Entity: "shop.Books", FileName: "x.csv", Data: strings.NewReader("foo,bar\n1,2\n")}); err == nil {
		t.Fatalf("expected error when no column matches")
	}
}

func TestHandlerImportsUpload(t *testing.T) {
	ingest, _ := newIngestion(t)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField("entity", "shop.Authors")
	part, _ := form.CreateFormFile("file", "authors.csv")
	_, _ = part.Write([]byte("firstName,lastName\nJane,Austen\n"))
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/import", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	NewHTTPHandler(ingest).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"created": 1`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	NewHTTPHandler(ingest).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/import", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
