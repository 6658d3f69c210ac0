package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model"
	"github.com/rpattn/changetrack/internal/repository"
	"github.com/rpattn/changetrack/internal/service"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Service imports tabular data as entity instances. Every row goes through
// the entity service, so imports are change tracked like any other write.
type Service struct {
	entities *service.Service
	logger   *slog.Logger
}

// NewService creates a new ingestion service.
func NewService(entities *service.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{entities: entities, logger: logger}
}

// Request describes the ingestion input.
type Request struct {
	Entity         string
	FileName       string
	HeaderRowIndex *int
	Data           io.Reader
}

// RowError reports a row that could not be imported.
type RowError struct {
	RowNumber int    `json:"rowNumber"`
	Message   string `json:"message"`
}

// Summary returns ingestion level metrics.
type Summary struct {
	TotalRows      int        `json:"totalRows"`
	Created        int        `json:"created"`
	Updated        int        `json:"updated"`
	InvalidRows    int        `json:"invalidRows"`
	IgnoredColumns []string   `json:"ignoredColumns"`
	Errors         []RowError `json:"errors"`
}

type tableData struct {
	headers        []string
	rows           [][]string
	headerRowIndex int
}

// column binds a file column to a stored column of the entity.
type column struct {
	index  int
	name   string
	coerce func(string) (any, error)
}

// Ingest reads the uploaded file and creates or updates one instance per row.
// Rows whose key matches an existing instance are applied as updates.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{IgnoredColumns: []string{}, Errors: []RowError{}}

	if strings.TrimSpace(req.Entity) == "" {
		return summary, errors.New("entity is required")
	}
	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}
	declared, ok := s.entities.Registry().Model().Entity(req.Entity)
	if !ok {
		return summary, fmt.Errorf("%w: %s", service.ErrUnknownEntity, req.Entity)
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, errors.New("file is empty")
	}

	table, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return summary, err
	}
	columns, ignored := bindColumns(s.entities.Registry().Model(), declared, table.headers)
	summary.IgnoredColumns = append(summary.IgnoredColumns, ignored...)
	if len(columns) == 0 {
		return summary, errors.New("no column matches an element of " + req.Entity)
	}

	summary.TotalRows = len(table.rows)
	keys := declared.KeyNames()
	for i, cells := range table.rows {
		rowNumber := table.headerRowIndex + i + 2
		row, err := buildRow(columns, cells)
		if err != nil {
			s.rowError(ctx, &summary, req, rowNumber, err)
			continue
		}

		key, hasKey := domain.KeyFromRow(keys, row)
		if hasKey {
			_, err := s.entities.Store().Rows().Get(ctx, req.Entity, key)
			switch {
			case err == nil:
				if _, err := s.entities.Update(ctx, req.Entity, key, row); err != nil {
					s.rowError(ctx, &summary, req, rowNumber, err)
					continue
				}
				summary.Updated++
				continue
			case !errors.Is(err, repository.ErrNotFound):
				s.rowError(ctx, &summary, req, rowNumber, err)
				continue
			}
		}
		if _, err := s.entities.Create(ctx, req.Entity, row); err != nil {
			s.rowError(ctx, &summary, req, rowNumber, err)
			continue
		}
		summary.Created++
	}

	s.logger.InfoContext(ctx, "import finished",
		"entity", req.Entity,
		"file", req.FileName,
		"rows", summary.TotalRows,
		"created", summary.Created,
		"updated", summary.Updated,
		"invalid", summary.InvalidRows)
	return summary, nil
}

// bindColumns matches sanitized headers against the entity's stored columns
// and element labels. Foreign key columns are coerced with the type of the
// target key.
func bindColumns(m *model.Model, entity *model.Entity, headers []string) ([]column, []string) {
	coercers := map[string]func(string) (any, error){}
	aliases := map[string]string{}
	for _, el := range entity.Elements {
		switch el.Kind {
		case model.KindComposition, model.KindStruct:
			continue
		case model.KindAssociation:
			target, _ := m.Entity(el.Target)
			for i, fk := range el.ForeignKeyColumns() {
				coerce := func(v string) (any, error) { return v, nil }
				if target != nil {
					if targetKey, ok := target.Element(el.ForeignKeys[i]); ok {
						coerce = targetKey.Coerce
					}
				}
				coercers[strings.ToLower(fk)] = coerce
				aliases[strings.ToLower(fk)] = fk
			}
		default:
			coercers[strings.ToLower(el.Name)] = el.Coerce
			aliases[strings.ToLower(el.Name)] = el.Name
			if el.Label != "" {
				label := strings.ToLower(sanitizeHeaders([]string{el.Label})[0])
				if _, taken := aliases[label]; !taken {
					coercers[label] = el.Coerce
					aliases[label] = el.Name
				}
			}
		}
	}

	var (
		columns []column
		ignored []string
	)
	for i, header := range headers {
		lookup := strings.ToLower(header)
		name, ok := aliases[lookup]
		if !ok {
			ignored = append(ignored, header)
			continue
		}
		columns = append(columns, column{index: i, name: name, coerce: coercers[lookup]})
	}
	return columns, ignored
}

func buildRow(columns []column, cells []string) (domain.Row, error) {
	row := domain.Row{}
	for _, col := range columns {
		if col.index >= len(cells) {
			continue
		}
		raw := strings.TrimSpace(cells[col.index])
		if raw == "" {
			continue
		}
		value, err := col.coerce(raw)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.name, err)
		}
		row[col.name] = value
	}
	if len(row) == 0 {
		return nil, errors.New("row has no values")
	}
	return row, nil
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records, headerRowIndex)
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows, headerRowIndex)
}

func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	headerIndex := -1

	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		if len(cleanRow(records[*headerRowIndex])) == 0 {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		headerIndex = *headerRowIndex
		dataRows = records[*headerRowIndex+1:]
	} else {
		for idx, row := range records {
			if len(cleanRow(row)) == 0 {
				continue
			}
			headerRow = row
			headerIndex = idx
			dataRows = records[idx+1:]
			break
		}
	}

	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	padded := make([][]string, len(dataRows))
	for i := range dataRows {
		padded[i] = padRow(dataRows[i], len(headers))
	}

	return tableData{
		headers:        headers,
		rows:           filterEmptyRows(padded),
		headerRowIndex: headerIndex,
	}, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

// sanitizeHeaders turns headers into column names: "author.ID" becomes
// author_ID and blanks become column_N.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func filterEmptyRows(rows [][]string) [][]string {
	var filtered [][]string
	for _, row := range rows {
		if len(cleanRow(row)) > 0 {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

func (s *Service) rowError(ctx context.Context, summary *Summary, req Request, rowNumber int, err error) {
	summary.InvalidRows++
	summary.Errors = append(summary.Errors, RowError{RowNumber: rowNumber, Message: err.Error()})
	s.logger.WarnContext(ctx, "import row rejected",
		"entity", req.Entity,
		"file", req.FileName,
		"row", rowNumber,
		"error", err)
}
