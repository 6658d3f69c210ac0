package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/i18n"
)

// SheetName is the worksheet holding the change list.
const SheetName = "Changes"

var columns = []struct {
	key      string
	fallback string
}{
	{"column.timestamp", "Timestamp"},
	{"column.actor", "Changed By"},
	{"column.entity", "Object Type"},
	{"column.objectId", "Object"},
	{"column.parentObjectId", "Parent Object"},
	{"column.attribute", "Field"},
	{"column.modification", "Change Type"},
	{"column.valueChangedFrom", "Old Value"},
	{"column.valueChangedTo", "New Value"},
}

// WriteXLSX writes entries as a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, entries []domain.DisplayChangeEntry, loc i18n.Localizer) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(columns))
	for i, col := range columns {
		header[i] = loc.Text(col.key, col.fallback)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to address row %d: %w", i+2, err)
		}
		row := []any{
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Actor,
			e.EntityLabel,
			e.ObjectID,
			e.ParentObjectID,
			e.Attribute,
			e.Modification,
			e.ValueChangedFrom,
			e.ValueChangedTo,
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(columns), len(entries)+1)
	if err != nil {
		return fmt.Errorf("failed to address filter range: %w", err)
	}
	if err := f.AutoFilter(SheetName, "A1:"+last, nil); err != nil {
		return fmt.Errorf("failed to add filter: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
