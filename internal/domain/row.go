package domain

// Row is a snapshot of one entity instance keyed by element or column name.
// Composed children are nested as []Row (or Row for compositions of one) and
// struct-typed elements as Row.
type Row map[string]any

// Clone returns a deep copy of the row, including nested rows.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for key, value := range r {
		out[key] = CloneValue(value)
	}
	return out
}

// CloneValue deep copies nested rows and slices; other values are returned
// as is.
func CloneValue(value any) any {
	switch typed := value.(type) {
	case Row:
		return typed.Clone()
	case map[string]any:
		return Row(typed).Clone()
	case []Row:
		out := make([]Row, len(typed))
		for i, item := range typed {
			out[i] = item.Clone()
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return value
	}
}

// AsRow converts nested map values produced by decoders into a Row.
func AsRow(value any) (Row, bool) {
	switch typed := value.(type) {
	case Row:
		return typed, true
	case map[string]any:
		return Row(typed), true
	}
	return nil, false
}

// AsRows converts a nested composition value into a slice of rows. A single
// nested row (composition of one) yields a one-element slice.
func AsRows(value any) ([]Row, bool) {
	switch typed := value.(type) {
	case nil:
		return nil, false
	case []Row:
		return typed, true
	case []any:
		rows := make([]Row, 0, len(typed))
		for _, item := range typed {
			row, ok := AsRow(item)
			if !ok {
				return nil, false
			}
			rows = append(rows, row)
		}
		return rows, true
	case []map[string]any:
		rows := make([]Row, len(typed))
		for i, item := range typed {
			rows[i] = Row(item)
		}
		return rows, true
	}
	if row, ok := AsRow(value); ok {
		if row == nil {
			return nil, true
		}
		return []Row{row}, true
	}
	return nil, false
}

// Lookup resolves a dotted field path inside a row, descending into nested
// struct rows.
func (r Row) Lookup(path ...string) (any, bool) {
	var current any = r
	for _, segment := range path {
		row, ok := AsRow(current)
		if !ok {
			return nil, false
		}
		current, ok = row[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
