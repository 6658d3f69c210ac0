package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/changetrack/internal/ident"
	"github.com/rpattn/changetrack/internal/model"
)

var columnTypes = map[model.DataType]string{
	model.TypeString:    "TEXT",
	model.TypeInteger:   "BIGINT",
	model.TypeDecimal:   "NUMERIC",
	model.TypeDouble:    "DOUBLE PRECISION",
	model.TypeBoolean:   "BOOLEAN",
	model.TypeDate:      "DATE",
	model.TypeTime:      "TIME",
	model.TypeDateTime:  "TIMESTAMPTZ",
	model.TypeTimestamp: "TIMESTAMPTZ",
	model.TypeUUID:      "UUID",
}

// ModelSchema returns CREATE TABLE statements for the entities of m.
// Association foreign keys take the type of the referenced key; struct
// elements are stored as JSONB documents.
func ModelSchema(m *model.Model) ([]string, error) {
	statements := make([]string, 0, len(m.Entities))
	for i := range m.Entities {
		entity := &m.Entities[i]
		var defs []string
		for _, el := range entity.Elements {
			switch el.Kind {
			case model.KindComposition:
				continue
			case model.KindStruct:
				defs = append(defs, fmt.Sprintf("%s JSONB", ident.Quote(el.Name)))
			case model.KindAssociation:
				target, ok := m.Entity(el.Target)
				if !ok {
					return nil, fmt.Errorf("%s.%s: unknown target %s", entity.Name, el.Name, el.Target)
				}
				for j, column := range el.ForeignKeyColumns() {
					ref, _ := target.Element(el.ForeignKeys[j])
					defs = append(defs, fmt.Sprintf("%s %s", ident.Quote(column), columnType(ref.Type)))
				}
			default:
				def := fmt.Sprintf("%s %s", ident.Quote(el.Name), columnType(el.Type))
				if el.Key {
					def += " NOT NULL"
				}
				defs = append(defs, def)
			}
		}
		keys := entity.KeyNames()
		if len(keys) > 0 {
			quoted := make([]string, len(keys))
			for j, key := range keys {
				quoted[j] = ident.Quote(key)
			}
			defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
		}
		statements = append(statements, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
			ident.QuoteQualified(ident.SplitQualified(entity.Table)), strings.Join(defs, ",\n    ")))
	}
	return statements, nil
}

func columnType(t model.DataType) string {
	if sqlType, ok := columnTypes[t]; ok {
		return sqlType
	}
	return "TEXT"
}

// EnsureModelTables creates the entity tables of m when missing.
func (c *Connection) EnsureModelTables(ctx context.Context, m *model.Model) error {
	statements, err := ModelSchema(m)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := c.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create entity table: %w", err)
		}
	}
	return nil
}
