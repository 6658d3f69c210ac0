// Package graphql serves tracked entities and their change lists over
// GraphQL next to the REST API.
package graphql

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

//go:embed schema.graphqls
var schemaSource string

// fieldResolver resolves one field of parent. Lists are returned as []any and
// null as an untyped nil.
type fieldResolver func(ctx context.Context, parent any, args map[string]any) (any, error)

// executableSchema runs query operations against the change tracking schema.
// Fields without a resolver read the parent map under the field name.
type executableSchema struct {
	schema    *ast.Schema
	resolvers map[string]map[string]fieldResolver
}

var _ graphql.ExecutableSchema = (*executableSchema)(nil)

// NewExecutableSchema binds r to the embedded schema.
func NewExecutableSchema(r *Resolver) (graphql.ExecutableSchema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSource})
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return &executableSchema{schema: schema, resolvers: r.fieldResolvers()}, nil
}

func (e *executableSchema) Schema() *ast.Schema {
	return e.schema
}

func (e *executableSchema) Complexity(ctx context.Context, typeName, fieldName string, childComplexity int, args map[string]any) (int, bool) {
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)
	if opCtx.Operation.Operation != ast.Query {
		return graphql.OneShot(graphql.ErrorResponse(ctx, "%s operations are not supported", opCtx.Operation.Operation))
	}

	ex := &execution{schema: e, opCtx: opCtx}
	data, ok := ex.object(ctx, "Query", opCtx.Operation.SelectionSet, nil, nil)
	var out any
	if ok {
		out = data
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return graphql.OneShot(graphql.ErrorResponse(ctx, "failed to encode response: %v", err))
	}
	return graphql.OneShot(&graphql.Response{Data: raw, Errors: ex.errors})
}

// execution holds the state of one operation.
type execution struct {
	schema *executableSchema
	opCtx  *graphql.OperationContext
	errors gqlerror.List
}

func (ex *execution) fail(path ast.Path, err error) {
	ex.errors = append(ex.errors, gqlerror.WrapPath(path, err))
}

// object resolves the selection on parent. It reports false when a non-null
// field resolved to null, which nulls the object itself.
func (ex *execution) object(ctx context.Context, typeName string, sel ast.SelectionSet, parent any, path ast.Path) (object, bool) {
	fields := graphql.CollectFields(ex.opCtx, sel, []string{typeName})
	out := make(object, 0, len(fields))
	for _, f := range fields {
		fieldPath := append(append(ast.Path{}, path...), ast.PathName(f.Alias))
		if f.Name == "__typename" {
			out = append(out, objectField{name: f.Alias, value: typeName})
			continue
		}

		value, err := ex.resolve(ctx, typeName, f, parent)
		if err != nil {
			ex.fail(fieldPath, err)
			if f.Definition.Type.NonNull {
				return nil, false
			}
			out = append(out, objectField{name: f.Alias})
			continue
		}
		completed, ok := ex.complete(ctx, f.Definition.Type, f.Selections, value, fieldPath)
		if !ok {
			return nil, false
		}
		out = append(out, objectField{name: f.Alias, value: completed})
	}
	return out, true
}

func (ex *execution) resolve(ctx context.Context, typeName string, f graphql.CollectedField, parent any) (any, error) {
	if resolve, ok := ex.schema.resolvers[typeName][f.Name]; ok {
		return resolve(ctx, parent, f.ArgumentMap(ex.opCtx.Variables))
	}
	if m, ok := parent.(map[string]any); ok {
		return m[f.Name], nil
	}
	return nil, fmt.Errorf("no resolver for %s.%s", typeName, f.Name)
}

// complete shapes a resolved value to typ. It reports false when typ is
// non-null and the value ended up null.
func (ex *execution) complete(ctx context.Context, typ *ast.Type, sel ast.SelectionSet, value any, path ast.Path) (any, bool) {
	if value == nil {
		if typ.NonNull {
			ex.fail(path, errors.New("must not be null"))
			return nil, false
		}
		return nil, true
	}

	if typ.Elem != nil {
		items, ok := value.([]any)
		if !ok {
			ex.fail(path, fmt.Errorf("expected a list, got %T", value))
			return nil, !typ.NonNull
		}
		out := make([]any, len(items))
		for i, item := range items {
			itemPath := append(append(ast.Path{}, path...), ast.PathIndex(i))
			completed, ok := ex.complete(ctx, typ.Elem, sel, item, itemPath)
			if !ok {
				return nil, !typ.NonNull
			}
			out[i] = completed
		}
		return out, true
	}

	def := ex.schema.schema.Types[typ.NamedType]
	if def == nil {
		ex.fail(path, fmt.Errorf("unknown type %s", typ.NamedType))
		return nil, !typ.NonNull
	}
	switch def.Kind {
	case ast.Object:
		obj, ok := ex.object(ctx, def.Name, sel, value, path)
		if !ok {
			return nil, !typ.NonNull
		}
		return obj, true
	case ast.Scalar, ast.Enum:
		out, err := serialize(def.Name, value)
		if err != nil {
			ex.fail(path, err)
			return nil, !typ.NonNull
		}
		return out, true
	default:
		ex.fail(path, fmt.Errorf("cannot output %s", def.Name))
		return nil, !typ.NonNull
	}
}

func serialize(typeName string, value any) (any, error) {
	switch typeName {
	case "Time":
		t, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time, got %T", value)
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	case "JSON":
		return value, nil
	case "Int", "Float", "Boolean":
		return value, nil
	default:
		return fmt.Sprint(value), nil
	}
}

// object is a JSON object that keeps the order of the selected fields.
type object []objectField

type objectField struct {
	name  string
	value any
}

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(f.value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", f.name, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
