package registry

import (
	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model"
	"github.com/rpattn/changetrack/internal/predicate"
)

// Hop follows one association from a source row to its target row.
type Hop struct {
	Association string
	Target      string
	Columns     []string // foreign key columns on the source row
	TargetKeys  []string // matching key attributes of the target
}

// TargetKey builds the key of the hop's target from the source row. It
// reports false when any foreign key is null.
func (h Hop) TargetKey(row domain.Row) (domain.EntityKey, bool) {
	key := make(domain.EntityKey, 0, len(h.Columns))
	for i, column := range h.Columns {
		value, ok := row[column]
		if !ok || value == nil {
			return nil, false
		}
		key = append(key, domain.KeyPart{Attribute: h.TargetKeys[i], Value: value})
	}
	return key, len(key) > 0
}

// Path is a resolved display path: zero or more association hops followed by
// a field (possibly inside a struct) on the last row reached.
type Path struct {
	Raw   string
	Hops  []Hop
	Field []string
	Type  model.DataType
}

// PathGroup is the expansion of one declared path. A path that ends at an
// association expands into the target's own display paths.
type PathGroup struct {
	Raw   string
	Paths []Path
}

// Rule is an ordered list of path groups whose values are concatenated.
type Rule []PathGroup

// StructField is a sub-field of a struct-typed attribute.
type StructField struct {
	Name string
	Type model.DataType
}

// Attribute is a tracked attribute of an entity.
type Attribute struct {
	Name     string
	Label    string
	Kind     model.Kind
	Type     model.DataType
	Columns  []string // values compared for identity
	Target   string
	CodeList bool
	Fields   []StructField
	Display  Rule // nil for plain scalars
}

// ValueDataType is the type recorded alongside a change of this attribute.
func (a Attribute) ValueDataType() string {
	switch a.Kind {
	case model.KindAssociation:
		return "Association"
	case model.KindStruct:
		return "Struct"
	}
	return string(a.Type)
}

// ParentLink connects a composed child entity to its parent.
type ParentLink struct {
	Parent      string
	Child       string
	Composition string   // composition element on the parent
	Backlink    string   // association on the child pointing back
	Columns     []string // foreign key columns on the child row
	ParentKeys  []string
}

// ParentKey returns the parent's key as referenced by the child row.
func (l ParentLink) ParentKey(child domain.Row) (domain.EntityKey, bool) {
	return Hop{Columns: l.Columns, TargetKeys: l.ParentKeys}.TargetKey(child)
}

// Bind copies the parent's key into the child's backlink columns.
func (l ParentLink) Bind(parent, child domain.Row) {
	for i, column := range l.Columns {
		child[column] = parent[l.ParentKeys[i]]
	}
}

// Composition is a composition element seen from the parent side.
type Composition struct {
	Element     string
	Child       string
	Cardinality model.Cardinality
	Link        ParentLink
}

// Node is the structural view of any model entity, tracked or not.
type Node struct {
	Name         string
	Keys         []string
	Compositions []Composition
	Parent       *ParentLink
	RootPath     []ParentLink // immediate parent first
}

// Facet marks the change history section tools render for a tracked entity.
type Facet struct {
	ID     string
	Label  string
	Target string
}

// DerivedAssociation is the virtual association from a tracked entity to the
// change log view.
type DerivedAssociation struct {
	Name   string
	Target string
}

// On builds the join predicate of the association for one instance. It
// matches the instance's own records and, for composition roots, every
// record attributed to the root.
func (d DerivedAssociation) On(entity string, key domain.EntityKey) predicate.Predicate {
	serialized := key.String()
	return predicate.Or(
		predicate.And(
			predicate.Eq(domain.ColumnEntity, entity),
			predicate.Eq(domain.ColumnEntityKey, serialized),
		),
		predicate.And(
			predicate.Eq(domain.ColumnRootEntity, entity),
			predicate.Eq(domain.ColumnRootEntityKey, serialized),
		),
	)
}

// TrackedEntity is the immutable change tracking metadata of one entity.
type TrackedEntity struct {
	Name                    string
	Label                   string
	KeyAttributes           []string
	TrackedAttributes       []Attribute
	ObjectIDRule            Rule
	ParentLink              *ParentLink
	RootPath                []ParentLink
	AssociationDisplayRules map[string]Rule
	Changes                 DerivedAssociation
	Facets                  []Facet
}

// Attribute returns the tracked attribute with the given name.
func (t *TrackedEntity) Attribute(name string) (Attribute, bool) {
	for _, attr := range t.TrackedAttributes {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attribute{}, false
}

// Key extracts the instance key from a row.
func (t *TrackedEntity) Key(row domain.Row) (domain.EntityKey, bool) {
	return domain.KeyFromRow(t.KeyAttributes, row)
}
