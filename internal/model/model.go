// Package model holds the host framework's parsed entity model as seen by the
// change tracking subsystem: entities, their elements and the change log
// annotations placed on them.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Kind distinguishes plain values from relationships.
type Kind string

const (
	KindScalar      Kind = "scalar"
	KindAssociation Kind = "association"
	KindComposition Kind = "composition"
	KindStruct      Kind = "struct"
)

// DataType is the declared type of a scalar element.
type DataType string

const (
	TypeString    DataType = "String"
	TypeInteger   DataType = "Integer"
	TypeDecimal   DataType = "Decimal"
	TypeDouble    DataType = "Double"
	TypeBoolean   DataType = "Boolean"
	TypeDate      DataType = "Date"
	TypeTime      DataType = "Time"
	TypeDateTime  DataType = "DateTime"
	TypeTimestamp DataType = "Timestamp"
	TypeUUID      DataType = "UUID"
)

// Cardinality of an association or composition.
type Cardinality string

const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// Annotation is the @changelog marker. It is either a flag (`changelog: true`,
// `changelog: false`) or a list of element paths (`changelog: [author.name]`).
type Annotation struct {
	Set     bool
	Enabled bool
	Paths   []string
}

// UnmarshalYAML accepts a boolean or a sequence of paths.
func (a *Annotation) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var enabled bool
		if err := node.Decode(&enabled); err != nil {
			return fmt.Errorf("changelog annotation must be a boolean or a list of paths: %w", err)
		}
		*a = Annotation{Set: true, Enabled: enabled}
	case yaml.SequenceNode:
		var paths []string
		if err := node.Decode(&paths); err != nil {
			return fmt.Errorf("changelog paths must be strings: %w", err)
		}
		*a = Annotation{Set: true, Enabled: true, Paths: paths}
	default:
		return fmt.Errorf("changelog annotation must be a boolean or a list of paths")
	}
	return nil
}

// MarshalYAML writes the annotation back in its short form.
func (a Annotation) MarshalYAML() (any, error) {
	if !a.Set {
		return nil, nil
	}
	if len(a.Paths) > 0 {
		return a.Paths, nil
	}
	return a.Enabled, nil
}

// Element is one declared element of an entity.
type Element struct {
	Name         string      `yaml:"name"`
	Label        string      `yaml:"label,omitempty"`
	Type         DataType    `yaml:"type,omitempty"`
	Kind         Kind        `yaml:"kind,omitempty"`
	Key          bool        `yaml:"key,omitempty"`
	Target       string      `yaml:"target,omitempty"`
	Cardinality  Cardinality `yaml:"cardinality,omitempty"`
	Backlink     string      `yaml:"backlink,omitempty"`
	ForeignKeys  []string    `yaml:"foreignKeys,omitempty"`
	Changelog    Annotation  `yaml:"changelog,omitempty"`
	PersonalData bool        `yaml:"personalData,omitempty"`
	Elements     []Element   `yaml:"elements,omitempty"`
}

// ForeignKeyColumns returns the generated foreign key columns of an
// association, e.g. author_ID.
func (e Element) ForeignKeyColumns() []string {
	if e.Kind != KindAssociation {
		return nil
	}
	columns := make([]string, len(e.ForeignKeys))
	for i, fk := range e.ForeignKeys {
		columns[i] = e.Name + "_" + fk
	}
	return columns
}

// DisplayLabel returns the label or, when none is declared, the name.
func (e Element) DisplayLabel() string {
	if e.Label != "" {
		return e.Label
	}
	return e.Name
}

// Coerce converts a textual value (from a URL or a parsed key) to the Go type
// the element stores.
func (e Element) Coerce(value string) (any, error) {
	switch e.Type {
	case TypeInteger:
		return strconv.ParseInt(value, 10, 64)
	case TypeDouble:
		return strconv.ParseFloat(value, 64)
	case TypeBoolean:
		return strconv.ParseBool(value)
	case TypeUUID:
		id, err := uuid.Parse(value)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	case TypeDate:
		return time.Parse("2006-01-02", value)
	case TypeDateTime, TypeTimestamp:
		return time.Parse(time.RFC3339Nano, value)
	}
	return value, nil
}

// Entity is a declared entity.
type Entity struct {
	Name         string     `yaml:"name"`
	Label        string     `yaml:"label,omitempty"`
	Table        string     `yaml:"table,omitempty"`
	Changelog    Annotation `yaml:"changelog,omitempty"`
	CodeList     bool       `yaml:"codeList,omitempty"`
	DisplayField string     `yaml:"displayField,omitempty"`
	Elements     []Element  `yaml:"elements"`
}

// Element returns the named element.
func (e *Entity) Element(name string) (*Element, bool) {
	for i := range e.Elements {
		if e.Elements[i].Name == name {
			return &e.Elements[i], true
		}
	}
	return nil, false
}

// KeyNames returns the key element names in declaration order.
func (e *Entity) KeyNames() []string {
	var keys []string
	for _, el := range e.Elements {
		if el.Key {
			keys = append(keys, el.Name)
		}
	}
	return keys
}

// Compositions returns the composition elements in declaration order.
func (e *Entity) Compositions() []Element {
	var out []Element
	for _, el := range e.Elements {
		if el.Kind == KindComposition {
			out = append(out, el)
		}
	}
	return out
}

// Columns returns the stored columns of the entity: scalars, structs (stored
// as documents) and association foreign keys. Compositions own no column.
func (e *Entity) Columns() []string {
	var columns []string
	for _, el := range e.Elements {
		switch el.Kind {
		case KindAssociation:
			columns = append(columns, el.ForeignKeyColumns()...)
		case KindComposition:
		default:
			columns = append(columns, el.Name)
		}
	}
	return columns
}

// ShortName returns the entity name without its namespace.
func (e *Entity) ShortName() string {
	if idx := strings.LastIndex(e.Name, "."); idx >= 0 {
		return e.Name[idx+1:]
	}
	return e.Name
}

// ChangeLogAspect describes the change log view the model was loaded with.
// A model without it has change tracking switched off.
type ChangeLogAspect struct {
	View string `yaml:"view"`
}

// Model is the loaded host model.
type Model struct {
	Namespace string           `yaml:"namespace,omitempty"`
	ChangeLog *ChangeLogAspect `yaml:"changelog,omitempty"`
	Entities  []Entity         `yaml:"entities"`

	index map[string]int
}

// Entity returns the named entity.
func (m *Model) Entity(name string) (*Entity, bool) {
	if m == nil {
		return nil, false
	}
	if m.index == nil {
		m.reindex()
	}
	idx, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return &m.Entities[idx], true
}

func (m *Model) reindex() {
	m.index = make(map[string]int, len(m.Entities))
	for i, entity := range m.Entities {
		m.index[entity.Name] = i
	}
}
