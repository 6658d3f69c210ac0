package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rpattn/changetrack/internal/ident"
)

// Load decodes a YAML model and validates its structure. Change log specific
// problems (bad paths, cycles) are left to the annotation resolver.
func Load(r io.Reader) (*Model, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var m Model
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if err := m.Finalize(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFile loads a model from a YAML file.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file %s: %w", path, err)
	}
	return Load(bytes.NewReader(data))
}

// Parse is Load for an in-memory document.
func Parse(doc string) (*Model, error) {
	return Load(strings.NewReader(doc))
}

func (m *Model) qualify(name string) string {
	if name == "" || m.Namespace == "" || strings.Contains(name, ".") {
		return name
	}
	return m.Namespace + "." + name
}

// Finalize fills defaults (qualified names, element kinds, cardinalities,
// association foreign keys) and validates the structure. Load calls it; hosts
// that build a Model in Go call it before resolving. It is safe to call more
// than once and reports every problem it finds, normalizing what it can.
func (m *Model) Finalize() error {
	var errs []error
	seen := make(map[string]struct{}, len(m.Entities))
	for i := range m.Entities {
		entity := &m.Entities[i]
		entity.Name = m.qualify(strings.TrimSpace(entity.Name))
		if entity.Name == "" {
			errs = append(errs, fmt.Errorf("entity #%d has no name", i+1))
			continue
		}
		if _, dup := seen[entity.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate entity %s", entity.Name))
			continue
		}
		seen[entity.Name] = struct{}{}
		if entity.Table == "" {
			entity.Table = ident.TableName(entity.Name)
		}
		if entity.CodeList && entity.DisplayField == "" {
			entity.DisplayField = "name"
		}
		errs = append(errs, m.finalizeElements(entity.Name, entity.Elements)...)
	}
	m.reindex()

	for i := range m.Entities {
		entity := &m.Entities[i]
		for j := range entity.Elements {
			if err := m.resolveTarget(entity, &entity.Elements[j]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Model) finalizeElements(owner string, elements []Element) []error {
	var errs []error
	names := make(map[string]struct{}, len(elements))
	for i := range elements {
		el := &elements[i]
		if el.Name == "" {
			errs = append(errs, fmt.Errorf("%s: element #%d has no name", owner, i+1))
			continue
		}
		if _, dup := names[el.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate element %s", owner, el.Name))
			continue
		}
		names[el.Name] = struct{}{}

		if el.Kind == "" {
			switch {
			case el.Target != "":
				el.Kind = KindAssociation
			case len(el.Elements) > 0:
				el.Kind = KindStruct
			default:
				el.Kind = KindScalar
			}
		}
		switch el.Kind {
		case KindScalar:
			if el.Type == "" {
				el.Type = TypeString
			}
		case KindAssociation, KindComposition:
			if el.Target == "" {
				errs = append(errs, fmt.Errorf("%s.%s: %s without target", owner, el.Name, el.Kind))
				continue
			}
			el.Target = m.qualify(el.Target)
			if el.Cardinality == "" {
				if el.Kind == KindComposition {
					el.Cardinality = CardinalityMany
				} else {
					el.Cardinality = CardinalityOne
				}
			}
		case KindStruct:
			if len(el.Elements) == 0 {
				errs = append(errs, fmt.Errorf("%s.%s: struct without elements", owner, el.Name))
				continue
			}
			errs = append(errs, m.finalizeElements(owner+"."+el.Name, el.Elements)...)
		default:
			errs = append(errs, fmt.Errorf("%s.%s: unknown element kind %q", owner, el.Name, el.Kind))
		}
	}
	return errs
}

func (m *Model) resolveTarget(owner *Entity, el *Element) error {
	if el.Kind != KindAssociation && el.Kind != KindComposition {
		return nil
	}
	target, ok := m.Entity(el.Target)
	if !ok {
		return fmt.Errorf("%s.%s: unknown target %s", owner.Name, el.Name, el.Target)
	}
	if el.Kind == KindAssociation {
		if el.Cardinality == CardinalityMany {
			return fmt.Errorf("%s.%s: to-many associations are not supported", owner.Name, el.Name)
		}
		if len(el.ForeignKeys) == 0 {
			el.ForeignKeys = target.KeyNames()
		}
		for _, fk := range el.ForeignKeys {
			if _, ok := target.Element(fk); !ok {
				return fmt.Errorf("%s.%s: foreign key %s is not an element of %s", owner.Name, el.Name, fk, target.Name)
			}
		}
		return nil
	}

	if el.Backlink == "" {
		return fmt.Errorf("%s.%s: composition without backlink", owner.Name, el.Name)
	}
	back, ok := target.Element(el.Backlink)
	if !ok || back.Kind != KindAssociation {
		return fmt.Errorf("%s.%s: backlink %s is not an association of %s", owner.Name, el.Name, el.Backlink, target.Name)
	}
	if m.qualify(back.Target) != owner.Name {
		return fmt.Errorf("%s.%s: backlink %s.%s points to %s", owner.Name, el.Name, target.Name, el.Backlink, back.Target)
	}
	return nil
}
