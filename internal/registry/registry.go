// Package registry resolves the change log annotations of a loaded model into
// an immutable table of tracked entity metadata. It runs once at startup;
// request-time code only reads from the resulting Registry.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model"
)

const (
	// DefaultMaxPathDepth bounds the association hops of a display path.
	DefaultMaxPathDepth = 8
	// DefaultView is the change log view used when the aspect names none.
	DefaultView = "changelog.ChangeView"
	// ChangesAssociation is the name of the derived association.
	ChangesAssociation = "changes"
	// HistoryFacetID identifies the change history facet.
	HistoryFacetID = "ChangeHistoryFacet"
)

// Options tune resolution.
type Options struct {
	MaxPathDepth int
}

// Registry is the resolved, read-only change tracking metadata of a model.
type Registry struct {
	model      *model.Model
	configured bool
	view       string
	maxDepth   int
	nodes      map[string]*Node
	entities   map[string]*TrackedEntity
	order      []string
	// broken holds entities whose composition wiring is invalid.
	broken map[string]error
}

// Resolve walks the model once and builds the registry. Configuration problems
// are logged and disable tracking for the affected entity only; a model
// without the change log aspect yields an empty registry.
func Resolve(m *model.Model, opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		model:    m,
		maxDepth: opts.MaxPathDepth,
		nodes:    map[string]*Node{},
		entities: map[string]*TrackedEntity{},
		broken:   map[string]error{},
	}
	if r.maxDepth <= 0 {
		r.maxDepth = DefaultMaxPathDepth
	}
	if m == nil {
		return r
	}
	if err := m.Finalize(); err != nil {
		logger.Error("model has structural errors, affected entities are not tracked",
			"error", domain.NewTrackingError(domain.ErrorKindConfiguration, "", err))
	}
	r.buildNodes(logger)
	if m.ChangeLog == nil {
		logger.Warn("change log aspect missing from model, change tracking not configured")
		return r
	}
	r.configured = true
	r.view = m.ChangeLog.View
	if r.view == "" {
		r.view = DefaultView
	}

	for i := range m.Entities {
		entity := &m.Entities[i]
		if !isTracked(entity) {
			continue
		}
		te, err := r.buildTracked(entity)
		if broken, ok := r.broken[entity.Name]; ok {
			te, err = nil, broken
		}
		if err != nil {
			logger.Error("change tracking disabled for entity",
				"entity", entity.Name,
				"error", domain.NewTrackingError(domain.ErrorKindConfiguration, entity.Name, err))
			continue
		}
		r.entities[te.Name] = te
		r.order = append(r.order, te.Name)
		logger.Debug("change tracking enabled",
			"entity", te.Name,
			"attributes", len(te.TrackedAttributes),
			"root", te.ParentLink == nil)
	}
	return r
}

// Configured reports whether the model carried the change log aspect.
func (r *Registry) Configured() bool { return r.configured }

// View returns the change log view name.
func (r *Registry) View() string { return r.view }

// Model returns the model the registry was resolved from.
func (r *Registry) Model() *model.Model { return r.model }

// Entity returns the tracked entity metadata.
func (r *Registry) Entity(name string) (*TrackedEntity, bool) {
	te, ok := r.entities[name]
	return te, ok
}

// Entities returns the tracked entities in model order.
func (r *Registry) Entities() []*TrackedEntity {
	out := make([]*TrackedEntity, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entities[name])
	}
	return out
}

// Node returns the structural metadata of any model entity.
func (r *Registry) Node(name string) (*Node, bool) {
	n, ok := r.nodes[name]
	return n, ok
}

// Label returns the display label of an entity, tracked or not.
func (r *Registry) Label(name string) string {
	if te, ok := r.entities[name]; ok {
		return te.Label
	}
	if entity, ok := r.model.Entity(name); ok {
		return entityLabel(entity)
	}
	return name
}

func isTracked(entity *model.Entity) bool {
	if entity.Changelog.Set && entity.Changelog.Enabled {
		return true
	}
	for _, el := range entity.Elements {
		if el.Changelog.Set && el.Changelog.Enabled {
			return true
		}
	}
	return false
}

func entityLabel(entity *model.Entity) string {
	if entity.Label != "" {
		return entity.Label
	}
	return inflection.Singular(entity.ShortName())
}

func (r *Registry) buildNodes(logger *slog.Logger) {
	for i := range r.model.Entities {
		entity := &r.model.Entities[i]
		r.nodes[entity.Name] = &Node{Name: entity.Name, Keys: entity.KeyNames()}
	}
	for i := range r.model.Entities {
		parent := &r.model.Entities[i]
		for _, el := range parent.Compositions() {
			child, ok := r.model.Entity(el.Target)
			if !ok {
				r.markBroken(logger, parent.Name, fmt.Errorf("%w: composition %s targets unknown entity %s",
					domain.ErrConfiguration, el.Name, el.Target))
				continue
			}
			back, ok := child.Element(el.Backlink)
			if !ok || back.Kind != model.KindAssociation || back.Target != parent.Name {
				err := fmt.Errorf("%w: composition %s.%s has no backlink %s on %s",
					domain.ErrConfiguration, parent.Name, el.Name, el.Backlink, child.Name)
				r.markBroken(logger, parent.Name, err)
				r.markBroken(logger, child.Name, err)
				continue
			}
			link := ParentLink{
				Parent:      parent.Name,
				Child:       child.Name,
				Composition: el.Name,
				Backlink:    back.Name,
				Columns:     back.ForeignKeyColumns(),
				ParentKeys:  back.ForeignKeys,
			}
			r.nodes[parent.Name].Compositions = append(r.nodes[parent.Name].Compositions, Composition{
				Element:     el.Name,
				Child:       child.Name,
				Cardinality: el.Cardinality,
				Link:        link,
			})
			node := r.nodes[child.Name]
			if node.Parent != nil {
				logger.Warn("entity composed by more than one parent, keeping the first",
					"entity", child.Name, "parent", node.Parent.Parent, "ignored", parent.Name)
				continue
			}
			l := link
			node.Parent = &l
		}
	}
	for _, node := range r.nodes {
		path, err := r.rootPath(node)
		if err != nil {
			logger.Error("composition hierarchy is cyclic, treating entity as root",
				"entity", node.Name, "error", err)
			continue
		}
		node.RootPath = path
	}
}

func (r *Registry) markBroken(logger *slog.Logger, entity string, err error) {
	if _, ok := r.broken[entity]; ok {
		return
	}
	r.broken[entity] = err
	logger.Error("invalid composition", "entity", entity, "error", err)
}

func (r *Registry) rootPath(node *Node) ([]ParentLink, error) {
	var path []ParentLink
	seen := map[string]bool{node.Name: true}
	for current := node; current.Parent != nil; {
		link := *current.Parent
		if seen[link.Parent] {
			return nil, fmt.Errorf("%w: composition cycle through %s", domain.ErrConfiguration, link.Parent)
		}
		seen[link.Parent] = true
		path = append(path, link)
		current = r.nodes[link.Parent]
	}
	return path, nil
}

func (r *Registry) buildTracked(entity *model.Entity) (*TrackedEntity, error) {
	keys := entity.KeyNames()
	if len(keys) == 0 {
		return nil, fmt.Errorf("entity declares no key")
	}
	node := r.nodes[entity.Name]
	te := &TrackedEntity{
		Name:                    entity.Name,
		Label:                   entityLabel(entity),
		KeyAttributes:           keys,
		ParentLink:              node.Parent,
		RootPath:                node.RootPath,
		AssociationDisplayRules: map[string]Rule{},
		Changes:                 DerivedAssociation{Name: ChangesAssociation, Target: r.view},
		Facets: []Facet{{
			ID:     HistoryFacetID,
			Label:  "Change History",
			Target: ChangesAssociation,
		}},
	}

	for _, raw := range entity.Changelog.Paths {
		group, err := r.parseGroup(entity, raw)
		if err != nil {
			return nil, fmt.Errorf("object id path %q: %w", raw, err)
		}
		te.ObjectIDRule = append(te.ObjectIDRule, group)
	}

	explicit := false
	for _, el := range entity.Elements {
		if el.Changelog.Set && el.Changelog.Enabled {
			explicit = true
			break
		}
	}
	for _, el := range entity.Elements {
		if !selectAttribute(el, explicit, node.Parent) {
			continue
		}
		attr, err := r.buildAttribute(entity, el)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", el.Name, err)
		}
		te.TrackedAttributes = append(te.TrackedAttributes, attr)
		if attr.Kind == model.KindAssociation {
			te.AssociationDisplayRules[attr.Name] = attr.Display
		}
	}
	return te, nil
}

func selectAttribute(el model.Element, explicit bool, parent *ParentLink) bool {
	if el.Kind == model.KindComposition || el.PersonalData {
		return false
	}
	if el.Changelog.Set && !el.Changelog.Enabled {
		return false
	}
	if explicit {
		return el.Changelog.Set && el.Changelog.Enabled
	}
	if el.Key {
		return false
	}
	return parent == nil || el.Name != parent.Backlink
}

func (r *Registry) buildAttribute(entity *model.Entity, el model.Element) (Attribute, error) {
	attr := Attribute{
		Name:  el.Name,
		Label: el.DisplayLabel(),
		Kind:  el.Kind,
		Type:  el.Type,
	}
	switch el.Kind {
	case model.KindAssociation:
		target, ok := r.model.Entity(el.Target)
		if !ok {
			return Attribute{}, fmt.Errorf("%w: association %s targets unknown entity %s", domain.ErrConfiguration, el.Name, el.Target)
		}
		attr.Target = target.Name
		attr.CodeList = target.CodeList
		attr.Columns = el.ForeignKeyColumns()
		raws := el.Changelog.Paths
		if len(raws) == 0 {
			raws = []string{el.Name}
		}
		for _, raw := range raws {
			group, err := r.parseGroup(entity, raw)
			if err != nil {
				return Attribute{}, fmt.Errorf("display path %q: %w", raw, err)
			}
			attr.Display = append(attr.Display, group)
		}
	case model.KindStruct:
		attr.Columns = []string{el.Name}
		for _, sub := range el.Elements {
			attr.Fields = append(attr.Fields, StructField{Name: sub.Name, Type: sub.Type})
		}
		raws := el.Changelog.Paths
		if len(raws) == 0 {
			raws = []string{el.Name}
		}
		for _, raw := range raws {
			group, err := r.parseGroup(entity, raw)
			if err != nil {
				return Attribute{}, fmt.Errorf("display path %q: %w", raw, err)
			}
			attr.Display = append(attr.Display, group)
		}
	default:
		attr.Columns = []string{el.Name}
	}
	return attr, nil
}

func (r *Registry) parseGroup(entity *model.Entity, raw string) (PathGroup, error) {
	segments := strings.Split(strings.TrimSpace(raw), ".")
	for _, s := range segments {
		if s == "" {
			return PathGroup{}, fmt.Errorf("%w: malformed path", domain.ErrConfiguration)
		}
	}
	visiting := map[string]bool{entity.Name: true}
	paths, err := r.expand(entity, segments, nil, visiting)
	if err != nil {
		return PathGroup{}, err
	}
	for i := range paths {
		paths[i].Raw = raw
	}
	return PathGroup{Raw: raw, Paths: paths}, nil
}

func (r *Registry) expand(entity *model.Entity, segments []string, hops []Hop, visiting map[string]bool) ([]Path, error) {
	if len(hops) > r.maxDepth {
		return nil, fmt.Errorf("%w: path exceeds %d association hops", domain.ErrConfiguration, r.maxDepth)
	}
	el, ok := entity.Element(segments[0])
	if !ok {
		return nil, fmt.Errorf("%w: %s has no element %s", domain.ErrConfiguration, entity.Name, segments[0])
	}
	switch el.Kind {
	case model.KindScalar:
		if len(segments) > 1 {
			return nil, fmt.Errorf("%w: %s.%s is not navigable", domain.ErrConfiguration, entity.Name, el.Name)
		}
		return []Path{{Hops: hops, Field: []string{el.Name}, Type: el.Type}}, nil
	case model.KindStruct:
		return expandStruct(entity.Name, *el, segments[1:], []string{el.Name}, hops)
	case model.KindComposition:
		return nil, fmt.Errorf("%w: composition %s.%s cannot be displayed", domain.ErrConfiguration, entity.Name, el.Name)
	}

	target, ok := r.model.Entity(el.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s targets unknown entity %s", domain.ErrConfiguration, entity.Name, el.Name, el.Target)
	}
	next := make([]Hop, len(hops), len(hops)+1)
	copy(next, hops)
	next = append(next, Hop{
		Association: el.Name,
		Target:      target.Name,
		Columns:     el.ForeignKeyColumns(),
		TargetKeys:  el.ForeignKeys,
	})
	if len(segments) > 1 {
		return r.expand(target, segments[1:], next, visiting)
	}
	return r.defaultDisplay(target, next, visiting)
}

// defaultDisplay expands a path ending at an association into the target's
// display: code list display field, else its object id rule, else its keys.
func (r *Registry) defaultDisplay(target *model.Entity, hops []Hop, visiting map[string]bool) ([]Path, error) {
	if visiting[target.Name] {
		return nil, fmt.Errorf("%w: display of %s refers back to itself", domain.ErrConfiguration, target.Name)
	}
	visiting[target.Name] = true
	defer delete(visiting, target.Name)

	var raws [][]string
	switch {
	case target.CodeList:
		raws = [][]string{{target.DisplayField}}
	case len(target.Changelog.Paths) > 0:
		for _, raw := range target.Changelog.Paths {
			raws = append(raws, strings.Split(raw, "."))
		}
	default:
		for _, key := range target.KeyNames() {
			raws = append(raws, []string{key})
		}
	}
	var out []Path
	for _, segments := range raws {
		paths, err := r.expand(target, segments, hops, visiting)
		if err != nil {
			return nil, err
		}
		out = append(out, paths...)
	}
	return out, nil
}

func expandStruct(owner string, el model.Element, segments, field []string, hops []Hop) ([]Path, error) {
	if len(segments) == 0 {
		var out []Path
		for _, sub := range el.Elements {
			next := append(append([]string{}, field...), sub.Name)
			if sub.Kind == model.KindStruct {
				paths, err := expandStruct(owner, sub, nil, next, hops)
				if err != nil {
					return nil, err
				}
				out = append(out, paths...)
				continue
			}
			out = append(out, Path{Hops: hops, Field: next, Type: sub.Type})
		}
		return out, nil
	}
	for _, sub := range el.Elements {
		if sub.Name != segments[0] {
			continue
		}
		next := append(append([]string{}, field...), sub.Name)
		if sub.Kind == model.KindStruct {
			return expandStruct(owner, sub, segments[1:], next, hops)
		}
		if len(segments) > 1 {
			return nil, fmt.Errorf("%w: %s.%s is not navigable", domain.ErrConfiguration, owner, strings.Join(next, "."))
		}
		return []Path{{Hops: hops, Field: next, Type: sub.Type}}, nil
	}
	return nil, fmt.Errorf("%w: %s.%s has no field %s", domain.ErrConfiguration, owner, strings.Join(field, "."), segments[0])
}
