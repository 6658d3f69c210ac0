package service

import (
	"context"
	"fmt"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model"
	"github.com/rpattn/changetrack/internal/predicate"
	"github.com/rpattn/changetrack/internal/registry"
	"github.com/rpattn/changetrack/internal/repository"
)

// loadDeep reads one instance with its composed children nested under their
// composition elements.
func loadDeep(ctx context.Context, reg *registry.Registry, rows repository.RowStore, node *registry.Node, key domain.EntityKey) (domain.Row, error) {
	row, err := rows.Get(ctx, node.Name, key)
	if err != nil {
		return nil, err
	}
	if err := attachChildren(ctx, reg, rows, node, row); err != nil {
		return nil, err
	}
	return row, nil
}

func attachChildren(ctx context.Context, reg *registry.Registry, rows repository.RowStore, node *registry.Node, row domain.Row) error {
	for _, comp := range node.Compositions {
		child, ok := reg.Node(comp.Child)
		if !ok {
			continue
		}
		children, err := rows.Find(ctx, comp.Child, childrenOf(comp.Link, row))
		if err != nil {
			return fmt.Errorf("failed to load %s.%s: %w", node.Name, comp.Element, err)
		}
		for _, c := range children {
			if err := attachChildren(ctx, reg, rows, child, c); err != nil {
				return err
			}
		}
		if comp.Cardinality == model.CardinalityOne {
			row[comp.Element] = nil
			if len(children) > 0 {
				row[comp.Element] = children[0]
			}
			continue
		}
		if children == nil {
			children = []domain.Row{}
		}
		row[comp.Element] = children
	}
	return nil
}

// childrenOf matches the child rows whose backlink columns reference parent.
func childrenOf(link registry.ParentLink, parent domain.Row) predicate.Predicate {
	terms := make([]predicate.Predicate, len(link.Columns))
	for i, column := range link.Columns {
		terms[i] = predicate.Eq(column, parent[link.ParentKeys[i]])
	}
	return predicate.And(terms...)
}

// flat drops composition elements, leaving the columns of the row itself.
func flat(node *registry.Node, row domain.Row) domain.Row {
	out := make(domain.Row, len(row))
	for name, value := range row {
		out[name] = value
	}
	for _, comp := range node.Compositions {
		delete(out, comp.Element)
	}
	return out
}

func compositionRows(row domain.Row, comp registry.Composition) []domain.Row {
	if row == nil {
		return nil
	}
	children, _ := domain.AsRows(row[comp.Element])
	return children
}

func insertDeep(ctx context.Context, reg *registry.Registry, rows repository.RowStore, node *registry.Node, row domain.Row) error {
	if err := rows.Insert(ctx, node.Name, flat(node, row)); err != nil {
		return err
	}
	for _, comp := range node.Compositions {
		child, ok := reg.Node(comp.Child)
		if !ok {
			continue
		}
		for _, c := range compositionRows(row, comp) {
			if err := insertDeep(ctx, reg, rows, child, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// updateDeep writes patch over the stored instance. before is its deep
// snapshot.
func updateDeep(ctx context.Context, reg *registry.Registry, rows repository.RowStore, node *registry.Node, key domain.EntityKey, before, patch domain.Row) error {
	if err := rows.Update(ctx, node.Name, key, flat(node, patch)); err != nil {
		return err
	}
	for _, comp := range node.Compositions {
		if _, carried := patch[comp.Element]; !carried {
			continue
		}
		child, ok := reg.Node(comp.Child)
		if !ok {
			continue
		}
		previous := make(map[string]domain.Row)
		for _, c := range compositionRows(before, comp) {
			if k, ok := domain.KeyFromRow(child.Keys, c); ok {
				previous[k.String()] = c
			}
		}
		seen := make(map[string]bool)
		for _, c := range compositionRows(patch, comp) {
			k, ok := domain.KeyFromRow(child.Keys, c)
			if !ok {
				return fmt.Errorf("%s: composed instance without complete key", comp.Child)
			}
			seen[k.String()] = true
			if old, exists := previous[k.String()]; exists {
				if err := updateDeep(ctx, reg, rows, child, k, old, c); err != nil {
					return err
				}
				continue
			}
			if err := insertDeep(ctx, reg, rows, child, c); err != nil {
				return err
			}
		}
		for id, old := range previous {
			if seen[id] {
				continue
			}
			if err := deleteDeep(ctx, reg, rows, child, old); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteDeep removes the instance of a deep snapshot, children first.
func deleteDeep(ctx context.Context, reg *registry.Registry, rows repository.RowStore, node *registry.Node, snapshot domain.Row) error {
	for _, comp := range node.Compositions {
		child, ok := reg.Node(comp.Child)
		if !ok {
			continue
		}
		for _, c := range compositionRows(snapshot, comp) {
			if err := deleteDeep(ctx, reg, rows, child, c); err != nil {
				return err
			}
		}
	}
	key, ok := domain.KeyFromRow(node.Keys, snapshot)
	if !ok {
		return fmt.Errorf("%s: instance without complete key", node.Name)
	}
	return rows.Delete(ctx, node.Name, key)
}
