package entityloader

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/changetrack/internal/display"
	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/repository"
)

// rowKey identifies one target row. It implements dataloader.Key.
type rowKey struct {
	entity string
	key    domain.EntityKey
}

func (k rowKey) String() string   { return k.entity + "|" + k.key.String() }
func (k rowKey) Raw() interface{} { return k }

// EntityLoader batches association target lookups of one mutation. Lookups
// issued within the wait window are grouped by entity and fetched with one
// GetMany per entity.
type EntityLoader struct {
	Loader *dataloader.Loader
}

// NewEntityLoader creates a loader reading through rows. Results are not
// cached, so a loader never serves rows from before a write. opts override
// the default wait window.
func NewEntityLoader(rows repository.RowStore, opts ...dataloader.Option) *EntityLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		// Group positions by entity
		byEntity := make(map[string][]int)
		var order []string
		for i, k := range keys {
			rk, ok := k.Raw().(rowKey)
			if !ok {
				results[i] = &dataloader.Result{Error: fmt.Errorf("invalid row key %q", k.String())}
				continue
			}
			if _, seen := byEntity[rk.entity]; !seen {
				order = append(order, rk.entity)
			}
			byEntity[rk.entity] = append(byEntity[rk.entity], i)
		}

		for _, entity := range order {
			positions := byEntity[entity]
			entityKeys := make([]domain.EntityKey, len(positions))
			for j, pos := range positions {
				entityKeys[j] = keys[pos].Raw().(rowKey).key
			}

			found, err := rows.GetMany(ctx, entity, entityKeys)
			if err != nil {
				for _, pos := range positions {
					results[pos] = &dataloader.Result{Error: err}
				}
				continue
			}

			// Map serialized key -> row for ordering
			rowMap := make(map[string]domain.Row, len(found))
			for _, row := range found {
				key, ok := domain.KeyFromRow(entityKeys[0].Attributes(), row)
				if ok {
					rowMap[key.String()] = row
				}
			}

			for j, pos := range positions {
				if row, ok := rowMap[entityKeys[j].String()]; ok {
					results[pos] = &dataloader.Result{Data: row}
				} else {
					results[pos] = &dataloader.Result{Data: nil}
				}
			}
		}

		return results
	}

	options := append([]dataloader.Option{
		dataloader.WithWait(2 * time.Millisecond),
		dataloader.WithCache(&dataloader.NoCache{}),
	}, opts...)
	loader := dataloader.NewBatchedLoader(batchFn, options...)

	return &EntityLoader{Loader: loader}
}

// Load implements display.Lookup.
func (l *EntityLoader) Load(ctx context.Context, entity string, key domain.EntityKey) display.Thunk {
	thunk := l.Loader.Load(ctx, rowKey{entity: entity, key: key})
	return func() (domain.Row, error) {
		data, err := thunk()
		if err != nil {
			return nil, err
		}
		row, _ := data.(domain.Row)
		return row, nil
	}
}

var _ display.Lookup = (*EntityLoader)(nil)
