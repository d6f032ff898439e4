package model

import (
	"context"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/metadata"
)

// Find returns the identifiers of live entities of typeName whose fields
// match filters, in identifier order. An empty typeName matches every type
// and a nil filter set matches every entity.
//
// Unloaded entities are decoded first; entities that fail to decode never
// match.
//
// Example:
//
//	ids, err := m.Find(ctx, schema.TypeDataItem, metadata.NewFilterSet(
//	    metadata.Filter{Key: "rating", Operator: metadata.OpGreaterEqual, Value: metadata.Int(4)},
//	))
func (m *Model) Find(ctx context.Context, typeName string, filters *metadata.FilterSet) ([]core.ID, error) {
	if err := filters.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidField, err)
	}
	if typeName != "" {
		if _, err := m.reg.Current(typeName); err != nil {
			return nil, err
		}
	}

	var pending []core.ID
	m.mu.RLock()
	for _, s := range m.slots {
		if s.state == stateUnloaded {
			pending = append(pending, s.id)
		}
	}
	m.mu.RUnlock()
	if len(pending) > 0 {
		if err := m.loadAll(ctx, pending); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits := roaring.New()
	m.mu.RLock()
	for i, s := range m.slots {
		if s.state != stateLoaded {
			continue
		}
		if typeName != "" && s.entity.Type != typeName {
			continue
		}
		if filters.Matches(s.entity.Fields) {
			hits.Add(uint32(i))
		}
	}
	ids := make([]core.ID, 0, hits.GetCardinality())
	it := hits.Iterator()
	for it.HasNext() {
		ids = append(ids, m.slots[it.Next()].id)
	}
	m.mu.RUnlock()

	slices.SortFunc(ids, core.ID.Compare)
	return ids, nil
}
