package layer

import (
	"context"
	"slices"

	"github.com/sells-group/overlap-cli/internal/geometry"
)

// MemorySource is an in-memory Source.
type MemorySource struct {
	name     string
	srs      geometry.SRS
	fields   []Field
	features []Feature
}

// NewMemorySource creates a source over features. A zero srs means the
// dataset declares no reference system. Fields are collected from the
// feature attributes in first-seen order; feature IDs default to their
// position.
func NewMemorySource(name string, srs geometry.SRS, features ...Feature) *MemorySource {
	m := &MemorySource{name: name, srs: srs}
	seen := make(map[string]bool)
	for i, f := range features {
		if f.ID == 0 {
			f.ID = int64(i + 1)
		}
		keys := make([]string, 0, len(f.Attributes))
		for k := range f.Attributes {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				m.fields = append(m.fields, Field{Name: k, Type: "string"})
			}
		}
		m.features = append(m.features, f)
	}
	return m
}

func (m *MemorySource) Name() string { return m.name }

func (m *MemorySource) SRS() (geometry.SRS, bool) { return m.srs, !m.srs.IsZero() }

func (m *MemorySource) Fields() []Field { return m.fields }

func (m *MemorySource) Scan(ctx context.Context, fn func(Feature) error) error {
	for _, f := range m.features {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemorySource) Close() error { return nil }
