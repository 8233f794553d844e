package overlap

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/overlap-cli/internal/geometry"
	"github.com/sells-group/overlap-cli/internal/layer"
	"github.com/sells-group/overlap-cli/internal/results"
)

// Layers is the set of accessors one worker reads from. A set is never shared
// between goroutines.
type Layers struct {
	Admin          *layer.Accessor
	Biodiversity   *layer.Accessor
	ProtectedAreas *layer.Accessor
}

// ClearFilters resets every filter on every layer.
func (l *Layers) ClearFilters() {
	for _, a := range l.all() {
		a.ClearFilters()
	}
}

// Close closes the underlying sources.
func (l *Layers) Close() error {
	var first error
	for _, a := range l.all() {
		if err := a.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (l *Layers) all() []*layer.Accessor {
	var out []*layer.Accessor
	for _, a := range []*layer.Accessor{l.Admin, l.Biodiversity, l.ProtectedAreas} {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// Accumulator computes the overlap figures of one region at a time.
type Accumulator struct {
	engine     *geometry.Engine
	layers     *Layers
	params     Params
	categories []Category
}

// NewAccumulator binds a layer set and its GEOS engine. categories is the
// reporting list; every region reports every entry.
func NewAccumulator(e *geometry.Engine, layers *Layers, p Params, categories []Category) *Accumulator {
	return &Accumulator{
		engine:     e,
		layers:     layers,
		params:     p,
		categories: categories,
	}
}

// Region computes the result for code. It returns ErrEmptyRegion (wrapped)
// when no admin feature matches. Filters on every layer are cleared on return.
func (a *Accumulator) Region(ctx context.Context, code layer.Value) (results.OverlapResult, error) {
	defer a.layers.ClearFilters()

	region, err := BuildRegion(ctx, a.engine, a.layers.Admin, code, a.params)
	if err != nil {
		return results.OverlapResult{}, err
	}

	res := results.OverlapResult{Region: code.Str}

	bio, err := a.overlap(ctx, a.layers.Biodiversity, region)
	if err != nil {
		return results.OverlapResult{}, err
	}
	res.BiodiversityHectares = a.hectares(bio)

	for _, cat := range a.categories {
		entry := results.CategoryOverlap{Category: cat.Label, Null: cat.Value.Null}
		if a.unreferenced(a.layers.ProtectedAreas) {
			res.Categories = append(res.Categories, entry)
			continue
		}
		var paArea, tripleArea float64

		err := a.layers.ProtectedAreas.Query(ctx, layer.Where(a.params.CategoryField, cat.Value), region, func(f layer.Feature) error {
			pa, ok, err := a.prepare(f, a.layers.ProtectedAreas, true)
			if err != nil || !ok {
				return err
			}
			inter, err := geometry.Intersect(region, pa)
			if err != nil {
				return eris.Wrapf(err, "overlap: intersect %s feature %d", a.layers.ProtectedAreas.Name(), f.ID)
			}
			if inter.IsEmpty() {
				return nil
			}
			paArea += inter.Area()

			triple, err := a.overlap(ctx, a.layers.Biodiversity, inter)
			if err != nil {
				return err
			}
			tripleArea += triple
			return nil
		})
		if err != nil {
			return results.OverlapResult{}, eris.Wrapf(err, "overlap: region %s category %s", code, cat.Label)
		}

		entry.ProtectedAreaHectares = a.hectares(paArea)
		entry.TripleHectares = a.hectares(tripleArea)
		res.Categories = append(res.Categories, entry)
	}
	return res, nil
}

// overlap sums the area of target ∩ feature over the features of acc whose
// envelope meets target. Features are not simplified.
func (a *Accumulator) overlap(ctx context.Context, acc *layer.Accessor, target *geometry.Geometry) (float64, error) {
	if a.unreferenced(acc) {
		return 0, nil
	}
	var total float64
	err := acc.Query(ctx, nil, target, func(f layer.Feature) error {
		g, ok, err := a.prepare(f, acc, false)
		if err != nil || !ok {
			return err
		}
		inter, err := geometry.Intersect(target, g)
		if err != nil {
			return eris.Wrapf(err, "overlap: intersect %s feature %d", acc.Name(), f.ID)
		}
		total += inter.Area()
		return nil
	})
	return total, err
}

// unreferenced reports whether acc has no reference system and is dropped
// whole under the skip policy.
func (a *Accumulator) unreferenced(acc *layer.Accessor) bool {
	_, ok := acc.NativeSRS()
	return !ok && a.params.skipMissing()
}

// prepare converts a feature into the working SRS. ok is false when the
// feature has no geometry.
func (a *Accumulator) prepare(f layer.Feature, acc *layer.Accessor, simplify bool) (*geometry.Geometry, bool, error) {
	g, err := a.engine.FromGeom(f.Geometry)
	if err != nil {
		return nil, false, eris.Wrapf(err, "overlap: %s feature %d", acc.Name(), f.ID)
	}
	if g.IsEmpty() {
		return nil, false, nil
	}
	if native, ok := acc.NativeSRS(); ok {
		g = g.WithSRS(native)
	}

	g, err = geometry.Reproject(g, a.params.WorkingSRS)
	if err != nil {
		return nil, false, eris.Wrapf(err, "overlap: %s feature %d", acc.Name(), f.ID)
	}

	if simplify {
		g, err = geometry.Simplify(g, a.params.Tolerance)
		if err != nil {
			return nil, false, eris.Wrapf(err, "overlap: simplify %s feature %d", acc.Name(), f.ID)
		}
	}
	return g, true, nil
}

// hectares converts a working-SRS area, flooring at zero.
func (a *Accumulator) hectares(area float64) float64 {
	return max(0, geometry.Hectares(area, a.params.WorkingSRS))
}
