// Package overlap computes zonal overlap statistics: for each administrative
// region, the area shared with a biodiversity layer and, per protected-area
// category, the area shared with that category and with both layers.
package overlap

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/overlap-cli/internal/geometry"
	"github.com/sells-group/overlap-cli/internal/layer"
)

// ErrEmptyRegion is returned when no admin feature matches a region code.
// The region is skipped, not failed.
var ErrEmptyRegion = eris.New("overlap: region has no geometry")

// BuildRegion unions every admin feature matching code (and the optional
// stricter filter), tags the result with the admin layer's native SRS,
// reprojects it to the working SRS and simplifies it.
func BuildRegion(ctx context.Context, e *geometry.Engine, admin *layer.Accessor, code layer.Value, p Params) (*geometry.Geometry, error) {
	filter := layer.Merge(layer.Where(p.RegionField, code), p.AdminFilter)

	var merged *geometry.Geometry
	err := admin.Query(ctx, filter, nil, func(f layer.Feature) error {
		g, err := e.FromGeom(f.Geometry)
		if err != nil {
			return eris.Wrapf(err, "overlap: admin feature %d", f.ID)
		}
		if g.IsEmpty() {
			return nil
		}
		if merged == nil {
			merged = g
			return nil
		}
		merged, err = geometry.Union(merged, g)
		if err != nil {
			return eris.Wrapf(err, "overlap: union admin feature %d", f.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if merged == nil {
		return nil, eris.Wrapf(ErrEmptyRegion, "overlap: region %s", code)
	}

	if native, ok := admin.NativeSRS(); ok {
		merged = merged.WithSRS(native)
	}
	working, err := geometry.Reproject(merged, p.WorkingSRS)
	if err != nil {
		return nil, eris.Wrapf(err, "overlap: reproject region %s", code)
	}
	return geometry.Simplify(working, p.Tolerance)
}
