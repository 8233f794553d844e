package geometry

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// TransformGeom returns a deep copy of t with every XY pair passed through
// fn. Z and M ordinates are copied unchanged.
func TransformGeom(t geom.T, fn TransformFunc) (geom.T, error) {
	if c, ok := t.(*geom.GeometryCollection); ok {
		out := geom.NewGeometryCollection()
		for _, child := range c.Geoms() {
			moved, err := TransformGeom(child, fn)
			if err != nil {
				return nil, err
			}
			if err := out.Push(moved); err != nil {
				return nil, eris.Wrap(err, "geometry: rebuild collection")
			}
		}
		return out, nil
	}

	flat, err := transformFlat(t.FlatCoords(), t.Stride(), fn)
	if err != nil {
		return nil, err
	}
	switch g := t.(type) {
	case *geom.Point:
		return geom.NewPointFlat(g.Layout(), flat), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(g.Layout(), flat), nil
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(g.Layout(), flat, cloneInts(g.Ends())), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(g.Layout(), flat), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(g.Layout(), flat, cloneInts(g.Ends())), nil
	case *geom.MultiPolygon:
		endss := make([][]int, len(g.Endss()))
		for i, ends := range g.Endss() {
			endss[i] = cloneInts(ends)
		}
		return geom.NewMultiPolygonFlat(g.Layout(), flat, endss), nil
	}
	return nil, eris.Wrapf(ErrUnsupportedType, "geometry: %T", t)
}

func transformFlat(flat []float64, stride int, fn TransformFunc) ([]float64, error) {
	out := make([]float64, len(flat))
	copy(out, flat)
	for i := 0; i+1 < len(out); i += stride {
		x, y, err := fn(out[i], out[i+1])
		if err != nil {
			return nil, err
		}
		out[i], out[i+1] = x, y
	}
	return out, nil
}

func cloneInts(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}
