package source

import (
	"cmp"
	"math"
	"slices"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// shapeGeom converts a go-shp shape to a go-geom geometry. Unsupported and
// null shapes yield nil.
func shapeGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PolyLine:
		return partsToMultiLineString(s.Parts, s.Points)
	case *shp.Polygon:
		return partsToMultiPolygon(s.Parts, s.Points)
	case *shp.PolygonZ:
		return partsToMultiPolygon(s.Parts, s.Points)
	case *shp.PolygonM:
		return partsToMultiPolygon(s.Parts, s.Points)
	}
	return nil
}

// partRange returns the point range [start, end) of part i.
func partRange(parts []int32, i, numPoints int) (int, int) {
	start := int(parts[i])
	end := numPoints
	if i+1 < len(parts) {
		end = int(parts[i+1])
	}
	if start < 0 || start > end || end > numPoints {
		return 0, 0
	}
	return start, end
}

func partFlat(pts []shp.Point) []float64 {
	flat := make([]float64, 0, len(pts)*2+2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

func partsToMultiLineString(parts []int32, pts []shp.Point) geom.T {
	var flat []float64
	var ends []int
	for i := range parts {
		start, end := partRange(parts, i, len(pts))
		if end-start < 2 {
			continue
		}
		flat = append(flat, partFlat(pts[start:end])...)
		ends = append(ends, len(flat))
	}
	if len(ends) == 0 {
		return nil
	}
	return geom.NewMultiLineStringFlat(geom.XY, flat, ends)
}

type ring struct {
	flat []float64
	area float64
}

type polygonRings struct {
	shell ring
	holes []ring
}

// partsToMultiPolygon groups shapefile rings into polygons. Clockwise rings
// are shells; counter-clockwise rings are holes of the smallest shell that
// contains their first vertex. A hole with no enclosing shell becomes a
// shell itself. Rings with fewer than four points are dropped.
func partsToMultiPolygon(parts []int32, pts []shp.Point) geom.T {
	var shells []*polygonRings
	var holes []ring

	for i := range parts {
		start, end := partRange(parts, i, len(pts))
		flat := partFlat(pts[start:end])
		n := len(flat)
		if n >= 2 && (flat[0] != flat[n-2] || flat[1] != flat[n-1]) {
			flat = append(flat, flat[0], flat[1])
		}
		if len(flat) < 8 {
			continue
		}
		r := ring{flat: flat, area: math.Abs(xy.SignedArea(geom.XY, flat))}
		if xy.IsRingCounterClockwise(geom.XY, flat) {
			holes = append(holes, r)
		} else {
			shells = append(shells, &polygonRings{shell: r})
		}
	}

	bySize := slices.Clone(shells)
	slices.SortStableFunc(bySize, func(a, b *polygonRings) int { return cmp.Compare(a.shell.area, b.shell.area) })

	for _, h := range holes {
		first := geom.Coord{h.flat[0], h.flat[1]}
		var owner *polygonRings
		for _, s := range bySize {
			if xy.IsPointInRing(geom.XY, first, s.shell.flat) {
				owner = s
				break
			}
		}
		if owner == nil {
			shells = append(shells, &polygonRings{shell: h})
			continue
		}
		owner.holes = append(owner.holes, h)
	}

	if len(shells) == 0 {
		return nil
	}

	var flat []float64
	endss := make([][]int, 0, len(shells))
	for _, s := range shells {
		flat = append(flat, s.shell.flat...)
		ends := []int{len(flat)}
		for _, h := range s.holes {
			flat = append(flat, h.flat...)
			ends = append(ends, len(flat))
		}
		endss = append(endss, ends)
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss)
}
