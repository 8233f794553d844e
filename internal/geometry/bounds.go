package geometry

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Bounds is an axis-aligned envelope.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Intersects reports whether two envelopes share at least one point.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX &&
		b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// Width is the X extent.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height is the Y extent.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// BoundsOf returns the envelope of a go-geom geometry; ok is false for nil
// or empty geometries.
func BoundsOf(t geom.T) (Bounds, bool) {
	if t == nil || t.Empty() {
		return Bounds{}, false
	}
	gb := t.Bounds()
	if gb.IsEmpty() {
		return Bounds{}, false
	}
	return Bounds{MinX: gb.Min(0), MinY: gb.Min(1), MaxX: gb.Max(0), MaxY: gb.Max(1)}, true
}

// boundsSamples is the number of segments each envelope edge is split into
// before transforming.
const boundsSamples = 16

// TransformBounds maps an envelope through fn by sampling points along its
// edges. Non-cylindrical projections bend the edges, so the result is widened
// by 0.1% per side to cover curvature between samples. Samples outside the
// target domain are ignored; if none transform, the error of the last one is
// returned.
func TransformBounds(b Bounds, fn TransformFunc) (Bounds, error) {
	out := Bounds{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	var lastErr error
	add := func(x, y float64) {
		tx, ty, err := fn(x, y)
		if err != nil {
			lastErr = err
			return
		}
		out.MinX = math.Min(out.MinX, tx)
		out.MinY = math.Min(out.MinY, ty)
		out.MaxX = math.Max(out.MaxX, tx)
		out.MaxY = math.Max(out.MaxY, ty)
	}
	for i := 0; i <= boundsSamples; i++ {
		f := float64(i) / boundsSamples
		x := b.MinX + f*b.Width()
		y := b.MinY + f*b.Height()
		add(x, b.MinY)
		add(x, b.MaxY)
		add(b.MinX, y)
		add(b.MaxX, y)
	}
	if out.MinX > out.MaxX {
		return Bounds{}, eris.Wrap(lastErr, "geometry: transform envelope")
	}

	padX, padY := out.Width()*0.001, out.Height()*0.001
	out.MinX -= padX
	out.MaxX += padX
	out.MinY -= padY
	out.MaxY += padY
	return out, nil
}
