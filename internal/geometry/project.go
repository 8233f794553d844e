package geometry

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-proj/v10"
)

// TransformFunc maps one coordinate pair between reference systems.
type TransformFunc func(x, y float64) (float64, float64, error)

// Transform converts coordinates between two reference systems. Geographic
// systems always take longitude first.
type Transform struct {
	from, to SRS
	pj       *proj.PJ // nil for the identity
}

// Apply transforms one coordinate pair. Points outside the domain of the
// target projection are an error.
func (t *Transform) Apply(x, y float64) (float64, float64, error) {
	if t.pj == nil {
		return x, y, nil
	}
	c, err := t.pj.Forward(proj.NewCoord(x, y, 0, 0))
	if err != nil {
		return 0, 0, eris.Wrapf(err, "geometry: transform (%g, %g) from %s to %s", x, y, t.from, t.to)
	}
	if !finite(c.X(), c.Y()) {
		return 0, 0, eris.Errorf("geometry: transform (%g, %g) from %s to %s is out of range", x, y, t.from, t.to)
	}
	return c.X(), c.Y(), nil
}

// Transformer returns the transform from one SRS to another, created once
// per engine and pair.
func (e *Engine) Transformer(from, to SRS) (*Transform, error) {
	if from.IsZero() {
		return nil, &MissingReferenceError{Target: to}
	}
	if to.IsZero() {
		return nil, eris.New("geometry: transform target not set")
	}
	if from.Equal(to) {
		return &Transform{from: from, to: to}, nil
	}

	key := [2]string{from.key(), to.key()}
	if t, ok := e.transforms[key]; ok {
		return t, nil
	}
	pj, err := newPJ(e.proj, from.definition(), to.definition())
	if err != nil {
		return nil, err
	}
	t := &Transform{from: from, to: to, pj: pj}
	e.transforms[key] = t
	return t, nil
}

// newPJ creates a CRS-to-CRS transform with axis order normalised to
// easting/northing and longitude/latitude.
func newPJ(ctx *proj.Context, from, to string) (*proj.PJ, error) {
	raw, err := ctx.NewCRSToCRS(from, to, nil)
	if err != nil {
		return nil, eris.Wrapf(ErrUnsupportedSRS, "geometry: no transform from %s to %s: %v", abbreviate(from), abbreviate(to), err)
	}
	defer raw.Destroy()
	pj, err := raw.NormalizeForVisualization()
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: normalise transform from %s to %s", abbreviate(from), abbreviate(to))
	}
	return pj, nil
}
