package geometry

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"
	"github.com/twpayne/go-proj/v10"
)

// Engine owns a GEOS context and a PROJ context. Geometries created by one
// engine should only be combined on the goroutine that owns it.
type Engine struct {
	ctx        *geos.Context
	proj       *proj.Context
	transforms map[[2]string]*Transform
}

// NewEngine creates an engine with its own GEOS and PROJ contexts.
func NewEngine() *Engine {
	return &Engine{
		ctx:        geos.NewContext(),
		proj:       proj.NewContext(),
		transforms: make(map[[2]string]*Transform),
	}
}

// Geometry is an immutable GEOS geometry tagged with its reference system.
type Geometry struct {
	engine *Engine
	g      *geos.Geom
	srs    SRS
}

// FromGeom converts a go-geom geometry. The result carries no reference
// system; callers assign one with WithSRS. Invalid input is repaired.
func (e *Engine) FromGeom(t geom.T) (*Geometry, error) {
	if t == nil || t.Empty() {
		return e.Empty(), nil
	}
	data, err := wkb.Marshal(t, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: encode wkb")
	}
	g, err := e.ctx.NewGeomFromWKB(data)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: decode wkb")
	}
	if !g.IsValid() {
		g, err = guard("make valid", func() *geos.Geom { return g.MakeValid() })
		if err != nil {
			return nil, err
		}
	}
	return &Geometry{engine: e, g: g}, nil
}

// FromWKT parses well-known text; used by fixtures and the CLI.
func (e *Engine) FromWKT(wkt string) (*Geometry, error) {
	g, err := e.ctx.NewGeomFromWKT(wkt)
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: parse wkt")
	}
	return &Geometry{engine: e, g: g}, nil
}

// Empty returns an empty polygon with no reference system.
func (e *Engine) Empty() *Geometry {
	g, err := e.ctx.NewGeomFromWKT("POLYGON EMPTY")
	if err != nil {
		panic(err)
	}
	return &Geometry{engine: e, g: g}
}

// WithSRS returns g tagged with s. The underlying geometry is shared.
func (g *Geometry) WithSRS(s SRS) *Geometry {
	return &Geometry{engine: g.engine, g: g.g, srs: s}
}

// SRS returns the assigned reference system; ok is false if none.
func (g *Geometry) SRS() (SRS, bool) {
	return g.srs, !g.srs.IsZero()
}

// IsEmpty reports whether g has no points.
func (g *Geometry) IsEmpty() bool {
	return g == nil || g.g == nil || g.g.IsEmpty()
}

// Area is the planar area in square units of the geometry's SRS.
func (g *Geometry) Area() float64 {
	if g.IsEmpty() {
		return 0
	}
	return g.g.Area()
}

// Bounds returns the envelope; ok is false for empty geometries.
func (g *Geometry) Bounds() (Bounds, bool) {
	if g.IsEmpty() {
		return Bounds{}, false
	}
	b := g.g.Bounds()
	return Bounds{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}, true
}

// BoundsIn returns the envelope of g expressed in target; ok is false for
// empty geometries.
func (g *Geometry) BoundsIn(target SRS) (Bounds, bool, error) {
	b, ok := g.Bounds()
	if !ok || g.srs.Equal(target) {
		return b, ok, nil
	}
	t, err := g.engine.Transformer(g.srs, target)
	if err != nil {
		return Bounds{}, false, err
	}
	out, err := TransformBounds(b, t.Apply)
	if err != nil {
		return Bounds{}, false, err
	}
	return out, true, nil
}

// WKT renders well-known text.
func (g *Geometry) WKT() string {
	if g == nil || g.g == nil {
		return "POLYGON EMPTY"
	}
	return g.g.ToWKT()
}

// Geom converts back to a go-geom geometry.
func (g *Geometry) Geom() (geom.T, error) {
	t, err := wkb.Unmarshal(g.g.ToWKB())
	if err != nil {
		return nil, eris.Wrap(err, "geometry: decode engine wkb")
	}
	return t, nil
}

// Reproject returns a copy of g transformed into target. It fails with a
// *MissingReferenceError when g has no reference system.
func Reproject(g *Geometry, target SRS) (*Geometry, error) {
	if g.srs.IsZero() {
		return nil, &MissingReferenceError{Target: target}
	}
	if g.srs.Equal(target) || g.IsEmpty() {
		return g.WithSRS(target), nil
	}
	tr, err := g.engine.Transformer(g.srs, target)
	if err != nil {
		return nil, err
	}
	t, err := g.Geom()
	if err != nil {
		return nil, err
	}
	moved, err := TransformGeom(t, tr.Apply)
	if err != nil {
		return nil, err
	}
	out, err := g.engine.FromGeom(moved)
	if err != nil {
		return nil, err
	}
	return out.WithSRS(target), nil
}

// Simplify applies topology-preserving simplification. A non-positive
// tolerance returns g unchanged.
func Simplify(g *Geometry, tolerance float64) (*Geometry, error) {
	if tolerance <= 0 || g.IsEmpty() {
		return g, nil
	}
	s, err := guard("simplify", func() *geos.Geom { return g.g.TopologyPreserveSimplify(tolerance) })
	if err != nil {
		return nil, err
	}
	return &Geometry{engine: g.engine, g: s, srs: g.srs}, nil
}

// Union returns a ∪ b.
func Union(a, b *Geometry) (*Geometry, error) {
	if err := sameSRS(a, b); err != nil {
		return nil, err
	}
	switch {
	case a.IsEmpty():
		return b, nil
	case b.IsEmpty():
		return a, nil
	}
	u, err := guard("union", func() *geos.Geom { return a.g.Union(b.g) })
	if err != nil {
		return nil, err
	}
	return &Geometry{engine: a.engine, g: u, srs: a.srs}, nil
}

// Intersect returns a ∩ b. Disjoint inputs yield an empty geometry.
func Intersect(a, b *Geometry) (*Geometry, error) {
	if err := sameSRS(a, b); err != nil {
		return nil, err
	}
	if a.IsEmpty() || b.IsEmpty() {
		return a.engine.Empty().WithSRS(a.srs), nil
	}
	i, err := guard("intersection", func() *geos.Geom { return a.g.Intersection(b.g) })
	if err != nil {
		return nil, err
	}
	return &Geometry{engine: a.engine, g: i, srs: a.srs}, nil
}

func sameSRS(a, b *Geometry) error {
	if a == nil || b == nil {
		return eris.New("geometry: nil operand")
	}
	if !a.srs.Equal(b.srs) {
		return eris.Wrapf(ErrSRSMismatch, "geometry: %s vs %s", a.srs, b.srs)
	}
	return nil
}

// guard converts GEOS panics (topology exceptions on degenerate input) into
// errors.
func guard(op string, fn func() *geos.Geom) (g *geos.Geom, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("geometry: %s: %v", op, r)
		}
	}()
	g = fn()
	if g == nil {
		return nil, eris.Errorf("geometry: %s returned no geometry", op)
	}
	return g, nil
}
