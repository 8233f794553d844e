// Package geometry wraps the GEOS and PROJ engines behind the primitives the
// overlap computation needs: reprojection, topology-preserving
// simplification, union, intersection and area.
package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-proj/v10"
)

// SquareMetersPerHectare is the number of square metres in one hectare.
const SquareMetersPerHectare = 10_000.0

// SRS identifies a coordinate reference system. Definition is anything PROJ
// accepts ("EPSG:32633", WKT, a PROJ string); Code is set when the system is
// known by its EPSG code. The zero value means "no reference assigned".
type SRS struct {
	Code          int     `json:"code,omitempty" yaml:"code,omitempty"`
	Definition    string  `json:"definition" yaml:"definition"`
	Name          string  `json:"name" yaml:"name"`
	Projected     bool    `json:"projected" yaml:"projected"`
	MetersPerUnit float64 `json:"meters_per_unit,omitempty" yaml:"meters_per_unit,omitempty"`
}

// Frequently used reference systems. They resolve without consulting PROJ.
var (
	WGS84 = SRS{Code: 4326, Definition: "EPSG:4326", Name: "WGS 84"}

	WebMercator = SRS{
		Code:          3857,
		Definition:    "EPSG:3857",
		Name:          "WGS 84 / Pseudo-Mercator",
		Projected:     true,
		MetersPerUnit: 1,
	}

	// EASEGrid2 is the global cylindrical equal-area grid. Areas computed in
	// it are true ground areas, unlike Web Mercator.
	EASEGrid2 = SRS{
		Code:          6933,
		Definition:    "EPSG:6933",
		Name:          "WGS 84 / NSIDC EASE-Grid 2.0 Global",
		Projected:     true,
		MetersPerUnit: 1,
	}
)

var wellKnown = map[int]SRS{
	WGS84.Code:       WGS84,
	WebMercator.Code: WebMercator,
	EASEGrid2.Code:   EASEGrid2,
}

// aliases maps legacy codes that PROJ does not know under the EPSG
// authority to their EPSG equivalent.
var aliases = map[int]int{
	900913: 3857,
	102100: 3857,
	102113: 3857,
	3785:   3857,
}

// String returns the "EPSG:<code>" form when the code is known, otherwise
// the CRS name. The zero value renders as "none".
func (s SRS) String() string {
	switch {
	case s.IsZero():
		return "none"
	case s.Code > 0:
		return fmt.Sprintf("EPSG:%d", s.Code)
	case s.Name != "":
		return s.Name
	}
	return "custom"
}

// IsZero reports whether no reference system is assigned.
func (s SRS) IsZero() bool { return s.Code == 0 && s.Definition == "" }

// Equal compares by EPSG code when both sides have one, otherwise by
// definition text.
func (s SRS) Equal(o SRS) bool { return s.key() == o.key() }

func (s SRS) key() string {
	if s.Code > 0 {
		return "EPSG:" + strconv.Itoa(s.Code)
	}
	return s.Definition
}

// definition is the text handed to PROJ.
func (s SRS) definition() string {
	if s.Definition != "" {
		return s.Definition
	}
	return s.key()
}

// LookupSRS resolves an EPSG (or legacy alias) code.
func LookupSRS(code int) (SRS, error) {
	if c, ok := aliases[code]; ok {
		code = c
	}
	if s, ok := wellKnown[code]; ok {
		return s, nil
	}
	if code <= 0 {
		return SRS{}, eris.Wrapf(ErrUnsupportedSRS, "geometry: EPSG:%d", code)
	}
	s, err := describe("EPSG:" + strconv.Itoa(code))
	if err != nil {
		return SRS{}, err
	}
	s.Code = code
	return s, nil
}

// ParseSRS accepts "EPSG:32633", a bare "32633", or any other definition
// PROJ understands, such as "ESRI:102033" or WKT from a .prj file.
func ParseSRS(s string) (SRS, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return SRS{}, eris.New("geometry: empty srs definition")
	}
	if code, err := strconv.Atoi(v); err == nil {
		return LookupSRS(code)
	}
	if auth, id, ok := strings.Cut(v, ":"); ok && strings.EqualFold(auth, "EPSG") {
		code, err := strconv.Atoi(strings.TrimSpace(id))
		if err != nil {
			return SRS{}, eris.Wrapf(err, "geometry: parse srs %q", s)
		}
		return LookupSRS(code)
	}
	return describe(v)
}

// RequireMetric fails unless s is a projected system measured in metres.
// Hectare figures are only meaningful in such a system.
func RequireMetric(s SRS) error {
	if s.IsZero() {
		return eris.New("geometry: working srs not set")
	}
	if !s.Projected || s.MetersPerUnit != 1 {
		return eris.Errorf("geometry: working srs %s is not a metric projected system", s)
	}
	return nil
}

// Hectares converts an area in square units of s to hectares.
func Hectares(area float64, s SRS) float64 {
	m := s.MetersPerUnit
	return area * m * m / SquareMetersPerHectare
}

var (
	describeMu  sync.Mutex
	describeCtx *proj.Context
	described   = make(map[string]SRS)
)

// describe asks PROJ for the name and axis units of a definition. Results
// are cached for the life of the process.
func describe(def string) (SRS, error) {
	describeMu.Lock()
	defer describeMu.Unlock()

	if s, ok := described[def]; ok {
		return s, nil
	}
	if describeCtx == nil {
		describeCtx = proj.NewContext()
	}

	crs, err := describeCtx.New(def)
	if err != nil {
		return SRS{}, eris.Wrapf(ErrUnsupportedSRS, "geometry: %s: %v", abbreviate(def), err)
	}
	defer crs.Destroy()
	if !crs.IsCRS() {
		return SRS{}, eris.Wrapf(ErrUnsupportedSRS, "geometry: %s is not a coordinate reference system", abbreviate(def))
	}

	s := SRS{Definition: def, Name: crs.Info().Description}
	if s.Name == "" {
		s.Name = abbreviate(def)
	}

	pj, err := newPJ(describeCtx, def, WGS84.Definition)
	if err != nil {
		return SRS{}, err
	}
	defer pj.Destroy()

	scale, err := unitScale(pj)
	if err != nil {
		return SRS{}, eris.Wrapf(err, "geometry: %s", s.Name)
	}
	if scale < angularScale {
		m, ok := linearUnit(scale)
		if !ok {
			return SRS{}, eris.Wrapf(ErrUnsupportedSRS, "geometry: %s: unrecognised linear unit (%.4g m per unit)", s.Name, scale)
		}
		s.Projected, s.MetersPerUnit = true, m
	}

	described[def] = s
	return s, nil
}

// angularScale separates angular units (one degree spans tens of
// kilometres) from linear ones.
const angularScale = 5_000.0

var linearUnits = []float64{
	1,             // metre
	1000,          // kilometre
	0.3048,        // international foot
	1200.0 / 3937, // US survey foot
}

// linearUnit snaps a measured ground scale to the nearest known unit. The
// measurement includes the projection's scale factor on its line of least
// distortion, which stays within a few percent of one.
func linearUnit(scale float64) (float64, bool) {
	best, bestDiff := 0.0, math.Inf(1)
	for _, u := range linearUnits {
		r := scale / u
		if r < 0.8 || r > 1.25 {
			continue
		}
		if d := math.Abs(math.Log(r)); d < bestDiff {
			best, bestDiff = u, d
		}
	}
	return best, best > 0
}

var sampleLatitudes = func() []float64 {
	lats := []float64{-89}
	for lat := -80.0; lat <= 80; lat += 10 {
		lats = append(lats, lat)
	}
	return append(lats, 89)
}()

// unitScale estimates metres per CRS unit from pj, a transform from the CRS
// to lon/lat. At each point of a global grid it measures the ground length
// of a one-unit step along both axes. Projections enlarge away from their
// line of least distortion, so the largest geometric mean is kept.
func unitScale(pj *proj.PJ) (float64, error) {
	best := 0.0
	for _, lat := range sampleLatitudes {
		for lon := -175.0; lon < 180; lon += 10 {
			if d, ok := scaleAt(pj, lon, lat); ok && d > best {
				best = d
			}
		}
	}
	if best == 0 {
		return 0, eris.Wrap(ErrUnsupportedSRS, "geometry: no valid point to measure units")
	}
	return best, nil
}

func scaleAt(pj *proj.PJ, lon, lat float64) (float64, bool) {
	p, err := pj.Inverse(proj.NewCoord(lon, lat, 0, 0))
	if err != nil || !finite(p.X(), p.Y()) {
		return 0, false
	}
	back, err := pj.Forward(p)
	if err != nil || math.Abs(back.X()-lon) > 1e-6 || math.Abs(back.Y()-lat) > 1e-6 {
		return 0, false
	}
	ex, err := pj.Forward(proj.NewCoord(p.X()+1, p.Y(), 0, 0))
	if err != nil || !finite(ex.X(), ex.Y()) {
		return 0, false
	}
	ey, err := pj.Forward(proj.NewCoord(p.X(), p.Y()+1, 0, 0))
	if err != nil || !finite(ey.X(), ey.Y()) {
		return 0, false
	}

	origin := orb.Point{lon, lat}
	dx := geo.DistanceHaversine(origin, orb.Point{ex.X(), ex.Y()})
	dy := geo.DistanceHaversine(origin, orb.Point{ey.X(), ey.Y()})
	if dx <= 0 || dy <= 0 {
		return 0, false
	}
	return math.Sqrt(dx * dy), true
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// abbreviate shortens WKT definitions for error messages.
func abbreviate(def string) string {
	def = strings.Join(strings.Fields(def), " ")
	if len(def) > 60 {
		return def[:57] + "..."
	}
	return def
}
