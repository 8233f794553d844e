package overlap

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/overlap-cli/internal/config"
	"github.com/sells-group/overlap-cli/internal/geometry"
	"github.com/sells-group/overlap-cli/internal/layer"
	"github.com/sells-group/overlap-cli/internal/results"
)

func box(minX, minY, maxX, maxY float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY,
	}, []int{10})
}

func feat(g geom.T, kv ...string) layer.Feature {
	attrs := make(map[string]layer.Value)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[kv[i]] = layer.StringValue(kv[i+1])
	}
	return layer.Feature{Attributes: attrs, Geometry: g}
}

type fixture struct {
	admin, bio, pa          []layer.Feature
	adminSRS, bioSRS, paSRS geometry.SRS
}

func newFixture() *fixture {
	return &fixture{
		adminSRS: geometry.WebMercator,
		bioSRS:   geometry.WebMercator,
		paSRS:    geometry.WebMercator,
	}
}

func (fx *fixture) open(ctx context.Context) (*Layers, error) {
	load := func(name string, srs geometry.SRS, feats []layer.Feature) (*layer.Accessor, error) {
		return layer.Load(ctx, layer.NewMemorySource(name, srs, feats...), layer.Options{})
	}
	admin, err := load("admin", fx.adminSRS, fx.admin)
	if err != nil {
		return nil, err
	}
	bio, err := load("bio", fx.bioSRS, fx.bio)
	if err != nil {
		return nil, err
	}
	pa, err := load("pa", fx.paSRS, fx.pa)
	if err != nil {
		return nil, err
	}
	return &Layers{Admin: admin, Biodiversity: bio, ProtectedAreas: pa}, nil
}

func (fx *fixture) layers(t *testing.T) *Layers {
	t.Helper()
	l, err := fx.open(context.Background())
	require.NoError(t, err)
	return l
}

func testParams() Params {
	return Params{
		WorkingSRS:    geometry.WebMercator,
		Tolerance:     0.001,
		RegionField:   "iso3",
		CategoryField: "IUCN_CAT",
		MissingSRS:    config.MissingSRSFail,
		NullCategory:  config.NullCategoryReport,
		NullLabel:     "UNCLASSIFIED",
	}
}

func run(t *testing.T, fx *fixture, p Params, opts RunOptions) *results.Store {
	t.Helper()
	store, err := NewRunner(fx.open, p, opts).Run(context.Background())
	require.NoError(t, err)
	return store
}

// oneHectare is a 100 m square region with biodiversity on its left half and
// a single protected area far outside it.
func oneHectare() *fixture {
	fx := newFixture()
	fx.admin = []layer.Feature{feat(box(0, 0, 100, 100), "iso3", "AAA", "status", "member")}
	fx.bio = []layer.Feature{feat(box(0, 0, 50, 100), "name", "jaguar")}
	fx.pa = []layer.Feature{feat(box(5000, 5000, 5100, 5100), "IUCN_CAT", "III")}
	return fx
}

func TestRun_BiodiversityHalf(t *testing.T) {
	fx := oneHectare()
	store := run(t, fx, testParams(), RunOptions{})

	res, ok := store.Get("AAA")
	require.True(t, ok)
	assert.InDelta(t, 0.50, res.BiodiversityHectares, 1e-9)
	assert.Equal(t, []results.CategoryOverlap{{Category: "III"}}, res.Categories)
}

func TestRun_DisjointCategory(t *testing.T) {
	fx := oneHectare()
	fx.pa = []layer.Feature{feat(box(50, 0, 100, 100), "IUCN_CAT", "II")}
	store := run(t, fx, testParams(), RunOptions{})

	res, ok := store.Get("AAA")
	require.True(t, ok)
	require.Len(t, res.Categories, 1)
	c := res.Categories[0]
	assert.Equal(t, "II", c.Category)
	assert.InDelta(t, 0.50, c.ProtectedAreaHectares, 1e-9)
	assert.InDelta(t, 0.00, c.TripleHectares, 1e-9)
}

func TestRun_TripleOverlap(t *testing.T) {
	fx := oneHectare()
	fx.pa = []layer.Feature{
		feat(box(25, 0, 75, 100), "IUCN_CAT", "II"),
		feat(box(500, 500, 600, 600), "IUCN_CAT", "II"),
		feat(box(0, 0, 10, 10), "IUCN_CAT", "Ia"),
	}
	store := run(t, fx, testParams(), RunOptions{})

	res, ok := store.Get("AAA")
	require.True(t, ok)
	require.Len(t, res.Categories, 2)

	ii, _ := res.Category("II")
	assert.InDelta(t, 0.50, ii.ProtectedAreaHectares, 1e-9)
	assert.InDelta(t, 0.25, ii.TripleHectares, 1e-9)

	ia, _ := res.Category("Ia")
	assert.InDelta(t, 0.01, ia.ProtectedAreaHectares, 1e-9)
	assert.InDelta(t, 0.01, ia.TripleHectares, 1e-9)
}

func TestRun_StricterAdminFilter(t *testing.T) {
	fx := oneHectare()
	p := testParams()
	p.AdminFilter = layer.Where("status", layer.StringValue("observer"))

	store := run(t, fx, p, RunOptions{})
	assert.Equal(t, 0, store.Len())
	_, ok := store.Get("AAA")
	assert.False(t, ok)
}

func TestRun_EveryCategoryInEveryRegion(t *testing.T) {
	fx := oneHectare()
	fx.admin = append(fx.admin, feat(box(1000, 1000, 1100, 1100), "iso3", "BBB"))
	fx.pa = []layer.Feature{feat(box(0, 0, 100, 100), "IUCN_CAT", "II")}
	store := run(t, fx, testParams(), RunOptions{})

	assert.Equal(t, []string{"AAA", "BBB"}, store.Regions())
	bbb, ok := store.Get("BBB")
	require.True(t, ok)
	assert.Equal(t, 0.0, bbb.BiodiversityHectares)
	require.Len(t, bbb.Categories, 1)
	assert.Equal(t, results.CategoryOverlap{Category: "II"}, bbb.Categories[0])
}

func TestRun_Idempotent(t *testing.T) {
	fx := oneHectare()
	fx.pa = []layer.Feature{feat(box(25, 0, 75, 100), "IUCN_CAT", "II")}

	first := run(t, fx, testParams(), RunOptions{})
	second := run(t, fx, testParams(), RunOptions{})
	assert.Equal(t, first.All(), second.All())
}

func TestRun_TripleNeverExceedsPairwise(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	fx := newFixture()
	fx.admin = []layer.Feature{feat(box(0, 0, 1000, 1000), "iso3", "AAA")}
	// Biodiversity features are disjoint, so their contributions never stack.
	for i := range 8 {
		x, y := float64(i)*120, rng.Float64()*700
		fx.bio = append(fx.bio, feat(box(x, y, x+rng.Float64()*100+1, y+rng.Float64()*300+1)))
	}
	for i := range 12 {
		x, y := rng.Float64()*900, rng.Float64()*900
		cat := []string{"Ia", "II", "IV"}[i%3]
		fx.pa = append(fx.pa, feat(box(x, y, x+rng.Float64()*300+1, y+rng.Float64()*300+1), "IUCN_CAT", cat))
	}

	res, ok := run(t, fx, testParams(), RunOptions{}).Get("AAA")
	require.True(t, ok)
	require.Len(t, res.Categories, 3)
	assert.GreaterOrEqual(t, res.BiodiversityHectares, 0.0)
	for _, c := range res.Categories {
		assert.GreaterOrEqual(t, c.TripleHectares, 0.0)
		assert.GreaterOrEqual(t, c.ProtectedAreaHectares, 0.0)
		assert.LessOrEqual(t, c.TripleHectares, c.ProtectedAreaHectares+1e-9, c.Category)
		assert.LessOrEqual(t, c.TripleHectares, res.BiodiversityHectares+1e-9, c.Category)
	}
}

func TestRun_NullCategory(t *testing.T) {
	fx := oneHectare()
	fx.pa = []layer.Feature{
		feat(box(0, 0, 100, 100), "IUCN_CAT", "II"),
		feat(box(0, 0, 50, 50)),
	}

	reported := run(t, fx, testParams(), RunOptions{})
	res, _ := reported.Get("AAA")
	require.Len(t, res.Categories, 2)
	null := res.Categories[1]
	assert.Equal(t, "UNCLASSIFIED", null.Category)
	assert.True(t, null.Null)
	assert.InDelta(t, 0.25, null.ProtectedAreaHectares, 1e-9)

	p := testParams()
	p.NullCategory = config.NullCategoryDrop
	dropped := run(t, fx, p, RunOptions{})
	res, _ = dropped.Get("AAA")
	require.Len(t, res.Categories, 1)
	assert.Equal(t, "II", res.Categories[0].Category)
}

func TestRun_MissingSRS(t *testing.T) {
	fx := oneHectare()
	fx.bioSRS = geometry.SRS{}

	_, err := NewRunner(fx.open, testParams(), RunOptions{}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, geometry.IsMissingReference(err))

	p := testParams()
	p.MissingSRS = config.MissingSRSSkip
	store := run(t, fx, p, RunOptions{})
	res, ok := store.Get("AAA")
	require.True(t, ok)
	assert.Equal(t, 0.0, res.BiodiversityHectares)
}

func TestRun_UnreferencedDegreesFarFromOrigin(t *testing.T) {
	fx := newFixture()
	fx.admin = []layer.Feature{feat(box(1e6, 0, 1e6+100, 100), "iso3", "AAA")}
	// Degree-valued data that lands on the region once read as longitude.
	fx.bio = []layer.Feature{feat(box(8.98, 0, 8.99, 0.001), "name", "jaguar")}
	fx.bioSRS = geometry.SRS{}
	fx.pa = []layer.Feature{feat(box(1e6, 0, 1e6+100, 100), "IUCN_CAT", "II")}

	_, err := NewRunner(fx.open, testParams(), RunOptions{}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, geometry.IsMissingReference(err))
	assert.Contains(t, err.Error(), "biodiversity layer bio")

	p := testParams()
	p.MissingSRS = config.MissingSRSSkip
	res, ok := run(t, fx, p, RunOptions{}).Get("AAA")
	require.True(t, ok)
	assert.Equal(t, 0.0, res.BiodiversityHectares)
	require.Len(t, res.Categories, 1)
	assert.InDelta(t, 1.0, res.Categories[0].ProtectedAreaHectares, 1e-6)
	assert.Equal(t, 0.0, res.Categories[0].TripleHectares)
}

func TestRun_UnreferencedProtectedAreas(t *testing.T) {
	fx := oneHectare()
	fx.pa = []layer.Feature{feat(box(0, 0, 100, 100), "IUCN_CAT", "II")}
	fx.paSRS = geometry.SRS{}

	_, err := NewRunner(fx.open, testParams(), RunOptions{}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, geometry.IsMissingReference(err))

	p := testParams()
	p.MissingSRS = config.MissingSRSSkip
	res, ok := run(t, fx, p, RunOptions{}).Get("AAA")
	require.True(t, ok)
	assert.InDelta(t, 0.5, res.BiodiversityHectares, 1e-9)
	require.Len(t, res.Categories, 1)
	assert.Equal(t, "II", res.Categories[0].Category)
	assert.Equal(t, 0.0, res.Categories[0].ProtectedAreaHectares)
}

func TestRun_NullLabelCollision(t *testing.T) {
	fx := oneHectare()
	fx.pa = []layer.Feature{
		feat(box(0, 0, 100, 100), "IUCN_CAT", "UNCLASSIFIED"),
		feat(box(0, 0, 50, 50)),
	}

	_, err := NewRunner(fx.open, testParams(), RunOptions{}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLabelCollision)

	p := testParams()
	p.NullLabel = "No category"
	res, ok := run(t, fx, p, RunOptions{}).Get("AAA")
	require.True(t, ok)
	require.Len(t, res.Categories, 2)
	assert.Equal(t, "UNCLASSIFIED", res.Categories[0].Category)
	assert.Equal(t, "No category", res.Categories[1].Category)
}

func TestRun_MissingAdminSRS(t *testing.T) {
	fx := oneHectare()
	fx.adminSRS = geometry.SRS{}

	_, err := NewRunner(fx.open, testParams(), RunOptions{}).Run(context.Background())
	require.Error(t, err)

	p := testParams()
	p.MissingSRS = config.MissingSRSSkip
	assert.Equal(t, 0, run(t, fx, p, RunOptions{}).Len())
}

func TestRun_ReprojectsGeographicLayers(t *testing.T) {
	fx := newFixture()
	fx.adminSRS = geometry.WGS84
	fx.admin = []layer.Feature{feat(box(0, 0, 1, 1), "iso3", "GEO")}
	fx.bio = []layer.Feature{feat(box(0, 0, 111319.49079327357/2, 200000))}
	fx.pa = []layer.Feature{feat(nil, "IUCN_CAT", "II")}

	res, ok := run(t, fx, testParams(), RunOptions{}).Get("GEO")
	require.True(t, ok)
	// Half of a 1 degree square at the equator in Web Mercator metres.
	assert.InDelta(t, 111319.49079327357/2*111325.14286638486/10_000, res.BiodiversityHectares, 1)
}

func TestRun_RegionSubset(t *testing.T) {
	fx := oneHectare()
	fx.admin = append(fx.admin,
		feat(box(1000, 0, 1100, 100), "iso3", "BBB"),
		feat(box(2000, 0, 2100, 100), "iso3", "CCC"),
		feat(box(3000, 0, 3100, 100)),
	)

	all := run(t, fx, testParams(), RunOptions{})
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, all.Regions())

	subset := run(t, fx, testParams(), RunOptions{Regions: []string{"CCC", "ZZZ", "AAA", "CCC"}})
	assert.Equal(t, []string{"CCC", "AAA"}, subset.Regions())
}

func TestRun_WorkersMatchSequential(t *testing.T) {
	fx := newFixture()
	for i := range 9 {
		x := float64(i) * 200
		fx.admin = append(fx.admin, feat(box(x, 0, x+100, 100), "iso3", string(rune('A'+i))+"RG"))
		fx.bio = append(fx.bio, feat(box(x, 0, x+float64(10*(i+1)), 100)))
		fx.pa = append(fx.pa,
			feat(box(x+50, 0, x+100, 100), "IUCN_CAT", "II"),
			feat(box(x, 0, x+5, 5), "IUCN_CAT", "V"),
		)
	}

	seq := run(t, fx, testParams(), RunOptions{Workers: 1})
	par := run(t, fx, testParams(), RunOptions{Workers: 4})
	assert.Equal(t, seq.Regions(), par.Regions())
	assert.Equal(t, seq.All(), par.All())
	assert.Equal(t, 9, par.Len())
}

func TestRun_MissingField(t *testing.T) {
	fx := oneHectare()
	p := testParams()
	p.RegionField = "gid_0"

	_, err := NewRunner(fx.open, p, RunOptions{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no field")
}

func TestRun_Cancelled(t *testing.T) {
	fx := oneHectare()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(fx.open, testParams(), RunOptions{}).Run(ctx)
	assert.Error(t, err)
}

func TestAccumulator_ClearsFilters(t *testing.T) {
	fx := oneHectare()
	fx.pa = []layer.Feature{feat(box(0, 0, 100, 100), "IUCN_CAT", "II")}
	l := fx.layers(t)
	p := testParams()
	cats, err := p.Categories(l.ProtectedAreas.DistinctValues(p.CategoryField))
	require.NoError(t, err)

	acc := NewAccumulator(geometry.NewEngine(), l, p, cats)
	l.Biodiversity.SetAttributeFilter(layer.Where("name", layer.StringValue("jaguar")))

	_, err = acc.Region(context.Background(), layer.StringValue("AAA"))
	require.NoError(t, err)
	assert.False(t, l.Admin.Filtered())
	assert.False(t, l.Biodiversity.Filtered())
	assert.False(t, l.ProtectedAreas.Filtered())

	// Also on failure.
	fx.bioSRS = geometry.SRS{}
	l = fx.layers(t)
	acc = NewAccumulator(geometry.NewEngine(), l, p, cats)
	_, err = acc.Region(context.Background(), layer.StringValue("AAA"))
	require.Error(t, err)
	assert.False(t, l.Biodiversity.Filtered())
	assert.False(t, l.ProtectedAreas.Filtered())
}

func TestBuildRegion_UnionOrderIndependent(t *testing.T) {
	parts := []layer.Feature{
		feat(box(0, 0, 10, 10), "iso3", "AAA"),
		feat(box(10, 0, 20, 10), "iso3", "AAA"),
		feat(box(5, 5, 15, 15), "iso3", "AAA"),
		feat(box(100, 100, 110, 110), "iso3", "BBB"),
	}
	rng := rand.New(rand.NewPCG(1, 2))
	p := testParams()
	p.Tolerance = 0

	for range 6 {
		shuffled := append([]layer.Feature(nil), parts...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		admin, err := layer.Load(context.Background(), layer.NewMemorySource("admin", geometry.WebMercator, shuffled...), layer.Options{})
		require.NoError(t, err)

		g, err := BuildRegion(context.Background(), geometry.NewEngine(), admin, layer.StringValue("AAA"), p)
		require.NoError(t, err)
		assert.InDelta(t, 250, g.Area(), 1e-9)
		srs, ok := g.SRS()
		require.True(t, ok)
		assert.Equal(t, geometry.WebMercator, srs)
		assert.False(t, admin.Filtered())
	}
}

func TestBuildRegion_Empty(t *testing.T) {
	admin, err := layer.Load(context.Background(),
		layer.NewMemorySource("admin", geometry.WebMercator, feat(nil, "iso3", "AAA")), layer.Options{})
	require.NoError(t, err)

	_, err = BuildRegion(context.Background(), geometry.NewEngine(), admin, layer.StringValue("AAA"), testParams())
	assert.ErrorIs(t, err, ErrEmptyRegion)

	_, err = BuildRegion(context.Background(), geometry.NewEngine(), admin, layer.StringValue("ZZZ"), testParams())
	assert.ErrorIs(t, err, ErrEmptyRegion)
}

func TestParamsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Overlap.WorkingSRS = "EPSG:6933"
	cfg.Overlap.Tolerance = 0.5
	cfg.Overlap.MissingSRS = config.MissingSRSSkip
	cfg.Overlap.AdminFilter = map[string]string{"status": "member", "continent": "SA"}
	cfg.Datasets.Admin.Field = "iso3"
	cfg.Datasets.ProtectedAreas.Field = "IUCN_CAT"

	p, err := ParamsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, geometry.EASEGrid2, p.WorkingSRS)
	assert.Equal(t, "iso3", p.RegionField)
	assert.True(t, p.skipMissing())
	assert.Equal(t, "continent = SA AND status = member", p.AdminFilter.String())

	cfg.Overlap.WorkingSRS = "EPSG:1"
	_, err = ParamsFromConfig(cfg)
	assert.Error(t, err)
}

func TestParams_Categories(t *testing.T) {
	values := []layer.Value{layer.StringValue("II"), layer.StringValue("Ia"), layer.NullValue()}

	p := testParams()
	p.NullLabel = ""
	cats, err := p.Categories(values)
	require.NoError(t, err)
	assert.Equal(t, []Category{
		{Value: layer.StringValue("II"), Label: "II"},
		{Value: layer.StringValue("Ia"), Label: "Ia"},
		{Value: layer.NullValue(), Label: "UNCLASSIFIED"},
	}, cats)

	p.NullCategory = config.NullCategoryDrop
	cats, err = p.Categories(values)
	require.NoError(t, err)
	assert.Len(t, cats, 2)
}

func TestParams_CategoriesLabelCollision(t *testing.T) {
	values := []layer.Value{layer.StringValue("II"), layer.StringValue("Not Reported"), layer.NullValue()}

	p := testParams()
	p.NullLabel = "Not Reported"
	_, err := p.Categories(values)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLabelCollision)
	assert.Contains(t, err.Error(), `"Not Reported"`)

	// Dropping nulls leaves nothing to collide with.
	p.NullCategory = config.NullCategoryDrop
	cats, err := p.Categories(values)
	require.NoError(t, err)
	assert.Len(t, cats, 2)
}
