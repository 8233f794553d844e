package layer

import (
	"context"
	"iter"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/overlap-cli/internal/geometry"
)

// ErrQueryActive is returned when a scoped query is started on an accessor
// that already has one running.
var ErrQueryActive = eris.New("layer: a query is already active on this accessor")

// Options configures an Accessor.
type Options struct {
	// Index is the spatial index kind (IndexRTree or IndexLinear).
	Index string
}

// Accessor is a filterable, restartable view over a loaded Source.
// Filter state belongs to the accessor, so an accessor must not be shared
// between goroutines.
type Accessor struct {
	src    Source
	srs    geometry.SRS
	hasSRS bool
	fields []Field

	features []Feature
	envs     []geometry.Bounds
	index    SpatialIndex

	attr       *AttributeFilter
	spatial    *geometry.Geometry
	spatialEnv geometry.Bounds
	spatialNil bool // spatial filter set but matches nothing
	active     bool

	log *zap.Logger
}

// Load reads every feature of src into memory and indexes their envelopes.
// The accessor takes ownership of src.
func Load(ctx context.Context, src Source, opts Options) (*Accessor, error) {
	log := zap.L().With(
		zap.String("component", "layer.accessor"),
		zap.String("layer", src.Name()),
	)

	a := &Accessor{src: src, fields: src.Fields(), log: log}
	a.srs, a.hasSRS = src.SRS()

	var ok []bool
	err := src.Scan(ctx, func(f Feature) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		env, has := geometry.BoundsOf(f.Geometry)
		a.features = append(a.features, f)
		a.envs = append(a.envs, env)
		ok = append(ok, has)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "layer: load %s", src.Name())
	}

	a.index, err = NewIndex(opts.Index, a.envs, ok)
	if err != nil {
		return nil, err
	}

	log.Debug("layer loaded",
		zap.Int("features", len(a.features)),
		zap.Int("indexed", a.index.Len()),
		zap.Stringer("srs", a.srs),
	)
	return a, nil
}

// Name returns the source name.
func (a *Accessor) Name() string { return a.src.Name() }

// Fields returns the attribute columns of the source.
func (a *Accessor) Fields() []Field { return a.fields }

// Len returns the total number of features, ignoring filters.
func (a *Accessor) Len() int { return len(a.features) }

// NativeSRS is the reference system features are stored in; ok is false if
// the dataset does not declare one.
func (a *Accessor) NativeSRS() (geometry.SRS, bool) { return a.srs, a.hasSRS }

// HasField reports whether the source declares field (case-insensitive).
func (a *Accessor) HasField(field string) bool {
	for _, f := range a.fields {
		if strings.EqualFold(f.Name, field) {
			return true
		}
	}
	return false
}

// DistinctValues returns the unique values of field over every feature,
// ignoring the current filters. Non-null values are sorted ascending and a
// null value, if present, comes last.
func (a *Accessor) DistinctValues(field string) []Value {
	seen := make(map[Value]struct{})
	var out []Value
	for _, f := range a.features {
		v := f.Attr(field)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.SortFunc(out, compareValues)
	return out
}

func compareValues(a, b Value) int {
	switch {
	case a.Null && b.Null:
		return 0
	case a.Null:
		return 1
	case b.Null:
		return -1
	}
	return strings.Compare(a.Str, b.Str)
}

// SetFilter replaces both filters. A nil argument clears that filter.
func (a *Accessor) SetFilter(attr *AttributeFilter, spatial *geometry.Geometry) error {
	a.SetAttributeFilter(attr)
	return a.SetSpatialFilter(spatial)
}

// SetAttributeFilter replaces the attribute filter; nil clears it.
func (a *Accessor) SetAttributeFilter(attr *AttributeFilter) {
	a.attr = attr
}

// SetSpatialFilter restricts iteration to features whose envelope
// intersects the envelope of g, expressed in the layer's native SRS. An
// empty g matches nothing; nil clears the filter. A referenced g cannot
// filter a layer that has no reference of its own.
func (a *Accessor) SetSpatialFilter(g *geometry.Geometry) error {
	a.spatial, a.spatialNil = nil, false
	if g == nil {
		return nil
	}
	env, ok := g.Bounds()
	if !ok {
		a.spatial, a.spatialNil = g, true
		return nil
	}
	if from, has := g.SRS(); has {
		if !a.hasSRS {
			missing := &geometry.MissingReferenceError{Subject: "layer " + a.Name(), Target: from}
			return eris.Wrapf(missing, "layer: %s: spatial filter", a.Name())
		}
		if !from.Equal(a.srs) {
			var err error
			if env, _, err = g.BoundsIn(a.srs); err != nil {
				return eris.Wrapf(err, "layer: %s: spatial filter", a.Name())
			}
		}
	}
	a.spatial, a.spatialEnv = g, env
	return nil
}

// ClearFilters removes both filters.
func (a *Accessor) ClearFilters() {
	a.attr = nil
	a.spatial, a.spatialNil = nil, false
}

// Filtered reports whether any filter is set.
func (a *Accessor) Filtered() bool {
	return a.attr != nil || a.spatial != nil
}

// Iterate yields the features matching the filters in effect when it is
// called, in dataset order. The sequence can be ranged over repeatedly.
func (a *Accessor) Iterate() iter.Seq[Feature] {
	positions := a.candidates()
	attr := a.attr
	return func(yield func(Feature) bool) {
		for _, i := range positions {
			f := a.features[i]
			if !attr.Match(f) {
				continue
			}
			if !yield(f) {
				return
			}
		}
	}
}

func (a *Accessor) candidates() []int {
	switch {
	case a.spatialNil:
		return nil
	case a.spatial != nil:
		return a.index.Search(a.spatialEnv)
	}
	all := make([]int, len(a.features))
	for i := range all {
		all[i] = i
	}
	return all
}

// Query runs fn for each feature matching attr and spatial. Filters are
// cleared on every exit path, including errors and panics in fn. Queries
// on one accessor cannot nest.
func (a *Accessor) Query(ctx context.Context, attr *AttributeFilter, spatial *geometry.Geometry, fn func(Feature) error) error {
	if a.active {
		return eris.Wrapf(ErrQueryActive, "layer: %s", a.Name())
	}
	a.active = true
	defer func() {
		a.ClearFilters()
		a.active = false
	}()

	if err := a.SetFilter(attr, spatial); err != nil {
		return err
	}
	for f := range a.Iterate() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying source.
func (a *Accessor) Close() error {
	return a.src.Close()
}
