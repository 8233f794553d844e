package overlap

import (
	"maps"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/overlap-cli/internal/config"
	"github.com/sells-group/overlap-cli/internal/geometry"
	"github.com/sells-group/overlap-cli/internal/layer"
)

// Params drives one run: field names, working SRS, simplification and the
// handling of unreferenced features and null categories.
type Params struct {
	WorkingSRS    geometry.SRS
	Tolerance     float64
	RegionField   string
	CategoryField string
	AdminFilter   *layer.AttributeFilter
	MissingSRS    string
	NullCategory  string
	NullLabel     string
}

// ParamsFromConfig resolves run parameters from validated configuration.
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	working, err := geometry.ParseSRS(cfg.Overlap.WorkingSRS)
	if err != nil {
		return Params{}, eris.Wrap(err, "overlap: working srs")
	}
	p := Params{
		WorkingSRS:    working,
		Tolerance:     cfg.Overlap.Tolerance,
		RegionField:   cfg.Datasets.Admin.Field,
		CategoryField: cfg.Datasets.ProtectedAreas.Field,
		MissingSRS:    cfg.Overlap.MissingSRS,
		NullCategory:  cfg.Overlap.NullCategory,
		NullLabel:     cfg.Overlap.NullLabel,
	}
	for _, field := range slices.Sorted(maps.Keys(cfg.Overlap.AdminFilter)) {
		p.AdminFilter = p.AdminFilter.And(field, layer.StringValue(cfg.Overlap.AdminFilter[field]))
	}
	return p, nil
}

// skipMissing reports whether features without a reference system are dropped
// instead of failing the run.
func (p Params) skipMissing() bool {
	return p.MissingSRS == config.MissingSRSSkip
}

// categoryLabel names a category in the result; ok is false when the
// category is dropped.
func (p Params) categoryLabel(v layer.Value) (label string, ok bool) {
	if !v.Null {
		return v.Str, true
	}
	if p.NullCategory == config.NullCategoryDrop {
		return "", false
	}
	if p.NullLabel == "" {
		return "UNCLASSIFIED", true
	}
	return p.NullLabel, true
}

// Category is one protected-area category to report.
type Category struct {
	Value layer.Value
	Label string
}

// ErrLabelCollision is returned when the null label equals a real category
// value; the two would be indistinguishable in the results.
var ErrLabelCollision = eris.New("overlap: null label collides with a category value")

// Categories turns the distinct values of the category field into the
// reporting list, applying the null policy.
func (p Params) Categories(values []layer.Value) ([]Category, error) {
	out := make([]Category, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if !v.Null {
			seen[v.Str] = true
		}
	}
	for _, v := range values {
		label, ok := p.categoryLabel(v)
		if !ok {
			continue
		}
		if v.Null && seen[label] {
			return nil, eris.Wrapf(ErrLabelCollision, "overlap: %s %q", p.CategoryField, label)
		}
		out = append(out, Category{Value: v, Label: label})
	}
	return out, nil
}
