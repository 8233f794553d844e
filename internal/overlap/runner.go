package overlap

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/overlap-cli/internal/geometry"
	"github.com/sells-group/overlap-cli/internal/layer"
	"github.com/sells-group/overlap-cli/internal/results"
)

// Opener opens an independent layer set. The runner calls it once per worker.
type Opener func(ctx context.Context) (*Layers, error)

// RunOptions configures region enumeration and parallelism.
type RunOptions struct {
	Workers int      // default 1 (sequential)
	Regions []string // restrict to these codes; empty = every code in the admin layer
}

// Runner drives the accumulator over every region and commits results in
// region order.
type Runner struct {
	open   Opener
	params Params
	opts   RunOptions
	log    *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(open Opener, p Params, opts RunOptions) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Runner{
		open:   open,
		params: p,
		opts:   opts,
		log:    zap.L().With(zap.String("component", "overlap.runner")),
	}
}

// Run processes every region and returns the populated store. Any dataset or
// geometry failure aborts the run; empty regions are skipped.
func (r *Runner) Run(ctx context.Context) (*results.Store, error) {
	primary, err := r.open(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "overlap: open layers")
	}
	defer primary.Close() //nolint:errcheck

	if err := r.checkFields(primary); err != nil {
		return nil, err
	}
	skipped, err := r.checkReferences(primary)
	if err != nil {
		return nil, err
	}

	codes := r.regionCodes(primary.Admin)
	categories, err := r.params.Categories(primary.ProtectedAreas.DistinctValues(r.params.CategoryField))
	if err != nil {
		return nil, err
	}

	workers := max(1, min(r.opts.Workers, len(codes)))
	r.log.Info("starting overlap run",
		zap.Int("regions", len(codes)),
		zap.Int("categories", len(categories)),
		zap.Int("workers", workers),
		zap.String("working_srs", r.params.WorkingSRS.String()),
	)

	// Each worker owns a layer set and a GEOS engine; an accumulator is
	// checked out of the pool for the duration of one region.
	pool := make(chan *Accumulator, workers)
	pool <- NewAccumulator(geometry.NewEngine(), primary, r.params, categories)
	for i := 1; i < workers; i++ {
		l, err := r.open(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "overlap: open layers for worker %d", i)
		}
		defer l.Close() //nolint:errcheck
		pool <- NewAccumulator(geometry.NewEngine(), l, r.params, categories)
	}

	start := time.Now()
	out := make([]*results.OverlapResult, len(codes))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, code := range codes {
		g.Go(func() error {
			acc := <-pool
			defer func() { pool <- acc }()

			res, err := r.region(gCtx, acc, code)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	store := results.NewStore()
	for _, res := range out {
		if res == nil {
			continue
		}
		if err := store.Add(*res); err != nil {
			return nil, err
		}
	}

	r.log.Info("overlap run complete",
		zap.Int("regions", store.Len()),
		zap.Int("skipped_features", skipped),
		zap.Duration("elapsed", time.Since(start)),
	)
	return store, nil
}

func (r *Runner) region(ctx context.Context, acc *Accumulator, code layer.Value) (*results.OverlapResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "overlap: run cancelled")
	}

	start := time.Now()
	res, err := acc.Region(ctx, code)
	switch {
	case eris.Is(err, ErrEmptyRegion):
		r.log.Info("no admin geometry for region, skipping", zap.String("region", code.Str))
		return nil, nil
	case err != nil && geometry.IsMissingReference(err) && r.params.skipMissing():
		r.log.Warn("admin layer has no spatial reference, skipping region", zap.String("region", code.Str))
		return nil, nil
	case err != nil:
		return nil, eris.Wrapf(err, "overlap: region %s", code)
	}

	r.log.Info("region processed",
		zap.String("region", code.Str),
		zap.Float64("biodiversity_ha", res.BiodiversityHectares),
		zap.Int("categories", len(res.Categories)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &res, nil
}

// regionCodes lists the codes to process. Configured codes keep their order
// and are deduplicated; otherwise every non-null code of the admin layer is
// used, sorted.
func (r *Runner) regionCodes(admin *layer.Accessor) []layer.Value {
	var codes []layer.Value
	if len(r.opts.Regions) > 0 {
		seen := make(map[string]bool)
		for _, c := range r.opts.Regions {
			if c == "" || seen[c] {
				continue
			}
			seen[c] = true
			codes = append(codes, layer.StringValue(c))
		}
		return codes
	}

	for _, v := range admin.DistinctValues(r.params.RegionField) {
		if v.Null {
			r.log.Debug("skipping admin features without a region code", zap.String("field", r.params.RegionField))
			continue
		}
		codes = append(codes, v)
	}
	return codes
}

func (r *Runner) checkFields(l *Layers) error {
	if l.Admin == nil || l.Biodiversity == nil || l.ProtectedAreas == nil {
		return eris.New("overlap: admin, biodiversity and protected-area layers are required")
	}
	if !l.Admin.HasField(r.params.RegionField) {
		return eris.Errorf("overlap: admin layer %s has no field %q", l.Admin.Name(), r.params.RegionField)
	}
	if !l.ProtectedAreas.HasField(r.params.CategoryField) {
		return eris.Errorf("overlap: protected-area layer %s has no field %q", l.ProtectedAreas.Name(), r.params.CategoryField)
	}
	return nil
}

// checkReferences applies the missing-SRS policy to whole layers. A layer
// without a reference system cannot be placed relative to the others, so it
// fails the run or, under skip, contributes nothing. It returns the number of
// features skipped.
func (r *Runner) checkReferences(l *Layers) (int, error) {
	roles := []struct {
		role string
		acc  *layer.Accessor
	}{
		{"admin", l.Admin},
		{"biodiversity", l.Biodiversity},
		{"protected-area", l.ProtectedAreas},
	}
	skipped := 0
	for _, x := range roles {
		if _, ok := x.acc.NativeSRS(); ok {
			continue
		}
		if !r.params.skipMissing() {
			missing := &geometry.MissingReferenceError{Subject: "layer " + x.acc.Name(), Target: r.params.WorkingSRS}
			return 0, eris.Wrapf(missing, "overlap: %s layer %s", x.role, x.acc.Name())
		}
		r.log.Warn("layer has no spatial reference; its features are skipped",
			zap.String("role", x.role),
			zap.String("layer", x.acc.Name()),
			zap.Int("features", x.acc.Len()),
		)
		skipped += x.acc.Len()
	}
	return skipped, nil
}
