package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/overlap-cli/internal/config"
	"github.com/sells-group/overlap-cli/internal/db"
	"github.com/sells-group/overlap-cli/internal/layer"
	"github.com/sells-group/overlap-cli/internal/overlap"
	"github.com/sells-group/overlap-cli/internal/source"
)

// namedDataset pairs a configured dataset with its role in the run.
type namedDataset struct {
	Role    string
	Dataset config.DatasetConfig
}

func datasets(c *config.Config) []namedDataset {
	return []namedDataset{
		{Role: "admin", Dataset: c.Datasets.Admin},
		{Role: "biodiversity", Dataset: c.Datasets.Biodiversity},
		{Role: "protected_areas", Dataset: c.Datasets.ProtectedAreas},
	}
}

// datasetByRole resolves the --dataset flag of the inspection commands.
func datasetByRole(c *config.Config, role string) (config.DatasetConfig, error) {
	for _, d := range datasets(c) {
		if d.Role == role {
			return d.Dataset, nil
		}
	}
	return config.DatasetConfig{}, eris.Errorf("unknown dataset %q (admin, biodiversity, protected_areas)", role)
}

func needsPostGIS(c *config.Config) bool {
	for _, d := range datasets(c) {
		if drv, err := source.DriverFor(d.Dataset); err == nil && drv == source.DriverPostGIS {
			return true
		}
	}
	return false
}

// initPool connects to PostgreSQL when a dataset is read from PostGIS. It
// returns a nil pool otherwise.
func initPool(ctx context.Context) (*pgxpool.Pool, error) {
	if !needsPostGIS(cfg) {
		return nil, nil
	}
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is required for postgis datasets (OVERLAP_STORE_DATABASE_URL)")
	}
	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	if err != nil {
		return nil, eris.Wrap(err, "connect to postgis")
	}
	return pool, nil
}

func newOpener(pool *pgxpool.Pool) source.Opener {
	// A nil *pgxpool.Pool must not become a non-nil db.Pool.
	if pool == nil {
		return source.Opener{}
	}
	return source.Opener{Pool: pool}
}

// loadDataset opens ds and loads it into an accessor.
func loadDataset(ctx context.Context, opener source.Opener, ds config.DatasetConfig) (*layer.Accessor, error) {
	src, err := opener.Open(ctx, ds)
	if err != nil {
		return nil, err
	}
	acc, err := layer.Load(ctx, src, layer.Options{Index: cfg.Overlap.Index})
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return acc, nil
}

// layerOpener opens the three datasets; the runner calls it once per worker.
func layerOpener(opener source.Opener) overlap.Opener {
	return func(ctx context.Context) (*overlap.Layers, error) {
		l := &overlap.Layers{}
		for _, d := range datasets(cfg) {
			acc, err := loadDataset(ctx, opener, d.Dataset)
			if err != nil {
				_ = l.Close()
				return nil, eris.Wrapf(err, "open %s dataset", d.Role)
			}
			zap.L().Debug("dataset loaded",
				zap.String("role", d.Role),
				zap.String("name", acc.Name()),
				zap.Int("features", acc.Len()),
			)
			switch d.Role {
			case "admin":
				l.Admin = acc
			case "biodiversity":
				l.Biodiversity = acc
			case "protected_areas":
				l.ProtectedAreas = acc
			}
		}
		return l, nil
	}
}
