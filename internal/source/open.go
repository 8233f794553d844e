// Package source implements layer.Source for shapefiles, GeoPackages and
// PostGIS tables.
package source

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/overlap-cli/internal/config"
	"github.com/sells-group/overlap-cli/internal/db"
	"github.com/sells-group/overlap-cli/internal/geometry"
	"github.com/sells-group/overlap-cli/internal/layer"
)

// Driver names.
const (
	DriverShapefile  = "shapefile"
	DriverGeoPackage = "gpkg"
	DriverPostGIS    = "postgis"
)

// Opener opens configured datasets. Pool is only needed for PostGIS.
type Opener struct {
	Pool db.Pool
}

// DriverFor returns the configured driver or infers one from the path.
func DriverFor(ds config.DatasetConfig) (string, error) {
	switch d := strings.ToLower(ds.Driver); d {
	case DriverShapefile, "shp", "esri shapefile":
		return DriverShapefile, nil
	case DriverGeoPackage, "geopackage":
		return DriverGeoPackage, nil
	case DriverPostGIS, "postgres", "postgresql":
		return DriverPostGIS, nil
	case "":
	default:
		return "", eris.Errorf("source: unknown driver %q", ds.Driver)
	}
	switch strings.ToLower(filepath.Ext(ds.Path)) {
	case ".shp":
		return DriverShapefile, nil
	case ".gpkg":
		return DriverGeoPackage, nil
	}
	return "", eris.Errorf("source: cannot infer driver for %q", ds.Path)
}

// Open opens ds. A configured srs replaces whatever the dataset declares.
func (o Opener) Open(ctx context.Context, ds config.DatasetConfig) (layer.Source, error) {
	driver, err := DriverFor(ds)
	if err != nil {
		return nil, err
	}

	var src layer.Source
	switch driver {
	case DriverShapefile:
		src, err = OpenShapefile(ds.Path)
	case DriverGeoPackage:
		src, err = OpenGeoPackage(ctx, ds.Path, ds.Layer)
	case DriverPostGIS:
		if o.Pool == nil {
			return nil, eris.New("source: postgis dataset requires store.database_url")
		}
		table := ds.Layer
		if table == "" {
			table = ds.Path
		}
		src, err = OpenPostGIS(ctx, o.Pool, table, ds.GeometryColumn)
	}
	if err != nil {
		return nil, err
	}

	if ds.SRS == "" {
		if e, ok := src.(interface{ SRSError() error }); ok && e.SRSError() != nil {
			_ = src.Close()
			return nil, eris.Wrap(e.SRSError(), "source: set an srs override for this dataset")
		}
	} else {
		s, err := geometry.ParseSRS(ds.SRS)
		if err != nil {
			_ = src.Close()
			return nil, eris.Wrapf(err, "source: srs override for %s", src.Name())
		}
		src = &overrideSRS{Source: src, srs: s}
	}
	return src, nil
}

// overrideSRS replaces the reference system reported by a source.
type overrideSRS struct {
	layer.Source
	srs geometry.SRS
}

func (o *overrideSRS) SRS() (geometry.SRS, bool) { return o.srs, true }
