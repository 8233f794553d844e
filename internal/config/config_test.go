package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no overlap.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "iso3", cfg.Datasets.Admin.Field)
	assert.Equal(t, "IUCN_CAT", cfg.Datasets.ProtectedAreas.Field)
	assert.Equal(t, "data/LANDSCAPES_JAGUAR_REGIONAL.shp", cfg.Datasets.Biodiversity.Path)
	assert.Equal(t, "EPSG:3857", cfg.Overlap.WorkingSRS)
	assert.InDelta(t, 0.001, cfg.Overlap.Tolerance, 1e-12)
	assert.Equal(t, "rtree", cfg.Overlap.Index)
	assert.Equal(t, 1, cfg.Overlap.Workers)
	assert.Equal(t, MissingSRSFail, cfg.Overlap.MissingSRS)
	assert.Equal(t, NullCategoryReport, cfg.Overlap.NullCategory)
	assert.Equal(t, "UNCLASSIFIED", cfg.Overlap.NullLabel)
	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, int32(4), cfg.Store.MaxConns)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
datasets:
  admin:
    path: admin.shp
    field: GID_0
  protected_areas:
    driver: postgis
    layer: wdpa.polygons
overlap:
  working_srs: EPSG:6933
  workers: 4
  regions: [BRA, PER]
  admin_filter:
    status: active
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "overlap.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "admin.shp", cfg.Datasets.Admin.Path)
	assert.Equal(t, "GID_0", cfg.Datasets.Admin.Field)
	assert.Equal(t, "postgis", cfg.Datasets.ProtectedAreas.Driver)
	assert.Equal(t, "wdpa.polygons", cfg.Datasets.ProtectedAreas.Layer)
	assert.Equal(t, "EPSG:6933", cfg.Overlap.WorkingSRS)
	assert.Equal(t, 4, cfg.Overlap.Workers)
	assert.Equal(t, []string{"BRA", "PER"}, cfg.Overlap.Regions)
	assert.Equal(t, map[string]string{"status": "active"}, cfg.Overlap.AdminFilter)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, "IUCN_CAT", cfg.Datasets.ProtectedAreas.Field)
	assert.InDelta(t, 0.001, cfg.Overlap.Tolerance, 1e-12)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
overlap:
  missing_srs: fail
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "overlap.yaml"), []byte(yaml), 0644))

	t.Setenv("OVERLAP_OVERLAP_MISSING_SRS", "skip")
	t.Setenv("OVERLAP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, MissingSRSSkip, cfg.Overlap.MissingSRS)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("OVERLAP_OVERLAP_SIMPLIFY_TOLERANCE", "0.5")
	t.Setenv("OVERLAP_OUTPUT_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, cfg.Overlap.Tolerance, 1e-12)
	assert.Equal(t, "json", cfg.Output.Format)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "overlap.yaml"), []byte("overlap: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Datasets.Admin = DatasetConfig{Path: "admin.gpkg", Field: "iso3"}
	cfg.Datasets.Biodiversity = DatasetConfig{Path: "bio.shp"}
	cfg.Datasets.ProtectedAreas = DatasetConfig{Path: "pa.gpkg", Field: "IUCN_CAT"}
	cfg.Overlap.WorkingSRS = "EPSG:3857"
	cfg.Overlap.Tolerance = 0.001
	cfg.Overlap.Workers = 1
	cfg.Overlap.MissingSRS = MissingSRSFail
	cfg.Overlap.NullCategory = NullCategoryReport
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())
}

func TestValidate_WorkingSRSMustBeMetric(t *testing.T) {
	cfg := validDefaults()
	cfg.Overlap.WorkingSRS = "EPSG:4326"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "overlap.working_srs")

	cfg.Overlap.WorkingSRS = "EPSG:6933"
	assert.NoError(t, cfg.Validate())

	cfg.Overlap.WorkingSRS = "EPSG:32633"
	assert.NoError(t, cfg.Validate())

	// New York Long Island, US survey feet.
	cfg.Overlap.WorkingSRS = "EPSG:2263"
	assert.Error(t, cfg.Validate())

	cfg.Overlap.WorkingSRS = "+proj=nonsense"
	assert.Error(t, cfg.Validate())
}

func TestValidate_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Overlap.Tolerance = -1
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "simplify_tolerance")

	cfg = validDefaults()
	cfg.Overlap.Workers = 0
	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "overlap.workers")
}

func TestValidate_Policies(t *testing.T) {
	cfg := validDefaults()
	cfg.Overlap.MissingSRS = "ignore"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing_srs")

	cfg = validDefaults()
	cfg.Overlap.NullCategory = "hide"
	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "null_category")
}

func TestValidate_Datasets(t *testing.T) {
	cfg := validDefaults()
	cfg.Datasets.Biodiversity = DatasetConfig{}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "datasets.biodiversity")

	cfg = validDefaults()
	cfg.Datasets.Admin.SRS = "EPSG:nope"
	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "datasets.admin.srs")

	cfg = validDefaults()
	cfg.Datasets.ProtectedAreas.Field = ""
	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "protected_areas.field")
}
