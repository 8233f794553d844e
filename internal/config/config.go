package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/overlap-cli/internal/geometry"
)

// Config holds the full application configuration.
type Config struct {
	Datasets DatasetsConfig `yaml:"datasets" mapstructure:"datasets"`
	Overlap  OverlapConfig  `yaml:"overlap" mapstructure:"overlap"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DatasetsConfig names the three input datasets.
type DatasetsConfig struct {
	Admin          DatasetConfig `yaml:"admin" mapstructure:"admin"`
	Biodiversity   DatasetConfig `yaml:"biodiversity" mapstructure:"biodiversity"`
	ProtectedAreas DatasetConfig `yaml:"protected_areas" mapstructure:"protected_areas"`
}

// DatasetConfig locates one vector dataset.
type DatasetConfig struct {
	// Driver is shapefile, gpkg or postgis; empty selects by file extension.
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
	// Layer is the GeoPackage table or PostGIS [schema.]table.
	Layer          string `yaml:"layer" mapstructure:"layer"`
	GeometryColumn string `yaml:"geometry_column" mapstructure:"geometry_column"`
	// Field is the region code (admin) or category (protected areas) field.
	Field string `yaml:"field" mapstructure:"field"`
	// SRS overrides the reference system declared by the dataset.
	SRS string `yaml:"srs" mapstructure:"srs"`
}

// OverlapConfig configures the overlap computation.
type OverlapConfig struct {
	WorkingSRS string  `yaml:"working_srs" mapstructure:"working_srs"`
	Tolerance  float64 `yaml:"simplify_tolerance" mapstructure:"simplify_tolerance"`
	Index      string  `yaml:"index" mapstructure:"index"`
	Workers    int     `yaml:"workers" mapstructure:"workers"`
	// Regions restricts the run to these region codes; empty means all.
	Regions      []string `yaml:"regions" mapstructure:"regions"`
	MissingSRS   string   `yaml:"missing_srs" mapstructure:"missing_srs"`
	NullCategory string   `yaml:"null_category" mapstructure:"null_category"`
	NullLabel    string   `yaml:"null_label" mapstructure:"null_label"`
	// AdminFilter adds attribute equality conditions to every region query.
	AdminFilter map[string]string `yaml:"admin_filter" mapstructure:"admin_filter"`
}

// StoreConfig configures the PostGIS connection used by postgis datasets.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// OutputConfig configures the report.
type OutputConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Policy values.
const (
	MissingSRSFail = "fail"
	MissingSRSSkip = "skip"

	NullCategoryReport = "report"
	NullCategoryDrop   = "drop"
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("overlap")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OVERLAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("datasets.admin.path", "data/countries_iso3.gpkg")
	v.SetDefault("datasets.admin.field", "iso3")
	v.SetDefault("datasets.biodiversity.path", "data/LANDSCAPES_JAGUAR_REGIONAL.shp")
	v.SetDefault("datasets.protected_areas.path", "data/wdpa.gpkg")
	v.SetDefault("datasets.protected_areas.field", "IUCN_CAT")
	v.SetDefault("overlap.working_srs", "EPSG:3857")
	v.SetDefault("overlap.simplify_tolerance", 0.001)
	v.SetDefault("overlap.index", "rtree")
	v.SetDefault("overlap.workers", 1)
	v.SetDefault("overlap.missing_srs", MissingSRSFail)
	v.SetDefault("overlap.null_category", NullCategoryReport)
	v.SetDefault("overlap.null_label", "UNCLASSIFIED")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("output.format", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings the overlap run depends on.
func (c *Config) Validate() error {
	s, err := geometry.ParseSRS(c.Overlap.WorkingSRS)
	if err != nil {
		return eris.Wrap(err, "config: overlap.working_srs")
	}
	if err := geometry.RequireMetric(s); err != nil {
		return eris.Wrap(err, "config: overlap.working_srs")
	}
	if c.Overlap.Tolerance < 0 {
		return eris.Errorf("config: overlap.simplify_tolerance must not be negative, got %g", c.Overlap.Tolerance)
	}
	if c.Overlap.Workers < 1 {
		return eris.Errorf("config: overlap.workers must be at least 1, got %d", c.Overlap.Workers)
	}
	switch c.Overlap.MissingSRS {
	case MissingSRSFail, MissingSRSSkip:
	default:
		return eris.Errorf("config: overlap.missing_srs must be %q or %q, got %q", MissingSRSFail, MissingSRSSkip, c.Overlap.MissingSRS)
	}
	switch c.Overlap.NullCategory {
	case NullCategoryReport, NullCategoryDrop:
	default:
		return eris.Errorf("config: overlap.null_category must be %q or %q, got %q", NullCategoryReport, NullCategoryDrop, c.Overlap.NullCategory)
	}

	for name, ds := range map[string]DatasetConfig{
		"admin":           c.Datasets.Admin,
		"biodiversity":    c.Datasets.Biodiversity,
		"protected_areas": c.Datasets.ProtectedAreas,
	} {
		if ds.Path == "" && ds.Layer == "" {
			return eris.Errorf("config: datasets.%s needs a path or layer", name)
		}
		if ds.SRS != "" {
			if _, err := geometry.ParseSRS(ds.SRS); err != nil {
				return eris.Wrapf(err, "config: datasets.%s.srs", name)
			}
		}
	}
	if c.Datasets.Admin.Field == "" {
		return eris.New("config: datasets.admin.field is required")
	}
	if c.Datasets.ProtectedAreas.Field == "" {
		return eris.New("config: datasets.protected_areas.field is required")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
