package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Drastic DrasticConfig `yaml:"drastic" mapstructure:"drastic"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Publish PublishConfig `yaml:"publish" mapstructure:"publish"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DrasticConfig holds the inputs and parameters of a run.
type DrasticConfig struct {
	Points           string `yaml:"points" mapstructure:"points"`
	PointsAttribute  string `yaml:"points_attribute" mapstructure:"points_attribute"`
	Geology          string `yaml:"geology" mapstructure:"geology"`
	GeologyAttribute string `yaml:"geology_attribute" mapstructure:"geology_attribute"`
	GeologyLookup    string `yaml:"geology_lookup" mapstructure:"geology_lookup"`
	Soil             string `yaml:"soil" mapstructure:"soil"`
	SoilAttribute    string `yaml:"soil_attribute" mapstructure:"soil_attribute"`
	SoilLookup       string `yaml:"soil_lookup" mapstructure:"soil_lookup"`
	ImpactAttribute  string `yaml:"impact_attribute" mapstructure:"impact_attribute"`
	ImpactLookup     string `yaml:"impact_lookup" mapstructure:"impact_lookup"`
	Precipitation    string `yaml:"precipitation" mapstructure:"precipitation"`
	Elevation        string `yaml:"elevation" mapstructure:"elevation"`

	// Extent is "xmin,ymin,xmax,ymax", optionally suffixed "[EPSG:n]".
	Extent      string  `yaml:"extent" mapstructure:"extent"`
	EPSG        int     `yaml:"epsg" mapstructure:"epsg"`
	CellSize    float64 `yaml:"cell_size" mapstructure:"cell_size"`
	OutputDir   string  `yaml:"output_dir" mapstructure:"output_dir"`
	Destination string  `yaml:"destination" mapstructure:"destination"`

	Weights      WeightsConfig `yaml:"weights" mapstructure:"weights"`
	IDWPower     float64       `yaml:"idw_power" mapstructure:"idw_power"`
	IDWMaxPoints int           `yaml:"idw_max_points" mapstructure:"idw_max_points"`
	ZFactor      float64       `yaml:"z_factor" mapstructure:"z_factor"`
	NoData       float64       `yaml:"nodata" mapstructure:"nodata"`

	AquiferField           string `yaml:"aquifer_field" mapstructure:"aquifer_field"`
	SoilField              string `yaml:"soil_field" mapstructure:"soil_field"`
	ImpactField            string `yaml:"impact_field" mapstructure:"impact_field"`
	RequireCompleteMapping bool   `yaml:"require_complete_mapping" mapstructure:"require_complete_mapping"`

	HistogramBins int    `yaml:"histogram_bins" mapstructure:"histogram_bins"`
	LayerName     string `yaml:"layer_name" mapstructure:"layer_name"`
}

// WeightsConfig holds the overlay multipliers.
type WeightsConfig struct {
	D        float64 `yaml:"d" mapstructure:"d"`
	R        float64 `yaml:"r" mapstructure:"r"`
	A        float64 `yaml:"a" mapstructure:"a"`
	S        float64 `yaml:"s" mapstructure:"s"`
	T        float64 `yaml:"t" mapstructure:"t"`
	I        float64 `yaml:"i" mapstructure:"i"`
	Constant float64 `yaml:"constant" mapstructure:"constant"`
}

// FetchConfig configures remote input staging.
type FetchConfig struct {
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Attempts       int     `yaml:"attempts" mapstructure:"attempts"`
	RatePerHost    float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	BackoffMillis  int     `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	FTPTimeoutSecs int     `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
}

// Timeout returns the HTTP timeout.
func (f FetchConfig) Timeout() time.Duration { return time.Duration(f.TimeoutSecs) * time.Second }

// Backoff returns the first retry delay.
func (f FetchConfig) Backoff() time.Duration { return time.Duration(f.BackoffMillis) * time.Millisecond }

// FTPTimeout returns the FTP dial and transfer timeout.
func (f FetchConfig) FTPTimeout() time.Duration {
	return time.Duration(f.FTPTimeoutSecs) * time.Second
}

// PublishConfig configures PostGIS publishing.
type PublishConfig struct {
	// DatabaseURL falls back to store.database_url when the store is
	// postgres.
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Migrate     bool   `yaml:"migrate" mapstructure:"migrate"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	CORSOrigins    []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	StatsCacheSize int      `yaml:"stats_cache_size" mapstructure:"stats_cache_size"`
	TileCacheSize  int      `yaml:"tile_cache_size" mapstructure:"tile_cache_size"`
	TileTTLSecs    int      `yaml:"tile_ttl_secs" mapstructure:"tile_ttl_secs"`
	Tiles          bool     `yaml:"tiles" mapstructure:"tiles"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DRASTIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "drastic.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.stats_cache_size", 128)
	v.SetDefault("server.tile_cache_size", 1024)
	v.SetDefault("server.tile_ttl_secs", 3600)
	v.SetDefault("fetch.user_agent", "drastic-cli")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.attempts", 3)
	v.SetDefault("fetch.rate_per_host", 5.0)
	v.SetDefault("fetch.backoff_ms", 1000)
	v.SetDefault("fetch.ftp_timeout_secs", 60)
	v.SetDefault("publish.migrate", true)

	// Every key of the drastic section needs a default so that
	// DRASTIC_DRASTIC_* environment variables are picked up by Unmarshal.
	for _, key := range []string{
		"points", "points_attribute", "geology", "geology_attribute", "geology_lookup",
		"soil", "soil_attribute", "soil_lookup", "impact_attribute", "impact_lookup",
		"precipitation", "elevation", "extent", "output_dir", "destination",
	} {
		v.SetDefault("drastic."+key, "")
	}
	v.SetDefault("drastic.epsg", 3763)
	v.SetDefault("drastic.cell_size", 25.0)
	v.SetDefault("drastic.idw_power", 2.0)
	v.SetDefault("drastic.idw_max_points", 0)
	v.SetDefault("drastic.z_factor", 1.0)
	v.SetDefault("drastic.nodata", 0.0)
	v.SetDefault("drastic.weights.d", 5.0)
	v.SetDefault("drastic.weights.r", 4.0)
	v.SetDefault("drastic.weights.a", 3.0)
	v.SetDefault("drastic.weights.s", 2.0)
	v.SetDefault("drastic.weights.t", 1.0)
	v.SetDefault("drastic.weights.i", 5.0)
	v.SetDefault("drastic.weights.constant", 1.0)
	v.SetDefault("drastic.aquifer_field", "OUT")
	v.SetDefault("drastic.soil_field", "OUT_S")
	v.SetDefault("drastic.impact_field", "OUT_I")
	v.SetDefault("drastic.require_complete_mapping", false)
	v.SetDefault("drastic.histogram_bins", 10)
	v.SetDefault("drastic.layer_name", "drastic")
}

// Validate checks the fields a command mode needs. Modes are "store",
// "run", "publish" and "serve".
func (c *Config) Validate(mode string) error {
	var errs []string
	required := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, key+" is required")
		}
	}

	switch mode {
	case "store":
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			errs = append(errs, "store.driver must be sqlite or postgres")
		}
		required("store.database_url", c.Store.DatabaseURL)
	case "run":
		d := c.Drastic
		required("drastic.points", d.Points)
		required("drastic.points_attribute", d.PointsAttribute)
		required("drastic.geology", d.Geology)
		required("drastic.geology_attribute", d.GeologyAttribute)
		required("drastic.geology_lookup", d.GeologyLookup)
		required("drastic.soil", d.Soil)
		required("drastic.soil_attribute", d.SoilAttribute)
		required("drastic.soil_lookup", d.SoilLookup)
		required("drastic.impact_attribute", d.ImpactAttribute)
		required("drastic.impact_lookup", d.ImpactLookup)
		required("drastic.precipitation", d.Precipitation)
		required("drastic.elevation", d.Elevation)
		required("drastic.extent", d.Extent)
		required("drastic.output_dir", d.OutputDir)
		if d.CellSize <= 0 {
			errs = append(errs, "drastic.cell_size must be > 0")
		}
	case "publish":
		required("publish.database_url", c.PublishURL())
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PublishURL returns the PostGIS connection string.
func (c *Config) PublishURL() string {
	if c.Publish.DatabaseURL != "" {
		return c.Publish.DatabaseURL
	}
	if c.Store.Driver == "postgres" {
		return c.Store.DatabaseURL
	}
	return ""
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
