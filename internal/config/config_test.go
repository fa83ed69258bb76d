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
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "drastic.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 3763, cfg.Drastic.EPSG)
	assert.InDelta(t, 25.0, cfg.Drastic.CellSize, 1e-9)
	assert.InDelta(t, 2.0, cfg.Drastic.IDWPower, 1e-9)
	assert.InDelta(t, 1.0, cfg.Drastic.ZFactor, 1e-9)
	assert.Equal(t, WeightsConfig{D: 5, R: 4, A: 3, S: 2, T: 1, I: 5, Constant: 1}, cfg.Drastic.Weights)
	assert.Equal(t, "OUT", cfg.Drastic.AquiferField)
	assert.Equal(t, "OUT_S", cfg.Drastic.SoilField)
	assert.Equal(t, "OUT_I", cfg.Drastic.ImpactField)
	assert.Equal(t, 3, cfg.Fetch.Attempts)
	assert.Equal(t, "2m0s", cfg.Fetch.Timeout().String())
	assert.True(t, cfg.Publish.Migrate)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/drastic
log:
  level: debug
  format: console
drastic:
  points: wells.shp
  points_attribute: PROF
  extent: "0,0,1000,1000 [EPSG:3763]"
  cell_size: 10
  weights:
    i: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "wells.shp", cfg.Drastic.Points)
	assert.Equal(t, "PROF", cfg.Drastic.PointsAttribute)
	assert.InDelta(t, 10.0, cfg.Drastic.CellSize, 1e-9)
	assert.InDelta(t, 4.0, cfg.Drastic.Weights.I, 1e-9)
	// Defaults still apply for unset values
	assert.InDelta(t, 5.0, cfg.Drastic.Weights.D, 1e-9)
	assert.Equal(t, "postgres://localhost/drastic", cfg.PublishURL())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("DRASTIC_STORE_DRIVER", "postgres")
	t.Setenv("DRASTIC_LOG_LEVEL", "warn")
	t.Setenv("DRASTIC_DRASTIC_OUTPUT_DIR", "/data/out")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/data/out", cfg.Drastic.OutputDir)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DRASTIC_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
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

func completeRun() *Config {
	cfg := &Config{}
	cfg.Drastic = DrasticConfig{
		Points: "wells.shp", PointsAttribute: "PROF",
		Geology: "geo.shp", GeologyAttribute: "LITO", GeologyLookup: "geo.csv",
		Soil: "soil.shp", SoilAttribute: "SOLO", SoilLookup: "soil.csv",
		ImpactAttribute: "IMP", ImpactLookup: "imp.csv",
		Precipitation: "precip.tif", Elevation: "dem.tif",
		Extent: "0,0,100,100", OutputDir: "out", CellSize: 25,
	}
	return cfg
}

func TestValidateRun(t *testing.T) {
	cfg := completeRun()
	assert.NoError(t, cfg.Validate("run"))

	cfg.Drastic.Soil = ""
	cfg.Drastic.Extent = " "
	cfg.Drastic.CellSize = 0
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drastic.soil is required")
	assert.Contains(t, err.Error(), "drastic.extent is required")
	assert.Contains(t, err.Error(), "drastic.cell_size must be > 0")
}

func TestValidateStore(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "sqlite", DatabaseURL: "x.db"}}
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	err := cfg.Validate("store")
	assert.ErrorContains(t, err, "store.driver must be sqlite or postgres")
}

func TestValidatePublish(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "sqlite", DatabaseURL: "x.db"}}
	err := cfg.Validate("publish")
	assert.ErrorContains(t, err, "publish.database_url is required")

	cfg.Publish.DatabaseURL = "postgres://gis"
	assert.NoError(t, cfg.Validate("publish"))
	assert.Equal(t, "postgres://gis", cfg.PublishURL())
}

func TestValidateServe(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 9090}}
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	assert.ErrorContains(t, cfg.Validate("serve"), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	err := (&Config{}).Validate("unknown")
	assert.ErrorContains(t, err, "unknown mode")
}
