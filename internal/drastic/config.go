package drastic

import (
	"path/filepath"
	"strings"

	"github.com/sells-group/drastic-cli/internal/failure"
	"github.com/sells-group/drastic-cli/internal/model"
	"github.com/sells-group/drastic-cli/internal/overlay"
	"github.com/sells-group/drastic-cli/internal/raster"
)

// Defaults for the numeric parameters of a run.
const (
	DefaultCellSize      = 25.0
	DefaultEPSG          = 3763
	DefaultZFactor       = 1.0
	DefaultHistogramBins = 10
	DefaultLayerName     = "drastic"

	DefaultAquiferField = "OUT"
	DefaultSoilField    = "OUT_S"
	DefaultImpactField  = "OUT_I"
)

// Config carries every input of a run. Nothing is read from globals.
type Config struct {
	// Depth: water-well points and their depth attribute.
	Points          string
	PointsAttribute string

	// Aquifer media: geology polygons, category attribute, lookup table.
	Geology          string
	GeologyAttribute string
	GeologyLookup    string

	// Soil media and impact of the vadose zone both come from the soil
	// layer, each with its own attribute and lookup table.
	Soil            string
	SoilAttribute   string
	SoilLookup      string
	ImpactAttribute string
	ImpactLookup    string

	// Recharge and topography rasters.
	Precipitation string
	Elevation     string

	Extent   raster.Extent
	EPSG     int
	CellSize float64

	// OutputDir receives every intermediate raster; Destination receives
	// a copy of the final index.
	OutputDir   string
	Destination string

	Weights      overlay.Weights
	IDWPower     float64
	IDWMaxPoints int
	ZFactor      float64
	// NoData fills rasterized cells that no feature covers.
	NoData float64

	AquiferField string
	SoilField    string
	ImpactField  string
	// RequireCompleteMapping fails a run when a lookup table misses a
	// category present in its layer.
	RequireCompleteMapping bool

	HistogramBins int
	LayerName     string
}

// WithDefaults fills zero-valued parameters.
func (c Config) WithDefaults() Config {
	if c.CellSize <= 0 {
		c.CellSize = DefaultCellSize
	}
	if c.EPSG == 0 {
		c.EPSG = DefaultEPSG
	}
	if c.Weights == (overlay.Weights{}) {
		c.Weights = overlay.DefaultWeights()
	}
	if c.ZFactor <= 0 {
		c.ZFactor = DefaultZFactor
	}
	if c.AquiferField == "" {
		c.AquiferField = DefaultAquiferField
	}
	if c.SoilField == "" {
		c.SoilField = DefaultSoilField
	}
	if c.ImpactField == "" {
		c.ImpactField = DefaultImpactField
	}
	if c.HistogramBins <= 0 {
		c.HistogramBins = DefaultHistogramBins
	}
	if c.LayerName == "" {
		c.LayerName = DefaultLayerName
	}
	if c.OutputDir != "" {
		c.OutputDir = filepath.Clean(c.OutputDir)
	}
	return c
}

// Validate reports the first missing or inconsistent input as an
// InputValidation error.
func (c Config) Validate() error {
	required := []struct{ name, value string }{
		{"points layer", c.Points},
		{"points attribute", c.PointsAttribute},
		{"geology layer", c.Geology},
		{"geology attribute", c.GeologyAttribute},
		{"geology lookup", c.GeologyLookup},
		{"soil layer", c.Soil},
		{"soil attribute", c.SoilAttribute},
		{"soil lookup", c.SoilLookup},
		{"impact attribute", c.ImpactAttribute},
		{"impact lookup", c.ImpactLookup},
		{"precipitation raster", c.Precipitation},
		{"elevation raster", c.Elevation},
		{"output folder", c.OutputDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return failure.Newf(failure.InputValidation, "drastic: %s is required", r.name)
		}
	}
	if c.Extent.Degenerate() {
		return failure.Newf(failure.InputValidation, "drastic: extent %+v is degenerate", c.Extent)
	}
	if !(c.CellSize > 0) {
		return failure.Newf(failure.InputValidation, "drastic: cell size must be positive, got %g", c.CellSize)
	}
	if strings.EqualFold(c.SoilField, c.ImpactField) {
		return failure.Newf(failure.InputValidation,
			"drastic: soil and impact output fields must differ, both are %q", c.SoilField)
	}
	return nil
}

// Inputs snapshots the configuration for the run record.
func (c Config) Inputs() model.RunInputs {
	weights := make(map[string]float64, len(overlay.Factors)+1)
	for _, f := range overlay.Factors {
		weights[string(f)] = c.Weights.Of(f)
	}
	weights["constant"] = c.Weights.Constant
	return model.RunInputs{
		Sources: map[string]string{
			"points":        c.Points,
			"geology":       c.Geology,
			"geology_table": c.GeologyLookup,
			"soil":          c.Soil,
			"soil_table":    c.SoilLookup,
			"impact_table":  c.ImpactLookup,
			"precipitation": c.Precipitation,
			"elevation":     c.Elevation,
		},
		Extent:      formatExtent(c.Extent, c.EPSG),
		CellSize:    c.CellSize,
		EPSG:        c.EPSG,
		OutputDir:   c.OutputDir,
		Destination: c.Destination,
		Weights:     weights,
	}
}
