// Package engine defines the geoprocessing services the DRASTIC pipeline
// depends on (interpolation, rasterization, slope) and ships native
// implementations of them.
package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/failure"
	"github.com/sells-group/drastic-cli/internal/raster"
	"github.com/sells-group/drastic-cli/internal/vector"
)

// DefaultPower is the IDW distance coefficient.
const DefaultPower = 2.0

// InterpolateRequest asks for an IDW surface over Spec.
type InterpolateRequest struct {
	Points []vector.Observation
	Spec   raster.GridSpec
	// Power is the distance exponent; <= 0 means DefaultPower.
	Power float64
	// MaxPoints limits each cell to its nearest N points; 0 uses all.
	MaxPoints int
	// Output, when set, is where the grid is written.
	Output string
}

// Interpolator builds a continuous surface from scattered observations.
type Interpolator interface {
	Interpolate(ctx context.Context, req InterpolateRequest) (*raster.Grid, error)
}

// RasterizeRequest asks for Attribute of Layer burned onto Spec.
type RasterizeRequest struct {
	Layer     *vector.Layer
	Attribute string
	Spec      raster.GridSpec
	// NoData fills cells no feature covers.
	NoData float64
	Output string
}

// Rasterizer burns vector attribute values onto a grid.
type Rasterizer interface {
	Rasterize(ctx context.Context, req RasterizeRequest) (*raster.Grid, error)
}

// SlopeRequest asks for the slope of Elevation in degrees.
type SlopeRequest struct {
	Elevation *raster.Grid
	// ZFactor scales elevation units to ground units; <= 0 means 1.
	ZFactor float64
	Output  string
}

// SlopeDeriver derives terrain slope from an elevation model.
type SlopeDeriver interface {
	Slope(ctx context.Context, req SlopeRequest) (*raster.Grid, error)
}

// Native implements every engine service in-process.
type Native struct {
	log *zap.Logger
}

var (
	_ Interpolator = (*Native)(nil)
	_ Rasterizer   = (*Native)(nil)
	_ SlopeDeriver = (*Native)(nil)
)

// NewNative returns the in-process engine.
func NewNative() *Native {
	return &Native{log: zap.L().With(zap.String("component", "engine"))}
}

// persist writes g to path when path is set, classifying failures as kind.
func persist(path string, g *raster.Grid, kind failure.Kind) error {
	if path == "" {
		return nil
	}
	if err := raster.Write(path, g); err != nil {
		return failure.New(kind, eris.Wrapf(err, "engine: write %s", path))
	}
	return nil
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return failure.New(failure.Cancelled, err)
	}
	return nil
}
