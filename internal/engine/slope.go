package engine

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/failure"
	"github.com/sells-group/drastic-cli/internal/raster"
)

// Slope derives slope in degrees with Horn's 3x3 finite differences.
// Neighbours outside the grid replicate the edge cell; no-data neighbours
// take the centre value and no-data centres stay no-data.
func (n *Native) Slope(ctx context.Context, req SlopeRequest) (*raster.Grid, error) {
	dem := req.Elevation
	if dem == nil {
		return nil, failure.Newf(failure.Slope, "engine: no elevation model")
	}
	if err := dem.Validate(); err != nil {
		return nil, failure.New(failure.Slope, err)
	}
	zf := req.ZFactor
	if zf <= 0 {
		zf = 1
	}

	out := raster.New(dem.Spec())
	nodata := math.NaN()
	if dem.HasNoData {
		nodata = dem.NoData
		out.SetNoData(dem.NoData)
	}

	at := func(col, row int, centre float64) float64 {
		col = clamp(col, 0, dem.Width-1)
		row = clamp(row, 0, dem.Height-1)
		v := dem.At(col, row)
		if dem.IsNoData(v) {
			return centre
		}
		return v
	}

	scale := 8 * dem.CellSize
	for row := 0; row < dem.Height; row++ {
		if err := cancelled(ctx); err != nil {
			return nil, err
		}
		for col := 0; col < dem.Width; col++ {
			e := dem.At(col, row)
			if dem.IsNoData(e) {
				out.Set(col, row, nodata)
				continue
			}
			a, b, c := at(col-1, row-1, e), at(col, row-1, e), at(col+1, row-1, e)
			d, f := at(col-1, row, e), at(col+1, row, e)
			g, h, i := at(col-1, row+1, e), at(col, row+1, e), at(col+1, row+1, e)

			dzdx := ((c + 2*f + i) - (a + 2*d + g)) / scale
			dzdy := ((g + 2*h + i) - (a + 2*b + c)) / scale
			rise := zf * math.Hypot(dzdx, dzdy)
			out.Set(col, row, math.Atan(rise)*180/math.Pi)
		}
	}

	n.log.Debug("derived slope",
		zap.Int("width", out.Width),
		zap.Int("height", out.Height),
		zap.Float64("z_factor", zf),
	)
	if err := persist(req.Output, out, failure.Slope); err != nil {
		return nil, err
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
