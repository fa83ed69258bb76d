package engine

import (
	"context"
	"math"

	"github.com/dhconnelly/rtreego"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/failure"
	"github.com/sells-group/drastic-cli/internal/raster"
	"github.com/sells-group/drastic-cli/internal/vector"
)

// R-tree fan-out used for every spatial index in this package.
const (
	treeMinChildren = 25
	treeMaxChildren = 50
)

type obsItem struct {
	vector.Observation
}

func (o obsItem) Bounds() rtreego.Rect {
	return rtreego.Point{o.X, o.Y}.ToRect(0)
}

// Interpolate computes an inverse-distance-weighted surface at every cell
// centre. A cell centre that coincides with observations takes their mean.
func (n *Native) Interpolate(ctx context.Context, req InterpolateRequest) (*raster.Grid, error) {
	if len(req.Points) == 0 {
		return nil, failure.Newf(failure.Interpolation, "engine: no observations to interpolate")
	}
	if !req.Spec.Valid() {
		return nil, failure.Newf(failure.Interpolation, "engine: degenerate interpolation grid %+v", req.Spec)
	}
	power := req.Power
	if power <= 0 {
		power = DefaultPower
	}

	var tree *rtreego.Rtree
	if req.MaxPoints > 0 && req.MaxPoints < len(req.Points) {
		items := make([]rtreego.Spatial, len(req.Points))
		for i, p := range req.Points {
			items[i] = obsItem{p}
		}
		tree = rtreego.NewTree(2, treeMinChildren, treeMaxChildren, items...)
	}

	out := raster.New(req.Spec)
	var buf []vector.Observation
	neighbours := req.Points
	for row := 0; row < out.Height; row++ {
		if err := cancelled(ctx); err != nil {
			return nil, err
		}
		for col := 0; col < out.Width; col++ {
			x, y := out.CellCenter(col, row)
			if tree != nil {
				buf = nearest(tree, req.MaxPoints, x, y, buf[:0])
				neighbours = buf
			}
			out.Set(col, row, idw(neighbours, x, y, power))
		}
	}

	n.log.Debug("interpolated surface",
		zap.Int("points", len(req.Points)),
		zap.Int("width", out.Width),
		zap.Int("height", out.Height),
		zap.Float64("power", power),
	)
	if err := persist(req.Output, out, failure.Interpolation); err != nil {
		return nil, err
	}
	return out, nil
}

func nearest(tree *rtreego.Rtree, k int, x, y float64, buf []vector.Observation) []vector.Observation {
	for _, s := range tree.NearestNeighbors(k, rtreego.Point{x, y}) {
		if it, ok := s.(obsItem); ok {
			buf = append(buf, it.Observation)
		}
	}
	return buf
}

func idw(points []vector.Observation, x, y, power float64) float64 {
	var num, den, exact float64
	var hits int
	for _, p := range points {
		dx, dy := p.X-x, p.Y-y
		d2 := dx*dx + dy*dy
		if d2 == 0 {
			exact += p.Value
			hits++
			continue
		}
		w := 1 / math.Pow(d2, power/2)
		num += w * p.Value
		den += w
	}
	if hits > 0 {
		return exact / float64(hits)
	}
	if den == 0 {
		return math.NaN()
	}
	return num / den
}
