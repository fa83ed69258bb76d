package engine

import (
	"context"
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/failure"
	"github.com/sells-group/drastic-cli/internal/raster"
	"github.com/sells-group/drastic-cli/internal/vector"
)

type burnItem struct {
	order int
	value float64
	geom  geom.T
	rect  rtreego.Rect
}

func (b *burnItem) Bounds() rtreego.Rect { return b.rect }

// Rasterize burns the numeric Attribute of every feature onto Spec.
// Polygons cover the cells whose centre they contain (holes excluded),
// points their containing cell and lines every cell a segment crosses.
// Features burn in file order, so later features win. Null values are not
// burned.
func (n *Native) Rasterize(ctx context.Context, req RasterizeRequest) (*raster.Grid, error) {
	if req.Layer == nil {
		return nil, failure.Newf(failure.Rasterize, "engine: no layer to rasterize")
	}
	if !req.Spec.Valid() {
		return nil, failure.Newf(failure.Rasterize, "engine: degenerate rasterize grid %+v", req.Spec)
	}
	l := req.Layer
	field := l.FieldIndex(req.Attribute)
	if field < 0 {
		return nil, failure.Newf(failure.Rasterize, "engine: %s has no field %q", l.Path, req.Attribute)
	}

	var items []*burnItem
	for i, f := range l.Features {
		v, ok, err := l.Float(i, field)
		if err != nil {
			return nil, failure.New(failure.Rasterize, err)
		}
		if !ok || f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bounds()
		if b.IsEmpty() {
			continue
		}
		rect, err := rtreego.NewRectFromPoints(
			rtreego.Point{b.Min(0), b.Min(1)},
			rtreego.Point{b.Max(0), b.Max(1)},
		)
		if err != nil {
			return nil, failure.New(failure.Rasterize, err)
		}
		items = append(items, &burnItem{order: i, value: v, geom: f.Geometry, rect: rect})
	}

	out := raster.Filled(req.Spec, req.NoData)
	out.SetNoData(req.NoData)

	var polys []*burnItem
	for _, it := range items {
		switch g := it.geom.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
			polys = append(polys, it)
		case *geom.Point:
			burnPoint(out, g.X(), g.Y(), it.value)
		case *geom.MultiPoint:
			flat := g.FlatCoords()
			for j := 0; j+1 < len(flat); j += 2 {
				burnPoint(out, flat[j], flat[j+1], it.value)
			}
		case *geom.LineString:
			burnLine(out, g.FlatCoords(), it.value)
		case *geom.MultiLineString:
			for j := 0; j < g.NumLineStrings(); j++ {
				burnLine(out, g.LineString(j).FlatCoords(), it.value)
			}
		}
	}
	if len(polys) > 0 {
		if err := burnPolygons(ctx, out, polys); err != nil {
			return nil, err
		}
	}

	n.log.Debug("rasterized layer",
		zap.String("layer", l.Path),
		zap.String("attribute", req.Attribute),
		zap.Int("features", len(items)),
	)
	if err := persist(req.Output, out, failure.Rasterize); err != nil {
		return nil, err
	}
	return out, nil
}

// burnPolygons assigns each cell the value of the last polygon containing
// its centre, looking candidates up in an R-tree of feature bounds.
func burnPolygons(ctx context.Context, out *raster.Grid, polys []*burnItem) error {
	objs := make([]rtreego.Spatial, len(polys))
	for i, p := range polys {
		objs[i] = p
	}
	tree := rtreego.NewTree(2, treeMinChildren, treeMaxChildren, objs...)
	tol := out.CellSize * 1e-9

	for row := 0; row < out.Height; row++ {
		if err := cancelled(ctx); err != nil {
			return err
		}
		for col := 0; col < out.Width; col++ {
			x, y := out.CellCenter(col, row)
			best := -1
			var value float64
			for _, s := range tree.SearchIntersect(rtreego.Point{x, y}.ToRect(tol)) {
				it := s.(*burnItem)
				if it.order <= best || !vector.Contains(it.geom, x, y) {
					continue
				}
				best, value = it.order, it.value
			}
			if best >= 0 {
				out.Set(col, row, value)
			}
		}
	}
	return nil
}

func burnPoint(out *raster.Grid, x, y, v float64) {
	if col, row, ok := out.CellOf(x, y); ok {
		out.Set(col, row, v)
	}
}

// burnLine walks every cell crossed by each segment of a flat XY line
// (Amanatides-Woo grid traversal).
func burnLine(out *raster.Grid, flat []float64, v float64) {
	if len(flat) == 2 {
		burnPoint(out, flat[0], flat[1], v)
		return
	}
	for i := 0; i+3 < len(flat); i += 2 {
		burnSegment(out, flat[i], flat[i+1], flat[i+2], flat[i+3], v)
	}
}

func burnSegment(out *raster.Grid, x0, y0, x1, y1, v float64) {
	// Continuous cell coordinates: column grows east, row grows south.
	fx0 := (x0 - out.Extent.XMin) / out.CellSize
	fy0 := (out.Extent.YMax - y0) / out.CellSize
	fx1 := (x1 - out.Extent.XMin) / out.CellSize
	fy1 := (out.Extent.YMax - y1) / out.CellSize

	col, row := int(math.Floor(fx0)), int(math.Floor(fy0))
	endCol, endRow := int(math.Floor(fx1)), int(math.Floor(fy1))
	stepCol, tMaxX, tDeltaX := traversal(fx0, fx1, col)
	stepRow, tMaxY, tDeltaY := traversal(fy0, fy1, row)

	steps := abs(endCol-col) + abs(endRow-row)
	for i := 0; ; i++ {
		if col >= 0 && row >= 0 && col < out.Width && row < out.Height {
			out.Set(col, row, v)
		}
		if (col == endCol && row == endRow) || i >= steps {
			return
		}
		if tMaxX < tMaxY {
			tMaxX += tDeltaX
			col += stepCol
		} else {
			tMaxY += tDeltaY
			row += stepRow
		}
	}
}

func traversal(from, to float64, cell int) (step int, tMax, tDelta float64) {
	d := to - from
	switch {
	case d > 0:
		return 1, (float64(cell+1) - from) / d, 1 / d
	case d < 0:
		return -1, (from - float64(cell)) / -d, 1 / -d
	}
	return 0, math.Inf(1), math.Inf(1)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
