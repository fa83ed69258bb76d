// Package publish loads a DRASTIC index into PostGIS: one polygon per
// valid cell in gis.drastic_cells plus a catalogue row in
// gis.drastic_layers.
package publish

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/db"
	"github.com/sells-group/drastic-cli/internal/raster"
	"github.com/sells-group/drastic-cli/internal/vector"
)

// Table names.
const (
	LayersTable = "gis.drastic_layers"
	CellsTable  = "gis.drastic_cells"
)

var cellColumns = []string{"layer", "col", "row", "value", "geom"}

var layerUpsert = db.UpsertConfig{
	Table: LayersTable,
	Columns: []string{
		"name", "run_id", "checksum", "epsg", "width", "height", "cell_size",
		"cells", "min_value", "max_value", "mean_value", "published_at",
	},
	ConflictKeys: []string{"name"},
}

// Request names the grid to publish and how to catalogue it.
type Request struct {
	Name     string
	RunID    string
	Checksum string
	Grid     *raster.Grid
	Stats    raster.Stats
}

// Summary reports what a publish wrote.
type Summary struct {
	Name    string `json:"name"`
	Cells   int64  `json:"cells"`
	Skipped int    `json:"skipped"`
}

// Publisher writes grids to PostGIS.
type Publisher struct {
	pool db.Pool
	now  func() time.Time
	log  *zap.Logger
}

// New returns a Publisher on pool.
func New(pool db.Pool) *Publisher {
	return &Publisher{
		pool: pool,
		now:  time.Now,
		log:  zap.L().With(zap.String("component", "publish")),
	}
}

// Publish replaces the named layer in one transaction: the catalogue row
// is upserted, the old cells deleted and the new cells streamed with COPY.
// No-data cells are skipped.
func (p *Publisher) Publish(ctx context.Context, req Request) (*Summary, error) {
	if req.Name == "" {
		return nil, eris.New("publish: layer name is required")
	}
	g := req.Grid
	if g == nil {
		return nil, eris.New("publish: no grid")
	}
	if err := g.Validate(); err != nil {
		return nil, eris.Wrap(err, "publish: invalid grid")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "publish: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := []any{
		req.Name, req.RunID, req.Checksum, g.EPSG, g.Width, g.Height, g.CellSize,
		req.Stats.Valid, nullable(req.Stats.Min), nullable(req.Stats.Max), nullable(req.Stats.Mean),
		p.now().UTC(),
	}
	if _, err := db.UpsertTx(ctx, tx, layerUpsert, [][]any{row}); err != nil {
		return nil, eris.Wrap(err, "publish: catalogue layer")
	}

	if _, err := tx.Exec(ctx, "DELETE FROM "+db.Identifier(CellsTable).Sanitize()+" WHERE layer = $1", req.Name); err != nil {
		return nil, eris.Wrapf(err, "publish: clear cells of %s", req.Name)
	}

	cells := newCellSource(req.Name, g)
	n, err := db.CopyStream(ctx, tx, CellsTable, cellColumns, cells.next)
	if err != nil {
		return nil, eris.Wrapf(err, "publish: copy cells of %s", req.Name)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "publish: commit")
	}

	p.log.Info("layer published",
		zap.String("layer", req.Name),
		zap.Int64("cells", n),
		zap.Int("skipped", cells.skipped),
	)
	return &Summary{Name: req.Name, Cells: n, Skipped: cells.skipped}, nil
}

// cellSource walks the grid row by row, yielding one COPY row per valid
// cell.
type cellSource struct {
	layer   string
	g       *raster.Grid
	idx     int
	skipped int
	row     []any
}

func newCellSource(layer string, g *raster.Grid) *cellSource {
	return &cellSource{layer: layer, g: g, row: make([]any, len(cellColumns))}
}

// next returns the following row, or nil at the end of the grid.
func (c *cellSource) next() ([]any, error) {
	for c.idx < len(c.g.Values) {
		i := c.idx
		c.idx++
		v := c.g.Values[i]
		if c.g.IsNoData(v) {
			c.skipped++
			continue
		}
		col, row := i%c.g.Width, i/c.g.Width
		wkb, err := vector.EncodeEWKB(cellPolygon(c.g, col, row))
		if err != nil {
			return nil, err
		}
		c.row[0], c.row[1], c.row[2], c.row[3], c.row[4] = c.layer, col, row, v, wkb
		return c.row, nil
	}
	return nil, nil
}

// cellPolygon is the square footprint of a cell, exterior ring clockwise.
func cellPolygon(g *raster.Grid, col, row int) *geom.Polygon {
	x0 := g.Extent.XMin + float64(col)*g.CellSize
	y1 := g.Extent.YMax - float64(row)*g.CellSize
	x1, y0 := x0+g.CellSize, y1-g.CellSize
	p := geom.NewPolygonFlat(geom.XY, []float64{x0, y0, x0, y1, x1, y1, x1, y0, x0, y0}, []int{10})
	if g.EPSG != 0 {
		p.SetSRID(g.EPSG)
	}
	return p
}

func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
