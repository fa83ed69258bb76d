package publish

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/drastic-cli/internal/db"
)

// Zoom bounds for cell tiles.
const (
	MinTileZoom = 6
	MaxTileZoom = 18
)

// TileSource renders published layers as Mapbox Vector Tiles.
type TileSource interface {
	Tile(ctx context.Context, layer string, z, x, y int) ([]byte, error)
}

// Tiles renders cell tiles straight from PostGIS.
type Tiles struct {
	pool db.Pool
}

// NewTiles returns a tile source on pool.
func NewTiles(pool db.Pool) *Tiles { return &Tiles{pool: pool} }

var tileSQL = fmt.Sprintf(`
	SELECT ST_AsMVT(q, 'drastic', 4096, 'geom') FROM (
		SELECT col, row, value,
			ST_AsMVTGeom(
				ST_Transform(geom, 3857),
				ST_TileEnvelope($2, $3, $4),
				4096, 64, true
			) AS geom
		FROM %s
		WHERE layer = $1
			AND ST_Transform(geom, 3857) && ST_TileEnvelope($2, $3, $4)
	) q`, db.Identifier(CellsTable).Sanitize())

// Tile returns the z/x/y tile of layer.
func (t *Tiles) Tile(ctx context.Context, layer string, z, x, y int) ([]byte, error) {
	var tile []byte
	if err := t.pool.QueryRow(ctx, tileSQL, layer, z, x, y).Scan(&tile); err != nil {
		return nil, eris.Wrapf(err, "publish: tile %s/%d/%d/%d", layer, z, x, y)
	}
	return tile, nil
}

// Layer is a catalogue row.
type Layer struct {
	Name     string `json:"name"`
	RunID    string `json:"run_id,omitempty"`
	Checksum string `json:"checksum"`
	EPSG     int    `json:"epsg"`
	Cells    int    `json:"cells"`
}

// Layers lists the published catalogue, by name.
func Layers(ctx context.Context, pool db.Pool) ([]Layer, error) {
	rows, err := pool.Query(ctx, "SELECT name, run_id, checksum, epsg, cells FROM "+
		db.Identifier(LayersTable).Sanitize()+" ORDER BY name")
	if err != nil {
		return nil, eris.Wrap(err, "publish: list layers")
	}
	defer rows.Close()

	var out []Layer
	for rows.Next() {
		var l Layer
		if err := rows.Scan(&l.Name, &l.RunID, &l.Checksum, &l.EPSG, &l.Cells); err != nil {
			return nil, eris.Wrap(err, "publish: scan layer")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
