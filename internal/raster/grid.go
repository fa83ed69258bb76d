// Package raster holds the single-band grid model shared by every pipeline
// stage, plus GeoTIFF and ESRI ASCII grid codecs.
package raster

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Extent is an axis-aligned bounding box in map units.
type Extent struct {
	XMin float64 `json:"xmin" yaml:"xmin" mapstructure:"xmin"`
	YMin float64 `json:"ymin" yaml:"ymin" mapstructure:"ymin"`
	XMax float64 `json:"xmax" yaml:"xmax" mapstructure:"xmax"`
	YMax float64 `json:"ymax" yaml:"ymax" mapstructure:"ymax"`
}

// Width returns the horizontal size of the extent.
func (e Extent) Width() float64 { return e.XMax - e.XMin }

// Height returns the vertical size of the extent.
func (e Extent) Height() float64 { return e.YMax - e.YMin }

// Degenerate reports whether the extent has zero (or negative) width or height.
func (e Extent) Degenerate() bool {
	return !(e.Width() > 0) || !(e.Height() > 0)
}

// Contains reports whether (x, y) lies inside the extent (closed on the
// west/south edges, open on the east/north edges).
func (e Extent) Contains(x, y float64) bool {
	return x >= e.XMin && x < e.XMax && y >= e.YMin && y < e.YMax
}

var extentCRSRe = regexp.MustCompile(`\[\s*EPSG:(\d+)\s*\]\s*$`)

// ParseExtent parses "xmin,ymin,xmax,ymax" with an optional trailing
// "[EPSG:nnnn]" suffix. It returns the EPSG code when present, else 0.
func ParseExtent(s string) (Extent, int, error) {
	var epsg int
	if m := extentCRSRe.FindStringSubmatch(s); m != nil {
		code, err := strconv.Atoi(m[1])
		if err != nil {
			return Extent{}, 0, eris.Wrapf(err, "raster: parse extent crs %q", m[1])
		}
		epsg = code
		s = s[:len(s)-len(m[0])]
	}

	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return Extent{}, 0, eris.Errorf("raster: extent %q must have 4 comma-separated values", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Extent{}, 0, eris.Wrapf(err, "raster: parse extent value %q", p)
		}
		vals[i] = v
	}
	return Extent{XMin: vals[0], YMin: vals[1], XMax: vals[2], YMax: vals[3]}, epsg, nil
}

// GridSpec describes the geometry of a raster: extent, square cell size,
// dimensions in cells, and the EPSG code of its CRS (0 = unknown).
type GridSpec struct {
	Extent   Extent  `json:"extent" yaml:"extent"`
	CellSize float64 `json:"cell_size" yaml:"cell_size"`
	Width    int     `json:"width" yaml:"width"`
	Height   int     `json:"height" yaml:"height"`
	EPSG     int     `json:"epsg,omitempty" yaml:"epsg,omitempty"`
}

// NewGridSpec derives a grid covering ext with square cells of cellSize.
// Dimensions are rounded to the nearest whole cell and the extent is
// re-anchored on its north-west corner so that it is an exact multiple of
// the cell size.
func NewGridSpec(ext Extent, cellSize float64, epsg int) (GridSpec, error) {
	if !(cellSize > 0) {
		return GridSpec{}, eris.Errorf("raster: cell size must be positive, got %v", cellSize)
	}
	if ext.Degenerate() {
		return GridSpec{}, eris.Errorf("raster: degenerate extent %+v", ext)
	}

	w := int(math.Round(ext.Width() / cellSize))
	h := int(math.Round(ext.Height() / cellSize))
	if w < 1 || h < 1 {
		return GridSpec{}, eris.Errorf("raster: extent %+v is smaller than one %v cell", ext, cellSize)
	}

	return GridSpec{
		Extent: Extent{
			XMin: ext.XMin,
			YMin: ext.YMax - float64(h)*cellSize,
			XMax: ext.XMin + float64(w)*cellSize,
			YMax: ext.YMax,
		},
		CellSize: cellSize,
		Width:    w,
		Height:   h,
		EPSG:     epsg,
	}, nil
}

// Cells returns the number of cells in the grid.
func (s GridSpec) Cells() int { return s.Width * s.Height }

// Valid reports whether the grid has at least one cell.
func (s GridSpec) Valid() bool {
	return s.Width > 0 && s.Height > 0 && s.CellSize > 0 && !s.Extent.Degenerate()
}

// CellCenter returns the map coordinates of the centre of cell (col, row).
// Row 0 is the northern edge.
func (s GridSpec) CellCenter(col, row int) (x, y float64) {
	return s.Extent.XMin + (float64(col)+0.5)*s.CellSize,
		s.Extent.YMax - (float64(row)+0.5)*s.CellSize
}

// CellOf returns the cell containing (x, y). ok is false outside the grid.
func (s GridSpec) CellOf(x, y float64) (col, row int, ok bool) {
	col = int(math.Floor((x - s.Extent.XMin) / s.CellSize))
	row = int(math.Floor((s.Extent.YMax - y) / s.CellSize))
	if col < 0 || row < 0 || col >= s.Width || row >= s.Height {
		return 0, 0, false
	}
	return col, row, true
}

// SameGrid reports whether two specs are cell-aligned: identical
// dimensions, cell size and extent (within a small fraction of a cell) and
// no conflicting CRS.
func (s GridSpec) SameGrid(o GridSpec) bool {
	if s.Width != o.Width || s.Height != o.Height {
		return false
	}
	if s.EPSG != 0 && o.EPSG != 0 && s.EPSG != o.EPSG {
		return false
	}
	tol := math.Max(s.CellSize, o.CellSize) * 1e-6
	return math.Abs(s.CellSize-o.CellSize) <= tol &&
		math.Abs(s.Extent.XMin-o.Extent.XMin) <= tol &&
		math.Abs(s.Extent.YMin-o.Extent.YMin) <= tol &&
		math.Abs(s.Extent.XMax-o.Extent.XMax) <= tol &&
		math.Abs(s.Extent.YMax-o.Extent.YMax) <= tol
}

// Grid is a single-band raster with row-major values, row 0 north.
type Grid struct {
	GridSpec
	NoData    float64
	HasNoData bool
	Values    []float64
}

// New allocates a zero-valued grid for spec.
func New(spec GridSpec) *Grid {
	return &Grid{GridSpec: spec, Values: make([]float64, spec.Cells())}
}

// Filled allocates a grid for spec with every cell set to v.
func Filled(spec GridSpec, v float64) *Grid {
	g := New(spec)
	for i := range g.Values {
		g.Values[i] = v
	}
	return g
}

// Spec returns the grid geometry.
func (g *Grid) Spec() GridSpec { return g.GridSpec }

// Index returns the offset of (col, row) in Values.
func (g *Grid) Index(col, row int) int { return row*g.Width + col }

// At returns the value of cell (col, row).
func (g *Grid) At(col, row int) float64 { return g.Values[row*g.Width+col] }

// Set assigns v to cell (col, row).
func (g *Grid) Set(col, row int, v float64) { g.Values[row*g.Width+col] = v }

// IsNoData reports whether v is the grid's no-data marker. NaN always
// counts as no-data.
func (g *Grid) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return g.HasNoData && v == g.NoData
}

// SetNoData records v as the grid's no-data marker.
func (g *Grid) SetNoData(v float64) {
	g.NoData = v
	g.HasNoData = true
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	c := *g
	c.Values = make([]float64, len(g.Values))
	copy(c.Values, g.Values)
	return &c
}

// Validate checks that the value buffer matches the grid dimensions.
func (g *Grid) Validate() error {
	if !g.GridSpec.Valid() {
		return eris.Errorf("raster: invalid grid spec %+v", g.GridSpec)
	}
	if len(g.Values) != g.Cells() {
		return eris.Errorf("raster: %d values for a %dx%d grid", len(g.Values), g.Width, g.Height)
	}
	return nil
}
