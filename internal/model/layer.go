package model

import (
	"time"

	"github.com/sells-group/drastic-cli/internal/raster"
)

// Layer is a raster registered for display or download, usually the
// destination copy of a run's index.
type Layer struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id,omitempty"`
	Name      string       `json:"name"`
	Path      string       `json:"path"`
	Checksum  string       `json:"checksum"`
	EPSG      int          `json:"epsg"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	CellSize  float64      `json:"cell_size"`
	Stats     raster.Stats `json:"stats"`
	CreatedAt time.Time    `json:"created_at"`
}
