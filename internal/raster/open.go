package raster

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Open reads a raster, choosing the codec from the file extension.
func Open(path string) (*Grid, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".tif", ".tiff":
		return ReadGeoTIFF(path)
	case ".asc":
		return ReadASCII(path)
	default:
		return nil, eris.Errorf("raster: unsupported raster format %q", ext)
	}
}

// Write stores g, choosing the codec from the file extension.
func Write(path string, g *Grid) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".tif", ".tiff":
		return WriteGeoTIFF(path, g)
	case ".asc":
		return WriteASCII(path, g)
	default:
		return eris.Errorf("raster: unsupported raster format %q", ext)
	}
}
