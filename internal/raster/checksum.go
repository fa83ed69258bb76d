package raster

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"
)

// Checksum returns the xxhash64 digest of the file at path as 16 hex digits.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "raster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "raster: hash %s", path)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
