package raster

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadASCII parses an ESRI ASCII grid (.asc). Both corner and centre
// registration of the lower-left origin are accepted.
func ReadASCII(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<26)
	sc.Split(bufio.ScanWords)

	header := make(map[string]float64)
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = key
			break
		}
		if !sc.Scan() {
			return nil, eris.Errorf("raster: %s: header key %q has no value", path, key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "raster: %s: header %s", path, key)
		}
		header[key] = v
	}

	ncols, nrows, cell := int(header["ncols"]), int(header["nrows"]), header["cellsize"]
	if ncols <= 0 || nrows <= 0 || !(cell > 0) {
		return nil, eris.Errorf("raster: %s: invalid header ncols=%d nrows=%d cellsize=%v", path, ncols, nrows, cell)
	}

	xll, okX := header["xllcorner"]
	yll, okY := header["yllcorner"]
	if !okX {
		xll = header["xllcenter"] - cell/2
	}
	if !okY {
		yll = header["yllcenter"] - cell/2
	}

	g := New(GridSpec{
		Extent: Extent{
			XMin: xll,
			YMin: yll,
			XMax: xll + float64(ncols)*cell,
			YMax: yll + float64(nrows)*cell,
		},
		CellSize: cell,
		Width:    ncols,
		Height:   nrows,
	})
	if nd, ok := header["nodata_value"]; ok {
		g.SetNoData(nd)
	}

	n := 0
	if first != "" {
		v, _ := strconv.ParseFloat(first, 64)
		g.Values[n] = v
		n++
	}
	for n < len(g.Values) && sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "raster: %s: cell %d", path, n)
		}
		g.Values[n] = v
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "raster: read %s", path)
	}
	if n != len(g.Values) {
		return nil, eris.Errorf("raster: %s: %d cells, want %d", path, n, len(g.Values))
	}
	return g, nil
}

// WriteASCII writes g as an ESRI ASCII grid with corner registration.
func WriteASCII(path string, g *Grid) error {
	if err := g.Validate(); err != nil {
		return eris.Wrapf(err, "raster: write %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "raster: create directory for %s", path)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "raster: create %s", tmp)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "ncols %d\nnrows %d\nxllcorner %s\nyllcorner %s\ncellsize %s\n",
		g.Width, g.Height, fmtFloat(g.Extent.XMin), fmtFloat(g.Extent.YMin), fmtFloat(g.CellSize))
	if g.HasNoData {
		fmt.Fprintf(w, "NODATA_value %s\n", fmtFloat(g.NoData))
	}
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			if col > 0 {
				w.WriteByte(' ') //nolint:errcheck
			}
			w.WriteString(fmtFloat(g.At(col, row))) //nolint:errcheck
		}
		w.WriteByte('\n') //nolint:errcheck
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "raster: write %s", tmp)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "raster: close %s", tmp)
	}
	return eris.Wrapf(os.Rename(tmp, path), "raster: rename %s", tmp)
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
