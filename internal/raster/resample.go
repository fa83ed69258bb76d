package raster

import "math"

// Resample maps src onto spec by nearest neighbour: each target cell takes
// the source cell containing its centre. Target cells outside the source
// extent receive the source no-data value, or NaN when src has none.
func Resample(src *Grid, spec GridSpec) *Grid {
	if src.GridSpec.SameGrid(spec) {
		out := src.Clone()
		out.GridSpec = spec
		return out
	}

	out := New(spec)
	fill := math.NaN()
	if src.HasNoData {
		out.SetNoData(src.NoData)
		fill = src.NoData
	}
	for row := 0; row < spec.Height; row++ {
		for col := 0; col < spec.Width; col++ {
			x, y := spec.CellCenter(col, row)
			sc, sr, ok := src.CellOf(x, y)
			if !ok {
				out.Set(col, row, fill)
				continue
			}
			out.Set(col, row, src.At(sc, sr))
		}
	}
	return out
}
