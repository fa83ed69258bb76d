package raster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Bin is one histogram bucket covering [Lo, Hi).
type Bin struct {
	Lo    float64 `json:"lo" yaml:"lo"`
	Hi    float64 `json:"hi" yaml:"hi"`
	Count int     `json:"count" yaml:"count"`
}

// Stats summarises the valid cells of a grid.
type Stats struct {
	Cells     int     `json:"cells" yaml:"cells"`
	Valid     int     `json:"valid" yaml:"valid"`
	Min       float64 `json:"min" yaml:"min"`
	Max       float64 `json:"max" yaml:"max"`
	Mean      float64 `json:"mean" yaml:"mean"`
	StdDev    float64 `json:"std_dev" yaml:"std_dev"`
	Histogram []Bin   `json:"histogram,omitempty" yaml:"histogram,omitempty"`
}

// ComputeStats returns summary statistics over the non-no-data cells of g
// and a histogram with the given number of equal-width bins (0 = none).
func ComputeStats(g *Grid, bins int) Stats {
	st := Stats{Cells: len(g.Values)}
	valid := make([]float64, 0, len(g.Values))
	for _, v := range g.Values {
		if g.IsNoData(v) || math.IsInf(v, 0) {
			continue
		}
		valid = append(valid, v)
	}
	st.Valid = len(valid)
	if st.Valid == 0 {
		return st
	}

	st.Min = floats.Min(valid)
	st.Max = floats.Max(valid)
	if st.Valid == 1 {
		st.Mean = valid[0]
	} else {
		st.Mean, st.StdDev = stat.PopMeanStdDev(valid, nil)
	}

	if bins > 0 {
		st.Histogram = histogram(valid, st.Min, st.Max, bins)
	}
	return st
}

func histogram(valid []float64, lo, hi float64, bins int) []Bin {
	if hi == lo {
		return []Bin{{Lo: lo, Hi: math.Nextafter(hi, math.Inf(1)), Count: len(valid)}}
	}

	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, hi)
	// stat.Histogram treats the last divider as exclusive.
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	sorted := make([]float64, len(valid))
	copy(sorted, valid)
	sort.Float64s(sorted)

	counts := stat.Histogram(nil, dividers, sorted, nil)
	out := make([]Bin, bins)
	for i := range out {
		out[i] = Bin{Lo: dividers[i], Hi: dividers[i+1], Count: int(counts[i])}
	}
	return out
}
