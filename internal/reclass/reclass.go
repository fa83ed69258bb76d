// Package reclass maps continuous raster values onto ordinal DRASTIC scores
// through fixed breakpoint tables.
package reclass

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/drastic-cli/internal/raster"
)

// Interval maps values in [Lo, Hi) to Score.
type Interval struct {
	Lo    float64 `json:"lo" yaml:"lo"`
	Hi    float64 `json:"hi" yaml:"hi"`
	Score float64 `json:"score" yaml:"score"`
}

// Contains reports whether v lies in [Lo, Hi).
func (iv Interval) Contains(v float64) bool {
	return v >= iv.Lo && v < iv.Hi
}

// Table is an ordered, non-overlapping set of intervals. Values that fall
// in no interval pass through unchanged.
type Table struct {
	Name      string     `json:"name" yaml:"name"`
	Intervals []Interval `json:"intervals" yaml:"intervals"`
}

// NewTable sorts intervals by Lo and validates them.
func NewTable(name string, intervals ...Interval) (Table, error) {
	ivs := make([]Interval, len(intervals))
	copy(ivs, intervals)
	sort.SliceStable(ivs, func(i, j int) bool { return ivs[i].Lo < ivs[j].Lo })

	for i, iv := range ivs {
		if math.IsNaN(iv.Lo) || math.IsNaN(iv.Hi) || !(iv.Lo < iv.Hi) {
			return Table{}, eris.Errorf("reclass: table %s: interval %d [%v,%v) is empty", name, i, iv.Lo, iv.Hi)
		}
		if i > 0 && iv.Lo < ivs[i-1].Hi {
			return Table{}, eris.Errorf("reclass: table %s: interval [%v,%v) overlaps [%v,%v)",
				name, iv.Lo, iv.Hi, ivs[i-1].Lo, ivs[i-1].Hi)
		}
	}
	return Table{Name: name, Intervals: ivs}, nil
}

// MustTable is NewTable for package-level constants.
func MustTable(name string, intervals ...Interval) Table {
	t, err := NewTable(name, intervals...)
	if err != nil {
		panic(err)
	}
	return t
}

// Score returns the score of the first interval containing v, or v itself
// when no interval does.
func (t Table) Score(v float64) float64 {
	// Intervals are sorted and disjoint, so the candidate is the last one
	// whose Lo is <= v.
	i := sort.Search(len(t.Intervals), func(i int) bool { return t.Intervals[i].Lo > v }) - 1
	if i >= 0 && t.Intervals[i].Contains(v) {
		return t.Intervals[i].Score
	}
	return v
}

// Apply returns a new grid on the same spec with every cell scored.
func (t Table) Apply(g *raster.Grid) *raster.Grid {
	out := g.Clone()
	for i, v := range out.Values {
		out.Values[i] = t.Score(v)
	}
	return out
}

// Depth to water table in metres.
var Depth = MustTable("D",
	Interval{0, 1.524, 10},
	Interval{1.524, 4.572, 9},
	Interval{4.572, 9.144, 7},
	Interval{9.144, 15.24, 5},
	Interval{15.24, 22.86, 3},
	Interval{22.86, 30.48, 2},
	Interval{30.48, 99999, 1},
)

// Recharge as annual precipitation in millimetres.
var Recharge = MustTable("R",
	Interval{0, 50.8, 1},
	Interval{50.8, 101.6, 3},
	Interval{101.6, 177.8, 6},
	Interval{177.8, 254, 8},
	Interval{254, 99999, 9},
)

// Topography as slope in degrees.
var Topography = MustTable("T",
	Interval{0, 2, 10},
	Interval{2, 6, 9},
	Interval{6, 12, 5},
	Interval{12, 18, 3},
	Interval{18, 99999, 1},
)

// ByFactor returns the breakpoint table for factor letter D, R or T.
func ByFactor(factor string) (Table, bool) {
	switch factor {
	case "D", "d":
		return Depth, true
	case "R", "r":
		return Recharge, true
	case "T", "t":
		return Topography, true
	default:
		return Table{}, false
	}
}
