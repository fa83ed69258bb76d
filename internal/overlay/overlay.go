// Package overlay combines the six DRASTIC factor rasters into the
// vulnerability index.
package overlay

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/drastic-cli/internal/failure"
	"github.com/sells-group/drastic-cli/internal/raster"
)

// Factor names one DRASTIC term.
type Factor string

// The DRASTIC factors, in overlay order.
const (
	Depth      Factor = "D"
	Recharge   Factor = "R"
	Aquifer    Factor = "A"
	Soil       Factor = "S"
	Topography Factor = "T"
	Impact     Factor = "I"
)

// Factors lists the terms the overlay combines, in formula order.
var Factors = []Factor{Depth, Recharge, Aquifer, Soil, Topography, Impact}

// Weights holds the per-factor multipliers and the additive constant.
type Weights struct {
	D        float64 `mapstructure:"d" yaml:"d" json:"d"`
	R        float64 `mapstructure:"r" yaml:"r" json:"r"`
	A        float64 `mapstructure:"a" yaml:"a" json:"a"`
	S        float64 `mapstructure:"s" yaml:"s" json:"s"`
	T        float64 `mapstructure:"t" yaml:"t" json:"t"`
	I        float64 `mapstructure:"i" yaml:"i" json:"i"`
	Constant float64 `mapstructure:"constant" yaml:"constant" json:"constant"`
}

// DefaultWeights returns D*5 + R*4 + A*3 + S*2 + T*1 + I*5 + 1.
func DefaultWeights() Weights {
	return Weights{D: 5, R: 4, A: 3, S: 2, T: 1, I: 5, Constant: 1}
}

// Of returns the weight of f.
func (w Weights) Of(f Factor) float64 {
	switch f {
	case Depth:
		return w.D
	case Recharge:
		return w.R
	case Aquifer:
		return w.A
	case Soil:
		return w.S
	case Topography:
		return w.T
	case Impact:
		return w.I
	}
	return 0
}

// Expression renders the weights as a raster calculator formula.
func (w Weights) Expression() string {
	var b strings.Builder
	for i, f := range Factors {
		if i > 0 {
			b.WriteString(" + ")
		}
		fmt.Fprintf(&b, "%s*%s", f, trimFloat(w.Of(f)))
	}
	fmt.Fprintf(&b, " + %s", trimFloat(w.Constant))
	return b.String()
}

func trimFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}

// Layers holds one grid per factor.
type Layers map[Factor]*raster.Grid

// Paths holds one raster file per factor.
type Paths map[Factor]string

// Combine computes the weighted sum cell by cell. All six grids must be
// present and share one grid geometry; a mismatch fails with GridMismatch
// before any cell is computed. NaN cells propagate; declared no-data
// sentinels take part in the sum like any other value.
func Combine(ctx context.Context, layers Layers, w Weights) (*raster.Grid, error) {
	ref, ok := layers[Depth]
	if !ok || ref == nil {
		return nil, failure.Newf(failure.InputValidation, "overlay: missing %s raster", Depth)
	}
	for _, f := range Factors {
		g := layers[f]
		if g == nil {
			return nil, failure.Newf(failure.InputValidation, "overlay: missing %s raster", f)
		}
		if err := g.Validate(); err != nil {
			return nil, failure.New(failure.InputValidation, eris.Wrapf(err, "overlay: %s raster", f))
		}
		if !ref.SameGrid(g.Spec()) {
			return nil, failure.Newf(failure.GridMismatch,
				"overlay: %s grid %dx%d @%g %+v does not match %s grid %dx%d @%g %+v",
				f, g.Width, g.Height, g.CellSize, g.Extent,
				Depth, ref.Width, ref.Height, ref.CellSize, ref.Extent)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, failure.New(failure.Cancelled, err)
	}

	out := raster.New(ref.Spec())
	weights := make([]float64, len(Factors))
	grids := make([]*raster.Grid, len(Factors))
	for i, f := range Factors {
		weights[i] = w.Of(f)
		grids[i] = layers[f]
	}

	for c := range out.Values {
		sum := w.Constant
		for i, g := range grids {
			sum += g.Values[c] * weights[i]
		}
		if math.IsInf(sum, 0) {
			return nil, failure.Newf(failure.OverlayComputation, "overlay: cell %d overflowed", c)
		}
		out.Values[c] = sum
	}
	return out, nil
}

// CombineFiles loads the six factor rasters concurrently, combines them
// and writes the index to output (skipped when output is empty). A raster
// that cannot be loaded fails with InputValidation; a write failure is an
// OverlayComputation error.
func CombineFiles(ctx context.Context, paths Paths, w Weights, output string) (*raster.Grid, error) {
	log := zap.L().With(zap.String("component", "overlay"))

	for _, f := range Factors {
		if paths[f] == "" {
			return nil, failure.Newf(failure.InputValidation, "overlay: no %s raster path", f)
		}
	}

	loaded := make([]*raster.Grid, len(Factors))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range Factors {
		path := paths[f]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return failure.New(failure.Cancelled, err)
			}
			grid, err := raster.Open(path)
			if err != nil {
				return failure.New(failure.InputValidation, eris.Wrapf(err, "overlay: load %s raster", f))
			}
			loaded[i] = grid
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	layers := make(Layers, len(Factors))
	for i, f := range Factors {
		layers[f] = loaded[i]
	}
	out, err := Combine(ctx, layers, w)
	if err != nil {
		return nil, err
	}

	if output != "" {
		if err := raster.Write(output, out); err != nil {
			return nil, failure.New(failure.OverlayComputation, eris.Wrapf(err, "overlay: write %s", output))
		}
	}
	log.Info("overlay combined",
		zap.String("expression", w.Expression()),
		zap.String("output", output),
		zap.Int("width", out.Width),
		zap.Int("height", out.Height),
	)
	return out, nil
}
