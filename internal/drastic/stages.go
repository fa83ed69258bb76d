package drastic

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/attrmap"
	"github.com/sells-group/drastic-cli/internal/engine"
	"github.com/sells-group/drastic-cli/internal/failure"
	"github.com/sells-group/drastic-cli/internal/lookup"
	"github.com/sells-group/drastic-cli/internal/overlay"
	"github.com/sells-group/drastic-cli/internal/raster"
	"github.com/sells-group/drastic-cli/internal/reclass"
	"github.com/sells-group/drastic-cli/internal/vector"
)

// Stage is one step of the run, in execution order.
type Stage struct {
	Name     string
	Factor   overlay.Factor
	Progress int
	File     string
}

// Stages lists the run's steps with the progress reached after each.
var Stages = []Stage{
	{Name: "depth", Factor: overlay.Depth, Progress: 13, File: "d.tif"},
	{Name: "recharge", Factor: overlay.Recharge, Progress: 25, File: "r.tif"},
	{Name: "aquifer", Factor: overlay.Aquifer, Progress: 38, File: "a.tif"},
	{Name: "soil", Factor: overlay.Soil, Progress: 50, File: "s.tif"},
	{Name: "topography", Factor: overlay.Topography, Progress: 63, File: "t.tif"},
	{Name: "impact", Factor: overlay.Impact, Progress: 75, File: "i.tif"},
	{Name: "overlay", Progress: 100, File: OutputFile},
}

// Intermediate and final file names inside the output folder.
const (
	IDWFile      = "idw.tif"
	SlopeFile    = "slope.tif"
	OutputFile   = "drastic.tif"
	ManifestFile = "manifest.yaml"
)

// outcome is what a stage hands back for the run record.
type outcome struct {
	output  string
	details map[string]any
}

func (r *runState) runStage(ctx context.Context, s Stage) (outcome, error) {
	switch s.Name {
	case "depth":
		return r.depth(ctx, s)
	case "recharge":
		return r.reclassRaster(s, r.inputs.precipitation, reclass.Recharge)
	case "aquifer":
		return r.mapAndBurn(ctx, s, r.inputs.geology, r.cfg.GeologyAttribute, r.inputs.geologyTable, r.cfg.AquiferField)
	case "soil":
		return r.mapAndBurn(ctx, s, r.inputs.soil, r.cfg.SoilAttribute, r.inputs.soilTable, r.cfg.SoilField)
	case "topography":
		return r.topography(ctx, s)
	case "impact":
		return r.mapAndBurn(ctx, s, r.inputs.soil, r.cfg.ImpactAttribute, r.inputs.impactTable, r.cfg.ImpactField)
	case "overlay":
		return r.combine(ctx, s)
	}
	return outcome{}, eris.Errorf("drastic: unknown stage %q", s.Name)
}

// depth interpolates the well measurements and scores the surface.
func (r *runState) depth(ctx context.Context, s Stage) (outcome, error) {
	points, err := vector.Open(r.inputs.points)
	if err != nil {
		return outcome{}, failure.New(failure.InputValidation, err)
	}
	obs, err := points.Observations(r.cfg.PointsAttribute)
	if err != nil {
		return outcome{}, err
	}

	idwPath := r.path(IDWFile)
	surface, err := r.p.engines.Interpolator.Interpolate(ctx, engine.InterpolateRequest{
		Points:    obs,
		Spec:      r.spec,
		Power:     r.cfg.IDWPower,
		MaxPoints: r.cfg.IDWMaxPoints,
		Output:    idwPath,
	})
	if err != nil {
		return outcome{}, classify(err, failure.Interpolation)
	}
	r.intermediates["idw"] = idwPath

	out, err := r.writeFactor(s, reclass.Depth.Apply(surface), failure.Interpolation)
	if err != nil {
		return outcome{}, err
	}
	return outcome{output: out, details: map[string]any{"observations": len(obs)}}, nil
}

// reclassRaster aligns an input raster with the reference grid and scores it.
func (r *runState) reclassRaster(s Stage, path string, table reclass.Table) (outcome, error) {
	src, err := raster.Open(path)
	if err != nil {
		return outcome{}, failure.New(failure.InputValidation, eris.Wrapf(err, "drastic: load %s raster", s.Factor))
	}
	aligned, resampled := r.align(src, s)
	out, err := r.writeFactor(s, table.Apply(aligned), failure.InputValidation)
	if err != nil {
		return outcome{}, err
	}
	return outcome{output: out, details: map[string]any{"resampled": resampled}}, nil
}

// mapAndBurn joins a lookup table onto a layer attribute and rasterizes
// the resulting scores.
func (r *runState) mapAndBurn(ctx context.Context, s Stage, layerPath, attr, tablePath, field string) (outcome, error) {
	layer, err := vector.Open(layerPath)
	if err != nil {
		return outcome{}, err
	}
	table, err := lookup.Load(ctx, tablePath)
	if err != nil {
		return outcome{}, err
	}
	sum, err := attrmap.Apply(ctx, layer, attr, table, attrmap.Options{
		OutputField:     field,
		RequireComplete: r.cfg.RequireCompleteMapping,
	})
	if err != nil {
		return outcome{}, err
	}

	grid, err := r.p.engines.Rasterizer.Rasterize(ctx, engine.RasterizeRequest{
		Layer:     layer,
		Attribute: sum.OutputField,
		Spec:      r.spec,
		NoData:    r.cfg.NoData,
	})
	if err != nil {
		return outcome{}, classify(err, failure.Rasterize)
	}
	out, err := r.writeFactor(s, grid, failure.Rasterize)
	if err != nil {
		return outcome{}, err
	}
	return outcome{output: out, details: map[string]any{"mapping": sum}}, nil
}

// topography derives slope from the elevation model and scores it.
func (r *runState) topography(ctx context.Context, s Stage) (outcome, error) {
	dem, err := raster.Open(r.inputs.elevation)
	if err != nil {
		return outcome{}, failure.New(failure.InputValidation, eris.Wrap(err, "drastic: load elevation raster"))
	}
	slopePath := r.path(SlopeFile)
	slope, err := r.p.engines.Slope.Slope(ctx, engine.SlopeRequest{
		Elevation: dem,
		ZFactor:   r.cfg.ZFactor,
		Output:    slopePath,
	})
	if err != nil {
		return outcome{}, classify(err, failure.Slope)
	}
	r.intermediates["slope"] = slopePath

	aligned, resampled := r.align(slope, s)
	out, err := r.writeFactor(s, reclass.Topography.Apply(aligned), failure.Slope)
	if err != nil {
		return outcome{}, err
	}
	return outcome{output: out, details: map[string]any{"resampled": resampled}}, nil
}

// combine loads the six factor rasters back from disk and writes the index.
func (r *runState) combine(ctx context.Context, s Stage) (outcome, error) {
	out := r.path(s.File)
	index, err := overlay.CombineFiles(ctx, r.factors, r.cfg.Weights, out)
	if err != nil {
		return outcome{}, err
	}
	r.index = index
	return outcome{output: out, details: map[string]any{"expression": r.cfg.Weights.Expression()}}, nil
}

func (r *runState) align(g *raster.Grid, s Stage) (*raster.Grid, bool) {
	if g.SameGrid(r.spec) {
		return g, false
	}
	r.log.Info("drastic: resampling onto reference grid",
		zap.String("stage", s.Name),
		zap.String("from", fmt.Sprintf("%dx%d @%g", g.Width, g.Height, g.CellSize)),
		zap.String("to", fmt.Sprintf("%dx%d @%g", r.spec.Width, r.spec.Height, r.spec.CellSize)),
	)
	return raster.Resample(g, r.spec), true
}

func (r *runState) writeFactor(s Stage, g *raster.Grid, kind failure.Kind) (string, error) {
	path := r.path(s.File)
	if err := raster.Write(path, g); err != nil {
		return "", failure.New(kind, eris.Wrapf(err, "drastic: write %s", s.File))
	}
	r.factors[s.Factor] = path
	return path, nil
}

// classify tags an engine error that carries no kind of its own.
func classify(err error, kind failure.Kind) error {
	if failure.KindOf(err) != "" {
		return err
	}
	return failure.New(kind, err)
}
