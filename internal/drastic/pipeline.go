// Package drastic runs the DRASTIC groundwater vulnerability model: it
// builds the six factor rasters from the configured inputs, combines them
// with the weighted overlay and records the run.
package drastic

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/engine"
	"github.com/sells-group/drastic-cli/internal/failure"
	"github.com/sells-group/drastic-cli/internal/fetcher"
	"github.com/sells-group/drastic-cli/internal/metrics"
	"github.com/sells-group/drastic-cli/internal/model"
	"github.com/sells-group/drastic-cli/internal/overlay"
	"github.com/sells-group/drastic-cli/internal/raster"
	"github.com/sells-group/drastic-cli/internal/store"
)

// Engines bundles the geoprocessing services a run depends on.
type Engines struct {
	Interpolator engine.Interpolator
	Rasterizer   engine.Rasterizer
	Slope        engine.SlopeDeriver
}

// NativeEngines returns the in-process implementations.
func NativeEngines() Engines {
	n := engine.NewNative()
	return Engines{Interpolator: n, Rasterizer: n, Slope: n}
}

// Stager resolves an input reference to a local file.
type Stager interface {
	Stage(ctx context.Context, ref string, exts ...string) (string, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore records runs, phases and the output layer in s.
func WithStore(s store.Store) Option { return func(p *Pipeline) { p.store = s } }

// WithReporter adds a progress sink.
func WithReporter(r Reporter) Option {
	return func(p *Pipeline) { p.reporters = append(p.reporters, r) }
}

// WithStager replaces the default input stager.
func WithStager(s Stager) Option { return func(p *Pipeline) { p.stager = s } }

// WithMetrics records stage timings and run outcomes in m.
func WithMetrics(m *metrics.Provider) Option { return func(p *Pipeline) { p.metrics = m } }

// WithEngines replaces the native geoprocessing services.
func WithEngines(e Engines) Option { return func(p *Pipeline) { p.engines = e } }

// Pipeline executes one configured DRASTIC run.
type Pipeline struct {
	cfg       Config
	engines   Engines
	store     store.Store
	stager    Stager
	metrics   *metrics.Provider
	reporters multiReporter
	log       *zap.Logger
}

// New validates cfg and returns a pipeline ready to Run.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:     cfg,
		engines: NativeEngines(),
		log:     zap.L().With(zap.String("component", "drastic")),
	}
	for _, o := range opts {
		o(p)
	}
	if p.stager == nil {
		p.stager = fetcher.NewStager(filepath.Join(cfg.OutputDir, "inputs"), fetcher.HTTPOptions{}, fetcher.FTPOptions{})
	}
	if p.engines.Interpolator == nil || p.engines.Rasterizer == nil || p.engines.Slope == nil {
		return nil, eris.New("drastic: every engine service must be set")
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Result describes a completed run.
type Result struct {
	RunID         string
	OutputDir     string
	Output        string
	Destination   string
	Manifest      string
	Checksum      string
	Factors       overlay.Paths
	Intermediates map[string]string
	Stats         raster.Stats
	Layer         model.Layer
	Stages        []StageRecord
	Duration      time.Duration
}

// StageRecord is the outcome of one stage.
type StageRecord struct {
	Name       string            `yaml:"name" json:"name"`
	Factor     string            `yaml:"factor,omitempty" json:"factor,omitempty"`
	Progress   int               `yaml:"progress" json:"progress"`
	Status     model.PhaseStatus `yaml:"status" json:"status"`
	DurationMs int64             `yaml:"duration_ms" json:"duration_ms"`
	Output     string            `yaml:"output,omitempty" json:"output,omitempty"`
	Details    map[string]any    `yaml:"details,omitempty" json:"details,omitempty"`
}

type stagedInputs struct {
	points        string
	geology       string
	geologyTable  string
	soil          string
	soilTable     string
	impactTable   string
	precipitation string
	elevation     string
}

// runState is the mutable state of one execution.
type runState struct {
	p             *Pipeline
	cfg           Config
	runID         string
	log           *zap.Logger
	spec          raster.GridSpec
	inputs        stagedInputs
	factors       overlay.Paths
	intermediates map[string]string
	index         *raster.Grid
	records       []StageRecord
}

func (r *runState) path(name string) string { return filepath.Join(r.cfg.OutputDir, name) }

// Run executes every stage in order. Cancellation is checked after each
// stage; a cancelled or failed run leaves no final result behind in the
// store, only the intermediate files written so far.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	r := &runState{
		p:             p,
		cfg:           p.cfg,
		factors:       make(overlay.Paths, len(overlay.Factors)),
		intermediates: make(map[string]string),
	}

	if p.store != nil {
		run, err := p.store.CreateRun(ctx, p.cfg.Inputs())
		if err != nil {
			return nil, eris.Wrap(err, "drastic: create run")
		}
		r.runID = run.ID
	} else {
		r.runID = uuid.NewString()
	}
	r.log = p.log.With(zap.String("run_id", r.runID))
	r.log.Info("drastic: run started",
		zap.String("output", p.cfg.OutputDir),
		zap.String("expression", p.cfg.Weights.Expression()),
	)
	p.setStatus(ctx, r, model.RunStatusRunning)

	res, err := p.execute(ctx, r)
	if err != nil {
		status := model.RunStatusFailed
		if failure.Is(err, failure.Cancelled) || ctx.Err() != nil {
			status = model.RunStatusCancelled
		}
		if p.store != nil {
			if failErr := p.store.FailRun(context.WithoutCancel(ctx), r.runID, status, err.Error()); failErr != nil {
				r.log.Warn("drastic: failed to record run failure", zap.Error(failErr))
			}
		}
		p.metrics.RunFinished(string(status))
		r.log.Error("drastic: run failed",
			zap.String("status", string(status)),
			zap.String("stage", failure.StageOf(err)),
			zap.String("kind", string(failure.KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}

	res.Duration = time.Since(start)
	if p.store != nil {
		if err := p.store.UpdateRunResult(ctx, r.runID, &model.RunResult{
			OutputDir:   res.OutputDir,
			Destination: res.Destination,
			Factors:     factorMap(res.Factors),
			Checksum:    res.Checksum,
			Stats:       res.Stats,
			Duration:    res.Duration.Milliseconds(),
		}); err != nil {
			return nil, eris.Wrap(err, "drastic: record run result")
		}
	}
	p.metrics.RunFinished(string(model.RunStatusComplete))
	p.metrics.OutputCells(res.Stats.Valid)
	r.log.Info("drastic: run complete",
		zap.String("output", res.Output),
		zap.String("destination", res.Destination),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, r *runState) (*Result, error) {
	if err := r.prepare(ctx); err != nil {
		return nil, failure.WithStage(err, "inputs")
	}

	for _, s := range Stages {
		if err := ctx.Err(); err != nil {
			return nil, failure.WithStage(failure.New(failure.Cancelled, err), s.Name)
		}
		if err := p.track(ctx, r, s); err != nil {
			return nil, failure.WithStage(err, s.Name)
		}
		if err := ctx.Err(); err != nil {
			return nil, failure.WithStage(failure.New(failure.Cancelled, err), s.Name)
		}
		p.reporters.Report(Progress{
			RunID:   r.runID,
			Stage:   s.Name,
			Percent: s.Progress,
			Message: fmt.Sprintf("%s complete", s.Name),
		})
	}
	return p.finish(ctx, r)
}

// track runs one stage and records it as a phase.
func (p *Pipeline) track(ctx context.Context, r *runState, s Stage) error {
	storeCtx := context.WithoutCancel(ctx)
	var phase *model.RunPhase
	if p.store != nil {
		var err error
		phase, err = p.store.CreatePhase(storeCtx, r.runID, s.Name)
		if err != nil {
			r.log.Warn("drastic: failed to create phase", zap.String("phase", s.Name), zap.Error(err))
		}
	}

	start := time.Now()
	out, fnErr := r.runStage(ctx, s)
	elapsed := time.Since(start)

	rec := StageRecord{
		Name:       s.Name,
		Factor:     string(s.Factor),
		Progress:   s.Progress,
		Status:     model.PhaseStatusComplete,
		DurationMs: elapsed.Milliseconds(),
		Output:     out.output,
		Details:    out.details,
	}
	pr := &model.PhaseResult{
		Name:     s.Name,
		Status:   model.PhaseStatusComplete,
		Duration: rec.DurationMs,
		Progress: s.Progress,
		Output:   out.output,
		Metadata: out.details,
	}
	if fnErr != nil {
		rec.Status = model.PhaseStatusFailed
		pr.Status = model.PhaseStatusFailed
		pr.Error = fnErr.Error()
		r.log.Error("drastic: stage failed",
			zap.String("stage", s.Name),
			zap.Int64("duration_ms", rec.DurationMs),
			zap.Error(fnErr),
		)
	} else {
		r.log.Info("drastic: stage complete",
			zap.String("stage", s.Name),
			zap.Int64("duration_ms", rec.DurationMs),
			zap.String("output", out.output),
		)
	}
	r.records = append(r.records, rec)
	p.metrics.ObserveStage(s.Name, string(rec.Status), elapsed)

	if phase != nil {
		if err := p.store.CompletePhase(storeCtx, phase.ID, pr); err != nil {
			r.log.Warn("drastic: failed to complete phase", zap.String("phase", s.Name), zap.Error(err))
		}
	}
	return fnErr
}

func (p *Pipeline) setStatus(ctx context.Context, r *runState, status model.RunStatus) {
	if p.store == nil {
		return
	}
	if err := p.store.UpdateRunStatus(ctx, r.runID, status); err != nil {
		r.log.Warn("drastic: failed to update status", zap.Error(err))
	}
}

// prepare creates the output folder, stages every input and derives the
// reference grid from the extent and cell size.
func (r *runState) prepare(ctx context.Context) error {
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return failure.New(failure.InputValidation, eris.Wrapf(err, "drastic: create output folder %s", r.cfg.OutputDir))
	}
	spec, err := raster.NewGridSpec(r.cfg.Extent, r.cfg.CellSize, r.cfg.EPSG)
	if err != nil {
		return failure.New(failure.InputValidation, err)
	}
	r.spec = spec

	shapefile := []string{".shp"}
	table := []string{".csv", ".txt", ".xlsx"}
	rasters := []string{".tif", ".tiff", ".asc"}
	refs := []struct {
		dst  *string
		ref  string
		exts []string
	}{
		{&r.inputs.points, r.cfg.Points, shapefile},
		{&r.inputs.geology, r.cfg.Geology, shapefile},
		{&r.inputs.geologyTable, r.cfg.GeologyLookup, table},
		{&r.inputs.soil, r.cfg.Soil, shapefile},
		{&r.inputs.soilTable, r.cfg.SoilLookup, table},
		{&r.inputs.impactTable, r.cfg.ImpactLookup, table},
		{&r.inputs.precipitation, r.cfg.Precipitation, rasters},
		{&r.inputs.elevation, r.cfg.Elevation, rasters},
	}
	for _, in := range refs {
		local, err := r.p.stager.Stage(ctx, in.ref, in.exts...)
		if err != nil {
			if ctx.Err() != nil {
				return failure.New(failure.Cancelled, ctx.Err())
			}
			return failure.New(failure.InputValidation, eris.Wrapf(err, "drastic: stage %s", in.ref))
		}
		*in.dst = local
	}
	r.log.Debug("drastic: inputs staged",
		zap.Int("width", spec.Width),
		zap.Int("height", spec.Height),
		zap.Float64("cell_size", spec.CellSize),
	)
	return nil
}

// finish copies the index to the destination, computes its statistics,
// writes the manifest and registers the output layer.
func (p *Pipeline) finish(ctx context.Context, r *runState) (*Result, error) {
	output := r.path(OutputFile)
	dest := output
	if r.cfg.Destination != "" {
		dest = filepath.Clean(r.cfg.Destination)
		if err := copyFile(output, dest); err != nil {
			return nil, failure.WithStage(failure.New(failure.OverlayComputation, err), "destination")
		}
	}

	sum, err := raster.Checksum(dest)
	if err != nil {
		return nil, failure.WithStage(failure.New(failure.OverlayComputation, err), "destination")
	}
	stats := raster.ComputeStats(r.index, r.cfg.HistogramBins)

	res := &Result{
		RunID:         r.runID,
		OutputDir:     r.cfg.OutputDir,
		Output:        output,
		Destination:   dest,
		Checksum:      sum,
		Factors:       r.factors,
		Intermediates: r.intermediates,
		Stats:         stats,
		Stages:        r.records,
		Layer: model.Layer{
			RunID:    r.runID,
			Name:     r.cfg.LayerName,
			Path:     dest,
			Checksum: sum,
			EPSG:     r.index.EPSG,
			Width:    r.index.Width,
			Height:   r.index.Height,
			CellSize: r.index.CellSize,
			Stats:    stats,
		},
	}

	manifest, err := writeManifest(r, res)
	if err != nil {
		return nil, failure.WithStage(failure.New(failure.OverlayComputation, err), "manifest")
	}
	res.Manifest = manifest

	if p.store != nil {
		if err := p.store.RegisterLayer(ctx, &res.Layer); err != nil {
			return nil, eris.Wrap(err, "drastic: register output layer")
		}
	}
	return res, nil
}

// copyFile writes src to dst through a temporary sibling so dst is never
// left half written.
func copyFile(src, dst string) error {
	if abs(src) == abs(dst) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return eris.Wrapf(err, "drastic: create destination folder for %s", dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "drastic: open %s", src)
	}
	defer in.Close() //nolint:errcheck

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".drastic-*")
	if err != nil {
		return eris.Wrapf(err, "drastic: create temp file for %s", dst)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return eris.Wrapf(err, "drastic: copy to %s", dst)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "drastic: close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return eris.Wrapf(err, "drastic: move into %s", dst)
	}
	return nil
}

func abs(p string) string {
	a, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return a
}

func factorMap(paths overlay.Paths) map[string]string {
	out := make(map[string]string, len(paths))
	for f, p := range paths {
		out[string(f)] = p
	}
	return out
}

// formatExtent renders an extent in the form ParseExtent accepts.
func formatExtent(e raster.Extent, epsg int) string {
	return fmt.Sprintf("%g,%g,%g,%g [EPSG:%d]", e.XMin, e.YMin, e.XMax, e.YMax, epsg)
}
