package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/config"
	"github.com/sells-group/drastic-cli/internal/drastic"
	"github.com/sells-group/drastic-cli/internal/fetcher"
	"github.com/sells-group/drastic-cli/internal/metrics"
	"github.com/sells-group/drastic-cli/internal/overlay"
	"github.com/sells-group/drastic-cli/internal/raster"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute the DRASTIC vulnerability index",
	Long: "Runs the depth, recharge, aquifer, soil, topography and impact stages followed by the weighted overlay. " +
		"Inputs come from the drastic section of config.yaml, DRASTIC_DRASTIC_* variables or flags.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRunFlags(cmd, &cfg.Drastic)
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		dc, err := pipelineConfig(cfg.Drastic)
		if err != nil {
			return err
		}

		opts := []drastic.Option{
			drastic.WithStager(newStager(dc.OutputDir, cfg.Fetch)),
			drastic.WithReporter(drastic.LogReporter{}),
			drastic.WithReporter(progressPrinter(os.Stderr)),
		}

		metricsFile, _ := cmd.Flags().GetString("metrics-file")
		m, flushMetrics := runMetrics(metricsFile)
		defer flushMetrics()
		opts = append(opts, drastic.WithMetrics(m))

		noStore, _ := cmd.Flags().GetBool("no-store")
		if !noStore {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			opts = append(opts, drastic.WithStore(st))
		}

		p, err := drastic.New(dc, opts...)
		if err != nil {
			return err
		}
		res, err := p.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "run")
		}
		formatResult(os.Stdout, res)

		if doPublish, _ := cmd.Flags().GetBool("publish"); doPublish {
			pool, err := initPublishPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			grid, err := raster.Open(res.Output)
			if err != nil {
				return eris.Wrap(err, "run: reopen index")
			}
			sum, err := publishGrid(ctx, pool, publishInput{
				Name:     dc.LayerName,
				RunID:    res.RunID,
				Checksum: res.Checksum,
				Grid:     grid,
				Bins:     dc.HistogramBins,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Published %s: %d cells (%d no-data skipped)\n", sum.Name, sum.Cells, sum.Skipped)
		}
		return nil
	},
}

// applyRunFlags overlays explicitly set flags on the configured inputs.
func applyRunFlags(cmd *cobra.Command, d *config.DrasticConfig) {
	flags := cmd.Flags()
	strs := map[string]*string{
		"points":           &d.Points,
		"points-attribute": &d.PointsAttribute,
		"geology":          &d.Geology,
		"geology-attr":     &d.GeologyAttribute,
		"geology-lookup":   &d.GeologyLookup,
		"soil":             &d.Soil,
		"soil-attr":        &d.SoilAttribute,
		"soil-lookup":      &d.SoilLookup,
		"impact-attr":      &d.ImpactAttribute,
		"impact-lookup":    &d.ImpactLookup,
		"precipitation":    &d.Precipitation,
		"elevation":        &d.Elevation,
		"extent":           &d.Extent,
		"output":           &d.OutputDir,
		"destination":      &d.Destination,
		"layer-name":       &d.LayerName,
	}
	for name, dst := range strs {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	if flags.Changed("cell-size") {
		d.CellSize, _ = flags.GetFloat64("cell-size")
	}
	if flags.Changed("epsg") {
		d.EPSG, _ = flags.GetInt("epsg")
	}
	if flags.Changed("require-complete") {
		d.RequireCompleteMapping, _ = flags.GetBool("require-complete")
	}
}

// pipelineConfig converts the configured inputs into a pipeline config. A
// "[EPSG:n]" suffix on the extent overrides drastic.epsg.
func pipelineConfig(d config.DrasticConfig) (drastic.Config, error) {
	ext, epsg, err := raster.ParseExtent(d.Extent)
	if err != nil {
		return drastic.Config{}, eris.Wrap(err, "run: extent")
	}
	if epsg == 0 {
		epsg = d.EPSG
	}

	c := drastic.Config{
		Points:           d.Points,
		PointsAttribute:  d.PointsAttribute,
		Geology:          d.Geology,
		GeologyAttribute: d.GeologyAttribute,
		GeologyLookup:    d.GeologyLookup,
		Soil:             d.Soil,
		SoilAttribute:    d.SoilAttribute,
		SoilLookup:       d.SoilLookup,
		ImpactAttribute:  d.ImpactAttribute,
		ImpactLookup:     d.ImpactLookup,
		Precipitation:    d.Precipitation,
		Elevation:        d.Elevation,
		Extent:           ext,
		EPSG:             epsg,
		CellSize:         d.CellSize,
		OutputDir:        d.OutputDir,
		Destination:      d.Destination,
		Weights: overlay.Weights{
			D:        d.Weights.D,
			R:        d.Weights.R,
			A:        d.Weights.A,
			S:        d.Weights.S,
			T:        d.Weights.T,
			I:        d.Weights.I,
			Constant: d.Weights.Constant,
		},
		IDWPower:               d.IDWPower,
		IDWMaxPoints:           d.IDWMaxPoints,
		ZFactor:                d.ZFactor,
		NoData:                 d.NoData,
		AquiferField:           d.AquiferField,
		SoilField:              d.SoilField,
		ImpactField:            d.ImpactField,
		RequireCompleteMapping: d.RequireCompleteMapping,
		HistogramBins:          d.HistogramBins,
		LayerName:              d.LayerName,
	}
	return c.WithDefaults(), nil
}

// runMetrics returns a provider for one run and the func that writes it to
// path. An empty path disables both.
func runMetrics(path string) (*metrics.Provider, func()) {
	if path == "" {
		return nil, func() {}
	}
	m := metrics.New(false)
	return m, func() {
		if err := m.WriteTextfile(path); err != nil {
			zap.L().Warn("run: write metrics file", zap.String("path", path), zap.Error(err))
		}
	}
}

func newStager(outputDir string, f config.FetchConfig) *fetcher.Stager {
	return fetcher.NewStager(filepath.Join(outputDir, "inputs"),
		fetcher.HTTPOptions{
			UserAgent:   f.UserAgent,
			Timeout:     f.Timeout(),
			Attempts:    f.Attempts,
			RatePerHost: f.RatePerHost,
			BackoffBase: f.Backoff(),
		},
		fetcher.FTPOptions{Timeout: f.FTPTimeout()},
	)
}

// progressPrinter writes one line per milestone, e.g. "[ 38%] aquifer".
func progressPrinter(w io.Writer) drastic.Reporter {
	return drastic.ReporterFunc(func(p drastic.Progress) {
		line := fmt.Sprintf("[%3d%%] %s", p.Percent, p.Stage)
		if p.Message != "" {
			line += ": " + p.Message
		}
		fmt.Fprintln(w, line)
	})
}

func formatResult(w io.Writer, res *drastic.Result) {
	fmt.Fprintf(w, "Run:         %s\n", res.RunID)
	fmt.Fprintf(w, "Output:      %s\n", res.Output)
	if res.Destination != "" {
		fmt.Fprintf(w, "Destination: %s\n", res.Destination)
	}
	fmt.Fprintf(w, "Manifest:    %s\n", res.Manifest)
	fmt.Fprintf(w, "Checksum:    %s\n", res.Checksum)
	fmt.Fprintf(w, "Cells:       %d valid, %d no-data\n", res.Stats.Valid, res.Stats.Cells-res.Stats.Valid)
	fmt.Fprintf(w, "Index:       min %g, max %g, mean %.2f\n", res.Stats.Min, res.Stats.Max, res.Stats.Mean)
	fmt.Fprintf(w, "Duration:    %s\n\n", res.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FACTOR\tRASTER")
	for _, f := range overlay.Factors {
		if path, ok := res.Factors[f]; ok {
			fmt.Fprintf(tw, "%s\t%s\n", f, path)
		}
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	f := runCmd.Flags()
	f.String("points", "", "water-well point shapefile (path or URL)")
	f.String("points-attribute", "", "numeric depth attribute of the points")
	f.String("geology", "", "geology polygon shapefile")
	f.String("geology-attr", "", "geology category attribute")
	f.String("geology-lookup", "", "aquifer media lookup table (.csv, .txt, .xlsx)")
	f.String("soil", "", "soil polygon shapefile")
	f.String("soil-attr", "", "soil media category attribute")
	f.String("soil-lookup", "", "soil media lookup table")
	f.String("impact-attr", "", "vadose zone category attribute of the soil layer")
	f.String("impact-lookup", "", "vadose zone lookup table")
	f.String("precipitation", "", "precipitation raster (GeoTIFF or .asc)")
	f.String("elevation", "", "elevation raster (GeoTIFF or .asc)")
	f.String("extent", "", `processing extent "xmin,ymin,xmax,ymax [EPSG:n]"`)
	f.Float64("cell-size", drastic.DefaultCellSize, "output cell size in CRS units")
	f.Int("epsg", drastic.DefaultEPSG, "EPSG code of the output grid")
	f.String("output", "", "output folder for factor rasters")
	f.String("destination", "", "path the final index is copied to")
	f.String("layer-name", drastic.DefaultLayerName, "name of the registered layer")
	f.Bool("require-complete", false, "fail when a lookup table misses a category")
	f.Bool("no-store", false, "do not record the run in the store")
	f.Bool("publish", false, "publish the index to PostGIS after the run")
	f.String("metrics-file", "", "write run metrics in Prometheus text format to this file")
	rootCmd.AddCommand(runCmd)
}
