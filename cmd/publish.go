package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/drastic-cli/internal/db"
	"github.com/sells-group/drastic-cli/internal/publish"
	"github.com/sells-group/drastic-cli/internal/raster"
)

var publishCmd = &cobra.Command{
	Use:   "publish <raster>",
	Short: "Publish an index raster to PostGIS",
	Long: "Loads a raster and replaces the named layer in gis.drastic_cells, one polygon per valid cell. " +
		"With --layer the argument is a registered layer id instead of a path.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		name, _ := cmd.Flags().GetString("name")
		runID, _ := cmd.Flags().GetString("run-id")
		fromLayer, _ := cmd.Flags().GetBool("layer")

		path := args[0]
		if fromLayer {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			l, err := st.GetLayer(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "publish: get layer")
			}
			path = l.Path
			if name == "" {
				name = l.Name
			}
			if runID == "" {
				runID = l.RunID
			}
		}
		if name == "" {
			name = cfg.Drastic.LayerName
		}

		grid, err := raster.Open(path)
		if err != nil {
			return eris.Wrapf(err, "publish: open %s", path)
		}
		sum, err := raster.Checksum(path)
		if err != nil {
			return err
		}

		pool, err := initPublishPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := publishGrid(ctx, pool, publishInput{
			Name:     name,
			RunID:    runID,
			Checksum: sum,
			Grid:     grid,
			Bins:     cfg.Drastic.HistogramBins,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Published %s: %d cells (%d no-data skipped)\n", res.Name, res.Cells, res.Skipped)
		return nil
	},
}

type publishInput struct {
	Name     string
	RunID    string
	Checksum string
	Grid     *raster.Grid
	Bins     int
}

// publishGrid migrates the gis schema when configured to and publishes in.
func publishGrid(ctx context.Context, pool db.Pool, in publishInput) (*publish.Summary, error) {
	if cfg.Publish.Migrate {
		if err := publish.Migrate(ctx, pool); err != nil {
			return nil, err
		}
	}
	return publish.New(pool).Publish(ctx, publish.Request{
		Name:     in.Name,
		RunID:    in.RunID,
		Checksum: in.Checksum,
		Grid:     in.Grid,
		Stats:    raster.ComputeStats(in.Grid, in.Bins),
	})
}

func init() {
	publishCmd.Flags().String("name", "", "layer name in the PostGIS catalogue (default drastic.layer_name)")
	publishCmd.Flags().String("run-id", "", "run the raster came from")
	publishCmd.Flags().Bool("layer", false, "treat the argument as a registered layer id")
	rootCmd.AddCommand(publishCmd)
}
