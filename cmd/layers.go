package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/drastic-cli/internal/model"
	"github.com/sells-group/drastic-cli/internal/publish"
	"github.com/sells-group/drastic-cli/internal/store"
)

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "List registered output layers",
	Long:  "Lists the layers registered by completed runs, or with --published the PostGIS catalogue.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if published, _ := cmd.Flags().GetBool("published"); published {
			pool, err := initPublishPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			layers, err := publish.Layers(ctx, pool)
			if err != nil {
				return err
			}
			formatPublishedLayers(os.Stdout, layers)
			return nil
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID, _ := cmd.Flags().GetString("run")
		name, _ := cmd.Flags().GetString("name")
		limit, _ := cmd.Flags().GetInt("limit")
		layers, err := st.ListLayers(ctx, store.LayerFilter{RunID: runID, Name: name, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "layers")
		}
		if len(layers) == 0 {
			fmt.Fprintln(os.Stderr, "No layers found.")
			return nil
		}
		formatLayers(os.Stdout, layers)
		return nil
	},
}

func formatLayers(w io.Writer, layers []model.Layer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRUN\tSIZE\tMIN\tMAX\tMEAN\tCREATED\tPATH")
	for _, l := range layers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%g\t%g\t%.2f\t%s\t%s\n",
			truncateID(l.ID),
			l.Name,
			truncateID(l.RunID),
			l.Width, l.Height,
			l.Stats.Min, l.Stats.Max, l.Stats.Mean,
			l.CreatedAt.Format("2006-01-02 15:04"),
			l.Path,
		)
	}
	tw.Flush() //nolint:errcheck
}

func formatPublishedLayers(w io.Writer, layers []publish.Layer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRUN\tEPSG\tCELLS\tCHECKSUM")
	for _, l := range layers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", l.Name, truncateID(l.RunID), l.EPSG, l.Cells, l.Checksum)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	layersCmd.Flags().String("run", "", "only layers registered by this run id")
	layersCmd.Flags().String("name", "", "only layers with this name")
	layersCmd.Flags().Int("limit", 50, "maximum number of layers to list")
	layersCmd.Flags().Bool("published", false, "list the PostGIS catalogue instead of the store")
	rootCmd.AddCommand(layersCmd)
}
