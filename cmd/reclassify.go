package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/drastic-cli/internal/attrmap"
	"github.com/sells-group/drastic-cli/internal/lookup"
	"github.com/sells-group/drastic-cli/internal/raster"
	"github.com/sells-group/drastic-cli/internal/reclass"
)

var reclassifyCmd = &cobra.Command{
	Use:   "reclassify",
	Short: "Run a single reclassification step",
	Long:  "Reclassifies a raster with a breakpoint table, maps shapefile categories through a lookup table, or checks a lookup table.",
}

// -- reclassify raster --

var reclassifyRasterCmd = &cobra.Command{
	Use:   "raster <input> <output>",
	Short: "Reclassify a raster with the D, R or T breakpoint table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		factor, _ := cmd.Flags().GetString("table")
		table, ok := reclass.ByFactor(factor)
		if !ok {
			return eris.Errorf("reclassify: unknown table %q (want D, R or T)", factor)
		}

		in, err := raster.Open(args[0])
		if err != nil {
			return err
		}
		out := table.Apply(in)
		if err := raster.Write(args[1], out); err != nil {
			return err
		}

		bins, _ := cmd.Flags().GetInt("bins")
		return printJSON(raster.ComputeStats(out, bins))
	},
}

// -- reclassify map --

var reclassifyMapCmd = &cobra.Command{
	Use:   "map <shapefile>",
	Short: "Write lookup table scores into a shapefile attribute",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attr, _ := cmd.Flags().GetString("attribute")
		table, _ := cmd.Flags().GetString("lookup")
		field, _ := cmd.Flags().GetString("field")
		strict, _ := cmd.Flags().GetBool("require-complete")
		if attr == "" || table == "" {
			return eris.New("reclassify: --attribute and --lookup are required")
		}

		sum, err := attrmap.Map(cmd.Context(), args[0], attr, table, attrmap.Options{
			OutputField:     field,
			RequireComplete: strict,
		})
		if err != nil {
			return err
		}
		return printJSON(sum)
	},
}

var reclassifyTableCmd = &cobra.Command{
	Use:   "table <lookup>",
	Short: "Check a lookup table and list its categories in file order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := lookup.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		formatLookup(os.Stdout, m)
		return nil
	},
}

func formatLookup(w io.Writer, m *lookup.ReclassMap) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IN_\tOUT")
	for _, token := range m.Tokens() {
		v, _ := m.Lookup(token)
		fmt.Fprintf(tw, "%s\t%s\n", token, strconv.FormatFloat(v, 'f', -1, 64))
	}
	tw.Flush() //nolint:errcheck
	fmt.Fprintf(w, "%d categories from %s\n", m.Len(), m.Source)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	reclassifyRasterCmd.Flags().String("table", "D", "breakpoint table: D (depth), R (recharge) or T (slope)")
	reclassifyRasterCmd.Flags().Int("bins", 10, "histogram bins of the printed statistics")

	reclassifyMapCmd.Flags().String("attribute", "", "category attribute to look up")
	reclassifyMapCmd.Flags().String("lookup", "", "lookup table with IN_ and OUT columns")
	reclassifyMapCmd.Flags().String("field", "OUT", "numeric field the scores are written to")
	reclassifyMapCmd.Flags().Bool("require-complete", false, "fail when a category is missing from the table")

	reclassifyCmd.AddCommand(reclassifyRasterCmd)
	reclassifyCmd.AddCommand(reclassifyMapCmd)
	reclassifyCmd.AddCommand(reclassifyTableCmd)
	rootCmd.AddCommand(reclassifyCmd)
}
