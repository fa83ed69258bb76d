package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/drastic"
	"github.com/sells-group/drastic-cli/internal/model"
	"github.com/sells-group/drastic-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect vulnerability run history",
	Long:  "Commands for listing and viewing recorded runs and their stages.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		phases, err := st.ListPhases(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show: phases")
		}

		return formatRunDetail(os.Stdout, run, phases, runManifest(run))
	},
}

// runManifest reads the manifest a completed run left in its output folder.
// It returns nil when the run has no result or the file is gone.
func runManifest(run *model.Run) *drastic.Manifest {
	if run.Result == nil || run.Result.OutputDir == "" {
		return nil
	}
	path := filepath.Join(run.Result.OutputDir, drastic.ManifestFile)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	m, err := drastic.ReadManifest(path)
	if err != nil {
		zap.L().Warn("runs show: unreadable manifest", zap.String("path", path), zap.Error(err))
		return nil
	}
	return m
}

func formatRunDetail(w io.Writer, run *model.Run, phases []model.RunPhase, manifest *drastic.Manifest) error {
	out := struct {
		*model.Run
		Phases   []model.RunPhase  `json:"phases"`
		Manifest *drastic.Manifest `json:"manifest,omitempty"`
	}{Run: run, Phases: phases, Manifest: manifest}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatRunsList(w io.Writer, runs []model.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCREATED\tDURATION\tOUTPUT\tERROR")

	for _, r := range runs {
		duration := "-"
		output := r.Inputs.OutputDir
		if r.Result != nil {
			duration = (time.Duration(r.Result.Duration) * time.Millisecond).String()
			if r.Result.Destination != "" {
				output = r.Result.Destination
			}
		} else if r.Status.Terminal() {
			duration = r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.CreatedAt.Format("2006-01-02 15:04"),
			duration,
			output,
			truncate(r.Error, 60),
		)
	}
	tw.Flush() //nolint:errcheck
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (running, complete, failed, cancelled)")
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to list")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
