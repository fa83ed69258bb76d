package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/drastic-cli/internal/api"
	"github.com/sells-group/drastic-cli/internal/metrics"
	"github.com/sells-group/drastic-cli/internal/publish"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve runs, layers and tiles over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var tiles publish.TileSource
		if cfg.Server.Tiles {
			pool, err := initPublishPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			tiles = publish.NewTiles(pool)
		}

		srv, err := api.New(st, metrics.New(true), tiles, api.Options{
			StatsCacheSize: cfg.Server.StatsCacheSize,
			TileCacheSize:  cfg.Server.TileCacheSize,
			TileTTL:        time.Duration(cfg.Server.TileTTLSecs) * time.Second,
			CORSOrigins:    cfg.Server.CORSOrigins,
			HistogramBins:  cfg.Drastic.HistogramBins,
		})
		if err != nil {
			return err
		}
		return srv.Serve(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
