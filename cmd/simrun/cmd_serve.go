package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/omx-labs/simrun/internal/history"
	"github.com/omx-labs/simrun/internal/jobs"
	"github.com/omx-labs/simrun/internal/logging"
	"github.com/omx-labs/simrun/internal/run"
	"github.com/omx-labs/simrun/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API for launching and watching runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				cfg.Server.Addr = v
			}

			log := logging.NewLogger(cfg.Logging.Level, os.Stderr)

			var hist *history.Store
			if cfg.History.Path != "" {
				hist, err = history.Open(cfg.History.Path)
				if err != nil {
					log.Warn("run history unavailable", "error", err)
				} else {
					defer hist.Close()
				}
			}

			srv := &server.Server{
				Log:      log,
				Registry: jobs.NewRegistry(jobs.DefaultMaxOutput),
				History:  hist,
				Run: func(ctx context.Context, req run.Request, out *jobs.JobWriter) (run.Outcome, error) {
					o := &run.Orchestrator{
						Config:  cfg,
						Log:     log,
						History: hist,
						Out:     out,
					}
					return o.Execute(ctx, req)
				},
			}
			return srv.ListenAndServe(cfg.Server.Addr)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (overrides config, default 127.0.0.1:8501)")
	return cmd
}
