package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omx-labs/simrun/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the history database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return fmt.Errorf("run history is disabled (history.path is empty)")
			}

			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			targetFilter, _ := cmd.Flags().GetString("target")
			limit, _ := cmd.Flags().GetInt("limit")
			recs, err := store.Recent(cmd.Context(), targetFilter, limit)
			if err != nil {
				return err
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				if recs == nil {
					recs = []history.Record{}
				}
				return json.NewEncoder(os.Stdout).Encode(recs)
			}

			if len(recs) == 0 {
				fmt.Println("no recorded runs")
				return nil
			}
			for _, r := range recs {
				status := "FAIL"
				switch {
				case r.DryRun:
					status = "dry"
				case r.AllPassed:
					status = "PASS"
				case r.Timeout:
					status = "TIMEOUT"
				}
				fmt.Printf("%-17s %-14s %-8s %-8s rc=%-4d simInsts=%-12d %s\n",
					r.Timestamp, r.Target, r.Mode, status, r.Returncode, r.SimInsts, r.ManifestPath)
			}
			return nil
		},
	}

	cmd.Flags().String("target", "", "Only show runs for this target")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to show")
	return cmd
}
