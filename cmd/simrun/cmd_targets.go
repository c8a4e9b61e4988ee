package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omx-labs/simrun/internal/target"
)

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the available simulation targets",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			specs := target.All()

			if jsonOut {
				type entry struct {
					ID       string   `json:"id"`
					Label    string   `json:"label"`
					ISA      string   `json:"isa"`
					Cores    int      `json:"cores"`
					Consoles int      `json:"consoles"`
					Config   string   `json:"config"`
					Required []string `json:"required_artifacts"`
				}
				out := make([]entry, 0, len(specs))
				for _, s := range specs {
					required := make([]string, 0, len(s.RequiredArtifacts))
					for _, r := range s.RequiredArtifacts {
						required = append(required, string(r))
					}
					out = append(out, entry{
						ID: string(s.ID), Label: s.Label, ISA: s.ISA,
						Cores: s.Cores, Consoles: s.Consoles,
						Config: s.ConfigScript, Required: required,
					})
				}
				json.NewEncoder(os.Stdout).Encode(out)
				return
			}

			for _, s := range specs {
				fmt.Printf("%-16s %s\n", s.ID, s.Label)
				fmt.Printf("  isa=%s cores=%d consoles=%d config=%s\n",
					s.ISA, s.Cores, s.Consoles, s.ConfigScript)
				required := make([]string, 0, len(s.RequiredArtifacts))
				for _, r := range s.RequiredArtifacts {
					required = append(required, string(r))
				}
				fmt.Printf("  requires: %s\n", strings.Join(required, ", "))
			}
		},
	}
}
