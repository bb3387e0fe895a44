package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bpbradley/locket/pkg/health"
)

func newHealthcheckCmd() *cobra.Command {
	var statusFile string

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Exit 0 if the status file exists, nonzero otherwise",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !health.IsReady(statusFile) {
				return fmt.Errorf("status file %q not present", statusFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFile, "status-file", "", "path whose existence signals readiness")
	return cmd
}
