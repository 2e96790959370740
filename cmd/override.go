package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/clearspan/lcaflow/internal/objstore"
	"github.com/clearspan/lcaflow/internal/output"
)

var overrideCmd = &cobra.Command{
	Use:   "override <job-id>",
	Short: "Re-run synthesis including quarantined files",
	Long:  "Re-runs synthesis and report assembly for a finished job with the quarantine gate overridden. Extraction results are reused; no documents are re-processed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		jobID := args[0]

		app, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.engine.OverrideRun(ctx, jobID); err != nil {
			return eris.Wrapf(err, "override job %s", jobID)
		}
		fmt.Printf("synthesis re-run complete for %s\n", jobID)
		fmt.Printf("report: %s\n", objstore.ReportKey(jobID, output.ReportName))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(overrideCmd)
}
