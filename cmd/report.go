package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/clearspan/lcaflow/internal/objstore"
)

var reportArtifact string

var reportCmd = &cobra.Command{
	Use:   "report <job-id>",
	Short: "Print an assembled artifact for a finished job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		jobID := args[0]

		app, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		job, err := app.store.GetJob(ctx, jobID)
		if err != nil {
			return eris.Wrapf(err, "load job %s", jobID)
		}
		if !job.Status.Terminal() {
			return eris.Errorf("job %s is still %s", jobID, job.Status)
		}

		artifact, ok := artifactNames[reportArtifact]
		if !ok {
			return eris.Errorf("unknown artifact %q (report, analysis, viz, audit)", reportArtifact)
		}
		data, err := app.objects.Get(ctx, objstore.ReportKey(jobID, artifact.filename))
		if err != nil {
			return eris.Wrapf(err, "load %s for %s", reportArtifact, jobID)
		}
		if _, err := os.Stdout.Write(data); err != nil {
			return eris.Wrap(err, "write artifact")
		}
		if len(data) > 0 && data[len(data)-1] != '\n' {
			fmt.Println()
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportArtifact, "artifact", "report", "artifact to print: report, analysis, viz or audit")
	rootCmd.AddCommand(reportCmd)
}
