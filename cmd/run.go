package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/objstore"
	"github.com/clearspan/lcaflow/internal/output"
)

var runContext string

var runCmd = &cobra.Command{
	Use:   "run <file>...",
	Short: "Analyze a set of LCA documents end to end",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		job, err := app.store.CreateJob(ctx, runContext)
		if err != nil {
			return eris.Wrap(err, "create job")
		}

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "read %s", path)
			}
			meta, err := app.ingestor.Ingest(ctx, job.ID, filepath.Base(path), data)
			if err != nil {
				return eris.Wrapf(err, "ingest %s", path)
			}
			fmt.Printf("ingested %s (%s, file %s)\n", path, meta.Category, meta.FileID)
		}

		zap.L().Info("starting job", zap.String("job_id", job.ID), zap.Int("files", len(args)))
		if err := app.engine.RunJob(ctx, job.ID); err != nil {
			return eris.Wrap(err, "run job")
		}

		final, err := app.store.GetJob(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "load job")
		}
		fmt.Printf("job %s %s (partial=%v)\n", job.ID, final.Status, final.Partial)
		fmt.Printf("report: %s\n", objstore.ReportKey(job.ID, output.ReportName))
		fmt.Printf("analysis: %s\n", objstore.ReportKey(job.ID, output.AnalysisName))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runContext, "context", "", "free-text analysis context passed to routing and synthesis")
	rootCmd.AddCommand(runCmd)
}
