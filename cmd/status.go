package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/clearspan/lcaflow/internal/engine"
	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/store"
)

var (
	jobsStatus string
	jobsLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's progress and per-file state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		proj, err := engine.Project(ctx, app.store, args[0])
		if err != nil {
			return eris.Wrapf(err, "project job %s", args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(proj)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		jobs, err := app.store.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(jobsStatus),
			Limit:  jobsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}
		for _, j := range jobs {
			partial := ""
			if j.Partial {
				partial = " (partial)"
			}
			fmt.Printf("%s  %-13s%s  %s\n", j.ID, j.Status, partial, j.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by job status")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum jobs to list")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
}
