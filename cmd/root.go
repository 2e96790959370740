package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "lcaflow",
	Short: "LCA document analysis pipeline",
	Long:  "Routes uploaded LCA documents to extraction procedures, validates the extracted data against reference taxonomies, and synthesizes a consolidated analysis report.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
