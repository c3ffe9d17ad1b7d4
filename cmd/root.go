package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "taxid-cli",
	Short:        "Resumable batch tax ID lookup",
	Long:         "Looks up the RUC and taxpayer status of every company in a spreadsheet with a pool of workers, checkpointing results so an interrupted run resumes where it stopped.",
	SilenceUsage: true,
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
