package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lifecare-cli/internal/config"
)

var (
	cfg   *config.Config
	actor string
)

var rootCmd = &cobra.Command{
	Use:   "lifecare",
	Short: "Life care plan cost projection and review workflow",
	Long:  "Ingests researched care items, projects their lifetime cost, and tracks reviewer approval through to a signed, finalized life care plan.",
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
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&actor, "actor", os.Getenv("LIFECARE_ACTOR"), "reviewer recorded in the audit log (env LIFECARE_ACTOR)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
