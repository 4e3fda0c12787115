package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lifecare-cli/internal/ingest"
)

var (
	ingestSheet    string
	ingestSkipRows int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <plan-id> <file>",
	Short: "Load researched items from a JSON, CSV, TSV or XLSX file",
	Long:  "Validates each record, projects admissible records with the plan parameters and inserts them as pending items. Rejected records are listed with their errors.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := ingest.XLSXOptions{SheetName: cfg.Ingest.Sheet, SkipRows: cfg.Ingest.SkipRows}
		if cmd.Flags().Changed("sheet") {
			opts.SheetName = ingestSheet
		}
		if cmd.Flags().Changed("skip-rows") {
			opts.SkipRows = ingestSkipRows
		}

		records, err := ingest.DecodeFile(ctx, args[1], opts)
		if err != nil {
			return err
		}
		zap.L().Info("ingest: decoded file", zap.String("path", args[1]), zap.Int("records", len(records)))

		report, err := env.Engine.Ingest(ctx, args[0], records)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSheet, "sheet", "", "XLSX sheet name (default from config, else the first sheet)")
	ingestCmd.Flags().IntVar(&ingestSkipRows, "skip-rows", 0, "XLSX rows above the header row")
	rootCmd.AddCommand(ingestCmd)
}
