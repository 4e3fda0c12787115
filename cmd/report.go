package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lifecare-cli/internal/aggregate"
)

var (
	reportFormat string
	reportOut    string
)

var summaryCmd = &cobra.Command{
	Use:   "summary <plan-id>",
	Short: "Print approved totals per category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := env.Engine.Summary(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), s)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <plan-id>",
	Short: "Export the plan report as JSON or Markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportFormat != "json" && reportFormat != "md" {
			return eris.Errorf("unknown report format %q (want json or md)", reportFormat)
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Engine.Report(ctx, args[0])
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if reportOut != "" {
			f, err := os.Create(reportOut)
			if err != nil {
				return eris.Wrap(err, "report: create output file")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		if reportFormat == "md" {
			if _, err := io.WriteString(w, aggregate.FormatReport(*rep)); err != nil {
				return eris.Wrap(err, "report: write markdown")
			}
		} else if err := printJSON(w, rep); err != nil {
			return eris.Wrap(err, "report: write json")
		}

		if reportOut != "" {
			zap.L().Info("report written", zap.String("path", reportOut), zap.String("format", reportFormat))
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "json", "output format: json or md")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(summaryCmd, reportCmd)
}
