package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/lifecare-cli/internal/store"
	"github.com/sells-group/lifecare-cli/internal/workflow"
)

var (
	planCaseID   string
	planLocation string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Create, inspect and delete life care plans",
}

var planCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a draft plan for a case",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		plan, err := env.Engine.CreatePlan(ctx, workflow.NewPlan{CaseID: planCaseID, Location: planLocation})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), plan)
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Print a plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		plan, err := env.Store.GetPlan(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), plan)
	},
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		plans, err := env.Store.ListPlans(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), plans)
	},
}

var planDeleteCmd = &cobra.Command{
	Use:   "delete <plan-id>",
	Short: "Delete a plan with its items and audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Engine.DeletePlan(ctx, args[0])
	},
}

var planAuditCmd = &cobra.Command{
	Use:   "audit <plan-id>",
	Short: "Print the audit log of every item in a plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListAudit(ctx, args[0], store.AuditFilter{})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), entries)
	},
}

func init() {
	planCreateCmd.Flags().StringVar(&planCaseID, "case-id", "", "case identifier (required)")
	planCreateCmd.Flags().StringVar(&planLocation, "location", "", "patient ZIP, city or state used for the geographic factor")
	_ = planCreateCmd.MarkFlagRequired("case-id")

	planCmd.AddCommand(planCreateCmd, planShowCmd, planListCmd, planDeleteCmd, planAuditCmd)
	rootCmd.AddCommand(planCmd)
}
