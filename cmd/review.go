package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/lifecare-cli/internal/model"
	"github.com/sells-group/lifecare-cli/internal/workflow"
)

var (
	bulkCategory  string
	bulkThreshold float64
	signature     string

	recalcInflation float64
	recalcDiscount  float64
	recalcGeo       float64
	recalcYears     int
	recalcLocation  string
)

var bulkApproveCmd = &cobra.Command{
	Use:   "bulk-approve <plan-id>",
	Short: "Approve every pending, sourced item of a category above the confidence threshold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		c, ok := model.ParseCategory(bulkCategory)
		if !ok {
			return model.NewValidationError("category", "unknown category %q", bulkCategory)
		}
		req := workflow.BulkApprove{PlanID: args[0], Category: c, Actor: actor}
		if cmd.Flags().Changed("threshold") {
			req.ConfidenceThreshold = &bulkThreshold
		}

		res, err := env.Engine.BulkApproveCategory(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress <plan-id>",
	Short: "Report review progress and finalization readiness",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Engine.CompletionStatus(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), c)
	},
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize <plan-id>",
	Short: "Sign off a plan once every item is approved or rejected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		plan, err := env.Engine.Finalize(ctx, workflow.Finalize{PlanID: args[0], Signature: signature, Actor: actor})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), plan)
	},
}

var recalcCmd = &cobra.Command{
	Use:   "recalc <plan-id>",
	Short: "Re-project every item, optionally with new plan parameters",
	Long:  "Without parameter flags the stored plan parameters are reused. With any flag set, unset parameters keep their stored values.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		req := workflow.RecalcRequest{PlanID: args[0], Actor: actor}
		f := cmd.Flags()
		if f.Changed("inflation") || f.Changed("discount") || f.Changed("geo-factor") || f.Changed("years") || f.Changed("location") {
			plan, err := env.Store.GetPlan(ctx, args[0])
			if err != nil {
				return err
			}
			params := plan.Params
			if f.Changed("location") {
				params = env.Engine.Calculator().Params(recalcLocation)
				params.InflationRate = plan.Params.InflationRate
				params.DiscountRate = plan.Params.DiscountRate
				params.DurationYears = plan.Params.DurationYears
			}
			if f.Changed("inflation") {
				params.InflationRate = recalcInflation
			}
			if f.Changed("discount") {
				params.DiscountRate = recalcDiscount
			}
			if f.Changed("geo-factor") {
				params.GeographicFactor = recalcGeo
			}
			if f.Changed("years") {
				params.DurationYears = recalcYears
			}
			req.Params = &params
		}

		res, err := env.Engine.RecalculatePlan(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	bulkApproveCmd.Flags().StringVar(&bulkCategory, "category", "", "category to approve (required)")
	bulkApproveCmd.Flags().Float64Var(&bulkThreshold, "threshold", 0, "minimum confidence score (default from config)")
	_ = bulkApproveCmd.MarkFlagRequired("category")

	finalizeCmd.Flags().StringVar(&signature, "signature", "", "physician signature (required)")
	_ = finalizeCmd.MarkFlagRequired("signature")

	recalcCmd.Flags().Float64Var(&recalcInflation, "inflation", 0, "annual inflation rate")
	recalcCmd.Flags().Float64Var(&recalcDiscount, "discount", 0, "annual discount rate")
	recalcCmd.Flags().Float64Var(&recalcGeo, "geo-factor", 0, "geographic cost factor")
	recalcCmd.Flags().IntVar(&recalcYears, "years", 0, "projection duration in years")
	recalcCmd.Flags().StringVar(&recalcLocation, "location", "", "resolve the geographic factor for a new patient location")

	rootCmd.AddCommand(bulkApproveCmd, progressCmd, finalizeCmd, recalcCmd)
}
