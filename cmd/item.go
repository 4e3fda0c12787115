package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/lifecare-cli/internal/model"
	"github.com/sells-group/lifecare-cli/internal/store"
	"github.com/sells-group/lifecare-cli/internal/workflow"
)

var (
	itemCategory        string
	itemStatus          string
	itemNotes           string
	itemUnitCost        float64
	itemExpectedVersion int64
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Review individual research items",
}

var itemListCmd = &cobra.Command{
	Use:   "list <plan-id>",
	Short: "List a plan's items, optionally filtered by category or status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter store.ItemFilter
		if itemCategory != "" {
			c, ok := model.ParseCategory(itemCategory)
			if !ok {
				return model.NewValidationError("category", "unknown category %q", itemCategory)
			}
			filter.Category = c
		}
		if itemStatus != "" {
			s := model.ApprovalStatus(itemStatus)
			if !s.Valid() {
				return model.NewValidationError("status", "unknown status %q", itemStatus)
			}
			filter.Status = s
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		items, err := env.Store.ListItems(ctx, args[0], filter)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), items)
	},
}

var itemShowCmd = &cobra.Command{
	Use:   "show <plan-id> <item-id>",
	Short: "Print one item with its projection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		item, err := env.Store.GetItem(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), item)
	},
}

var itemStatusCmd = &cobra.Command{
	Use:   "status <plan-id> <item-id>",
	Short: "Approve, reject or flag an item for review",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.SetStatus(ctx, workflow.StatusChange{
			PlanID:          args[0],
			ItemID:          args[1],
			Status:          model.ApprovalStatus(itemStatus),
			Actor:           actor,
			Notes:           itemNotes,
			ExpectedVersion: itemExpectedVersion,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var itemReopenCmd = &cobra.Command{
	Use:   "reopen <plan-id> <item-id>",
	Short: "Return an item to pending",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.Reopen(ctx, workflow.Reopen{
			PlanID:          args[0],
			ItemID:          args[1],
			Actor:           actor,
			Notes:           itemNotes,
			ExpectedVersion: itemExpectedVersion,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var itemEditCostCmd = &cobra.Command{
	Use:   "edit-cost <plan-id> <item-id>",
	Short: "Replace an item's unit cost and re-project it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.EditCost(ctx, workflow.CostEdit{
			PlanID:          args[0],
			ItemID:          args[1],
			NewUnitCost:     itemUnitCost,
			Actor:           actor,
			ExpectedVersion: itemExpectedVersion,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var itemNotesCmd = &cobra.Command{
	Use:   "notes <plan-id> <item-id>",
	Short: "Replace an item's reviewer notes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.EditNotes(ctx, workflow.NotesEdit{
			PlanID:          args[0],
			ItemID:          args[1],
			Notes:           itemNotes,
			Actor:           actor,
			ExpectedVersion: itemExpectedVersion,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var itemAuditCmd = &cobra.Command{
	Use:   "audit <plan-id> <item-id>",
	Short: "Print an item's audit log in version order",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListAudit(ctx, args[0], store.AuditFilter{ItemID: args[1]})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), entries)
	},
}

func init() {
	itemListCmd.Flags().StringVar(&itemCategory, "category", "", "filter by category")
	itemListCmd.Flags().StringVar(&itemStatus, "status", "", "filter by approval status")

	itemStatusCmd.Flags().StringVar(&itemStatus, "status", "", "approved, rejected or needs_review (required)")
	_ = itemStatusCmd.MarkFlagRequired("status")

	for _, c := range []*cobra.Command{itemStatusCmd, itemReopenCmd, itemNotesCmd} {
		c.Flags().StringVar(&itemNotes, "notes", "", "reviewer notes")
	}
	_ = itemNotesCmd.MarkFlagRequired("notes")

	itemEditCostCmd.Flags().Float64Var(&itemUnitCost, "cost", 0, "new unit cost (required)")
	_ = itemEditCostCmd.MarkFlagRequired("cost")

	for _, c := range []*cobra.Command{itemStatusCmd, itemReopenCmd, itemEditCostCmd, itemNotesCmd} {
		c.Flags().Int64Var(&itemExpectedVersion, "expected-version", 0, "fail if the item changed since this version (0 uses the current version)")
	}

	itemCmd.AddCommand(itemListCmd, itemShowCmd, itemStatusCmd, itemReopenCmd, itemEditCostCmd, itemNotesCmd, itemAuditCmd)
	rootCmd.AddCommand(itemCmd)
}
