package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultline/cashops/internal/domain"
)

func newReconcileCmd() *cobra.Command {
	var snapshotID string
	var amountTolerance, tier2MinConfidence, tier3MinConfidence float64
	var dateWindowDays int
	var autoApplyTier1, autoApplyTier2 bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run the matching engine over a snapshot's unreconciled transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()
			ctx := context.Background()

			snap, err := a.canonical.GetSnapshot(ctx, snapshotID)
			if err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}
			entity, err := a.canonical.GetEntity(ctx, snap.EntityID)
			if err != nil {
				return fmt.Errorf("load entity: %w", err)
			}

			policy := domain.DefaultMatchingPolicy(entity.ID, entity.BaseCurrency)
			policy.AmountTolerance = amountTolerance
			policy.DateWindowDays = dateWindowDays
			policy.Tier2MinConfidence = tier2MinConfidence
			policy.Tier3MinConfidence = tier3MinConfidence
			policy.AutoApplyTier1 = autoApplyTier1
			policy.AutoApplyTier2 = autoApplyTier2

			result, err := a.matching.Run(ctx, snapshotID, policy)
			if err != nil {
				return err
			}
			fmt.Printf("processed=%d auto_applied=%d suggested_pending=%d manual_queued=%d\n",
				result.TransactionsProcessed, result.AutoApplied, result.SuggestedPending, result.ManualQueued)
			for _, e := range result.Errors {
				fmt.Printf("error: %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "target snapshot id")
	cmd.Flags().Float64Var(&amountTolerance, "amount-tolerance", 0.01, "fractional amount tolerance")
	cmd.Flags().IntVar(&dateWindowDays, "date-window-days", 5, "date proximity window in days")
	cmd.Flags().Float64Var(&tier2MinConfidence, "tier2-min-confidence", 0.80, "minimum confidence for a Tier-2 (rule) match")
	cmd.Flags().Float64Var(&tier3MinConfidence, "tier3-min-confidence", 0.60, "minimum confidence for a Tier-3 (suggested) match")
	cmd.Flags().BoolVar(&autoApplyTier1, "auto-apply-tier1", true, "auto-apply deterministic Tier-1 matches")
	cmd.Flags().BoolVar(&autoApplyTier2, "auto-apply-tier2", false, "auto-apply rule-based Tier-2 matches")
	_ = cmd.MarkFlagRequired("snapshot-id")

	cmd.AddCommand(newApproveCmd(), newRejectCmd())
	return cmd
}

func newApproveCmd() *cobra.Command {
	var snapshotID, allocationID string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a PENDING_APPROVAL (Tier-3 suggested) allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()
			return a.matching.Approve(context.Background(), snapshotID, allocationID)
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "snapshot id")
	cmd.Flags().StringVar(&allocationID, "allocation-id", "", "allocation id")
	_ = cmd.MarkFlagRequired("snapshot-id")
	_ = cmd.MarkFlagRequired("allocation-id")
	return cmd
}

func newRejectCmd() *cobra.Command {
	var snapshotID, allocationID string
	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject a PENDING_APPROVAL allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()
			return a.matching.Reject(context.Background(), snapshotID, allocationID)
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "snapshot id")
	cmd.Flags().StringVar(&allocationID, "allocation-id", "", "allocation id")
	_ = cmd.MarkFlagRequired("snapshot-id")
	_ = cmd.MarkFlagRequired("allocation-id")
	return cmd
}
