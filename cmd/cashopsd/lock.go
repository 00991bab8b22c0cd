package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/trust"
	"github.com/vaultline/cashops/internal/workflow"
)

func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Drive the snapshot workflow's review and lock transitions",
	}
	cmd.AddCommand(newLockReadyCmd(), newLockApplyCmd())
	return cmd
}

func newLockReadyCmd() *cobra.Command {
	var snapshotID, actor, role string
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "Mark a DRAFT snapshot READY_FOR_REVIEW",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()
			return a.workflow.MarkReadyForReview(context.Background(), snapshotID, actor, domain.Role(role))
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "target snapshot id")
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor performing the transition")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleRegular), "actor role: REGULAR | LOCK_CAPABLE")
	_ = cmd.MarkFlagRequired("snapshot-id")
	return cmd
}

func newLockApplyCmd() *cobra.Command {
	var snapshotID, actor, reason string
	var missingFXPct, unknownCashPct, dataFreshnessHours float64
	var requireNoCritical bool
	var overrideUser, overrideEmail, overrideIP, overrideAck, overrideReason string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Evaluate lock gates and lock a READY_FOR_REVIEW snapshot, recording a CFO override if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()
			ctx := context.Background()

			thresholds := trust.DefaultThresholds()
			if cmd.Flags().Changed("missing-fx-pct") {
				thresholds.MissingFXExposurePct = missingFXPct
			}
			if cmd.Flags().Changed("unknown-cash-pct") {
				thresholds.UnknownCashPct = unknownCashPct
			}
			if cmd.Flags().Changed("data-freshness-hours") {
				thresholds.DataFreshnessHours = dataFreshnessHours
			}
			if cmd.Flags().Changed("require-no-critical") {
				thresholds.RequireNoCriticalFindings = requireNoCritical
			}

			run, err := a.invariants.RunAll(ctx, snapshotID, actor)
			if err != nil {
				return fmt.Errorf("invariants: %w", err)
			}

			var override *domain.LockGateOverrideLog
			if overrideReason != "" || overrideAck != "" {
				override = &domain.LockGateOverrideLog{
					User:           overrideUser,
					Role:           domain.RoleLockCapable,
					Email:          overrideEmail,
					IP:             overrideIP,
					Acknowledgment: overrideAck,
					Reason:         overrideReason,
				}
			}

			attempt, err := a.trust.AttemptLock(ctx, snapshotID, thresholds, run, override)
			if err != nil {
				return fmt.Errorf("attempt lock: %w", err)
			}
			printTrustReport(attempt.Report)
			if !attempt.Eligible {
				return fmt.Errorf("snapshot is not lock-eligible and no override was supplied")
			}

			snap, err := a.canonical.GetSnapshot(ctx, snapshotID)
			if err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}
			entity, err := a.canonical.GetEntity(ctx, snap.EntityID)
			if err != nil {
				return fmt.Errorf("load entity: %w", err)
			}
			policy := domain.DefaultMatchingPolicy(entity.ID, entity.BaseCurrency)

			decision := workflow.LockDecision{GatesPassed: attempt.Report.LockEligible, Override: attempt.Override}
			if err := a.workflow.Lock(ctx, snapshotID, actor, domain.RoleLockCapable, reason, decision, []domain.MatchingPolicy{policy}); err != nil {
				return err
			}
			fmt.Printf("snapshot_id=%s status=LOCKED\n", snapshotID)
			return nil
		},
	}
	registerThresholdFlags(cmd, &missingFXPct, &unknownCashPct, &dataFreshnessHours, &requireNoCritical)
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "target snapshot id")
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor locking the snapshot (must be lock-capable)")
	cmd.Flags().StringVar(&reason, "reason", "", "lock reason recorded on the snapshot")
	cmd.Flags().StringVar(&overrideUser, "override-user", "", "CFO override: user name")
	cmd.Flags().StringVar(&overrideEmail, "override-email", "", "CFO override: email")
	cmd.Flags().StringVar(&overrideIP, "override-ip", "", "CFO override: source IP")
	cmd.Flags().StringVar(&overrideAck, "override-acknowledgment", "", "CFO override: acknowledgment text (>=20 chars)")
	cmd.Flags().StringVar(&overrideReason, "override-reason", "", "CFO override: reason")
	_ = cmd.MarkFlagRequired("snapshot-id")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
