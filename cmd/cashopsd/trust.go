package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/trust"
)

func newTrustCmd() *cobra.Command {
	var snapshotID string
	var missingFXPct, unknownCashPct, dataFreshnessHours float64
	var requireNoCritical bool

	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Generate the trust report and evaluate lock-gate eligibility for a snapshot",
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

			run, err := a.invariants.RunAll(ctx, snapshotID, "cli-trust")
			if err != nil {
				return fmt.Errorf("invariants: %w", err)
			}

			report, err := a.trust.Generate(ctx, snapshotID, thresholds, run)
			if err != nil {
				return err
			}
			printTrustReport(report)
			return nil
		},
	}
	registerThresholdFlags(cmd, &missingFXPct, &unknownCashPct, &dataFreshnessHours, &requireNoCritical)
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "target snapshot id")
	_ = cmd.MarkFlagRequired("snapshot-id")
	return cmd
}

func registerThresholdFlags(cmd *cobra.Command, missingFXPct, unknownCashPct, dataFreshnessHours *float64, requireNoCritical *bool) {
	d := trust.DefaultThresholds()
	cmd.Flags().Float64Var(missingFXPct, "missing-fx-pct", d.MissingFXExposurePct, "max missing-FX exposure as a fraction of total")
	cmd.Flags().Float64Var(unknownCashPct, "unknown-cash-pct", d.UnknownCashPct, "max unknown-cash percentage")
	cmd.Flags().Float64Var(dataFreshnessHours, "data-freshness-hours", d.DataFreshnessHours, "max hours since the last connector sync")
	cmd.Flags().BoolVar(requireNoCritical, "require-no-critical", d.RequireNoCriticalFindings, "require zero open critical invariant findings")
}

func printTrustReport(report *domain.TrustReport) {
	fmt.Printf("trust_score=%.1f lock_eligible=%t\n", report.TrustScore, report.LockEligible)
	for _, m := range report.Metrics {
		fmt.Printf("  %-28s = %.4f %s\n", m.Key, m.Value, m.Unit)
	}
	for _, g := range report.GateFailures {
		fmt.Printf("  gate_failed: %s\n", g)
	}
}
