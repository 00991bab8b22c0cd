package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newInvariantsCmd() *cobra.Command {
	var snapshotID, actor string

	cmd := &cobra.Command{
		Use:   "invariants",
		Short: "Run the seven-check invariant engine over a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()

			run, err := a.invariants.RunAll(context.Background(), snapshotID, actor)
			if err != nil {
				return err
			}
			fmt.Printf("run_id=%s status=%s total=%d passed=%d failed=%d warnings=%d skipped=%d critical_failures=%d\n",
				run.ID, run.Status, run.Summary.TotalChecks, run.Summary.Passed, run.Summary.Failed,
				run.Summary.Warnings, run.Summary.Skipped, run.Summary.CriticalFailures)
			for _, r := range run.Results {
				fmt.Printf("  [%-6s] %-28s severity=%-8s %s\n", r.Status, r.Name, r.Severity, r.ProofString)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "target snapshot id")
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded as triggering the run")
	_ = cmd.MarkFlagRequired("snapshot-id")
	return cmd
}
