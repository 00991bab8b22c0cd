package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCalendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Cash calendar: project recurring outflows and render the 13-week grid",
	}
	cmd.AddCommand(newCalendarProjectCmd(), newCalendarGridCmd())
	return cmd
}

func newCalendarProjectCmd() *cobra.Command {
	var entityID, snapshotID string
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Materialize recurring outflow templates into the next 14 weeks of outflow items",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()

			created, err := a.calendar.ProjectRecurringOutflows(context.Background(), entityID, snapshotID)
			if err != nil {
				return err
			}
			fmt.Printf("outflow_items_created=%d\n", created)
			return nil
		},
	}
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id owning the recurring outflow templates")
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "target snapshot id")
	_ = cmd.MarkFlagRequired("entity-id")
	_ = cmd.MarkFlagRequired("snapshot-id")
	return cmd
}

func newCalendarGridCmd() *cobra.Command {
	var snapshotID string
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Render the combined 13-week opening/closing cash grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()

			grid, err := a.calendar.Build13WeekGrid(context.Background(), snapshotID)
			if err != nil {
				return err
			}
			fmt.Printf("opening_cash=%s min_threshold=%s min_projected=%s total_inflow_4w=%s total_outflow_4w=%s\n",
				grid.OpeningCash, grid.MinThreshold, grid.MinProjected, grid.TotalInflow4W, grid.TotalOutflow4W)
			for _, w := range grid.Weeks {
				flag := ""
				if w.IsCritical {
					flag = " CRITICAL"
				}
				fmt.Printf("  %-4s %s opening=%s inflow_p50=%s outflow=%s closing=%s%s\n",
					w.WeekLabel, w.StartDate.Format("2006-01-02"), w.OpeningCash, w.InflowP50, w.OutflowTotal, w.ClosingCash, flag)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "target snapshot id")
	_ = cmd.MarkFlagRequired("snapshot-id")
	return cmd
}
