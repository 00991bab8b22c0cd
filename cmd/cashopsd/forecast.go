package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newForecastCmd() *cobra.Command {
	var snapshotID string
	var diagnostics bool

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Run the probabilistic payment-date forecast over a snapshot's invoices",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()
			ctx := context.Background()

			result, err := a.forecast.Run(ctx, snapshotID)
			if err != nil {
				return err
			}
			fmt.Printf("segments_analyzed=%d invoices_forecasted=%d calibration_records=%d\n",
				result.SegmentsAnalyzed, result.InvoicesForecasted, result.CalibrationStats)

			if diagnostics {
				diag, err := a.forecast.Diagnostics(ctx, snapshotID)
				if err != nil {
					return fmt.Errorf("diagnostics: %w", err)
				}
				fmt.Printf("total_segments=%d sufficient=%d insufficient=%d calibrated=%d\n",
					diag.TotalSegments, diag.SegmentsWithSufficientData, diag.SegmentsWithInsufficientData, diag.CalibratedSegments)
				if diag.AverageCoverageP25P75 != nil {
					fmt.Printf("average_coverage_p25_p75=%.4f\n", *diag.AverageCoverageP25P75)
				}
				if diag.AverageCalibrationError != nil {
					fmt.Printf("average_calibration_error=%.4f\n", *diag.AverageCalibrationError)
				}
				for _, w := range diag.DriftWarnings {
					fmt.Printf("drift_warning: segment=%s issue=%s value=%.4f expected=%.4f\n", w.Segment, w.Issue, w.Value, w.Expected)
				}
				for _, s := range diag.InsufficientDataSegments {
					fmt.Printf("insufficient_segment: level=%s key=%s sample_size=%d\n", s.Level, s.Key, s.SampleSize)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "target snapshot id")
	cmd.Flags().BoolVar(&diagnostics, "diagnostics", false, "also print the forecast diagnostics report")
	_ = cmd.MarkFlagRequired("snapshot-id")
	return cmd
}
