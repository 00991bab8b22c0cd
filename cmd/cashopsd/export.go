package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vaultline/cashops/internal/sdkclient"
	"github.com/vaultline/cashops/internal/trust"
)

// newExportCmd writes the exit-facing artifacts sdkclient reads back
// out — allocations, the cash calendar grid, an invariant run, and a
// trust report — as JSON files under --dir, playing the part of
// "some external transport" that sdkclient's contract-only Transport
// assumes already serializes these for it.
func newExportCmd() *cobra.Command {
	var snapshotID, dir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the allocations, calendar, invariant run and trust report artifacts for a snapshot to JSON files",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()
			ctx := context.Background()

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			allocs, err := a.canonical.ListAllocations(ctx, snapshotID)
			if err != nil {
				return fmt.Errorf("list allocations: %w", err)
			}
			if err := writeJSON(filepath.Join(dir, "allocations.json"), allocs); err != nil {
				return err
			}

			grid, err := a.calendar.Build13WeekGrid(ctx, snapshotID)
			if err != nil {
				return fmt.Errorf("build cash calendar: %w", err)
			}
			if err := writeJSON(filepath.Join(dir, "calendar.json"), grid); err != nil {
				return err
			}

			run, err := a.invariants.RunAll(ctx, snapshotID, "cli-export")
			if err != nil {
				return fmt.Errorf("run invariants: %w", err)
			}
			if err := writeJSON(filepath.Join(dir, "invariant-run.json"), run); err != nil {
				return err
			}

			report, err := a.trust.Generate(ctx, snapshotID, trust.DefaultThresholds(), run)
			if err != nil {
				return fmt.Errorf("generate trust report: %w", err)
			}
			if err := writeJSON(filepath.Join(dir, "trust-report.json"), report); err != nil {
				return err
			}

			fmt.Printf("wrote allocations.json, calendar.json, invariant-run.json, trust-report.json to %s\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "target snapshot id")
	cmd.Flags().StringVar(&dir, "dir", "./export", "output directory for the exit artifacts")
	_ = cmd.MarkFlagRequired("snapshot-id")
	return cmd
}

func writeJSON(path string, v interface{}) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

// newSDKShowCmd exercises sdkclient end-to-end against a directory of
// artifacts written by "export": a file-backed Transport stands in for
// whatever real transport an operator wires in production.
func newSDKShowCmd() *cobra.Command {
	var snapshotID, runID, dir, artifact string
	cmd := &cobra.Command{
		Use:   "sdk-show",
		Short: "Read an exit artifact back through sdkclient using a file-backed transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdkclient.New(sdkclient.WithTransport(fileTransport(dir)))
			ctx := context.Background()

			switch artifact {
			case "allocations":
				out, err := client.ListAllocations(ctx, snapshotID)
				if err != nil {
					return err
				}
				return printIndented(out)
			case "calendar":
				out, err := client.GetCashCalendar(ctx, snapshotID)
				if err != nil {
					return err
				}
				return printIndented(out)
			case "invariant-run":
				out, err := client.GetInvariantRun(ctx, runID)
				if err != nil {
					return err
				}
				return printIndented(out)
			case "trust-report":
				out, err := client.GetTrustReport(ctx, snapshotID)
				if err != nil {
					return err
				}
				return printIndented(out)
			default:
				return fmt.Errorf("unknown artifact %q: want allocations|calendar|invariant-run|trust-report", artifact)
			}
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "snapshot id (allocations, calendar, trust-report)")
	cmd.Flags().StringVar(&runID, "run-id", "", "invariant run id (invariant-run)")
	cmd.Flags().StringVar(&dir, "dir", "./export", "directory previously populated by export")
	cmd.Flags().StringVar(&artifact, "artifact", "trust-report", "artifact to fetch: allocations|calendar|invariant-run|trust-report")
	return cmd
}

// fileTransport maps sdkclient's artifact paths onto the flat files
// "export" writes; a real deployment would replace this with a call
// over whatever channel actually carries these bytes.
func fileTransport(dir string) sdkclient.Transport {
	return func(ctx context.Context, path string) ([]byte, error) {
		switch {
		case strings.HasSuffix(path, "/allocations"):
			return os.ReadFile(filepath.Join(dir, "allocations.json"))
		case strings.HasSuffix(path, "/calendar"):
			return os.ReadFile(filepath.Join(dir, "calendar.json"))
		case strings.Contains(path, "/invariant-runs/"):
			return os.ReadFile(filepath.Join(dir, "invariant-run.json"))
		case strings.HasSuffix(path, "/trust-report"):
			return os.ReadFile(filepath.Join(dir, "trust-report.json"))
		}
		return nil, fmt.Errorf("fileTransport: no artifact mapped for path %q", path)
	}
}

func printIndented(v interface{}) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}
