package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vaultline/cashops/internal/domain"
)

func newInitCmd() *cobra.Command {
	var name, baseCurrency string
	var paymentRunDay int
	var openingBalance, minCashThreshold float64
	var entityID string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an entity and its first DRAFT snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()
			ctx := context.Background()

			if entityID == "" {
				entityID = uuid.NewString()
			}
			entity := &domain.Entity{
				ID:            entityID,
				Name:          name,
				BaseCurrency:  baseCurrency,
				PaymentRunDay: paymentRunDay,
			}
			if err := entity.Validate(); err != nil {
				return err
			}
			if err := a.canonical.CreateEntity(ctx, entity); err != nil {
				return fmt.Errorf("create entity: %w", err)
			}

			snap := &domain.Snapshot{
				ID:                 uuid.NewString(),
				EntityID:           entity.ID,
				Status:             domain.SnapshotDraft,
				OpeningBankBalance: decimal.NewFromFloat(openingBalance),
				MinCashThreshold:   decimal.NewFromFloat(minCashThreshold),
			}
			if err := a.canonical.CreateSnapshot(ctx, snap); err != nil {
				return fmt.Errorf("create snapshot: %w", err)
			}

			fmt.Printf("entity_id=%s snapshot_id=%s status=%s\n", entity.ID, snap.ID, snap.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id to assign (random if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "entity display name")
	cmd.Flags().StringVar(&baseCurrency, "base-currency", "EUR", "entity base currency (3-letter code)")
	cmd.Flags().IntVar(&paymentRunDay, "payment-run-day", 4, "weekday (0=Sun..6=Sat) AP disbursements run on")
	cmd.Flags().Float64Var(&openingBalance, "opening-balance", 0, "opening bank balance for the new snapshot")
	cmd.Flags().Float64Var(&minCashThreshold, "min-cash-threshold", 0, "minimum cash threshold for the new snapshot")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
