package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vaultline/cashops/internal/config"
)

var (
	flagPG    bool
	flagRedis bool
)

func main() {
	root := &cobra.Command{
		Use:   "cashopsd",
		Short: "Vaultline cash operations platform CLI",
		Long: "cashopsd drives ingestion, reconciliation, forecasting, invariant checks, " +
			"the 13-week cash calendar, and snapshot lock/trust workflows from the command line.",
	}
	root.PersistentFlags().BoolVar(&flagPG, "pg", false, "use the Postgres-backed canonical/lineage stores instead of in-memory")
	root.PersistentFlags().BoolVar(&flagRedis, "redis", false, "use the Redis-backed distributed lock manager instead of in-process")
	viper.AutomaticEnv()

	root.AddCommand(
		newInitCmd(),
		newSyncCmd(),
		newReconcileCmd(),
		newForecastCmd(),
		newInvariantsCmd(),
		newCalendarCmd(),
		newTrustCmd(),
		newLockCmd(),
		newServeCmd(),
		newExportCmd(),
		newSDKShowCmd(),
	)

	if err := root.Execute(); err != nil {
		fatalf("%v", err)
	}
}

func loadApp() *app {
	cfg := config.Load()
	a, err := newApp(cfg, flagPG, flagRedis)
	if err != nil {
		fatalf("wiring failed: %v", err)
	}
	return a
}
