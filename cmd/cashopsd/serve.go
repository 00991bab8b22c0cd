package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultline/cashops/internal/metrics"
)

// newServeCmd runs the long-lived pieces of cashopsd that a one-shot
// CLI invocation has no use for: the connector health poller and a
// Prometheus /metrics endpoint for a scrape target. Everything else in
// this command tree is a single operation against the stores and exits;
// serve is the only subcommand meant to keep running.
func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the connector health poller and Prometheus metrics endpoint until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			defer a.Close()

			a.health.Start()
			defer a.health.Stop()

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: addr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					fatalf("metrics server: %v", err)
				}
			}()
			fmt.Printf("serving metrics on %s/metrics, polling connector health\n", addr)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			return srv.Close()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "address the metrics endpoint listens on")
	return cmd
}
