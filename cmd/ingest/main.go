// Command ingest downloads numerical weather model runs and writes their
// variables into the time-partitioned grid store.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("ingest failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest gridded weather model runs into the time series store",
		Long: "Ingest downloads a model run once it is published, validates its grid, " +
			"and writes every variable into per-location time series partitions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newReadCmd(), newGenFixtureCmd(), newVerifyCmd(), newDomainsCmd())
	return root
}
