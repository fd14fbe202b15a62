package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/forecast-grid-etl/internal/acquire"
	"github.com/couchcryptid/forecast-grid-etl/internal/adapter/gridstore"
	"github.com/couchcryptid/forecast-grid-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/forecast-grid-etl/internal/adapter/kafka"
	"github.com/couchcryptid/forecast-grid-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/forecast-grid-etl/internal/adapter/source"
	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
	"github.com/couchcryptid/forecast-grid-etl/internal/observability"
	"github.com/couchcryptid/forecast-grid-etl/internal/pipeline"
)

type runOptions struct {
	hour          int
	pastDays      int
	skipExisting  bool
	createNetCDF  bool
	onlyVariables []string
	follow        bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <domain>",
		Short: "Download one model run and write its variables to the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(observability.NewLogger)
			if err != nil {
				return err
			}
			return runIngest(cmd.Context(), e, args[0], opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.hour, "run", -1, "run hour (UTC) of today; latest published run when unset")
	f.IntVar(&opts.pastDays, "past-days", 0, "shift the selected run this many days back")
	f.BoolVar(&opts.skipExisting, "skip-existing", false, "reuse an already downloaded dataset")
	f.BoolVar(&opts.createNetCDF, "create-netcdf", false, "also write each transformed variable to a NetCDF file")
	f.StringSliceVar(&opts.onlyVariables, "only-variables", nil, "comma separated subset of variables to ingest")
	f.BoolVar(&opts.follow, "follow", false, "keep ingesting every new run until interrupted")
	return cmd
}

func runIngest(ctx context.Context, e *env, name string, opts runOptions) error {
	grid, err := e.grid(name)
	if err != nil {
		return err
	}
	req := pipeline.Request{Run: runSelector(opts.hour, opts.pastDays), Variables: trimAll(opts.onlyVariables)}
	if err := validateRequest(grid, req); err != nil {
		return err
	}
	metrics := observability.NewMetrics()

	p, closeFn, err := buildPipeline(e, grid, metrics, opts)
	if err != nil {
		return err
	}
	defer closeFn()

	if e.cfg.HTTPAddr == "" {
		return ingestLoop(ctx, e, grid, p, req, opts.follow)
	}

	srv := httpadapter.NewServer(e.cfg.HTTPAddr, p, e.logger, p)
	srvCtx, stopServer := context.WithCancel(ctx)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Serve(srvCtx, e.cfg.ShutdownTimeout) }()

	runErr := ingestLoop(ctx, e, grid, p, req, opts.follow)
	stopServer()
	if err := <-srvErr; err != nil {
		e.logger.Error("http server error", "error", err)
	}
	return runErr
}

func buildPipeline(e *env, grid domain.Grid, metrics *observability.Metrics, opts runOptions) (*pipeline.Pipeline, func(), error) {
	s3, err := source.NewS3Downloader(e.cfg.AWSRegion)
	if err != nil {
		return nil, nil, err
	}
	opener := source.NewOpener(grid.DownloadPath, e.logger,
		source.WithHTTP(source.NewHTTPDownloader(e.cfg.HTTPTimeout)),
		source.WithS3(s3),
		source.SkipExisting(opts.skipExisting),
	)
	fetcher := acquire.New(opener, e.logger, metrics,
		acquire.WithBackOff(backoff.NewConstantBackOff(e.cfg.RetryInterval)),
		acquire.WithLogInterval(e.cfg.LogInterval),
	)

	pipeOpts := []pipeline.Option{pipeline.WithAcquireTimeout(e.cfg.AcquireTimeout)}
	if opts.createNetCDF {
		pipeOpts = append(pipeOpts, pipeline.WithExporter(netcdf.NewExporter(grid.DownloadPath)))
	}
	closeFn := func() {}
	if e.cfg.NotificationsEnabled() {
		notifier := kafkaadapter.NewNotifier(e.cfg, e.logger)
		pipeOpts = append(pipeOpts, pipeline.WithNotifier(notifier))
		closeFn = func() {
			if err := notifier.Close(); err != nil {
				e.logger.Error("kafka notifier close error", "error", err)
			}
		}
		e.logger.Info("series update notifications enabled", "topic", e.cfg.KafkaTopic)
	}

	store := gridstore.New(grid.FileLength, e.logger)
	return pipeline.New(grid, fetcher, store, e.logger, metrics, pipeOpts...), closeFn, nil
}

// validateRequest reports argument errors before any download starts.
func validateRequest(grid domain.Grid, req pipeline.Request) error {
	if _, err := grid.SelectVariables(req.Variables); err != nil {
		return err
	}
	_, err := domain.SelectRun(grid, req.Run)
	return err
}

// ingestLoop runs req once or, when following, once per published run.
// In follow mode a failed run is logged and the next run is awaited;
// argument errors end the loop.
func ingestLoop(ctx context.Context, e *env, grid domain.Grid, p *pipeline.Pipeline, req pipeline.Request, follow bool) error {
	if !follow {
		return p.Run(ctx, req)
	}

	clock := clockwork.NewRealClock()
	interval := time.Duration(grid.UpdateIntervalHours) * time.Hour
	for {
		if err := p.Run(ctx, req); err != nil {
			if errors.Is(err, domain.ErrInvalidArgument) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("run failed", "domain", grid.Name, "error", err)
		}
		// Follow mode always tracks the latest run.
		req.Run = domain.RunSelector{}

		next := clock.Now().Add(-grid.AvailabilityDelay).Truncate(interval).Add(interval + grid.AvailabilityDelay)
		e.logger.Info("waiting for next run", "domain", grid.Name, "at", next.UTC().Format(time.RFC3339))
		select {
		case <-ctx.Done():
			return nil
		case <-clock.After(next.Sub(clock.Now())):
		}
	}
}

func trimAll(names []string) []string {
	var out []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func newDomainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List the configured model domains and their variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range e.catalog.Names() {
				grid, _ := e.grid(name)
				fmt.Fprintf(out, "%s\t%dx%d\tevery %dh\n", grid.Name, grid.Nx, grid.Ny, grid.UpdateIntervalHours)
				for _, v := range grid.Variables {
					fmt.Fprintf(out, "  %s\t<- %s\n", v.OutputName, v.RemoteName)
				}
			}
			return nil
		},
	}
}
