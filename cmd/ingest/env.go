package main

import (
	"io"
	"log/slog"

	"github.com/couchcryptid/forecast-grid-etl/internal/config"
	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
	"github.com/couchcryptid/forecast-grid-etl/internal/observability"
)

// env is the process-wide setup shared by all subcommands.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	catalog *config.Catalog
}

// loadEnv reads the configuration and domain catalog. newLogger builds the
// process logger: observability.NewLogger for the service, cliLogger otherwise.
func loadEnv(newLogger func(*config.Config) *slog.Logger) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	catalog, err := config.LoadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, catalog: catalog}, nil
}

// cliLogger keeps logs off stdout for commands that print data there.
func cliLogger(w io.Writer) func(*config.Config) *slog.Logger {
	return func(cfg *config.Config) *slog.Logger {
		return observability.NewCLILogger(cfg, w)
	}
}

func (e *env) grid(name string) (domain.Grid, error) {
	return e.catalog.Domain(name)
}

// runSelector builds a RunSelector from the --run and --past-days flags.
// A negative hour means "latest".
func runSelector(hour, pastDays int) domain.RunSelector {
	sel := domain.RunSelector{PastDays: pastDays}
	if hour >= 0 {
		sel.Hour = &hour
	}
	return sel
}
