package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
	"github.com/couchcryptid/forecast-grid-etl/internal/observability"
)

// Acquirer opens the dataset of a run, waiting for it until deadline.
type Acquirer interface {
	Acquire(ctx context.Context, path string, deadline time.Time) (domain.Dataset, error)
}

// Store is the time-partitioned array store the pipeline writes into.
type Store interface {
	StaticExists(path string) bool
	WriteStatic(path string, shape, chunk []int, scaleFactor float32, data []float32) error
	UpdateTimeOriented(base, name string, tm domain.TimeMajor, ring domain.RingTimeRange,
		skipFirst, skipLast, smoothing int, scaleFactor float32) error
}

// Notifier announces written series. Publishing is best effort.
type Notifier interface {
	Publish(ctx context.Context, update domain.SeriesUpdate) error
}

// Exporter writes a diagnostic copy of a transformed variable.
type Exporter interface {
	Export(grid domain.Grid, v domain.VariableSpec, run time.Time, sm domain.SpaceMajor) error
}

// Request selects what a single Run ingests.
type Request struct {
	Run domain.RunSelector
	// Variables restricts the run to the named variables, in order. Empty
	// means all variables of the grid.
	Variables []string
}

// Pipeline ingests model runs of one grid: acquire, validate, mask, then
// transform and write each variable in turn.
type Pipeline struct {
	grid           domain.Grid
	acquirer       Acquirer
	store          Store
	transformer    *VariableTransformer
	writer         *RingWriter
	notifier       Notifier
	clock          clockwork.Clock
	acquireTimeout time.Duration
	logger         *slog.Logger
	metrics        *observability.Metrics
	ready          atomic.Bool

	mu     sync.Mutex
	status domain.RunStatus
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNotifier publishes a SeriesUpdate after every written variable.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithExporter writes a diagnostic file for every transformed variable.
func WithExporter(e Exporter) Option {
	return func(p *Pipeline) { p.transformer.exporter = e }
}

// WithClock sets the clock used for the acquisition deadline and durations.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithAcquireTimeout bounds how long a run's dataset is waited for.
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.acquireTimeout = d }
}

// New creates a Pipeline for grid.
func New(grid domain.Grid, a Acquirer, s Store, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		grid:           grid,
		acquirer:       a,
		store:          s,
		transformer:    NewVariableTransformer(grid, logger),
		writer:         NewRingWriter(s, grid.StorePath),
		clock:          clockwork.NewRealClock(),
		acquireTimeout: 3 * time.Hour,
		logger:         logger.With("domain", grid.Name),
		metrics:        metrics,
		status:         domain.RunStatus{Domain: grid.Name},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once a run has been ingested successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no run has been ingested yet")
	}
	return nil
}

// Ready reports whether a run has been ingested successfully.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// Status returns the outcome of the most recent run.
func (p *Pipeline) Status() domain.RunStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.status
	st.Ready = p.ready.Load()
	return st
}

func (p *Pipeline) record(run time.Time, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastRun = run
	if err != nil {
		p.status.LastError = err.Error()
		return
	}
	p.status.LastSuccess = run
	p.status.LastError = ""
}

// Run ingests one model run. Argument errors are reported before any I/O.
// Any failure aborts the run; variables already written stay written.
func (p *Pipeline) Run(ctx context.Context, req Request) error {
	vars, err := p.grid.SelectVariables(req.Variables)
	if err != nil {
		return err
	}
	run, err := domain.SelectRun(p.grid, req.Run)
	if err != nil {
		return err
	}

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	logger := p.logger.With("run", run.Format(time.RFC3339))
	logger.Info("run started", "variables", len(vars))

	if err := p.ingest(ctx, run, vars, logger); err != nil {
		p.metrics.RunsTotal.WithLabelValues(p.grid.Name, "error").Inc()
		p.record(run, err)
		return err
	}
	p.record(run, nil)

	p.metrics.RunsTotal.WithLabelValues(p.grid.Name, "success").Inc()
	p.metrics.LastSuccessTime.WithLabelValues(p.grid.Name).Set(float64(run.Unix()))
	p.ready.Store(true)
	logger.Info("run completed")
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, run time.Time, vars []domain.VariableSpec, logger *slog.Logger) error {
	deadline := p.clock.Now().Add(p.acquireTimeout)
	ds, err := p.acquirer.Acquire(ctx, p.grid.RemoteURL(run), deadline)
	if err != nil {
		return err
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Warn("close dataset failed", "error", err)
		}
	}()

	dims, err := ds.Dimensions()
	if err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	nTime, err := domain.ValidateSchema(dims, p.grid)
	if err != nil {
		return err
	}
	ring := domain.NewRingTimeRange(run, p.grid.TimeStepSeconds, nTime)
	logger.Info("dataset validated", "time_steps", nTime, "ring", ring.String())

	written, err := EnsureElevationMask(ds, p.grid, p.store)
	if err != nil {
		return err
	}
	if written {
		p.metrics.ElevationMasks.Inc()
		logger.Info("elevation mask written", "path", ElevationPath(p.grid))
	}

	for _, v := range vars {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processVariable(ctx, ds, v, run, ring, logger); err != nil {
			return fmt.Errorf("variable %s: %w", v.Name, err)
		}
	}
	return nil
}

// processVariable transforms and writes one variable. Its buffers are
// released before the next variable is read.
func (p *Pipeline) processVariable(ctx context.Context, ds domain.Dataset, v domain.VariableSpec, run time.Time, ring domain.RingTimeRange, logger *slog.Logger) error {
	start := p.clock.Now()

	tm, err := p.transformer.Transform(ds, v, run, ring.Len())
	if err != nil {
		return err
	}
	if err := p.writer.Write(v, tm, ring); err != nil {
		return err
	}

	p.metrics.VariablesWritten.WithLabelValues(p.grid.Name, v.Name).Inc()
	p.metrics.VariableDuration.WithLabelValues(p.grid.Name).Observe(p.clock.Since(start).Seconds())
	logger.Info("variable written", "variable", v.Name, "output", v.OutputName)

	p.notify(ctx, domain.SeriesUpdate{
		Domain:    p.grid.Name,
		Variable:  v.OutputName,
		Run:       run,
		StartSlot: ring.Start + int64(v.Skip()),
		EndSlot:   ring.End,
		Locations: tm.NLocations,
		WrittenAt: p.clock.Now().UTC(),
	}, logger)
	return nil
}

func (p *Pipeline) notify(ctx context.Context, update domain.SeriesUpdate, logger *slog.Logger) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Publish(ctx, update); err != nil {
		p.metrics.NotifyErrors.Inc()
		logger.Warn("publish series update failed", "variable", update.Variable, "error", err)
	}
}
