// Package acquire opens model datasets that may not be published yet,
// retrying until a deadline.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
	"github.com/couchcryptid/forecast-grid-etl/internal/observability"
)

const (
	// DefaultRetryInterval is the wait between attempts on a dataset that is
	// not published yet.
	DefaultRetryInterval = 10 * time.Second
	// DefaultLogInterval limits "still waiting" logs.
	DefaultLogInterval = 60 * time.Second
)

// Fetcher opens a dataset, absorbing "not yet available" errors until a
// deadline. A Fetcher is not safe for concurrent Acquire calls.
type Fetcher struct {
	opener      domain.DatasetOpener
	clock       clockwork.Clock
	policy      backoff.BackOff
	logInterval time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClock sets the clock used for deadlines and sleeping.
func WithClock(c clockwork.Clock) Option {
	return func(f *Fetcher) { f.clock = c }
}

// WithBackOff sets the wait policy between attempts. A policy returning
// backoff.Stop ends acquisition with domain.ErrTimeoutExceeded.
func WithBackOff(b backoff.BackOff) Option {
	return func(f *Fetcher) { f.policy = b }
}

// WithLogInterval sets the minimum time between "still waiting" logs.
func WithLogInterval(d time.Duration) Option {
	return func(f *Fetcher) { f.logInterval = d }
}

// New creates a Fetcher with a constant 10s retry interval.
func New(opener domain.DatasetOpener, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Fetcher {
	f := &Fetcher{
		opener:      opener,
		clock:       clockwork.NewRealClock(),
		policy:      backoff.NewConstantBackOff(DefaultRetryInterval),
		logInterval: DefaultLogInterval,
		logger:      logger,
		metrics:     metrics,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Acquire opens the dataset at path. Errors other than
// domain.ErrNotYetAvailable are returned immediately. Before every retry the
// deadline is checked; once it has passed Acquire fails with
// domain.ErrTimeoutExceeded.
//
// ctx is checked between attempts only. A sleep in progress is not
// interrupted.
func (f *Fetcher) Acquire(ctx context.Context, path string, deadline time.Time) (domain.Dataset, error) {
	start := f.clock.Now()
	f.policy.Reset()
	var lastLog time.Time

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 && f.clock.Now().After(deadline) {
			return nil, f.timeout(path, attempt, start)
		}

		ds, err := f.opener.Open(ctx, path)
		if err == nil {
			f.metrics.AcquireAttempts.WithLabelValues("success").Inc()
			f.metrics.AcquireWait.Observe(f.clock.Since(start).Seconds())
			if attempt > 0 {
				f.logger.Info("dataset available", "path", path, "attempts", attempt+1, "waited", f.clock.Since(start).Round(time.Second))
			}
			return ds, nil
		}
		if !errors.Is(err, domain.ErrNotYetAvailable) {
			f.metrics.AcquireAttempts.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("open dataset %s: %w", path, err)
		}
		f.metrics.AcquireAttempts.WithLabelValues("not_available").Inc()

		now := f.clock.Now()
		if lastLog.IsZero() || now.Sub(lastLog) >= f.logInterval {
			f.logger.Info("dataset not yet available, waiting",
				"path", path,
				"attempt", attempt+1,
				"waited", now.Sub(start).Round(time.Second),
				"deadline", deadline,
			)
			lastLog = now
		}

		wait := f.policy.NextBackOff()
		if wait == backoff.Stop {
			return nil, f.timeout(path, attempt+1, start)
		}
		f.clock.Sleep(wait)
	}
}

func (f *Fetcher) timeout(path string, attempts int, start time.Time) error {
	f.metrics.AcquireWait.Observe(f.clock.Since(start).Seconds())
	return fmt.Errorf("%w: %s still unavailable after %d attempts", domain.ErrTimeoutExceeded, path, attempts)
}
