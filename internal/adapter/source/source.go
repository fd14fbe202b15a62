// Package source downloads model datasets from HTTP servers or S3 buckets
// and opens them with the NetCDF reader.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/forecast-grid-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

// Downloader copies a remote object to w. An object that does not exist
// yields an error matching domain.ErrNotYetAvailable.
type Downloader interface {
	Download(ctx context.Context, remote string, w io.Writer) error
}

// Opener implements domain.DatasetOpener. Remote datasets are downloaded
// into dir first; local paths are opened in place.
type Opener struct {
	http         Downloader
	s3           Downloader
	dir          string
	skipExisting bool
	logger       *slog.Logger
}

// Option configures an Opener.
type Option func(*Opener)

// WithHTTP sets the downloader for http:// and https:// paths.
func WithHTTP(d Downloader) Option {
	return func(o *Opener) { o.http = d }
}

// WithS3 sets the downloader for s3:// paths.
func WithS3(d Downloader) Option {
	return func(o *Opener) { o.s3 = d }
}

// SkipExisting reuses a previously downloaded file instead of fetching it again.
func SkipExisting(skip bool) Option {
	return func(o *Opener) { o.skipExisting = skip }
}

// NewOpener creates an Opener that downloads into dir.
func NewOpener(dir string, logger *slog.Logger, opts ...Option) *Opener {
	o := &Opener{dir: dir, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open fetches the dataset at remote if needed and opens it.
func (o *Opener) Open(ctx context.Context, remote string) (domain.Dataset, error) {
	d, err := o.downloader(remote)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return openLocal(strings.TrimPrefix(remote, "file://"))
	}

	local := filepath.Join(o.dir, LocalName(remote))
	if o.skipExisting {
		if _, err := os.Stat(local); err == nil {
			o.logger.Info("reusing downloaded dataset", "path", local)
			return openLocal(local)
		}
	}
	if err := o.fetch(ctx, d, remote, local); err != nil {
		return nil, err
	}
	return openLocal(local)
}

func openLocal(path string) (domain.Dataset, error) {
	ds, err := netcdf.Open(path)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// downloader picks the downloader for a remote path, or nil for local files.
func (o *Opener) downloader(remote string) (Downloader, error) {
	var d Downloader
	scheme := "local"
	switch {
	case strings.HasPrefix(remote, "http://"), strings.HasPrefix(remote, "https://"):
		d, scheme = o.http, "http"
	case strings.HasPrefix(remote, "s3://"):
		d, scheme = o.s3, "s3"
	default:
		return nil, nil
	}
	if d == nil {
		return nil, fmt.Errorf("no downloader configured for %s paths: %s", scheme, remote)
	}
	return d, nil
}

// fetch downloads to a temporary file next to local and renames it into
// place, so an interrupted download never looks complete.
func (o *Opener) fetch(ctx context.Context, d Downloader, remote, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(local), filepath.Base(local)+".*.part")
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := d.Download(ctx, remote, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return fmt.Errorf("move download into place: %w", err)
	}
	o.logger.Info("dataset downloaded", "remote", remote, "path", local)
	return nil
}

// LocalName derives a flat, deterministic file name from a remote path.
func LocalName(remote string) string {
	if i := strings.Index(remote, "://"); i >= 0 {
		remote = remote[i+3:]
	}
	if i := strings.IndexAny(remote, "?#"); i >= 0 {
		remote = remote[:i]
	}
	return strings.NewReplacer("/", "_", ":", "_").Replace(strings.Trim(remote, "/"))
}

var errNotFound = errors.New("object not found")

func notYetAvailable(remote string, cause error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrNotYetAvailable, remote, cause)
}
