package pipeline

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

// RingWriter forwards transformed series to the store with the run's ring
// range. It does no buffering; every Write is synchronous.
type RingWriter struct {
	store    Store
	basePath string
}

// NewRingWriter creates a writer for the store rooted at basePath.
func NewRingWriter(store Store, basePath string) *RingWriter {
	return &RingWriter{store: store, basePath: basePath}
}

// Write stores tm for v. Slots excluded by deaccumulation are skipped.
func (w *RingWriter) Write(v domain.VariableSpec, tm domain.TimeMajor, ring domain.RingTimeRange) error {
	const skipLast, smoothing = 0, 0
	err := w.store.UpdateTimeOriented(w.basePath, v.OutputName, tm, ring, v.Skip(), skipLast, smoothing, v.ScaleFactor)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStoreWrite) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreWrite, v.OutputName, err)
}
