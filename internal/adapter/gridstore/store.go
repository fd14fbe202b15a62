// Package gridstore is a time-partitioned array store for per-location time
// series, kept as NetCDF files.
//
// Each variable lives in its own directory. Absolute time slots are grouped
// into partitions of FileLength slots; partition n holds slots
// [n*FileLength, (n+1)*FileLength) for every location as an int16 array
// data[location][slot], quantized with round(value*scaleFactor). Missing
// values are stored as math.MinInt16.
package gridstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/couchcryptid/forecast-grid-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

const (
	dataVar = "data"
	missing = math.MinInt16
	slotDim = "slot"
	locDim  = "location"
)

var errNoPartition = errors.New("partition not written yet")

// Store reads and writes partition files below the paths it is given.
// It holds no locks; a variable must have a single writer at a time.
type Store struct {
	fileLength int
	logger     *slog.Logger
}

// New creates a Store whose partitions hold fileLength slots.
func New(fileLength int, logger *slog.Logger) *Store {
	return &Store{fileLength: fileLength, logger: logger}
}

// StaticExists reports whether a static grid has been written to path.
func (s *Store) StaticExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteStatic writes a non-time-varying [ny][nx] grid. The chunk shape and
// quantization factor are recorded as attributes for readers.
func (s *Store) WriteStatic(path string, shape, chunk []int, scaleFactor float32, data []float32) error {
	if len(shape) != 2 || len(chunk) != 2 {
		return fmt.Errorf("%w: static grid %s must be two-dimensional, got shape %v chunk %v", domain.ErrStoreWrite, path, shape, chunk)
	}

	w, err := netcdf.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreWrite, err)
	}
	err = w.AddFloat32(dataVar, []string{"y", "x"}, shape, data, netcdf.Attrs{
		"chunk_shape":  []int32{int32(chunk[0]), int32(chunk[1])},
		"scale_factor": scaleFactor,
	})
	if err != nil {
		w.Abort()
		return fmt.Errorf("%w: %w", domain.ErrStoreWrite, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreWrite, err)
	}
	s.logger.Info("static grid written", "path", path, "shape", shape)
	return nil
}

// ReadStatic reads a static grid written by WriteStatic.
func (s *Store) ReadStatic(path string) ([]float32, []int, error) {
	ds, err := netcdf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer ds.Close()
	arr, err := ds.ReadArray(dataVar)
	if err != nil {
		return nil, nil, err
	}
	return arr.Data, arr.Shape, nil
}

// UpdateTimeOriented writes the slots of tm covered by ring into the
// variable's partitions below base/name. The first skipFirst and last
// skipLast slots of the range are left untouched. A positive smoothing
// replaces every value by the mean of the trailing smoothing slots.
// Existing partitions are merged; slots outside the range keep their values.
func (s *Store) UpdateTimeOriented(base, name string, tm domain.TimeMajor, ring domain.RingTimeRange,
	skipFirst, skipLast, smoothing int, scaleFactor float32,
) error {
	if tm.NTime != ring.Len() {
		return fmt.Errorf("%w: %s has %d time steps for ring %s", domain.ErrStoreWrite, name, tm.NTime, ring)
	}
	if skipFirst < 0 || skipLast < 0 || skipFirst+skipLast >= tm.NTime {
		return fmt.Errorf("%w: %s cannot skip %d+%d of %d slots", domain.ErrStoreWrite, name, skipFirst, skipLast, tm.NTime)
	}
	if scaleFactor <= 0 {
		return fmt.Errorf("%w: %s has scale factor %v", domain.ErrStoreWrite, name, scaleFactor)
	}

	if smoothing > 1 {
		tm = smooth(tm, smoothing)
	}

	first := ring.Start + int64(skipFirst)
	end := ring.End - int64(skipLast)
	for p := s.partition(first); p <= s.partition(end-1); p++ {
		if err := s.updatePartition(base, name, p, tm, ring.Start, first, end, scaleFactor); err != nil {
			return fmt.Errorf("%w: %s partition %d: %w", domain.ErrStoreWrite, name, p, err)
		}
	}
	s.logger.Debug("series written", "variable", name, "slots", fmt.Sprintf("[%d, %d)", first, end), "locations", tm.NLocations)
	return nil
}

// ReadTimeSeries returns one location's values for the slots of ring, NaN
// where nothing has been written.
func (s *Store) ReadTimeSeries(base, name string, location int, ring domain.RingTimeRange, scaleFactor float32) ([]float32, error) {
	out := make([]float32, ring.Len())
	for i := range out {
		out[i] = float32(math.NaN())
	}
	if ring.Len() == 0 {
		return out, nil
	}

	for p := s.partition(ring.Start); p <= s.partition(ring.End-1); p++ {
		buf, nLoc, err := s.readPartition(s.partitionPath(base, name, p))
		if errors.Is(err, errNoPartition) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if location < 0 || location >= nLoc {
			return nil, fmt.Errorf("%w: location %d outside [0, %d)", domain.ErrInvalidArgument, location, nLoc)
		}
		lo, hi := s.slotBounds(p, ring.Start, ring.End)
		for slot := lo; slot < hi; slot++ {
			q := buf[location*s.fileLength+int(slot-p*int64(s.fileLength))]
			out[slot-ring.Start] = dequantize(q, scaleFactor)
		}
	}
	return out, nil
}

func (s *Store) updatePartition(base, name string, p int64, tm domain.TimeMajor, ringStart, first, end int64, scaleFactor float32) error {
	path := s.partitionPath(base, name, p)
	buf, nLoc, err := s.readPartition(path)
	switch {
	case errors.Is(err, errNoPartition):
		buf = make([]int16, tm.NLocations*s.fileLength)
		for i := range buf {
			buf[i] = missing
		}
	case err != nil:
		return err
	case nLoc != tm.NLocations:
		return fmt.Errorf("existing partition has %d locations, series has %d", nLoc, tm.NLocations)
	}

	lo, hi := s.slotBounds(p, first, end)
	offset := p * int64(s.fileLength)
	for loc := 0; loc < tm.NLocations; loc++ {
		series := tm.Series(loc)
		row := buf[loc*s.fileLength : (loc+1)*s.fileLength]
		for slot := lo; slot < hi; slot++ {
			row[slot-offset] = quantize(series[slot-ringStart], scaleFactor)
		}
	}

	w, err := netcdf.Create(path)
	if err != nil {
		return err
	}
	err = w.AddInt16(dataVar, []string{locDim, slotDim}, []int{tm.NLocations, s.fileLength}, buf, netcdf.Attrs{
		"scale_factor": scaleFactor,
		"first_slot":   int32(offset),
	})
	if err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

// readPartition returns the partition's flat buffer and location count. A
// missing file yields errNoPartition.
func (s *Store) readPartition(path string) ([]int16, int, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, 0, errNoPartition
	}
	ds, err := netcdf.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer ds.Close()

	buf, shape, err := ds.ReadInt16(dataVar)
	if err != nil {
		return nil, 0, err
	}
	if len(shape) != 2 || shape[1] != s.fileLength {
		return nil, 0, fmt.Errorf("%w: partition %s has shape %v, expected [*][%d]", domain.ErrSchemaMismatch, path, shape, s.fileLength)
	}
	return buf, shape[0], nil
}

func (s *Store) partition(slot int64) int64 {
	return floorDiv(slot, int64(s.fileLength))
}

// slotBounds clips [first, end) to partition p.
func (s *Store) slotBounds(p, first, end int64) (int64, int64) {
	lo := p * int64(s.fileLength)
	hi := lo + int64(s.fileLength)
	return max(lo, first), min(hi, end)
}

func (s *Store) partitionPath(base, name string, p int64) string {
	return filepath.Join(base, name, fmt.Sprintf("chunk_%d.nc", p))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func quantize(v, scaleFactor float32) int16 {
	if math.IsNaN(float64(v)) {
		return missing
	}
	q := math.Round(float64(v) * float64(scaleFactor))
	switch {
	case q <= missing:
		return missing + 1
	case q > math.MaxInt16:
		return math.MaxInt16
	default:
		return int16(q)
	}
}

func dequantize(q int16, scaleFactor float32) float32 {
	if q == missing {
		return float32(math.NaN())
	}
	return float32(q) / scaleFactor
}

// smooth returns a copy of tm where each value is the mean of the trailing
// window slots of its series, ignoring missing values.
func smooth(tm domain.TimeMajor, window int) domain.TimeMajor {
	out := domain.TimeMajor{Data: make([]float32, len(tm.Data)), NTime: tm.NTime, NLocations: tm.NLocations}
	for loc := 0; loc < tm.NLocations; loc++ {
		src, dst := tm.Series(loc), out.Series(loc)
		for t := range src {
			var sum float64
			var n int
			for k := max(0, t-window+1); k <= t; k++ {
				if v := src[k]; !math.IsNaN(float64(v)) {
					sum += float64(v)
					n++
				}
			}
			if n == 0 {
				dst[t] = float32(math.NaN())
				continue
			}
			dst[t] = float32(sum / float64(n))
		}
	}
	return out
}
